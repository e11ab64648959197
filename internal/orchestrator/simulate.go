package orchestrator

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/sentrywatch/engine/internal/supervisorcrypto"
)

// Simulate returns the built-in simulated shape for agentName, per
// spec.md §4.6 "Simulation shapes" — used whenever execute falls back to
// simulation in non-strict mode, so the fan-out program is fully testable
// without a live LLM. Exported so a worker-mode host loop without a real
// runSubagent capability can produce the same fallback shapes when
// resolving a RequestSpawn.
func Simulate(agentName string, input map[string]any, runID string) (map[string]any, error) {
	switch agentName {
	case depth1AgentName:
		return map[string]any{
			"spawn_requests": []any{
				map[string]any{
					"child_name": depth2AgentName,
					"input":      map[string]any{"branch": "a"},
				},
				map[string]any{
					"child_name": depth2AgentName,
					"input":      map[string]any{"branch": "b"},
				},
			},
		}, nil

	case depth2AgentName:
		n, err := randomInt(1000)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"metric":      n,
			"computation": "contrast_analysis",
			"spawn_request": map[string]any{
				"child_name": depth3AgentName,
				"input":      map[string]any{},
			},
		}, nil

	case depth3AgentName:
		nonce, _ := input["nonce"].(string)
		return map[string]any{
			"hashProof": supervisorcrypto.FrontierProof(nonce, runID),
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}, nil

	default:
		return nil, fmt.Errorf("orchestrator: no simulation shape for agent %q", agentName)
	}
}

func randomInt(max int) (int, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("orchestrator: generating simulated metric: %w", err)
	}
	return int(binary.BigEndian.Uint64(b[:]) % uint64(max)), nil
}
