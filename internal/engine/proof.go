package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sentrywatch/engine/internal/engagement"
	"github.com/sentrywatch/engine/internal/orchestrator"
	"github.com/sentrywatch/engine/internal/registry"
	"github.com/sentrywatch/engine/internal/supervisorcrypto"
	"github.com/sentrywatch/engine/internal/trace"
	"github.com/sentrywatch/engine/internal/validator"
)

// DefaultArtifactPath is where the proof artifact is persisted, relative
// to the repository root, per spec.md §4.10 and §6.
const DefaultArtifactPath = ".engine/last-proof.json"

// Verification extends the trace validator's result with the
// depth-frontier proof summary the guard checks, per spec.md §3's
// Proof Artifact entity.
type Verification struct {
	OK                  bool               `json:"ok"`
	Errors              []validator.Error  `json:"errors"`
	Depth3Proofs        []orchestrator.FrontierProof `json:"depth3Proofs"`
	Depth3ProofVerified bool               `json:"depth3ProofVerified"`
}

// Artifact is the persisted Proof Artifact, per spec.md §3 and §6.
type Artifact struct {
	OK           bool                 `json:"ok"`
	ContractMode string               `json:"contractMode"`
	RuntimeMode  orchestrator.RuntimeMode `json:"runtimeMode"`
	StrictMode   bool                 `json:"strictMode"`
	ForceSleep   bool                 `json:"forceSleep"`
	Engagement   engagement.Flags     `json:"engagement"`
	Verification Verification         `json:"verification"`
	Trace        []trace.Event        `json:"trace"`
	TimestampMs  int64                `json:"timestampMs"`
	Timestamp    string               `json:"timestamp"`
	TraceMarker  string               `json:"traceMarker"`
}

// buildVerification runs the trace validator and derives the
// depth-frontier proof summary.
func buildVerification(secret *supervisorcrypto.Secret, reg *registry.Registry, proofs []orchestrator.FrontierProof, events []trace.Event) Verification {
	vr := validator.Validate(secret, reg, events)

	allVerified := len(proofs) > 0
	for _, p := range proofs {
		if p.HashProof != supervisorcrypto.FrontierProof(p.Nonce, p.RunID) {
			allVerified = false
		}
	}

	return Verification{
		OK:                  vr.OK,
		Errors:              vr.Errors,
		Depth3Proofs:        proofs,
		Depth3ProofVerified: allVerified,
	}
}

// buildArtifact assembles the Proof Artifact for a finished run. now is
// injected so callers (and tests) control the timestamp instead of
// relying on an ambient clock read buried in this function.
func buildArtifact(ok bool, cfg orchestrator.Config, runtimeMode orchestrator.RuntimeMode, eng engagement.Result, verification Verification, events []trace.Event, now time.Time) (Artifact, error) {
	marker, err := supervisorcrypto.SHA256Hex(events)
	if err != nil {
		return Artifact{}, fmt.Errorf("engine: computing trace marker: %w", err)
	}

	return Artifact{
		OK:           ok,
		ContractMode: cfg.ContractMode,
		RuntimeMode:  runtimeMode,
		StrictMode:   cfg.StrictMode,
		ForceSleep:   cfg.ForceSleep,
		Engagement:   eng.Engagement,
		Verification: verification,
		Trace:        events,
		TimestampMs:  now.UnixMilli(),
		Timestamp:    now.UTC().Format(time.RFC3339Nano),
		TraceMarker:  marker,
	}, nil
}

// WriteArtifact persists art to path atomically: write to a temp file in
// the same directory, then rename over the destination, so a crash or
// cancellation never leaves a partially-written proof artifact on disk
// (spec.md §5's shared-resource policy).
func WriteArtifact(path string, art Artifact) error {
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: marshaling proof artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("engine: creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".last-proof-*.json.tmp")
	if err != nil {
		return fmt.Errorf("engine: creating temp proof file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("engine: writing temp proof file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("engine: closing temp proof file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("engine: renaming proof file into place: %w", err)
	}
	return nil
}

// ReadArtifact reads and parses the proof artifact at path.
func ReadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return Artifact{}, fmt.Errorf("engine: parsing proof artifact: %w", err)
	}
	return art, nil
}
