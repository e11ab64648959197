// Package orchestrator implements the Supervised Recursion Orchestrator:
// depth-bounded recursive spawning with gates, a depth-frontier nonce
// proof, and the fixed fan-out program that exercises it end to end.
//
// The spawn/execute/retry shape generalizes the teacher's four-phase
// COMMIT/EXECUTE/RECONCILE/SUPERVISE sub-agent flow in
// internal/executor/subagent.go: here there is no LLM judging progress,
// only the registry, the signed trace, and the quality gate.
package orchestrator

import (
	"context"
	"fmt"
)

// RuntimeMode records whether subagent execution ran against a real
// capability/adapter or fell back to the built-in simulation.
type RuntimeMode string

const (
	RuntimeUnknown   RuntimeMode = ""
	RuntimeReal      RuntimeMode = "real"
	RuntimeSimulated RuntimeMode = "simulated"
)

// Config is the frozen configuration an Orchestrator runs under.
type Config struct {
	ContractMode   string // "agentic" or "local"
	StrictMode     bool
	UseWorker      bool
	MaxDepth       int
	MaxSpawns      int
	ProofMaxAgeMin int
	ForceSleep     bool
	Verbose        bool
}

// DefaultConfig returns the built-in defaults from spec.md §6.
func DefaultConfig() Config {
	return Config{
		ContractMode:   "local",
		StrictMode:     false,
		UseWorker:      true,
		MaxDepth:       4,
		MaxSpawns:      10,
		ProofMaxAgeMin: 10,
		ForceSleep:     false,
		Verbose:        false,
	}
}

// ExecuteRequest is what gets sent to a SpawnAdapter or host capability to
// run one subagent.
type ExecuteRequest struct {
	AgentName string
	Prompt    string
	Input     map[string]any
}

// ExecuteResponse is a SpawnAdapter's reply: an opaque runId chosen by
// the host and the subagent's deserialized output.
type ExecuteResponse struct {
	RunID  string
	Output map[string]any
}

// SpawnAdapter injects subagent execution, real or simulated, without the
// orchestrator knowing how the call is actually carried out (in-process,
// across a worker boundary, or over IPC). Per spec.md §4.7 the adapter
// must return a well-shaped response; a shape violation is fatal.
type SpawnAdapter interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error)
}

// AdapterFunc adapts a plain function to the SpawnAdapter interface.
type AdapterFunc func(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error)

func (f AdapterFunc) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
	return f(ctx, req)
}

// HostCapability models the host-provided "runSubagent" capability from
// spec.md §4.6: given a request it returns a raw JSON-shaped output, with
// no wrapping runId (the orchestrator already minted one).
type HostCapability func(ctx context.Context, req ExecuteRequest) (map[string]any, error)

// FrontierProof is the depth-3 nonce proof recorded once a frontier spawn
// returns a verified hashProof.
type FrontierProof struct {
	RunID     string `json:"runId"`
	Nonce     string `json:"nonce"`
	HashProof string `json:"hashProof"`
}

// ErrDepthLimit is returned by the spawn gate when requestedDepth >= maxDepth.
type ErrDepthLimit struct{ Depth, MaxDepth int }

func (e ErrDepthLimit) Error() string {
	return fmt.Sprintf("orchestrator: depth_limit: depth=%d maxDepth=%d", e.Depth, e.MaxDepth)
}

// ErrSpawnLimit is returned by the spawn gate when the registry's spawn
// budget is exhausted.
type ErrSpawnLimit struct{ TotalSpawns, MaxSpawns int }

func (e ErrSpawnLimit) Error() string {
	return fmt.Sprintf("orchestrator: spawn_limit: totalSpawns=%d maxSpawns=%d", e.TotalSpawns, e.MaxSpawns)
}

// ErrToolMissingStrict is returned by execute when strict mode is active
// and neither an adapter nor a host capability is configured.
type ErrToolMissingStrict struct{}

func (ErrToolMissingStrict) Error() string { return "orchestrator: tool_missing_strict" }

// ErrMalformedAdapterOutput is returned when a SpawnAdapter violates its
// contract (missing runId or non-object output).
type ErrMalformedAdapterOutput struct{ AgentName string }

func (e ErrMalformedAdapterOutput) Error() string {
	return fmt.Sprintf("orchestrator: malformed adapter output for %s", e.AgentName)
}

// SpawnRequest is the input to SupervisedSpawn.
type SpawnRequest struct {
	ParentRunID     string
	AgentName       string
	Depth           int
	Input           map[string]any
	Prompt          string
	RequiredKeys    []string
	MinNumericCount int
}

// SpawnOutcome is the result of SupervisedSpawn.
type SpawnOutcome struct {
	OK     bool
	Reason string
	RunID  string
	Output map[string]any
}

// Result is the top-level outcome of running the fan-out program,
// mirroring spec.md §6's public Result shape.
type Result struct {
	OK           bool           `json:"ok"`
	Reason       string         `json:"reason,omitempty"`
	ContractMode string         `json:"contractMode"`
	RuntimeMode  RuntimeMode    `json:"runtimeMode"`
	Result       map[string]any `json:"result,omitempty"`
}
