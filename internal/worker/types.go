// Package worker implements the host/worker isolation boundary from
// spec.md §4.8: the orchestrator runs inside a Worker that shares no
// mutable state with the host. The two sides exchange a small fixed set
// of messages over Go channels — there is no broker in between, only
// message passing and a single-shot correlation-ID resolver per pending
// spawn request.
package worker

import (
	"github.com/sentrywatch/engine/internal/orchestrator"
	"github.com/sentrywatch/engine/internal/trace"
)

// RunTask is the host→worker message that starts one orchestration run.
// Trace is optional: when set (typically by the entry point, which has
// already recorded preflight events), the worker's orchestrator appends
// to it instead of starting a fresh event sequence.
type RunTask struct {
	Task   map[string]any
	Config orchestrator.Config
	Trace  *trace.Trace
}

// ModelResult is the host→worker message that resolves a previously
// issued RequestSpawn. Exactly one of Result/Err is meaningful.
type ModelResult struct {
	ID     string
	Result map[string]any
	Err    error
}

// EventKind enumerates the worker→host message kinds.
type EventKind string

const (
	EventRequestSpawn EventKind = "requestSpawn"
	EventDone         EventKind = "done"
	EventFail         EventKind = "fail"
	EventProgress     EventKind = "progress"
)

// RequestSpawn is the worker→host message delegating one subagent
// execution back to the host's spawn mechanism (typically runSubagent).
// ID is the correlation id the matching ModelResult must echo.
type RequestSpawn struct {
	ID        string
	AgentName string
	Prompt    string
	Input     map[string]any
}

// Done is the worker→host message carrying the finished orchestration
// result.
type Done struct {
	Result orchestrator.Result
}

// Fail is the worker→host message reporting that the run could not
// complete.
type Fail struct {
	Reason string
	Err    error
}

// Progress is an informational worker→host message.
type Progress struct {
	Message string
}

// Event is a tagged union of the four worker→host message kinds.
// Exactly one of the pointer fields matching Kind is set.
type Event struct {
	Kind         EventKind
	RequestSpawn *RequestSpawn
	Done         *Done
	Fail         *Fail
	Progress     *Progress
}
