// Package trace implements the append-only, per-event HMAC-signed event
// log the orchestrator records its activity into.
//
// The monotonic event-ID counter mirrors the pattern used for session
// sequence IDs in the teacher's internal/session package
// (atomic.AddUint64 over a running counter) — here generalized to signed,
// immutable trace events rather than mutable session records.
package trace

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentrywatch/engine/internal/supervisorcrypto"
)

// Kind enumerates the trace event kinds from spec.md §3.
type Kind string

const (
	KindSpawn               Kind = "spawn"
	KindReturn              Kind = "return"
	KindMerge               Kind = "merge"
	KindLimit               Kind = "limit"
	KindPreflightOK         Kind = "preflight_ok"
	KindPlanCreated         Kind = "plan_created"
	KindQualityGatePass     Kind = "quality_gate_pass"
	KindQualityGateFail     Kind = "quality_gate_fail"
	KindToolMissingStrict   Kind = "tool_missing_strict"
	KindSimulationWarning   Kind = "simulation_warning"
)

// UnsignedEvent is the event shape before eventId/ts/signature are filled
// in by AddEvent.
type UnsignedEvent struct {
	Kind        Kind
	Depth       int
	AgentName   string
	ParentRunID string
	ChildRunID  string
	InputHash   string
	OutputHash  string
	Note        string
}

// Event is a fully signed, immutable trace record.
type Event struct {
	EventID        uint64    `json:"eventId"`
	Timestamp      time.Time `json:"ts"`
	Kind           Kind      `json:"kind"`
	Depth          int       `json:"depth"`
	AgentName      string    `json:"agentName,omitempty"`
	ParentRunID    string    `json:"parentRunId,omitempty"`
	ChildRunID     string    `json:"childRunId,omitempty"`
	InputHash      string    `json:"inputHash,omitempty"`
	OutputHash     string    `json:"outputHash,omitempty"`
	Note           string    `json:"note,omitempty"`
	SupervisorSig  string    `json:"supervisorSig"`
}

// signingPayload returns the struct whose canonical encoding is what
// gets signed — everything in Event except SupervisorSig itself.
type signingPayload struct {
	EventID     uint64    `json:"eventId"`
	Timestamp   time.Time `json:"ts"`
	Kind        Kind      `json:"kind"`
	Depth       int       `json:"depth"`
	AgentName   string    `json:"agentName,omitempty"`
	ParentRunID string    `json:"parentRunId,omitempty"`
	ChildRunID  string    `json:"childRunId,omitempty"`
	InputHash   string    `json:"inputHash,omitempty"`
	OutputHash  string    `json:"outputHash,omitempty"`
	Note        string    `json:"note,omitempty"`
}

func (e Event) payload() signingPayload {
	return signingPayload{
		EventID:     e.EventID,
		Timestamp:   e.Timestamp,
		Kind:        e.Kind,
		Depth:       e.Depth,
		AgentName:   e.AgentName,
		ParentRunID: e.ParentRunID,
		ChildRunID:  e.ChildRunID,
		InputHash:   e.InputHash,
		OutputHash:  e.OutputHash,
		Note:        e.Note,
	}
}

// Stats summarizes a trace.
type Stats struct {
	TotalEvents  int
	CountByKind  map[Kind]int
	DeepestDepth int
}

// Trace is the append-only signed event log. Owned by exactly one
// orchestrator, per spec.md §3 invariant 8.
type Trace struct {
	secret *supervisorcrypto.Secret

	mu     sync.Mutex
	seq    uint64
	events []Event
}

// New creates an empty trace signed with secret.
func New(secret *supervisorcrypto.Secret) *Trace {
	return &Trace{secret: secret}
}

// AddEvent assigns a monotonic eventId, stamps the current time, signs
// the event, and appends it. Returns the signed event.
func (t *Trace) AddEvent(unsigned UnsignedEvent) (Event, error) {
	id := atomic.AddUint64(&t.seq, 1)

	ev := Event{
		EventID:     id,
		Timestamp:   time.Now(),
		Kind:        unsigned.Kind,
		Depth:       unsigned.Depth,
		AgentName:   unsigned.AgentName,
		ParentRunID: unsigned.ParentRunID,
		ChildRunID:  unsigned.ChildRunID,
		InputHash:   unsigned.InputHash,
		OutputHash:  unsigned.OutputHash,
		Note:        unsigned.Note,
	}

	sig, err := t.secret.Sign(ev.payload())
	if err != nil {
		return Event{}, fmt.Errorf("trace: signing event %d: %w", id, err)
	}
	ev.SupervisorSig = sig

	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()

	return ev, nil
}

// Export returns a defensive copy of the trace — the trace reference
// never leaves this component except as an immutable slice, per
// spec.md §3 invariant 8.
func (t *Trace) Export() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Stats summarizes the trace contents.
func (t *Trace) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{TotalEvents: len(t.events), CountByKind: make(map[Kind]int)}
	for _, ev := range t.events {
		stats.CountByKind[ev.Kind]++
		if ev.Depth > stats.DeepestDepth {
			stats.DeepestDepth = ev.Depth
		}
	}
	return stats
}

// VerifySignature recomputes e's signature and compares it against
// e.SupervisorSig. The validator calls it for every event it checks.
func VerifySignature(secret *supervisorcrypto.Secret, e Event) (bool, error) {
	return secret.Verify(e.payload(), e.SupervisorSig)
}
