// Package supervision provides an optional, additive course-correction
// hook over a finished or in-flight run's trace subtree.
//
// Adapted from the teacher's LLM-judged drift detector: Verdict, Trigger,
// and the CONTINUE/REORIENT/PAUSE state machine survive, but the triggers
// are now structural — gate failures, frontier-proof mismatches, and
// limit hits read off the signed trace — since this engine never calls an
// LLM itself. Supervisor.Provider is optional: without one, Reconcile
// alone decides (any trigger fires PAUSE, otherwise CONTINUE).
package supervision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sentrywatch/engine/internal/registry"
	"github.com/sentrywatch/engine/internal/trace"
)

// Verdict is the supervisor's decision for a triggered run.
type Verdict string

const (
	VerdictContinue Verdict = "CONTINUE"
	VerdictReorient Verdict = "REORIENT"
	VerdictPause    Verdict = "PAUSE"
)

// Trigger is a structural reason Reconcile flagged a run's subtree.
type Trigger string

const (
	TriggerGateFailureInSubtree  Trigger = "gate_failure_in_subtree"
	TriggerFrontierProofMismatch Trigger = "frontier_proof_mismatch"
	TriggerDepthLimitHit         Trigger = "depth_limit_hit"
	TriggerSpawnLimitHit         Trigger = "spawn_limit_hit"
)

// Provider lets an agentic host plug in its own reconsideration logic for
// a triggered run, in place of the default conservative rule. It is never
// required: Supervisor works fully without one.
type Provider interface {
	Decide(ctx context.Context, runID string, triggers []Trigger) (Verdict, string, error)
}

// Supervisor evaluates a run's trace subtree for structural drift.
type Supervisor struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a Supervisor. provider may be nil.
func New(provider Provider, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{provider: provider, logger: logger}
}

// Reconcile walks the trace subtree rooted at runID (every event whose
// ChildRunID is runID or a descendant of it, per the registry's
// ParentRunID links, plus every event that carries no ChildRunID, such as
// limit events) and returns the structural triggers found, in a stable
// order, per spec.md §4.11.
func (s *Supervisor) Reconcile(runID string, reg *registry.Registry, events []trace.Event) []Trigger {
	subtree := descendants(runID, reg)

	var triggers []Trigger
	seen := map[Trigger]bool{}
	add := func(t Trigger) {
		if !seen[t] {
			seen[t] = true
			triggers = append(triggers, t)
		}
	}

	for _, ev := range events {
		if ev.ChildRunID != "" && !subtree[ev.ChildRunID] {
			continue
		}
		switch ev.Kind {
		case trace.KindQualityGateFail:
			add(TriggerGateFailureInSubtree)
		case trace.KindLimit:
			switch ev.Note {
			case "depth_limit":
				add(TriggerDepthLimitHit)
			case "spawn_limit":
				add(TriggerSpawnLimitHit)
			}
		}
	}

	if run := reg.GetRun(runID); run != nil && run.Nonce != "" && run.Status == registry.StatusReturned {
		// A frontier run that returned without ever producing a
		// quality_gate_pass implies its hashProof check failed every
		// retry attempt.
		if !hasPass(events, runID) {
			add(TriggerFrontierProofMismatch)
		}
	}

	return triggers
}

func hasPass(events []trace.Event, runID string) bool {
	for _, ev := range events {
		if ev.Kind == trace.KindQualityGatePass && ev.ChildRunID == runID {
			return true
		}
	}
	return false
}

// descendants returns runID and every run transitively spawned under it.
func descendants(runID string, reg *registry.Registry) map[string]bool {
	out := map[string]bool{runID: true}
	runs := reg.GetAllRuns()

	changed := true
	for changed {
		changed = false
		for _, run := range runs {
			if out[run.RunID] {
				continue
			}
			if out[run.ParentRunID] {
				out[run.RunID] = true
				changed = true
			}
		}
	}
	return out
}

// Supervise decides CONTINUE/REORIENT/PAUSE for runID given triggers. With
// no Provider configured, any trigger fires PAUSE and an empty trigger
// list fires CONTINUE — there is no autonomous re-decision, per spec.md
// §4.11's "Reconcile alone decides."
func (s *Supervisor) Supervise(ctx context.Context, runID string, triggers []Trigger) (Verdict, string, error) {
	if len(triggers) == 0 {
		return VerdictContinue, "", nil
	}

	if s.provider == nil {
		s.logger.Warn("structural trigger fired with no supervision provider configured",
			"runId", runID, "triggers", triggers)
		return VerdictPause, fmt.Sprintf("paused: %v", triggers), nil
	}

	verdict, note, err := s.provider.Decide(ctx, runID, triggers)
	if err != nil {
		return "", "", fmt.Errorf("supervision: provider decision for %s: %w", runID, err)
	}
	return verdict, note, nil
}
