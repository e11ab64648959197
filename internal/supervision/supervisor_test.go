package supervision

import (
	"context"
	"log/slog"
	"testing"

	"github.com/sentrywatch/engine/internal/registry"
	"github.com/sentrywatch/engine/internal/trace"
)

func TestReconcileFindsGateFailureInSubtree(t *testing.T) {
	reg := registry.New()
	if err := reg.RegisterSpawn(registry.SpawnInput{RunID: "root", Depth: 1}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterSpawn(registry.SpawnInput{RunID: "child", ParentRunID: "root", Depth: 2}); err != nil {
		t.Fatal(err)
	}

	events := []trace.Event{
		{Kind: trace.KindSpawn, ChildRunID: "root"},
		{Kind: trace.KindSpawn, ChildRunID: "child"},
		{Kind: trace.KindQualityGateFail, ChildRunID: "child", Note: "attempt_1_failed"},
	}

	s := New(nil, slog.Default())
	triggers := s.Reconcile("root", reg, events)

	if len(triggers) != 1 || triggers[0] != TriggerGateFailureInSubtree {
		t.Fatalf("expected exactly one gate_failure_in_subtree trigger, got %v", triggers)
	}
}

func TestReconcileIgnoresEventsOutsideSubtree(t *testing.T) {
	reg := registry.New()
	if err := reg.RegisterSpawn(registry.SpawnInput{RunID: "root", Depth: 1}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterSpawn(registry.SpawnInput{RunID: "sibling", Depth: 1}); err != nil {
		t.Fatal(err)
	}

	events := []trace.Event{
		{Kind: trace.KindQualityGateFail, ChildRunID: "sibling"},
	}

	s := New(nil, slog.Default())
	triggers := s.Reconcile("root", reg, events)
	if len(triggers) != 0 {
		t.Fatalf("expected no triggers, got %v", triggers)
	}
}

func TestReconcileDetectsLimitHits(t *testing.T) {
	reg := registry.New()
	if err := reg.RegisterSpawn(registry.SpawnInput{RunID: "root", Depth: 1}); err != nil {
		t.Fatal(err)
	}
	events := []trace.Event{
		{Kind: trace.KindLimit, Note: "spawn_limit"},
	}
	s := New(nil, slog.Default())
	triggers := s.Reconcile("root", reg, events)
	if len(triggers) != 1 || triggers[0] != TriggerSpawnLimitHit {
		t.Fatalf("expected spawn_limit_hit, got %v", triggers)
	}
}

func TestReconcileDetectsFrontierProofMismatch(t *testing.T) {
	reg := registry.New()
	if err := reg.RegisterSpawn(registry.SpawnInput{RunID: "frontier", Depth: 3, Nonce: "abc"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterReturn(registry.ReturnInput{RunID: "frontier", OutputHash: "deadbeef"}); err != nil {
		t.Fatal(err)
	}

	s := New(nil, slog.Default())
	triggers := s.Reconcile("frontier", reg, nil)
	if len(triggers) != 1 || triggers[0] != TriggerFrontierProofMismatch {
		t.Fatalf("expected frontier_proof_mismatch, got %v", triggers)
	}
}

func TestSuperviseWithoutProviderPausesOnAnyTrigger(t *testing.T) {
	s := New(nil, slog.Default())
	verdict, _, err := s.Supervise(context.Background(), "root", []Trigger{TriggerGateFailureInSubtree})
	if err != nil {
		t.Fatal(err)
	}
	if verdict != VerdictPause {
		t.Fatalf("expected PAUSE, got %s", verdict)
	}
}

func TestSuperviseWithoutProviderContinuesWithNoTriggers(t *testing.T) {
	s := New(nil, slog.Default())
	verdict, _, err := s.Supervise(context.Background(), "root", nil)
	if err != nil {
		t.Fatal(err)
	}
	if verdict != VerdictContinue {
		t.Fatalf("expected CONTINUE, got %s", verdict)
	}
}

type stubProvider struct {
	verdict Verdict
	note    string
}

func (p stubProvider) Decide(ctx context.Context, runID string, triggers []Trigger) (Verdict, string, error) {
	return p.verdict, p.note, nil
}

func TestSuperviseUsesConfiguredProvider(t *testing.T) {
	s := New(stubProvider{verdict: VerdictReorient, note: "tighten the gate"}, slog.Default())
	verdict, note, err := s.Supervise(context.Background(), "root", []Trigger{TriggerDepthLimitHit})
	if err != nil {
		t.Fatal(err)
	}
	if verdict != VerdictReorient || note != "tighten the gate" {
		t.Fatalf("expected provider's verdict to pass through, got %s / %q", verdict, note)
	}
}
