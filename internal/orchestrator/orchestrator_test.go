package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/sentrywatch/engine/internal/supervisorcrypto"
	"github.com/sentrywatch/engine/internal/trace"
)

func newTestSecret(t *testing.T) *supervisorcrypto.Secret {
	t.Helper()
	secret, err := supervisorcrypto.LoadOrGenerate(slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return secret
}

func TestRunFanOutNominalSimulatedRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictMode = false
	cfg.UseWorker = false

	o := New(cfg, newTestSecret(t), slog.Default())
	result, err := o.RunFanOut(context.Background(), map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatalf("expected ok result, got %+v", result)
	}
	if result.RuntimeMode != RuntimeSimulated {
		t.Fatalf("expected simulated runtime, got %s", result.RuntimeMode)
	}

	events := o.Trace()
	counts := map[trace.Kind]int{}
	for _, ev := range events {
		counts[ev.Kind]++
	}
	if counts[trace.KindSpawn] != 5 {
		t.Fatalf("expected 5 spawn events, got %d", counts[trace.KindSpawn])
	}
	if counts[trace.KindReturn] != 5 {
		t.Fatalf("expected 5 return events, got %d", counts[trace.KindReturn])
	}
	if counts[trace.KindMerge] != 1 {
		t.Fatalf("expected 1 merge event, got %d", counts[trace.KindMerge])
	}
	if counts[trace.KindSimulationWarning] != 1 {
		t.Fatalf("expected exactly one simulation_warning event, got %d", counts[trace.KindSimulationWarning])
	}

	proofs := o.FrontierProofs()
	if len(proofs) != 2 {
		t.Fatalf("expected 2 verified frontier proofs, got %d", len(proofs))
	}
	for _, p := range proofs {
		want := supervisorcrypto.FrontierProof(p.Nonce, p.RunID)
		if p.HashProof != want {
			t.Fatalf("frontier proof mismatch: got %s want %s", p.HashProof, want)
		}
	}
}

func TestSpawnGateRefusesAtDepthLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDepth = 0

	o := New(cfg, newTestSecret(t), slog.Default())
	outcome, err := o.SupervisedSpawn(context.Background(), SpawnRequest{AgentName: "depth1_orchestrator", Depth: 1})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.OK || outcome.Reason != "depth_limit" {
		t.Fatalf("expected depth_limit refusal, got %+v", outcome)
	}

	events := o.Trace()
	if len(events) != 1 || events[0].Kind != trace.KindLimit || events[0].Note != "depth_limit" {
		t.Fatalf("expected exactly one depth_limit event, got %+v", events)
	}
}

func TestSpawnGateRefusesAtSpawnLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpawns = 0

	o := New(cfg, newTestSecret(t), slog.Default())
	outcome, err := o.SupervisedSpawn(context.Background(), SpawnRequest{AgentName: "depth1_orchestrator", Depth: 1})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.OK || outcome.Reason != "spawn_limit" {
		t.Fatalf("expected spawn_limit refusal, got %+v", outcome)
	}
}

func TestExecuteStrictModeWithoutCapabilityIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictMode = true

	o := New(cfg, newTestSecret(t), slog.Default())
	_, err := o.RunFanOut(context.Background(), map[string]any{})
	if err == nil {
		t.Fatal("expected a fatal error in strict mode without a capability")
	}
	var want ErrToolMissingStrict
	if !errors.As(err, &want) {
		t.Fatalf("expected ErrToolMissingStrict, got %v", err)
	}

	foundToolMissing := false
	for _, ev := range o.Trace() {
		if ev.Kind == trace.KindToolMissingStrict {
			foundToolMissing = true
		}
	}
	if !foundToolMissing {
		t.Fatal("expected a tool_missing_strict trace event")
	}
}

func TestSupervisedSpawnUsesConfiguredAdapter(t *testing.T) {
	cfg := DefaultConfig()
	o := New(cfg, newTestSecret(t), slog.Default())

	var calls int
	o.SetAdapter(AdapterFunc(func(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
		calls++
		return ExecuteResponse{RunID: "host-chosen-id", Output: map[string]any{"metric": 1.0, "computation": "x", "spawn_request": map[string]any{"child_name": "depth3_micro", "input": map[string]any{}}}}, nil
	}))

	outcome, err := o.SupervisedSpawn(context.Background(), SpawnRequest{
		AgentName:       "depth2_worker",
		Depth:           2,
		RequiredKeys:    []string{"metric", "computation", "spawn_request"},
		MinNumericCount: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.OK {
		t.Fatalf("expected ok outcome, got %+v", outcome)
	}
	if calls != 1 {
		t.Fatalf("expected adapter called once, got %d", calls)
	}
	if o.RuntimeMode() != RuntimeReal {
		t.Fatalf("expected real runtime mode once an adapter is used, got %s", o.RuntimeMode())
	}
}
