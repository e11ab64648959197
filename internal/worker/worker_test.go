package worker

import (
	"context"
	"log/slog"
	"testing"

	"github.com/sentrywatch/engine/internal/orchestrator"
	"github.com/sentrywatch/engine/internal/supervisorcrypto"
)

func newTestSecret(t *testing.T) *supervisorcrypto.Secret {
	t.Helper()
	secret, err := supervisorcrypto.LoadOrGenerate(slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return secret
}

// fakeHostSpawn plays the role of the host's runSubagent mechanism: it
// answers every RequestSpawn with the same simulated shapes the
// orchestrator package uses internally, so the fan-out program can run
// to completion purely over the worker/host message protocol.
func fakeHostSpawn(req *RequestSpawn) map[string]any {
	switch req.AgentName {
	case "depth1_orchestrator":
		return map[string]any{
			"spawn_requests": []any{
				map[string]any{"child_name": "depth2_worker", "input": map[string]any{"branch": "a"}},
				map[string]any{"child_name": "depth2_worker", "input": map[string]any{"branch": "b"}},
			},
		}
	case "depth2_worker":
		return map[string]any{
			"metric":      7,
			"computation": "contrast_analysis",
			"spawn_request": map[string]any{
				"child_name": "depth3_micro",
				"input":      map[string]any{},
			},
		}
	case "depth3_micro":
		nonce, _ := req.Input["nonce"].(string)
		runID, _ := req.Input["runId"].(string)
		return map[string]any{
			"hashProof": supervisorcrypto.FrontierProof(nonce, runID),
			"timestamp": "2026-01-01T00:00:00Z",
		}
	default:
		return map[string]any{}
	}
}

func TestWorkerRunCompletesFanOutOverMessageProtocol(t *testing.T) {
	w := New(newTestSecret(t), slog.Default())

	cfg := orchestrator.DefaultConfig()
	cfg.UseWorker = true

	go w.Run(context.Background(), RunTask{Task: map[string]any{}, Config: cfg})

	var spawnCount int
	var final *Event

	for ev := range w.Events() {
		switch ev.Kind {
		case EventRequestSpawn:
			spawnCount++
			w.ResolveModelResult(ModelResult{
				ID:     ev.RequestSpawn.ID,
				Result: fakeHostSpawn(ev.RequestSpawn),
			})
		case EventDone, EventFail:
			e := ev
			final = &e
		}
	}

	if final == nil || final.Kind != EventDone {
		t.Fatalf("expected a Done event, got %+v", final)
	}
	if !final.Done.Result.OK {
		t.Fatalf("expected ok result, got %+v", final.Done.Result)
	}
	if spawnCount != 5 {
		t.Fatalf("expected 5 spawn requests (1+2+2), got %d", spawnCount)
	}
}

func TestWorkerCloseReleasesPendingResolvers(t *testing.T) {
	w := New(newTestSecret(t), slog.Default())
	cfg := orchestrator.DefaultConfig()

	go w.Run(context.Background(), RunTask{Task: map[string]any{}, Config: cfg})

	ev := <-w.Events() // first RequestSpawn, for depth1_orchestrator
	if ev.Kind != EventRequestSpawn {
		t.Fatalf("expected RequestSpawn, got %v", ev.Kind)
	}

	w.Close()

	var final *Event
	for remaining := range w.Events() {
		e := remaining
		final = &e
	}
	if final == nil || final.Kind != EventFail {
		t.Fatalf("expected a Fail event after Close, got %+v", final)
	}
}
