package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sentrywatch/engine/internal/orchestrator"
	"github.com/sentrywatch/engine/internal/registry"
	"github.com/sentrywatch/engine/internal/supervisorcrypto"
)

// modelResultPayload is what a pending spawn-request resolver receives.
type modelResultPayload struct {
	result map[string]any
	err    error
}

// Worker hosts one Orchestrator off the host's main loop. Scheduling is
// single-threaded and cooperative inside the worker (spec.md §4.8,
// §5): there is no shared memory with the host, only the messages
// defined in types.go, and ordering is imposed by the message sequence,
// not by wall-clock.
type Worker struct {
	secret *supervisorcrypto.Secret
	logger *slog.Logger

	events chan Event

	mu        sync.Mutex
	resolvers map[string]chan modelResultPayload
	closed    bool
	orch      *orchestrator.Orchestrator
}

// New creates a Worker signed with secret. Events must be drained by the
// host via Events(); the channel is closed once the run finishes.
func New(secret *supervisorcrypto.Secret, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		secret:    secret,
		logger:    logger,
		events:    make(chan Event, 16),
		resolvers: make(map[string]chan modelResultPayload),
	}
}

// Events returns the worker→host message stream.
func (w *Worker) Events() <-chan Event { return w.events }

// Run executes one RunTask synchronously, driving the orchestrator's
// fixed fan-out program and emitting RequestSpawn/Progress events as it
// goes. It returns once a Done or Fail event has been emitted and the
// event channel closed. Callers that want isolation from their own main
// loop should call Run in its own goroutine and read Events() from the
// host loop, per spec.md §4.8.
func (w *Worker) Run(ctx context.Context, task RunTask) {
	defer close(w.events)

	w.emit(Event{Kind: EventProgress, Progress: &Progress{Message: "worker started"}})

	var opts []orchestrator.Option
	if task.Trace != nil {
		opts = append(opts, orchestrator.WithTrace(task.Trace))
	}
	orch := orchestrator.New(task.Config, w.secret, w.logger, opts...)
	orch.SetAdapter(orchestrator.AdapterFunc(w.dispatchSpawn))
	w.mu.Lock()
	w.orch = orch
	w.mu.Unlock()

	result, err := orch.RunFanOut(ctx, task.Task)
	if err != nil {
		w.emit(Event{Kind: EventFail, Fail: &Fail{Reason: "worker_error", Err: err}})
		return
	}

	w.emit(Event{Kind: EventDone, Done: &Done{Result: result}})
}

// dispatchSpawn implements orchestrator.SpawnAdapter by round-tripping
// through the host: it issues a RequestSpawn event carrying a fresh
// correlation id, then blocks until the matching ModelResult arrives via
// ResolveModelResult or ctx is cancelled.
func (w *Worker) dispatchSpawn(ctx context.Context, req orchestrator.ExecuteRequest) (orchestrator.ExecuteResponse, error) {
	id := uuid.NewString()
	ch := make(chan modelResultPayload, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return orchestrator.ExecuteResponse{}, fmt.Errorf("worker: worker_error: worker closed")
	}
	w.resolvers[id] = ch
	w.mu.Unlock()

	w.emit(Event{Kind: EventRequestSpawn, RequestSpawn: &RequestSpawn{
		ID:        id,
		AgentName: req.AgentName,
		Prompt:    req.Prompt,
		Input:     req.Input,
	}})

	select {
	case payload := <-ch:
		if payload.err != nil {
			return orchestrator.ExecuteResponse{}, fmt.Errorf("worker: model result error: %w", payload.err)
		}
		return orchestrator.ExecuteResponse{RunID: id, Output: payload.result}, nil
	case <-ctx.Done():
		w.mu.Lock()
		delete(w.resolvers, id)
		w.mu.Unlock()
		return orchestrator.ExecuteResponse{}, fmt.Errorf("worker: worker_error: %w", ctx.Err())
	}
}

// Registry exposes the run registry of the orchestrator this worker is
// hosting, once Run has started it. Used by the entry point to build the
// verification section of the proof artifact.
func (w *Worker) Registry() *registry.Registry {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.orch == nil {
		return nil
	}
	return w.orch.Registry()
}

// FrontierProofs exposes the depth-frontier proofs recorded by the
// orchestrator this worker is hosting.
func (w *Worker) FrontierProofs() []orchestrator.FrontierProof {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.orch == nil {
		return nil
	}
	return w.orch.FrontierProofs()
}

// ResolveModelResult delivers a host→worker ModelResult, resolving the
// pending RequestSpawn with correlation id msg.ID.
func (w *Worker) ResolveModelResult(msg ModelResult) {
	w.mu.Lock()
	ch, ok := w.resolvers[msg.ID]
	if ok {
		delete(w.resolvers, msg.ID)
	}
	w.mu.Unlock()

	if !ok {
		w.logger.Warn("model result for unknown correlation id", "id", msg.ID)
		return
	}
	ch <- modelResultPayload{result: msg.Result, err: msg.Err}
}

// Close terminates the worker: every outstanding RequestSpawn resolver is
// released with a worker_error, per spec.md §4.8's cancellation-by-
// termination semantics.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for id, ch := range w.resolvers {
		ch <- modelResultPayload{err: fmt.Errorf("worker: worker_error: worker closed")}
		delete(w.resolvers, id)
	}
}

// emit sends ev to the host. The events channel buffers up to 16 messages,
// so emit blocks only once that many are waiting undrained in Events() —
// ordering between the worker and the host is imposed entirely by this
// message sequence, per spec.md §9.
func (w *Worker) emit(ev Event) {
	w.events <- ev
}
