package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sentrywatch/engine/internal/qualitygate"
	"github.com/sentrywatch/engine/internal/registry"
	"github.com/sentrywatch/engine/internal/supervisorcrypto"
	"github.com/sentrywatch/engine/internal/trace"
)

var tracer = otel.Tracer("sentrywatch/engine/orchestrator")

// Orchestrator is the heart of the system: a single-owner run of
// bounded recursive spawning over a registry, a signed trace, and a
// host-injected spawn adapter. Per spec.md §3 invariant 8, the
// registry, trace, and secret it holds must never be shared with
// another orchestrator instance.
type Orchestrator struct {
	cfg    Config
	secret *supervisorcrypto.Secret
	reg    *registry.Registry
	tr     *trace.Trace
	logger *slog.Logger

	adapter         SpawnAdapter
	hostCapability  HostCapability

	runtimeMode atomic.Value // RuntimeMode

	mu                sync.Mutex
	frontierProofs    []FrontierProof
	simulationWarned  bool
}

// Option customizes Orchestrator construction.
type Option func(*Orchestrator)

// WithTrace hands the Orchestrator a pre-existing trace to append to,
// instead of starting a fresh one. The entry point uses this to keep
// preflight events and orchestrator events in one monotonically-ID'd
// sequence, per spec.md §4.10 ("merge preflight events ahead of the
// orchestrator's trace").
func WithTrace(tr *trace.Trace) Option {
	return func(o *Orchestrator) { o.tr = tr }
}

// New constructs an Orchestrator with a fresh registry and trace signed
// by secret. cfg is frozen for the lifetime of this instance.
func New(cfg Config, secret *supervisorcrypto.Secret, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:    cfg,
		secret: secret,
		reg:    registry.New(),
		tr:     trace.New(secret),
		logger: logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.runtimeMode.Store(RuntimeUnknown)
	return o
}

// SetAdapter configures the SpawnAdapter used for execution (worker mode).
func (o *Orchestrator) SetAdapter(adapter SpawnAdapter) { o.adapter = adapter }

// SetHostCapability configures the host's "runSubagent" capability, used
// when no adapter is set.
func (o *Orchestrator) SetHostCapability(cap HostCapability) { o.hostCapability = cap }

// RuntimeMode reports the runtime mode observed so far.
func (o *Orchestrator) RuntimeMode() RuntimeMode {
	return o.runtimeMode.Load().(RuntimeMode)
}

// Trace exports the signed trace accumulated so far.
func (o *Orchestrator) Trace() []trace.Event { return o.tr.Export() }

// Registry exposes the run registry for read-only inspection (e.g. by
// the validator or the asleep detector).
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// FrontierProofs returns a defensive copy of every verified depth-frontier
// proof recorded so far.
func (o *Orchestrator) FrontierProofs() []FrontierProof {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]FrontierProof, len(o.frontierProofs))
	copy(out, o.frontierProofs)
	return out
}

func (o *Orchestrator) recordFrontierProof(p FrontierProof) {
	o.mu.Lock()
	o.frontierProofs = append(o.frontierProofs, p)
	o.mu.Unlock()
}

// spawnGate enforces the depth and spawn budgets from spec.md §4.6,
// recording a limit event and returning a sentinel error on refusal.
func (o *Orchestrator) spawnGate(ctx context.Context, depth int) error {
	if depth >= o.cfg.MaxDepth {
		if _, err := o.tr.AddEvent(trace.UnsignedEvent{Kind: trace.KindLimit, Depth: depth, Note: "depth_limit"}); err != nil {
			o.logger.Warn("failed to record depth_limit event", "error", err)
		}
		return ErrDepthLimit{Depth: depth, MaxDepth: o.cfg.MaxDepth}
	}
	if total := o.reg.TotalSpawns(); total >= o.cfg.MaxSpawns {
		if _, err := o.tr.AddEvent(trace.UnsignedEvent{Kind: trace.KindLimit, Depth: depth, Note: "spawn_limit"}); err != nil {
			o.logger.Warn("failed to record spawn_limit event", "error", err)
		}
		return ErrSpawnLimit{TotalSpawns: o.reg.TotalSpawns(), MaxSpawns: o.cfg.MaxSpawns}
	}
	return nil
}

// SupervisedSpawn mints a run, registers it, executes it through the
// quality gate with retry, and records the spawn/return trace events, per
// spec.md §4.6.
func (o *Orchestrator) SupervisedSpawn(ctx context.Context, req SpawnRequest) (SpawnOutcome, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.supervised_spawn")
	span.SetAttributes(
		attribute.String("spawn.agent_name", req.AgentName),
		attribute.Int("spawn.depth", req.Depth),
	)
	defer span.End()

	if err := o.spawnGate(ctx, req.Depth); err != nil {
		span.RecordError(err)
		reason := "depth_limit"
		if _, ok := err.(ErrSpawnLimit); ok {
			reason = "spawn_limit"
		}
		return SpawnOutcome{OK: false, Reason: reason}, nil
	}

	runID, err := registry.MintRunID(req.AgentName)
	if err != nil {
		return SpawnOutcome{}, fmt.Errorf("orchestrator: minting run id: %w", err)
	}

	input := make(map[string]any, len(req.Input)+2)
	for k, v := range req.Input {
		input[k] = v
	}

	isFrontier := req.Depth == o.cfg.MaxDepth-1
	var nonce string
	if isFrontier {
		nonce, err = supervisorcrypto.NewNonce()
		if err != nil {
			return SpawnOutcome{}, fmt.Errorf("orchestrator: generating frontier nonce: %w", err)
		}
		input["nonce"] = nonce
		input["runId"] = runID
	}

	inputHash, err := supervisorcrypto.SHA256Hex(input)
	if err != nil {
		return SpawnOutcome{}, fmt.Errorf("orchestrator: hashing input: %w", err)
	}

	if err := o.reg.RegisterSpawn(registry.SpawnInput{
		RunID:       runID,
		ParentRunID: req.ParentRunID,
		AgentName:   req.AgentName,
		Depth:       req.Depth,
		InputHash:   inputHash,
		Nonce:       nonce,
	}); err != nil {
		return SpawnOutcome{}, fmt.Errorf("orchestrator: registering spawn: %w", err)
	}

	if _, err := o.tr.AddEvent(trace.UnsignedEvent{
		Kind:        trace.KindSpawn,
		Depth:       req.Depth,
		AgentName:   req.AgentName,
		ParentRunID: req.ParentRunID,
		ChildRunID:  runID,
		InputHash:   inputHash,
	}); err != nil {
		return SpawnOutcome{}, fmt.Errorf("orchestrator: recording spawn event: %w", err)
	}

	gateSpec := qualitygate.Spec{
		RequiredKeys:    req.RequiredKeys,
		MinNumericCount: req.MinNumericCount,
	}
	if isFrontier {
		gateSpec.ExtraCheck = func(output map[string]any) []string {
			want := supervisorcrypto.FrontierProof(nonce, runID)
			got, _ := output["hashProof"].(string)
			if got != want {
				return []string{"frontier_hash_mismatch"}
			}
			return nil
		}
	}

	outcome, err := qualitygate.RunWithRetry(ctx, 2, gateSpec,
		func(ctx context.Context, attempt int) (any, error) {
			return o.execute(ctx, req.AgentName, req.Depth, input, req.Prompt, runID)
		},
		func(attempt int, gateErrors []string) {
			if _, err := o.tr.AddEvent(trace.UnsignedEvent{
				Kind:       trace.KindQualityGateFail,
				Depth:      req.Depth,
				AgentName:  req.AgentName,
				ChildRunID: runID,
				Note:       fmt.Sprintf("attempt_%d_failed", attempt),
			}); err != nil {
				o.logger.Warn("failed to record quality_gate_fail event", "error", err)
			}
		},
	)
	if err != nil {
		span.RecordError(err)
		return SpawnOutcome{}, err
	}

	if !outcome.OK {
		return SpawnOutcome{OK: false, Reason: "quality_gate_failed", RunID: runID}, nil
	}

	output, _ := outcome.LastOutput.(map[string]any)

	outputHash, err := supervisorcrypto.SHA256Hex(output)
	if err != nil {
		return SpawnOutcome{}, fmt.Errorf("orchestrator: hashing output: %w", err)
	}

	if err := o.reg.RegisterReturn(registry.ReturnInput{RunID: runID, OutputHash: outputHash}); err != nil {
		return SpawnOutcome{}, fmt.Errorf("orchestrator: registering return: %w", err)
	}

	if _, err := o.tr.AddEvent(trace.UnsignedEvent{
		Kind:        trace.KindReturn,
		Depth:       req.Depth,
		AgentName:   req.AgentName,
		ParentRunID: req.ParentRunID,
		ChildRunID:  runID,
		OutputHash:  outputHash,
	}); err != nil {
		return SpawnOutcome{}, fmt.Errorf("orchestrator: recording return event: %w", err)
	}

	if _, err := o.tr.AddEvent(trace.UnsignedEvent{
		Kind:       trace.KindQualityGatePass,
		Depth:      req.Depth,
		AgentName:  req.AgentName,
		ChildRunID: runID,
	}); err != nil {
		o.logger.Warn("failed to record quality_gate_pass event", "error", err)
	}

	if isFrontier {
		hashProof, _ := output["hashProof"].(string)
		o.recordFrontierProof(FrontierProof{RunID: runID, Nonce: nonce, HashProof: hashProof})
	}

	return SpawnOutcome{OK: true, RunID: runID, Output: output}, nil
}
