package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sentrywatch/engine/internal/engagement"
	"github.com/sentrywatch/engine/internal/orchestrator"
	"github.com/sentrywatch/engine/internal/registry"
	"github.com/sentrywatch/engine/internal/supervisorcrypto"
	"github.com/sentrywatch/engine/internal/trace"
	"github.com/sentrywatch/engine/internal/worker"
)

// Capabilities is what the host environment offers the engine. RunSubagent
// is the only one preflight probes for, per spec.md §4.10: its absence
// under strict mode is fatal before any orchestration starts.
type Capabilities struct {
	RunSubagent orchestrator.HostCapability
}

// ExitCode mirrors the process exit-code protocol from spec.md §4.10/§7.
type ExitCode int

const (
	ExitSuccess             ExitCode = 0
	ExitOrchestrationFailed ExitCode = 1
	ExitToolMissingStrict   ExitCode = 2
	ExitAsleep              ExitCode = 5
)

// EntryResult is the top-level outcome of one Run, mirroring spec.md §6's
// public Result shape plus the exit code a CLI driver should use.
type EntryResult struct {
	OK           bool                     `json:"ok"`
	Reason       string                   `json:"reason,omitempty"`
	ContractMode string                   `json:"contractMode"`
	RuntimeMode  orchestrator.RuntimeMode `json:"runtimeMode"`
	Result       map[string]any           `json:"result,omitempty"`
	Engagement   engagement.Result        `json:"engagement"`
	Trace        []trace.Event            `json:"trace"`
	Artifact     Artifact                 `json:"artifact"`
	ExitCode     ExitCode                 `json:"exitCode"`
}

// Run executes one end-to-end engine run: preflight, fan-out orchestration
// (direct or worker-isolated per cfg.UseWorker), trace validation,
// engagement detection, and proof-artifact persistence, per spec.md §4.10.
func Run(ctx context.Context, task map[string]any, cfg orchestrator.Config, caps Capabilities, artifactPath string, logger *slog.Logger) (EntryResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ForceSleep {
		return sleepResult(cfg, artifactPath, logger)
	}

	secret, err := supervisorcrypto.LoadOrGenerate(logger)
	if err != nil {
		return EntryResult{}, err
	}
	defer secret.Destroy()

	tr := trace.New(secret)

	hasCapability := caps.RunSubagent != nil
	if cfg.StrictMode && !hasCapability {
		if _, err := tr.AddEvent(trace.UnsignedEvent{Kind: trace.KindToolMissingStrict, Note: "tool_missing_strict"}); err != nil {
			logger.Warn("failed to record tool_missing_strict preflight event", "error", err)
		}
		failed := orchestrator.Result{OK: false, Reason: "tool_missing_strict", ContractMode: cfg.ContractMode, RuntimeMode: orchestrator.RuntimeUnknown}
		return finish(cfg, failed, nil, secret, nil, tr, artifactPath, logger, ExitToolMissingStrict)
	}

	if _, err := tr.AddEvent(trace.UnsignedEvent{Kind: trace.KindPreflightOK}); err != nil {
		return EntryResult{}, err
	}

	var (
		fanOutResult orchestrator.Result
		runErr       error
		reg          *registry.Registry
		proofs       []orchestrator.FrontierProof
	)

	if cfg.UseWorker {
		fanOutResult, runErr, reg, proofs = runViaWorker(ctx, task, cfg, caps, secret, tr, logger)
	} else {
		orch := orchestrator.New(cfg, secret, logger, orchestrator.WithTrace(tr))
		if caps.RunSubagent != nil {
			orch.SetHostCapability(caps.RunSubagent)
		}
		fanOutResult, runErr = orch.RunFanOut(ctx, task)
		reg = orch.Registry()
		proofs = orch.FrontierProofs()
	}

	exitCode := ExitSuccess
	var toolMissing orchestrator.ErrToolMissingStrict
	switch {
	case errors.As(runErr, &toolMissing):
		exitCode = ExitToolMissingStrict
		fanOutResult = orchestrator.Result{OK: false, Reason: "tool_missing_strict", ContractMode: cfg.ContractMode, RuntimeMode: fanOutResult.RuntimeMode}
	case runErr != nil:
		exitCode = ExitOrchestrationFailed
		fanOutResult = orchestrator.Result{OK: false, Reason: "orchestration_error", ContractMode: cfg.ContractMode, RuntimeMode: fanOutResult.RuntimeMode}
	case !fanOutResult.OK:
		exitCode = ExitOrchestrationFailed
	}

	return finish(cfg, fanOutResult, proofs, secret, reg, tr, artifactPath, logger, exitCode)
}

// runViaWorker drives a worker.Worker through its message protocol,
// resolving each RequestSpawn via caps.RunSubagent when present, or
// orchestrator.Simulate as the non-strict fallback — the same shapes the
// direct (non-worker) path would fall back to, per spec.md §4.8's note
// that the host, not the orchestrator, owns the runSubagent boundary.
func runViaWorker(ctx context.Context, task map[string]any, cfg orchestrator.Config, caps Capabilities, secret *supervisorcrypto.Secret, tr *trace.Trace, logger *slog.Logger) (orchestrator.Result, error, *registry.Registry, []orchestrator.FrontierProof) {
	w := worker.New(secret, logger)
	go w.Run(ctx, worker.RunTask{Task: task, Config: cfg, Trace: tr})

	var (
		result orchestrator.Result
		runErr error
	)

	for ev := range w.Events() {
		switch ev.Kind {
		case worker.EventRequestSpawn:
			resolveRequestSpawn(ctx, w, caps, *ev.RequestSpawn)
		case worker.EventDone:
			result = ev.Done.Result
		case worker.EventFail:
			runErr = ev.Fail.Err
		case worker.EventProgress:
			logger.Debug("worker progress", "message", ev.Progress.Message)
		}
	}

	// Without caps.RunSubagent every RequestSpawn above was answered by
	// orchestrator.Simulate, even though the worker's orchestrator saw a
	// real adapter call.
	if caps.RunSubagent == nil && result.RuntimeMode == orchestrator.RuntimeReal {
		result.RuntimeMode = orchestrator.RuntimeSimulated
	}

	return result, runErr, w.Registry(), w.FrontierProofs()
}

func resolveRequestSpawn(ctx context.Context, w *worker.Worker, caps Capabilities, req worker.RequestSpawn) {
	var (
		result map[string]any
		err    error
	)

	if caps.RunSubagent != nil {
		result, err = caps.RunSubagent(ctx, orchestrator.ExecuteRequest{
			AgentName: req.AgentName,
			Prompt:    req.Prompt,
			Input:     req.Input,
		})
	} else {
		// The orchestrator mints its own runId and stashes it on the input
		// before handing the request to the adapter boundary (see
		// orchestrator.SupervisedSpawn); the correlation id on req is the
		// worker's own, unrelated to the frontier proof's runId.
		runID, _ := req.Input["runId"].(string)
		result, err = orchestrator.Simulate(req.AgentName, req.Input, runID)
	}

	w.ResolveModelResult(worker.ModelResult{ID: req.ID, Result: result, Err: err})
}

// finish computes trace validation and engagement against the merged
// preflight+orchestration trace, assembles and persists the proof
// artifact, and resolves the final exit code. The asleep check only ever
// escalates an otherwise-successful run to ExitAsleep: an orchestration
// failure already has its own exit code and doesn't need a second verdict.
func finish(cfg orchestrator.Config, fanOutResult orchestrator.Result, proofs []orchestrator.FrontierProof, secret *supervisorcrypto.Secret, reg *registry.Registry, tr *trace.Trace, artifactPath string, logger *slog.Logger, preliminaryExit ExitCode) (EntryResult, error) {
	if reg == nil {
		reg = registry.New()
	}

	events := tr.Export()
	verification := buildVerification(secret, reg, proofs, events)
	eng := engagement.Detect(cfg.ContractMode, cfg.StrictMode, fanOutResult.RuntimeMode, verification.OK, events)

	ok := fanOutResult.OK
	exitCode := preliminaryExit
	if preliminaryExit == ExitSuccess && !eng.ContractSatisfied {
		ok = false
		exitCode = ExitAsleep
	}

	art, err := buildArtifact(ok, cfg, fanOutResult.RuntimeMode, eng, verification, events, time.Now())
	if err != nil {
		return EntryResult{}, err
	}
	if err := WriteArtifact(artifactPath, art); err != nil {
		logger.Warn("failed to write proof artifact", "error", err)
	}

	reason := fanOutResult.Reason
	if reason == "" && !ok {
		reason = "asleep_contract_not_satisfied"
	}

	return EntryResult{
		OK:           ok,
		Reason:       reason,
		ContractMode: cfg.ContractMode,
		RuntimeMode:  fanOutResult.RuntimeMode,
		Result:       fanOutResult.Result,
		Engagement:   eng,
		Trace:        events,
		Artifact:     art,
		ExitCode:     exitCode,
	}, nil
}

// sleepResult short-circuits Run for a forced sleep, per spec.md §6: a
// forceSleep configuration always yields exit 5 regardless of every other
// condition, with no orchestration attempted.
func sleepResult(cfg orchestrator.Config, artifactPath string, logger *slog.Logger) (EntryResult, error) {
	eng := engagement.Result{ContractMode: cfg.ContractMode}
	art, err := buildArtifact(false, cfg, orchestrator.RuntimeUnknown, eng, Verification{}, nil, time.Now())
	if err != nil {
		return EntryResult{}, err
	}
	if err := WriteArtifact(artifactPath, art); err != nil {
		logger.Warn("failed to write proof artifact", "error", err)
	}

	return EntryResult{
		OK:           false,
		Reason:       "force_sleep",
		ContractMode: cfg.ContractMode,
		RuntimeMode:  orchestrator.RuntimeUnknown,
		Engagement:   eng,
		Artifact:     art,
		ExitCode:     ExitAsleep,
	}, nil
}
