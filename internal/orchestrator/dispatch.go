package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sentrywatch/engine/internal/trace"
)

// execute dispatches one subagent call, per spec.md §4.6 "Execute
// (dispatch)". Resolution order: configured SpawnAdapter, then the host's
// runSubagent capability, then (non-strict) the built-in simulation, then
// (strict) a fatal tool_missing_strict error.
func (o *Orchestrator) execute(ctx context.Context, agentName string, depth int, input map[string]any, prompt, runID string) (any, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.execute")
	span.SetAttributes(attribute.String("execute.agent_name", agentName), attribute.Int("execute.depth", depth))
	defer span.End()

	req := ExecuteRequest{AgentName: agentName, Prompt: prompt, Input: input}

	if o.adapter != nil {
		resp, err := o.adapter.Execute(ctx, req)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("orchestrator: adapter execution: %w", err)
		}
		if resp.RunID == "" || resp.Output == nil {
			err := ErrMalformedAdapterOutput{AgentName: agentName}
			span.RecordError(err)
			return nil, err
		}
		o.runtimeMode.Store(RuntimeReal)
		return resp.Output, nil
	}

	if o.hostCapability != nil {
		out, err := o.hostCapability(ctx, req)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("orchestrator: host capability execution: %w", err)
		}
		o.runtimeMode.Store(RuntimeReal)
		return out, nil
	}

	if o.cfg.StrictMode {
		if _, err := o.tr.AddEvent(trace.UnsignedEvent{
			Kind:      trace.KindToolMissingStrict,
			Depth:     depth,
			AgentName: agentName,
			Note:      "tool_missing_strict",
		}); err != nil {
			o.logger.Warn("failed to record tool_missing_strict event", "error", err)
		}
		err := ErrToolMissingStrict{}
		span.RecordError(err)
		return nil, err
	}

	o.runtimeMode.Store(RuntimeSimulated)
	o.emitSimulationWarningOnce(depth, agentName)
	return Simulate(agentName, input, runID)
}

// emitSimulationWarningOnce records the one-shot simulation_warning
// event the first time execution falls back to simulation, per spec.md §4.6.
func (o *Orchestrator) emitSimulationWarningOnce(depth int, agentName string) {
	o.mu.Lock()
	if o.simulationWarned {
		o.mu.Unlock()
		return
	}
	o.simulationWarned = true
	o.mu.Unlock()

	if _, err := o.tr.AddEvent(trace.UnsignedEvent{
		Kind:      trace.KindSimulationWarning,
		Depth:     depth,
		AgentName: agentName,
		Note:      "simulation_warning",
	}); err != nil {
		o.logger.Warn("failed to record simulation_warning event", "error", err)
	}
}
