package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sentrywatch/engine/internal/trace"
)

// Agent role names for the fixed fan-out program from spec.md §4.6.
const (
	depth1AgentName = "depth1_orchestrator"
	depth2AgentName = "depth2_worker"
	depth3AgentName = "depth3_micro"
)

// spawnRequest is one entry of a depth1/depth2 "spawn_requests"/
// "spawn_request" field.
type spawnRequest struct {
	ChildName string
	Input     map[string]any
}

// RunFanOut executes the fixed depth0→depth1→2×depth2→2×depth3 recursion
// program that exercises the whole engine end to end, per spec.md §4.6.
// Siblings are spawned serially, in the order the parent enumerated its
// spawn_requests (spec.md §5 ordering guarantee).
func (o *Orchestrator) RunFanOut(ctx context.Context, task map[string]any) (Result, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.run_fan_out")
	defer span.End()

	depth1Outcome, err := o.SupervisedSpawn(ctx, SpawnRequest{
		AgentName:    depth1AgentName,
		Depth:        1,
		Input:        task,
		Prompt:       orchestratorPrompt(depth1AgentName, 1),
		RequiredKeys: []string{"spawn_requests"},
	})
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	if !depth1Outcome.OK {
		return o.failResult(depth1Outcome.Reason), nil
	}

	requests, err := parseSpawnRequests(depth1Outcome.Output)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("orchestrator: depth1 output: %w", err)
	}

	if _, err := o.tr.AddEvent(trace.UnsignedEvent{
		Kind:      trace.KindPlanCreated,
		Depth:     1,
		AgentName: depth1AgentName,
		Note:      fmt.Sprintf("spawn_requests:%d", len(requests)),
	}); err != nil {
		return Result{}, fmt.Errorf("orchestrator: recording plan_created event: %w", err)
	}

	for _, req := range requests {
		depth2Outcome, err := o.SupervisedSpawn(ctx, SpawnRequest{
			ParentRunID:     depth1Outcome.RunID,
			AgentName:       depth2AgentName,
			Depth:           2,
			Input:           req.Input,
			Prompt:          orchestratorPrompt(depth2AgentName, 2),
			RequiredKeys:    []string{"metric", "computation", "spawn_request"},
			MinNumericCount: 1,
		})
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		if !depth2Outcome.OK {
			return o.failResult(depth2Outcome.Reason), nil
		}

		childReq, err := parseSingleSpawnRequest(depth2Outcome.Output)
		if err != nil {
			span.RecordError(err)
			return Result{}, fmt.Errorf("orchestrator: depth2 output: %w", err)
		}

		depth3Outcome, err := o.SupervisedSpawn(ctx, SpawnRequest{
			ParentRunID:  depth2Outcome.RunID,
			AgentName:    depth3AgentName,
			Depth:        3,
			Input:        childReq.Input,
			Prompt:       orchestratorPrompt(depth3AgentName, 3),
			RequiredKeys: []string{"hashProof", "timestamp"},
		})
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		if !depth3Outcome.OK {
			return o.failResult(depth3Outcome.Reason), nil
		}
	}

	if _, err := o.tr.AddEvent(trace.UnsignedEvent{
		Kind: trace.KindMerge,
		Note: "merged_depth2_depth3_results",
	}); err != nil {
		return Result{}, fmt.Errorf("orchestrator: recording merge event: %w", err)
	}

	span.SetAttributes(attribute.Int("fan_out.spawn_count", o.reg.TotalSpawns()))

	return Result{
		OK:           true,
		ContractMode: o.cfg.ContractMode,
		RuntimeMode:  o.RuntimeMode(),
		Result: map[string]any{
			"spawnsExecuted": o.reg.TotalSpawns(),
		},
	}, nil
}

func (o *Orchestrator) failResult(reason string) Result {
	return Result{
		OK:           false,
		Reason:       reason,
		ContractMode: o.cfg.ContractMode,
		RuntimeMode:  o.RuntimeMode(),
	}
}

func orchestratorPrompt(agentName string, depth int) string {
	return fmt.Sprintf("You are %s, operating at recursion depth %d. Reply with JSON only.", agentName, depth)
}

func parseSpawnRequests(output map[string]any) ([]spawnRequest, error) {
	raw, ok := output["spawn_requests"].([]any)
	if !ok {
		return nil, fmt.Errorf("spawn_requests missing or not an array")
	}
	out := make([]spawnRequest, 0, len(raw))
	for i, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("spawn_requests[%d] is not an object", i)
		}
		req, err := decodeSpawnRequest(entry)
		if err != nil {
			return nil, fmt.Errorf("spawn_requests[%d]: %w", i, err)
		}
		out = append(out, req)
	}
	return out, nil
}

func parseSingleSpawnRequest(output map[string]any) (spawnRequest, error) {
	entry, ok := output["spawn_request"].(map[string]any)
	if !ok {
		return spawnRequest{}, fmt.Errorf("spawn_request missing or not an object")
	}
	return decodeSpawnRequest(entry)
}

func decodeSpawnRequest(entry map[string]any) (spawnRequest, error) {
	childName, ok := entry["child_name"].(string)
	if !ok || childName == "" {
		return spawnRequest{}, fmt.Errorf("child_name missing or not a string")
	}
	input, _ := entry["input"].(map[string]any)
	if input == nil {
		input = map[string]any{}
	}
	return spawnRequest{ChildName: childName, Input: input}, nil
}
