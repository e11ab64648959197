package engagement

import (
	"testing"

	"github.com/sentrywatch/engine/internal/orchestrator"
	"github.com/sentrywatch/engine/internal/trace"
)

func TestDetectLocalModeSatisfiedBySpawn(t *testing.T) {
	events := []trace.Event{{Kind: trace.KindSpawn}}
	result := Detect("local", false, orchestrator.RuntimeSimulated, true, events)
	if !result.ContractSatisfied {
		t.Fatalf("expected local contract satisfied, got %+v", result)
	}
}

func TestDetectLocalModeEmptyTraceIsAsleep(t *testing.T) {
	result := Detect("local", false, orchestrator.RuntimeUnknown, true, nil)
	if result.ContractSatisfied {
		t.Fatal("expected empty trace to fail the local contract")
	}
}

func TestDetectLocalModePreflightOnlyIsAsleep(t *testing.T) {
	events := []trace.Event{{Kind: trace.KindPreflightOK}}
	result := Detect("local", false, orchestrator.RuntimeSimulated, true, events)
	if result.ContractSatisfied {
		t.Fatal("expected preflight-only trace to fail the local contract")
	}
}

func TestDetectAgenticModeRequiresAllFlagsAndRealRuntime(t *testing.T) {
	events := []trace.Event{
		{Kind: trace.KindPreflightOK},
		{Kind: trace.KindPlanCreated},
		{Kind: trace.KindSpawn},
	}

	satisfiedButSimulated := Detect("agentic", true, orchestrator.RuntimeSimulated, true, events)
	if satisfiedButSimulated.ContractSatisfied {
		t.Fatal("expected simulated runtime to violate the agentic contract")
	}

	satisfied := Detect("agentic", true, orchestrator.RuntimeReal, true, events)
	if !satisfied.ContractSatisfied {
		t.Fatalf("expected agentic contract satisfied, got %+v", satisfied)
	}

	if !satisfied.Engagement.HasPreflightOk || !satisfied.Engagement.HasPlanCreated || !satisfied.Engagement.HasSpawnOrRequest {
		t.Fatalf("expected all engagement flags set, got %+v", satisfied.Engagement)
	}
}

func TestDetectAgenticModeFailsWithoutVerification(t *testing.T) {
	events := []trace.Event{
		{Kind: trace.KindPreflightOK},
		{Kind: trace.KindPlanCreated},
		{Kind: trace.KindSpawn},
	}
	result := Detect("agentic", true, orchestrator.RuntimeReal, false, events)
	if result.ContractSatisfied {
		t.Fatal("expected unverified trace to violate the agentic contract")
	}
	if result.Engagement.HasProofVerified {
		t.Fatal("expected hasProofVerified to mirror verificationOk=false")
	}
}

func TestDetectTraceEventsMirrorsKindsInOrder(t *testing.T) {
	events := []trace.Event{{Kind: trace.KindSpawn}, {Kind: trace.KindReturn}, {Kind: trace.KindMerge}}
	result := Detect("local", false, orchestrator.RuntimeSimulated, true, events)
	want := []trace.Kind{trace.KindSpawn, trace.KindReturn, trace.KindMerge}
	if len(result.TraceEvents) != len(want) {
		t.Fatalf("got %v", result.TraceEvents)
	}
	for i := range want {
		if result.TraceEvents[i] != want[i] {
			t.Fatalf("got %v, want %v", result.TraceEvents, want)
		}
	}
}
