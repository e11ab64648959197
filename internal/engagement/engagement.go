// Package engagement implements the Asleep Detector: it classifies a
// finished run as engaged or asleep under the active contract, per
// spec.md §4.9.
//
// The specification's source material contains two subtly different
// historical forms of this rule (one requires quality_gate_pass in
// strict mode, the other does not). This package implements the form
// spec.md §4.9 states explicitly.
package engagement

import (
	"github.com/sentrywatch/engine/internal/orchestrator"
	"github.com/sentrywatch/engine/internal/trace"
)

// Flags are the five booleans the detector derives from the trace.
type Flags struct {
	HasPreflightOk     bool `json:"hasPreflightOk"`
	HasPlanCreated     bool `json:"hasPlanCreated"`
	HasProofVerified   bool `json:"hasProofVerified"`
	HasSpawnOrRequest  bool `json:"hasSpawnOrRequest"`
	HasQualityGatePass bool `json:"hasQualityGatePass"`
}

// Result is the full output of Detect.
type Result struct {
	OK                bool        `json:"ok"`
	ContractMode      string      `json:"contractMode"`
	ContractSatisfied bool        `json:"contractSatisfied"`
	Engagement        Flags       `json:"engagement"`
	TraceCount        int         `json:"traceCount"`
	VerificationOK    bool        `json:"verificationOk"`
	TraceEvents       []trace.Kind `json:"traceEvents"`
}

// Detect evaluates events (the merged preflight + orchestrator trace)
// against the active contract. strictMode selects which rule from
// spec.md §4.9 applies; contractMode is only copied into the result:
//
//   - agentic (strictMode=true): contractSatisfied iff hasPreflightOk ∧
//     hasPlanCreated ∧ hasSpawnOrRequest ∧ verificationOk ∧
//     runtimeMode == real.
//   - local: contractSatisfied iff the trace is non-empty and at least
//     one of {spawn, merge, return, quality_gate_pass} appears.
func Detect(contractMode string, strictMode bool, runtimeMode orchestrator.RuntimeMode, verificationOK bool, events []trace.Event) Result {
	flags := Flags{HasProofVerified: verificationOK}
	kinds := make([]trace.Kind, len(events))

	for i, ev := range events {
		kinds[i] = ev.Kind
		switch ev.Kind {
		case trace.KindPreflightOK:
			flags.HasPreflightOk = true
		case trace.KindPlanCreated:
			flags.HasPlanCreated = true
		case trace.KindSpawn:
			flags.HasSpawnOrRequest = true
		case trace.KindQualityGatePass:
			flags.HasQualityGatePass = true
		}
	}

	var satisfied bool
	if strictMode {
		satisfied = flags.HasPreflightOk && flags.HasPlanCreated && flags.HasSpawnOrRequest &&
			verificationOK && runtimeMode == orchestrator.RuntimeReal
	} else {
		satisfied = len(events) > 0 && hasAnyLocalEngagementKind(events)
	}

	return Result{
		OK:                satisfied,
		ContractMode:      contractMode,
		ContractSatisfied: satisfied,
		Engagement:        flags,
		TraceCount:        len(events),
		VerificationOK:    verificationOK,
		TraceEvents:       kinds,
	}
}

func hasAnyLocalEngagementKind(events []trace.Event) bool {
	for _, ev := range events {
		switch ev.Kind {
		case trace.KindSpawn, trace.KindMerge, trace.KindReturn, trace.KindQualityGatePass:
			return true
		}
	}
	return false
}
