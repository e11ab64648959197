// Package validator implements the Trace Validator: it checks every
// trace event's signature, registry consistency, and output-hash
// cross-checks, per spec.md §4.5.
package validator

import (
	"github.com/sentrywatch/engine/internal/registry"
	"github.com/sentrywatch/engine/internal/supervisorcrypto"
	"github.com/sentrywatch/engine/internal/trace"
)

// Reason enumerates the validator's failure reasons.
const (
	ReasonBadSignature             = "bad_signature"
	ReasonChildRunMissingInRegistry = "child_run_missing_in_registry"
	ReasonOutputHashMismatch       = "output_hash_mismatch"
)

// Error is one aggregated validation failure.
type Error struct {
	EventID uint64 `json:"eventId"`
	Reason  string `json:"reason"`
}

// Result is the outcome of validating a whole trace.
type Result struct {
	OK     bool    `json:"ok"`
	Errors []Error `json:"errors"`
}

// Validate checks every event in events against secret and reg, per
// spec.md §4.5:
//
//  1. recompute the canonical payload (excluding supervisorSig) and
//     verify the signature;
//  2. if childRunId is present, require the registry to know it;
//  3. if kind == return, require the registry's stored outputHash to
//     equal the event's.
func Validate(secret *supervisorcrypto.Secret, reg *registry.Registry, events []trace.Event) Result {
	var errs []Error

	for _, ev := range events {
		ok, err := trace.VerifySignature(secret, ev)
		if err != nil || !ok {
			errs = append(errs, Error{EventID: ev.EventID, Reason: ReasonBadSignature})
			continue
		}

		if ev.ChildRunID != "" && !reg.HasRun(ev.ChildRunID) {
			errs = append(errs, Error{EventID: ev.EventID, Reason: ReasonChildRunMissingInRegistry})
			continue
		}

		if ev.Kind == trace.KindReturn && ev.ChildRunID != "" {
			run := reg.GetRun(ev.ChildRunID)
			if run == nil || run.OutputHash != ev.OutputHash {
				errs = append(errs, Error{EventID: ev.EventID, Reason: ReasonOutputHashMismatch})
			}
		}
	}

	return Result{OK: len(errs) == 0, Errors: errs}
}
