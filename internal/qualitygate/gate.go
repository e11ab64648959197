// Package qualitygate classifies a subagent output as acceptable or not,
// and drives the retry loop around a single spawn attempt.
//
// The four checks and the retry contract follow spec.md §4.4 exactly. The
// retry loop itself is a simplified cousin of the teacher's four-phase
// COMMIT/EXECUTE/RECONCILE/SUPERVISE retry-with-correction flow in
// internal/executor/subagent.go (the VerdictReorient path): here there is
// no LLM judging the retry, just structural/lexical gate errors fed back
// through tightenPromptFn so the next attempt can adjust.
package qualitygate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentrywatch/engine/internal/canon"
)

// handwavePhrases is the fixed, case-insensitive phrase list from
// spec.md §4.4 check 4.
var handwavePhrases = []string{
	"i guess", "seems like", "looks like", "probably", "maybe", "not sure",
	"cannot access", "no access", "i did not", "i didn't", "placeholder",
	"todo", "tbd", "coming soon", "not implemented",
}

// Spec describes what an acceptable output must satisfy.
type Spec struct {
	RequiredKeys     []string
	MinNumericCount  int
	// ExtraCheck, if set, runs after the four structural checks and may
	// add additional gate errors (e.g. the frontier hashProof check from
	// spec.md §4.6 step 4). Receives the decoded output.
	ExtraCheck func(output map[string]any) []string
}

// Evaluate runs the four checks (plus Spec.ExtraCheck) against output and
// returns every gate error found, in the order spec.md §4.4 lists them.
// An empty slice means output passes the gate.
func Evaluate(output any, spec Spec) []string {
	var errs []string

	obj, ok := output.(map[string]any)
	if !ok || obj == nil {
		return []string{"output_not_object"}
	}

	for _, key := range spec.RequiredKeys {
		if _, present := obj[key]; !present {
			errs = append(errs, "missing_key:"+key)
		}
	}

	numericCount := canon.CountNumerics(obj)
	if numericCount < spec.MinNumericCount {
		errs = append(errs, fmt.Sprintf("too_few_numeric_values:n<%d", spec.MinNumericCount))
	}

	if match := findHandwavePhrase(obj); match != "" {
		errs = append(errs, "handwave_phrase:"+match)
	}

	if spec.ExtraCheck != nil {
		errs = append(errs, spec.ExtraCheck(obj)...)
	}

	return errs
}

func findHandwavePhrase(obj map[string]any) string {
	data, err := canon.Marshal(obj)
	if err != nil {
		return ""
	}
	lower := strings.ToLower(string(data))
	for _, phrase := range handwavePhrases {
		if strings.Contains(lower, phrase) {
			return phrase
		}
	}
	return ""
}

// AttemptFunc executes one attempt and returns its output (or an error if
// the attempt itself failed to run, distinct from failing the gate).
type AttemptFunc func(ctx context.Context, attempt int) (any, error)

// TightenFunc is called between failed attempts so the caller can adjust
// whatever drives the next AttemptFunc call (e.g. tighten a prompt).
type TightenFunc func(attempt int, gateErrors []string)

// RetryOutcome is the result of RunWithRetry.
type RetryOutcome struct {
	OK         bool
	Reason     string
	LastOutput any
	LastErrors []string
	Attempts   int
}

// RunWithRetry runs attemptFn up to maxAttempts times, returning the
// first gate-passing output. Between failed attempts it calls
// tightenPromptFn (if set) with the gate errors so the next attempt can
// adjust. On exhaustion it returns ok=false with reason
// "quality_gate_failed_all_attempts", per spec.md §4.4.
func RunWithRetry(ctx context.Context, maxAttempts int, spec Spec, attemptFn AttemptFunc, tightenPromptFn TightenFunc) (RetryOutcome, error) {
	var lastOutput any
	var lastErrors []string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		output, err := attemptFn(ctx, attempt)
		if err != nil {
			return RetryOutcome{}, fmt.Errorf("qualitygate: attempt %d: %w", attempt, err)
		}

		gateErrors := Evaluate(output, spec)
		lastOutput = output
		lastErrors = gateErrors

		if len(gateErrors) == 0 {
			return RetryOutcome{OK: true, LastOutput: output, Attempts: attempt}, nil
		}

		if attempt < maxAttempts && tightenPromptFn != nil {
			tightenPromptFn(attempt, gateErrors)
		}
	}

	return RetryOutcome{
		OK:         false,
		Reason:     "quality_gate_failed_all_attempts",
		LastOutput: lastOutput,
		LastErrors: lastErrors,
		Attempts:   maxAttempts,
	}, nil
}
