package engine

import (
	"os"
	"time"

	"github.com/sentrywatch/engine/internal/orchestrator"
)

// EnvAgentic forces agentic-mode guard checks even when the proof
// artifact's own contractMode was recorded as "local", per spec.md §6.
const EnvAgentic = "ENGINE_AGENTIC"

// GuardResult is the outcome of CheckGuard.
type GuardResult struct {
	OK       bool
	Reason   string
	Artifact *Artifact
}

// CheckGuard reads the proof artifact at path and validates it against the
// guard's contract rules, per spec.md §6: the artifact must exist, parse,
// carry a timestampMs no older than proofMaxAgeMin, and report ok=true;
// under the agentic contract (agentic=true, or the artifact itself was
// recorded under strictMode/"agentic") it must additionally report
// runtimeMode=real and all four engagement flags. now is injected so
// callers (and tests) control the freshness check deterministically.
//
// timestampMs is the canonical freshness field per spec.md §6/§9; the
// ISO timestamp field is advisory only and is never consulted here.
func CheckGuard(path string, proofMaxAgeMin int, agentic bool, now time.Time) GuardResult {
	art, err := ReadArtifact(path)
	if err != nil {
		if os.IsNotExist(err) {
			return GuardResult{OK: false, Reason: "proof_missing"}
		}
		return GuardResult{OK: false, Reason: "proof_invalid_json"}
	}

	if art.TimestampMs == 0 {
		return GuardResult{OK: false, Reason: "missing_timestamp", Artifact: &art}
	}

	ts := time.UnixMilli(art.TimestampMs)
	maxAge := time.Duration(proofMaxAgeMin) * time.Minute
	if now.Sub(ts) > maxAge {
		return GuardResult{OK: false, Reason: "proof_stale", Artifact: &art}
	}

	if !art.OK {
		return GuardResult{OK: false, Reason: "proof_failed", Artifact: &art}
	}

	if agentic || art.StrictMode || art.ContractMode == "agentic" {
		if art.RuntimeMode != orchestrator.RuntimeReal {
			return GuardResult{OK: false, Reason: "agentic_contract_violated_runtime", Artifact: &art}
		}
		eng := art.Engagement
		if !(eng.HasPreflightOk && eng.HasPlanCreated && eng.HasSpawnOrRequest && eng.HasProofVerified) {
			return GuardResult{OK: false, Reason: "agentic_contract_violated_engagement", Artifact: &art}
		}
	}

	return GuardResult{OK: true, Artifact: &art}
}
