// Package registry implements the Run Registry: the authoritative record
// of every spawn and its return within one orchestrator instance.
//
// A Registry is owned by exactly one orchestrator. It must never be
// shared across orchestrator instances, threads, or processes — see
// spec.md §3 invariant 8 and §5's shared-resource policy.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusSpawned  Status = "spawned"
	StatusReturned Status = "returned"
)

// Run is one spawn/return record.
type Run struct {
	RunID        string
	ParentRunID  string // "" for the root run
	AgentName    string
	Depth        int
	InputHash    string
	OutputHash   string // empty until returned
	Nonce        string // set only for frontier-depth spawns
	Status       Status
	SpawnedAt    time.Time
	ReturnedAt   time.Time // zero until returned
}

// SpawnInput is the data needed to register a new spawn.
type SpawnInput struct {
	RunID       string
	ParentRunID string
	AgentName   string
	Depth       int
	InputHash   string
	Nonce       string // optional, only at the frontier
}

// ReturnInput is the data needed to register a spawn's return.
type ReturnInput struct {
	RunID      string
	OutputHash string
}

// Stats summarizes registry contents.
type Stats struct {
	TotalSpawns  int
	TotalReturns int
	DeepestDepth int
}

// ErrDuplicateRunID is returned by RegisterSpawn when runId already
// exists in the registry.
type ErrDuplicateRunID struct{ RunID string }

func (e ErrDuplicateRunID) Error() string {
	return fmt.Sprintf("registry: duplicate_run_id: %s", e.RunID)
}

// ErrUnknownRunID is returned by RegisterReturn when runId has never
// been spawned.
type ErrUnknownRunID struct{ RunID string }

func (e ErrUnknownRunID) Error() string {
	return fmt.Sprintf("registry: unknown_run_id: %s", e.RunID)
}

// Registry is the run registry. Safe for concurrent use, though the
// orchestrator's reference semantics (spec.md §5) only ever drive it from
// one goroutine at a time; the lock exists so a host that inspects stats
// concurrently (e.g. a verbose progress display) never races the writer.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

// MintRunID returns a new run ID of the form "{name}_{unixNanoTimestamp}_{8 hex chars}".
// Collision probability is negligible for any bounded run (spec.md §4.2).
func MintRunID(agentName string) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("registry: minting run id: %w", err)
	}
	return fmt.Sprintf("%s_%d_%s", agentName, time.Now().UnixNano(), hex.EncodeToString(suffix)), nil
}

// RegisterSpawn inserts a new run record with status=spawned.
func (r *Registry) RegisterSpawn(in SpawnInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[in.RunID]; exists {
		return ErrDuplicateRunID{RunID: in.RunID}
	}

	r.runs[in.RunID] = &Run{
		RunID:       in.RunID,
		ParentRunID: in.ParentRunID,
		AgentName:   in.AgentName,
		Depth:       in.Depth,
		InputHash:   in.InputHash,
		Nonce:       in.Nonce,
		Status:      StatusSpawned,
		SpawnedAt:   time.Now(),
	}
	return nil
}

// RegisterReturn mutates a run record to status=returned exactly once.
func (r *Registry) RegisterReturn(in ReturnInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[in.RunID]
	if !ok {
		return ErrUnknownRunID{RunID: in.RunID}
	}
	if run.Status == StatusReturned {
		return fmt.Errorf("registry: run %s already returned", in.RunID)
	}
	run.OutputHash = in.OutputHash
	run.Status = StatusReturned
	run.ReturnedAt = time.Now()
	return nil
}

// HasRun reports whether runID is known to the registry.
func (r *Registry) HasRun(runID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runs[runID]
	return ok
}

// GetRun returns a copy of the run record, or nil if unknown.
func (r *Registry) GetRun(runID string) *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil
	}
	copied := *run
	return &copied
}

// GetAllRuns returns a defensive copy of every run record, ordered by
// spawn time.
func (r *Registry) GetAllRuns() []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		copied := *run
		out = append(out, &copied)
	}
	// Stable chronological order so callers (and tests) get deterministic output.
	sortRunsBySpawnTime(out)
	return out
}

// TotalSpawns returns the number of runs ever registered, for spawn-budget
// enforcement (spec.md §3 invariant 4).
func (r *Registry) TotalSpawns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

// GetStats summarizes the registry.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{TotalSpawns: len(r.runs)}
	for _, run := range r.runs {
		if run.Status == StatusReturned {
			stats.TotalReturns++
		}
		if run.Depth > stats.DeepestDepth {
			stats.DeepestDepth = run.Depth
		}
	}
	return stats
}

func sortRunsBySpawnTime(runs []*Run) {
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].SpawnedAt.Before(runs[j].SpawnedAt)
	})
}
