// Package config resolves the engine's Configuration entity from
// (built-in defaults) ∪ (file config at .engine/config.json) ∪ (env
// overrides), per spec.md §3 and §6. A .env file is bootstrapped first,
// the way the teacher's cmd/agent/main.go init() loads one via
// github.com/joho/godotenv before any other config is read.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/sentrywatch/engine/internal/orchestrator"
)

// DefaultPath is where file configuration lives, relative to the
// repository root, per spec.md §6.
const DefaultPath = ".engine/config.json"

// fileConfig mirrors orchestrator.Config but with every field optional,
// so a partial .engine/config.json only overrides what it sets.
type fileConfig struct {
	ContractMode   *string `json:"contractMode"`
	StrictMode     *bool   `json:"strictMode"`
	UseWorker      *bool   `json:"useWorker"`
	MaxDepth       *int    `json:"maxDepth"`
	MaxSpawns      *int    `json:"maxSpawns"`
	ProofMaxAgeMin *int    `json:"proofMaxAgeMin"`
	ForceSleep     *bool   `json:"forceSleep"`
	Verbose        *bool   `json:"verbose"`
}

// Bootstrap loads a .env file from the current directory, if present.
// Absence of a .env file is not an error — it is the common case.
func Bootstrap() {
	_ = godotenv.Load()
}

// Resolve produces the frozen orchestrator.Config: defaults, then
// .engine/config.json (if present) under repoRoot, then env overrides
// (SCREAMING_SNAKE names matching spec.md §6).
func Resolve(repoRoot string) (orchestrator.Config, error) {
	cfg := orchestrator.DefaultConfig()

	path := filepath.Join(repoRoot, DefaultPath)
	if fc, err := loadFile(path); err != nil {
		return orchestrator.Config{}, fmt.Errorf("config: loading %s: %w", path, err)
	} else if fc != nil {
		applyFile(&cfg, fc)
	}

	applyEnv(&cfg)

	return cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing json: %w", err)
	}
	return &fc, nil
}

func applyFile(cfg *orchestrator.Config, fc *fileConfig) {
	if fc.ContractMode != nil {
		cfg.ContractMode = *fc.ContractMode
	}
	if fc.StrictMode != nil {
		cfg.StrictMode = *fc.StrictMode
	}
	if fc.UseWorker != nil {
		cfg.UseWorker = *fc.UseWorker
	}
	if fc.MaxDepth != nil {
		cfg.MaxDepth = *fc.MaxDepth
	}
	if fc.MaxSpawns != nil {
		cfg.MaxSpawns = *fc.MaxSpawns
	}
	if fc.ProofMaxAgeMin != nil {
		cfg.ProofMaxAgeMin = *fc.ProofMaxAgeMin
	}
	if fc.ForceSleep != nil {
		cfg.ForceSleep = *fc.ForceSleep
	}
	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
}

func applyEnv(cfg *orchestrator.Config) {
	if v, ok := os.LookupEnv("CONTRACT_MODE"); ok && v != "" {
		cfg.ContractMode = v
	}
	applyEnvBool("STRICT_MODE", &cfg.StrictMode)
	applyEnvBool("USE_WORKER", &cfg.UseWorker)
	applyEnvInt("MAX_DEPTH", &cfg.MaxDepth)
	applyEnvInt("MAX_SPAWNS", &cfg.MaxSpawns)
	applyEnvInt("PROOF_MAX_AGE_MIN", &cfg.ProofMaxAgeMin)
	applyEnvBool("FORCE_SLEEP", &cfg.ForceSleep)
	applyEnvBool("VERBOSE", &cfg.Verbose)
}

func applyEnvBool(name string, dst *bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func applyEnvInt(name string, dst *int) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}
