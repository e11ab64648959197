// Package main is the entry point for engine-run: one supervised
// recursion engine pass, driven by the resolved Configuration and exiting
// with the code spec.md §4.10/§7 defines.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/sentrywatch/engine/internal/config"
	"github.com/sentrywatch/engine/internal/engine"
	"github.com/sentrywatch/engine/internal/orchestrator"
)

var (
	version = "dev"
	commit  = "unknown"
)

// CLI defines engine-run's command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Run one supervised recursion engine pass"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// RunCmd resolves configuration, runs the engine, and persists the proof
// artifact. Every *-typed flag is an explicit override of whatever
// config.Resolve already decided; leaving it unset preserves the resolved
// value, per spec.md §6's defaults ∪ file ∪ env layering.
type RunCmd struct {
	RepoRoot     string  `default:"." help:"Repository root containing .engine/config.json."`
	ArtifactPath string  `help:"Proof artifact output path (default: <repo-root>/.engine/last-proof.json)."`
	Task         string  `help:"Path to a JSON file describing the task input for depth0. Defaults to an empty object."`
	ContractMode *string `help:"Override contractMode (agentic|local)."`
	Strict       *bool   `help:"Override strictMode."`
	Worker       *bool   `name:"worker" help:"Override useWorker."`
	MaxDepth     *int    `help:"Override maxDepth."`
	MaxSpawns    *int    `help:"Override maxSpawns."`
	ForceSleep   *bool   `help:"Override forceSleep."`
	Verbose      *bool   `short:"v" help:"Override verbose."`
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("engine-run version %s (commit %s)\n", version, commit)
	return nil
}

func (c *RunCmd) Run() error {
	config.Bootstrap()

	cfg, err := config.Resolve(c.RepoRoot)
	if err != nil {
		return err
	}
	c.applyOverrides(&cfg)

	task, err := c.loadTask()
	if err != nil {
		return err
	}

	artifactPath := c.ArtifactPath
	if artifactPath == "" {
		artifactPath = filepath.Join(c.RepoRoot, engine.DefaultArtifactPath)
	}

	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	result, err := engine.Run(context.Background(), task, cfg, engine.Capabilities{}, artifactPath, logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}

	os.Exit(int(result.ExitCode))
	return nil
}

func (c *RunCmd) applyOverrides(cfg *orchestrator.Config) {
	if c.ContractMode != nil && *c.ContractMode != "" {
		cfg.ContractMode = *c.ContractMode
	}
	if c.Strict != nil {
		cfg.StrictMode = *c.Strict
	}
	if c.Worker != nil {
		cfg.UseWorker = *c.Worker
	}
	if c.MaxDepth != nil {
		cfg.MaxDepth = *c.MaxDepth
	}
	if c.MaxSpawns != nil {
		cfg.MaxSpawns = *c.MaxSpawns
	}
	if c.ForceSleep != nil {
		cfg.ForceSleep = *c.ForceSleep
	}
	if c.Verbose != nil {
		cfg.Verbose = *c.Verbose
	}
}

func (c *RunCmd) loadTask() (map[string]any, error) {
	if c.Task == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(c.Task)
	if err != nil {
		return nil, fmt.Errorf("reading task file %s: %w", c.Task, err)
	}
	var task map[string]any
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("parsing task file %s: %w", c.Task, err)
	}
	return task, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("engine-run"),
		kong.Description("Supervised recursion engine: bounded recursive subagent spawning with cryptographic supervision."),
		kong.Vars{"version": version},
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "engine-run: %v\n", err)
		os.Exit(1)
	}
}
