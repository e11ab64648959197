// Package main is the entry point for engine-guard: it reads the proof
// artifact a prior engine-run pass left behind and decides whether the
// engagement contract it describes actually holds, per spec.md §6.
//
// --watch re-checks the artifact on every write using fsnotify. On an
// interactive terminal this drives a bubbletea program (watch_tui.go),
// modeled directly on the teacher's interactive session pager's
// live-follow mode (src/internal/replay/pager.go's RunLive/watchFile).
// Piped output or --json falls back to a plain print loop, the same
// terminal-detection branch the teacher's replay viewer uses.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/mattn/go-isatty"
	"github.com/muesli/reflow/wordwrap"

	"github.com/sentrywatch/engine/internal/engine"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// CLI defines engine-guard's command-line interface.
type CLI struct {
	Check   CheckCmd   `cmd:"" default:"withargs" help:"Check the proof artifact against the engagement contract"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// CheckCmd checks one proof artifact, once or continuously.
type CheckCmd struct {
	Path           string `arg:"" optional:"" default:".engine/last-proof.json" help:"Proof artifact path."`
	ProofMaxAgeMin int    `default:"10" help:"Maximum artifact age, in minutes, before it's considered stale."`
	Agentic        bool   `help:"Require the agentic contract (runtimeMode=real plus all four engagement flags) even if ENGINE_AGENTIC is unset."`
	JSON           bool   `help:"Print the full GuardResult as JSON instead of a status line."`
	Watch          bool   `help:"Re-check on every artifact write instead of exiting after the first check."`
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("engine-guard version %s (commit %s)\n", version, commit)
	return nil
}

func (c *CheckCmd) Run() error {
	agentic := c.Agentic || os.Getenv(engine.EnvAgentic) == "true"

	if c.Watch {
		return c.watch(agentic)
	}

	result := engine.CheckGuard(c.Path, c.ProofMaxAgeMin, agentic, time.Now())
	c.print(result)
	if !result.OK {
		// The guard exits 0 iff the contract holds, otherwise 5 — this is
		// the external enforcement contract, not a CLI usage error. The
		// failure reason is printed as a status line, or under --json as
		// the GuardResult object (OK/Reason/Artifact); no JSON object with
		// an "error" field is printed.
		os.Exit(5)
	}
	return nil
}

func (c *CheckCmd) watch(agentic bool) error {
	if !c.JSON && isatty.IsTerminal(os.Stdout.Fd()) {
		return runWatchTUI(c.Path, c.ProofMaxAgeMin, agentic)
	}
	return c.watchPlain(agentic)
}

// watchPlain is the non-interactive fallback for piped output or --json:
// one printed line (or JSON object) per artifact write, no viewport.
func (c *CheckCmd) watchPlain(agentic bool) error {
	dir := filepath.Dir(c.Path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("engine-guard: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("engine-guard: watching %s: %w", dir, err)
	}

	c.print(engine.CheckGuard(c.Path, c.ProofMaxAgeMin, agentic, time.Now()))

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(c.Path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			c.print(engine.CheckGuard(c.Path, c.ProofMaxAgeMin, agentic, time.Now()))
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, dimStyle.Render("watch error: "+werr.Error()))
		}
	}
}

func (c *CheckCmd) print(result engine.GuardResult) {
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}

	if result.OK {
		fmt.Println(okStyle.Render("ENGAGED") + "  " + dimStyle.Render(c.Path))
		return
	}

	reason := wordwrap.String(result.Reason, 72)
	fmt.Println(failStyle.Render("ASLEEP") + "  " + dimStyle.Render(c.Path))
	fmt.Println("  reason: " + reason)
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("engine-guard"),
		kong.Description("Checks a supervised recursion engine proof artifact against the active engagement contract."),
		kong.Vars{"version": version},
	)
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "engine-guard: %v\n", err)
		os.Exit(1)
	}
}
