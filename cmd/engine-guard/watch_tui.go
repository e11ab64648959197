package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/sentrywatch/engine/internal/engine"
)

// runWatchTUI drives an interactive live view of the proof artifact's
// guard status, reloading on every fsnotify write/create event. The
// watch-and-reload command pattern (watchFile returning a tea.Cmd that
// blocks on the watcher channels and re-issues itself) follows the
// teacher's interactive session pager's live-follow mode directly.
func runWatchTUI(path string, proofMaxAgeMin int, agentic bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("engine-guard: creating watcher: %w", err)
	}
	if err := watcher.Add(dirOf(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("engine-guard: watching %s: %w", dirOf(path), err)
	}

	m := &guardModel{
		path:           path,
		proofMaxAgeMin: proofMaxAgeMin,
		agentic:        agentic,
		watcher:        watcher,
	}
	m.recheck()

	prog := tea.NewProgram(m, tea.WithAltScreen())
	_, err = prog.Run()
	watcher.Close()
	return err
}

type fileChangedMsg struct{}

type guardModel struct {
	viewport       viewport.Model
	ready          bool
	path           string
	proofMaxAgeMin int
	agentic        bool
	watcher        *fsnotify.Watcher
	history        []string
	lastCheck      time.Time
}

func (m *guardModel) Init() tea.Cmd {
	return m.watchFile()
}

func (m *guardModel) watchFile() tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-m.watcher.Events:
				if !ok {
					return nil
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					return fileChangedMsg{}
				}
			case _, ok := <-m.watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func (m *guardModel) recheck() {
	result := engine.CheckGuard(m.path, m.proofMaxAgeMin, m.agentic, time.Now())
	m.lastCheck = time.Now()
	m.history = append(m.history, renderHistoryLine(m.lastCheck, result))
	if len(m.history) > 500 {
		m.history = m.history[len(m.history)-500:]
	}
	if m.ready {
		m.viewport.SetContent(strings.Join(m.history, "\n"))
		m.viewport.GotoBottom()
	}
}

func renderHistoryLine(at time.Time, result engine.GuardResult) string {
	ts := at.Format("15:04:05")
	if result.OK {
		return ts + "  " + okStyle.Render("ENGAGED")
	}
	return ts + "  " + failStyle.Render("ASLEEP") + "  " + dimStyle.Render(result.Reason)
}

func (m *guardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		header := headerHeight()
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-header)
			m.viewport.SetContent(strings.Join(m.history, "\n"))
			m.viewport.GotoBottom()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - header
		}
		return m, nil

	case fileChangedMsg:
		m.recheck()
		return m, m.watchFile()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "g":
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func headerHeight() int { return 2 }

var watchTitleStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1).
	Background(lipgloss.Color("62")).Foreground(lipgloss.Color("15"))

func (m *guardModel) View() string {
	if !m.ready {
		return "initializing..."
	}
	title := watchTitleStyle.Render("engine-guard --watch") + "  " + dimStyle.Render(m.path)
	return title + "\n" + m.viewport.View()
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
