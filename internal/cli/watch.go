package cli

import (
	"context"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/dkratky/casecoder/internal/analysis"
	"github.com/dkratky/casecoder/internal/client"
	prog "github.com/dkratky/casecoder/internal/progress"
	"github.com/spf13/cobra"
)

// hyphenate maps the underscored phase name used on the wire to the slug
// shown to users.
func hyphenate(s string) string {
	return strings.ReplaceAll(s, "_", "-")
}

// Theme holds the color scheme for the watch display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

var watchCmd = &cobra.Command{
	Use:   "watch [phase]",
	Short: "Follow live progress of phase runs",
	Long: `Subscribe to the server's progress stream and render a live progress bar.
With a phase argument only that phase's events are shown; without one the
first active run wins.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase := ""
		if len(args) == 1 {
			p, err := analysis.ParsePhase(args[0])
			if err != nil {
				return err
			}
			phase = p.Slug()
		}
		return RunWatch(apiClient, phase)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// eventMsg carries one progress event from the WebSocket reader.
type eventMsg prog.Event

// watchErrMsg ends the UI when the stream breaks.
type watchErrMsg struct{ err error }

// watchModel is the bubbletea model for live run progress.
type watchModel struct {
	phase    string // slug filter, empty means first seen run
	events   <-chan tea.Msg
	last     *prog.Event
	progress progress.Model
	theme    Theme
	done     bool
	stopped  bool
	quitting bool
	err      error
}

func newWatchModel(phase string, events <-chan tea.Msg) watchModel {
	return watchModel{
		phase: phase,
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme:  defaultTheme,
		events: events,
	}
}

// Init returns the initial command (wait for the first event).
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		m.waitForEvent(),
		m.progress.Init(),
	)
}

// waitForEvent blocks on the event channel in a command goroutine so
// Update() never blocks.
func (m watchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

// Update handles messages and returns the updated model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		ev := prog.Event(msg)
		if m.phase == "" {
			m.phase = hyphenate(ev.Phase)
		}
		if hyphenate(ev.Phase) != m.phase {
			return m, m.waitForEvent()
		}
		m.last = &ev

		switch ev.Type {
		case prog.EventRunCompleted:
			m.done = true
			return m, tea.Quit
		case prog.EventRunStopped:
			m.done = true
			m.stopped = true
			return m, tea.Quit
		case prog.EventRunFailed:
			m.done = true
			m.err = fmt.Errorf("%s", ev.Message)
			return m, tea.Quit
		}
		return m, m.waitForEvent()

	case watchErrMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	if m.last == nil {
		if m.phase == "" {
			return "Waiting for a run to start...\n"
		}
		return fmt.Sprintf("Waiting for %s events...\n", m.phase)
	}

	var pct float64
	counts := ""
	if p := m.last.Progress; p != nil {
		if p.Total > 0 {
			pct = float64(p.Processed) / float64(p.Total)
		}
		counts = fmt.Sprintf("%d/%d cases, %d labels", p.Processed, p.Total, p.UniqueLabels)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.phase))
	detail := ""
	if m.last.Type == prog.EventCaseFailed {
		detail = m.theme.errorStyle().Render(fmt.Sprintf("  case %s failed", m.last.CaseID))
	} else if m.last.CaseID != "" {
		detail = m.theme.hintStyle().Render("  case " + m.last.CaseID)
	}

	hint := m.theme.hintStyle().Render("Press Ctrl+C to detach; the run continues on the server")

	return fmt.Sprintf("%s %s %s%s\n%s\n", status, m.progress.ViewAs(pct), counts, detail, hint)
}

// finalView renders the completion message.
func (m watchModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render("\nDetached. The run continues on the server.\n")
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Run failed: %s\n", m.err))
	}
	if m.stopped {
		return m.theme.hintStyle().Render("\n■ Run stopped. Re-run the phase to resume.\n")
	}

	out := m.theme.completedStyle().Render("✓ Completed") + "\n"
	if m.last != nil && m.last.Progress != nil {
		p := m.last.Progress
		out += fmt.Sprintf("\n  Cases processed: %d/%d\n  Unique labels:   %d\n",
			p.Processed, p.Total, p.UniqueLabels)
	}
	return out
}

// RunWatch runs the interactive progress UI fed by the server's WebSocket.
// Returns nil on completion or detach, an error when the watched run fails.
func RunWatch(c *client.Client, phase string) error {
	events := make(chan tea.Msg, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := c.Watch(ctx, func(ev prog.Event) error {
			events <- eventMsg(ev)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			events <- watchErrMsg{err: err}
		}
	}()

	p := tea.NewProgram(newWatchModel(phase, events))
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(watchModel); ok && m.err != nil && !m.quitting {
		return m.err
	}
	return nil
}
