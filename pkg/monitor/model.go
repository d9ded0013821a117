// Package monitor shows per-channel playback progress in the terminal.
package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultInterval is how often the model polls its sources.
const DefaultInterval = 100 * time.Millisecond

// Source is one channel being played. *playback.Voice implements it.
type Source interface {
	Channel() int
	Position() time.Duration
	Done() bool
}

// Controls mutes and pauses the sources as a whole. *playback.Output
// implements it.
type Controls interface {
	SetMuted(muted bool)
	IsMuted() bool
	SetPaused(paused bool)
	IsPaused() bool
}

type tickMsg time.Time

// Model is a bubbletea model listing every source with its position.
type Model struct {
	Sources  []Source
	Title    string
	Duration time.Duration
	Interval time.Duration
	Controls Controls // nil disables the mute and pause keys

	width    int
	quitting bool
	finished bool
}

// NewModel creates a model over sources. duration sizes the progress bars;
// zero hides them.
func NewModel(title string, duration time.Duration, sources []Source) Model {
	return Model{
		Sources:  sources,
		Title:    title,
		Duration: duration,
		Interval: DefaultInterval,
		width:    80,
	}
}

func (m Model) tick() tea.Cmd {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "m":
			if m.Controls != nil {
				m.Controls.SetMuted(!m.Controls.IsMuted())
			}
		case " ", "p":
			if m.Controls != nil {
				m.Controls.SetPaused(!m.Controls.IsPaused())
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		if m.allDone() {
			m.finished = true
			return m, tea.Quit
		}
		return m, m.tick()
	}

	return m, nil
}

// Finished reports whether the model quit because every source was done.
func (m Model) Finished() bool { return m.finished }

func (m Model) allDone() bool {
	if len(m.Sources) == 0 {
		return true
	}
	for _, s := range m.Sources {
		if !s.Done() {
			return false
		}
	}
	return true
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	channelStyle = lipgloss.NewStyle().Width(6)
	drumStyle    = channelStyle.Foreground(lipgloss.Color("208"))
	playingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	flagStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var out strings.Builder
	out.WriteString("\n")
	header := fmt.Sprintf("scorestream  %s  %d channels", m.Title, len(m.Sources))
	if m.Duration > 0 {
		header += "  " + formatDuration(m.Duration)
	}
	out.WriteString(headerStyle.Render(header))
	if m.Controls != nil {
		if m.Controls.IsPaused() {
			out.WriteString(flagStyle.Render("  paused"))
		}
		if m.Controls.IsMuted() {
			out.WriteString(flagStyle.Render("  muted"))
		}
	}
	out.WriteString("\n\n")

	barWidth := max(m.width-40, 10)
	for _, s := range m.Sources {
		style := channelStyle
		if s.Channel() == 9 {
			style = drumStyle
		}
		row := []string{style.Render(fmt.Sprintf("ch%2d", s.Channel())), formatDuration(s.Position())}
		if s.Done() {
			row = append(row, doneStyle.Render("done   "))
		} else {
			row = append(row, playingStyle.Render("playing"))
		}
		if m.Duration > 0 {
			row = append(row, barStyle.Render(progressBar(s.Position(), m.Duration, barWidth)))
		}
		out.WriteString(strings.Join(row, "  "))
		out.WriteString("\n")
	}

	out.WriteString("\n")
	help := "q:quit"
	if m.Controls != nil {
		help += "  m:mute  space:pause"
	}
	out.WriteString(dimStyle.Render(help))
	return out.String()
}

func progressBar(pos, total time.Duration, width int) string {
	filled := int(int64(width) * int64(min(pos, total)) / int64(total))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Millisecond)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	ms := (d % time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d.%03d", m, s, ms)
}

// Run shows the model until the user quits, every source is done or ctx is
// cancelled. in and out default to the terminal when nil.
func Run(ctx context.Context, m Model, in io.Reader, out io.Writer, altScreen bool) (Model, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if in != nil {
		opts = append(opts, tea.WithInput(in))
	}
	if out != nil {
		opts = append(opts, tea.WithOutput(out))
	}
	if altScreen {
		opts = append(opts, tea.WithAltScreen())
	}

	final, err := tea.NewProgram(m, opts...).Run()
	if fm, ok := final.(Model); ok {
		m = fm
	}
	if err != nil && ctx.Err() != nil {
		return m, ctx.Err()
	}
	return m, err
}
