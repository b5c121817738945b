package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const debounce = 200 * time.Millisecond

// defaultSample seeds the playground when nothing else is given.
const defaultSample = "fmt-bridge playground   \n" +
	"\n\n\n" +
	"Edit this pane; the right pane shows the formatted text.  \n" +
	"Trailing spaces and extra blank lines are cleaned up.\n\n\n"

// shareCode encodes text so a playground session can be reopened with -share.
func shareCode(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

func decodeShare(code string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("share code: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("share code: not UTF-8 text")
	}
	return string(data), nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#666666"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type playgroundModel struct {
	ctx     context.Context
	s       *session
	input   textarea.Model
	output  viewport.Model
	err     error
	result  string
	seq     int
	pending bool
	width   int
}

// reformatMsg fires when the input has been idle for the debounce period.
type reformatMsg struct {
	seq int
}

type formattedMsg struct {
	err    error
	result string
	seq    int
}

func newPlaygroundModel(ctx context.Context, s *session, initial string) *playgroundModel {
	ta := textarea.New()
	ta.Placeholder = "Type or paste source..."
	ta.ShowLineNumbers = true
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.SetValue(initial)
	ta.Focus()

	return &playgroundModel{
		ctx:    ctx,
		s:      s,
		input:  ta,
		output: viewport.New(40, 10),
	}
}

func (m *playgroundModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.reformat(m.seq))
}

func (m *playgroundModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.output, cmd = m.output.Update(msg)
			return m, cmd
		}

		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		if m.input.Value() == before {
			return m, cmd
		}
		m.seq++
		m.pending = true
		seq := m.seq
		return m, tea.Batch(cmd, tea.Tick(debounce, func(time.Time) tea.Msg {
			return reformatMsg{seq: seq}
		}))

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case reformatMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		return m, m.reformat(msg.seq)

	case formattedMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.pending = false
		m.err = msg.err
		if msg.err == nil {
			m.result = msg.result
			m.output.SetContent(msg.result)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// reformat formats a snapshot of the input off the UI goroutine.
func (m *playgroundModel) reformat(seq int) tea.Cmd {
	text := m.input.Value()
	return func() tea.Msg {
		out, err := m.s.format(m.ctx, text)
		return formattedMsg{seq: seq, result: out, err: err}
	}
}

func (m *playgroundModel) resize(width, height int) {
	m.width = width
	paneWidth := max(width/2-2, 10)
	paneHeight := max(height-6, 3)

	m.input.SetWidth(paneWidth)
	m.input.SetHeight(paneHeight)
	m.output.Width = paneWidth
	m.output.Height = paneHeight
}

func (m *playgroundModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("fmt-bridge"))
	b.WriteString(" ")
	b.WriteString(labelStyle.Render(m.s.engine.Name()))
	b.WriteString("\n")

	left := paneStyle.Render(m.input.View())
	right := paneStyle.Render(m.output.View())
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	b.WriteString("\n")

	switch {
	case m.pending:
		b.WriteString(helpStyle.Render("formatting..."))
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	default:
		b.WriteString(statusStyle.Render(fmt.Sprintf("ok, %d bytes", len(m.result))))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(truncate("share: fmtbridge -share "+shareCode(m.input.Value()), m.width)))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("type to edit • pgup/pgdn scroll output • esc quit"))

	return b.String()
}

func truncate(s string, width int) string {
	if width <= 1 || len(s) <= width {
		return s
	}
	return s[:width-1] + "…"
}

func runInteractive(ctx context.Context, s *session, initial string) error {
	p := tea.NewProgram(newPlaygroundModel(ctx, s, initial), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
