package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragbench/internal/stats"
	"ragbench/internal/transcript"
)

// ChatPort is the TUI-facing subset of a chat session.
type ChatPort interface {
	Ask(ctx context.Context, question string) error
	Snapshot() transcript.Transcript
	Busy() bool
	Model() string
	Throughput() stats.Summary
	ClearContext()
	Reset()
	SaveContext(path string) (string, error)
	LoadContext(path string) error
}

type (
	updateMsg  struct{}
	askDoneMsg struct{ err error }
)

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	session  ChatPort
	updates  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	title    string
	status   string
	ready    bool
	asking   bool
}

// New creates a chat model. Wire Notify into the session's OnUpdate so that
// streamed deltas repaint the transcript.
func New(session ChatPort, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or /new /clear /save NAME /load FILE /quit"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		session:  session,
		updates:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		title:    title,
		status:   "Ready.",
	}
}

// Notify signals that the transcript changed. It never blocks; bursts of
// updates collapse into one repaint.
func (m Model) Notify(transcript.Transcript) {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}

// Init initializes the model (text input cursor blink, update listener).
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listen())
}

func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		<-m.updates
		return updateMsg{}
	}
}

func (m Model) ask(question string) tea.Cmd {
	return func() tea.Msg {
		return askDoneMsg{err: m.session.Ask(m.ctx, question)}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, th := transcriptBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + ih + 1 // header, status line, input box
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-th)
		m.refresh()
		return m, nil

	case updateMsg:
		m.refresh()
		return m, m.listen()

	case askDoneMsg:
		m.asking = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = "Answered."
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.asking {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			m.cancel()
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.SetValue("")
			if strings.HasPrefix(line, "/") {
				cmd := m.command(line)
				return m, cmd
			}
			if m.asking || m.session.Busy() {
				m.status = "Still answering, wait for the current reply."
				return m, nil
			}
			m.asking = true
			m.status = "Answering..."
			return m, tea.Batch(m.ask(line), m.spinner.Tick)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// command runs a slash command and updates the status line.
func (m *Model) command(line string) tea.Cmd {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit":
		m.cancel()
		return tea.Quit
	case "/clear":
		m.session.ClearContext()
		m.status = "Context cleared."
	case "/new":
		if m.asking || m.session.Busy() {
			m.status = "Still answering, wait for the current reply."
			return nil
		}
		m.session.Reset()
		m.status = "New chat."
	case "/save":
		if arg == "" {
			m.status = "Usage: /save NAME"
			return nil
		}
		path, err := m.session.SaveContext(arg)
		if err != nil {
			m.status = "Error: " + err.Error()
			return nil
		}
		m.status = "Context saved to " + path
	case "/load":
		if arg == "" {
			m.status = "Usage: /load FILE"
			return nil
		}
		if err := m.session.LoadContext(arg); err != nil {
			m.status = "Error: " + err.Error()
			return nil
		}
		m.status = "Context loaded from " + arg
	default:
		m.status = "Unknown command " + name
	}
	m.refresh()
	return nil
}

func (m *Model) refresh() {
	m.viewport.SetContent(renderTranscript(m.session.Snapshot()))
	m.viewport.GotoBottom()
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	tr := m.session.Snapshot()
	header := lipgloss.NewStyle().Bold(true).Render(m.title)
	meta := fmt.Sprintf("  model %s | context %d tokens | tok/s %s", m.session.Model(), len(tr.Context), m.session.Throughput())
	header += lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(meta)

	status := m.status
	if m.asking {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" +
		transcriptBoxStyle.Render(m.viewport.View()) + "\n" +
		inputBoxStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(status)
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	speakerStyle       = lipgloss.NewStyle().Bold(true)
	statStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

func renderTranscript(tr transcript.Transcript) string {
	if len(tr.Turns) == 0 {
		return "No messages yet."
	}
	var b strings.Builder
	for i, turn := range tr.Turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(speakerStyle.Render(turn.Speaker + ":"))
		b.WriteString(" ")
		b.WriteString(turn.Text)
		if turn.StatAnnotation != "" {
			b.WriteString("\n")
			b.WriteString(statStyle.Render(turn.StatAnnotation))
		}
	}
	return b.String()
}
