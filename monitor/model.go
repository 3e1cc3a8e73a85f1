package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"telemetry-relay/domain"
)

const DefaultMaxLines = 5000

// Model is the bubbletea model of the monitor console: a scrolling view of
// the interleaved log and telemetry stream.
type Model struct {
	source   Source
	target   string
	viewport viewport.Model
	lines    []string
	maxLines int
	follow   bool
	status   string

	logs      int
	errors    int
	telemetry int
}

func NewModel(source Source, target string) *Model {
	return &Model{
		source:   source,
		target:   target,
		viewport: viewport.New(80, 20),
		maxLines: DefaultMaxLines,
		follow:   true,
		status:   "connected",
	}
}

func (m *Model) Init() tea.Cmd {
	return m.source.Next()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "f":
			m.follow = !m.follow
			if m.follow {
				m.viewport.GotoBottom()
			}
			return m, nil
		case "c":
			m.lines = nil
			m.viewport.SetContent("")
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-2, 1)
		m.refresh()
		return m, nil

	case FrameMsg:
		m.add(Decode(msg.Data), msg)
		return m, m.source.Next()

	case DisconnectedMsg:
		m.status = "disconnected"
		if msg.Err != nil {
			m.status = fmt.Sprintf("disconnected: %v", msg.Err)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) add(f Frame, msg FrameMsg) {
	switch f.Kind {
	case FrameLog:
		m.logs++
		if f.Log.Level == domain.LevelError {
			m.errors++
		}
	case FrameTelemetry:
		m.telemetry++
	}

	m.lines = append(m.lines, styleFor(f).Render(Format(f, msg.ReceivedAt)))
	if over := len(m.lines) - m.maxLines; over > 0 {
		m.lines = m.lines[over:]
	}
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) View() string {
	title := titleStyle.Render("relay monitor · " + m.target)
	follow := "follow"
	if !m.follow {
		follow = "paused"
	}
	status := statusBarStyle.Render(fmt.Sprintf("%s | logs %d (errors %d) | telemetry %d | %s | q quit · f follow · c clear",
		m.status, m.logs, m.errors, m.telemetry, follow))
	return title + "\n" + m.viewport.View() + "\n" + status
}
