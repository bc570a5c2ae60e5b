// Package eventstail is the bubbletea/lipgloss program behind
// `hcom events --wait`: a live-scrolling view of the append-only event log,
// polling for new rows the way the teacher's feed TUI polls its events
// file, but reading straight from the store instead of a JSONL tail.
package eventstail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hcomhq/hcom/internal/lifecycle"
	"github.com/hcomhq/hcom/internal/messagebus"
	"github.com/hcomhq/hcom/internal/store"
)

func unmarshal(e store.Event, v any) error {
	return json.Unmarshal(e.Data, v)
}

const pollInterval = 200 * time.Millisecond

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	instanceStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	messageSymbol  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("→") // message
	statusSymbol   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("●") // status
	lifeSymbol     = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Render("◆") // life
)

// Filter narrows which events the tail shows, mirroring §9's subscription
// predicates: types (nil means all), and an instance name (empty means all).
type Filter struct {
	Types    []store.EventType
	Instance string
}

// Model is the bubbletea model driving the live tail.
type Model struct {
	st       *store.Store
	filter   Filter
	afterID  int64
	viewport viewport.Model
	lines    []string
	width    int
	height   int
	err      error
}

// New builds a tail model starting after afterID. 0, `hcom events --wait`'s
// default, shows the whole log from its first event and then keeps tailing.
func New(st *store.Store, filter Filter, afterID int64) *Model {
	return &Model{
		st:      st,
		filter:  filter,
		afterID: afterID,
		viewport: viewport.New(0, 0),
	}
}

// Run starts the tea.Program and blocks until the user quits. This is what
// `hcom events --wait` calls directly.
func Run(st *store.Store, filter Filter, afterID int64) error {
	_, err := tea.NewProgram(New(st, filter, afterID), tea.WithAltScreen()).Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return m.poll
}

type pollMsg struct {
	events []store.Event
	err    error
}

func (m *Model) poll() tea.Msg {
	events, err := m.st.EventsAfter(context.Background(), m.afterID, m.filter.Types, 0)
	return pollMsg{events: events, err: err}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

type tickMsg struct{}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 1
		m.viewport.SetContent(strings.Join(m.lines, "\n"))

	case pollMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Batch(tick())
		}
		for _, e := range msg.events {
			if m.filter.Instance != "" && e.Instance != m.filter.Instance {
				m.afterID = e.ID
				continue
			}
			m.lines = append(m.lines, formatEvent(e))
			m.afterID = e.ID
		}
		if len(msg.events) > 0 {
			m.viewport.SetContent(strings.Join(m.lines, "\n"))
			m.viewport.GotoBottom()
		}
		return m, tea.Batch(tick())

	case tickMsg:
		return m, m.poll
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) View() string {
	if m.width == 0 {
		return "loading events...\n"
	}
	header := headerStyle.Render(fmt.Sprintf("hcom events (after id %d, q to quit)", m.afterID))
	if m.err != nil {
		header += "  " + lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render(m.err.Error())
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View())
}

// formatEvent renders one event as a single line: timestamp, type symbol,
// instance, and a short human-readable summary of its payload.
func formatEvent(e store.Event) string {
	ts := timestampStyle.Render(e.Ts.Format("15:04:05"))
	inst := instanceStyle.Render(e.Instance)
	return fmt.Sprintf("[%s] %s %-16s %s", ts, symbolFor(e.Type), inst, summarize(e))
}

func symbolFor(t store.EventType) string {
	switch t {
	case store.EventMessage:
		return messageSymbol
	case store.EventStatus:
		return statusSymbol
	case store.EventLife:
		return lifeSymbol
	default:
		return "?"
	}
}

// summarize decodes an event's payload per its type for display. An
// undecodable payload falls back to the raw JSON rather than failing the
// whole tail.
func summarize(e store.Event) string {
	switch e.Type {
	case store.EventMessage:
		var msg messagebus.Message
		if err := unmarshal(e, &msg); err != nil {
			return string(e.Data)
		}
		return fmt.Sprintf("%s: %s", msg.From, msg.Text)
	case store.EventStatus:
		var st messagebus.Status
		if err := unmarshal(e, &st); err != nil {
			return string(e.Data)
		}
		if st.Context != "" {
			return fmt.Sprintf("%s (%s)", st.Status, st.Context)
		}
		return st.Status
	case store.EventLife:
		var life lifecycle.Life
		if err := unmarshal(e, &life); err != nil {
			return string(e.Data)
		}
		if life.Reason != "" {
			return fmt.Sprintf("%s (%s)", life.Action, life.Reason)
		}
		return life.Action
	default:
		return string(e.Data)
	}
}
