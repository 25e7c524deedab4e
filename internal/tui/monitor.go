// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"beatlight/internal/dispatch"
	"beatlight/internal/reactive"
	"beatlight/internal/session"
)

const (
	pollInterval = 250 * time.Millisecond
	eventLogSize = 50
)

// Snapshot is everything the monitor shows.
type Snapshot struct {
	Session session.Stats
	Loop    reactive.Stats
}

// Engine is the running engine as seen by the monitor.
type Engine interface {
	Snapshot() Snapshot
	EmergencyClear()
	Reset()
	TestFlash()
}

type monitorKeys struct {
	Clear key.Binding
	Reset key.Binding
	Flash key.Binding
	Quit  key.Binding
}

func (k monitorKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Clear, k.Reset, k.Flash, k.Quit}
}

func (k monitorKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultMonitorKeys = monitorKeys{
	Clear: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear queues")),
	Reset: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Flash: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "test flash")),
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type snapshotMsg Snapshot

type sessionEventMsg session.Event

// MonitorModel is the Bubble Tea model of the live status screen.
type MonitorModel struct {
	engine Engine
	events <-chan session.Event

	snap     Snapshot
	log      []string
	notice   string
	viewport viewport.Model
	help     help.Model
	keys     monitorKeys
	ready    bool
}

// NewMonitorModel creates the monitor. events may be nil.
func NewMonitorModel(engine Engine, events <-chan session.Event) MonitorModel {
	return MonitorModel{
		engine: engine,
		events: events,
		snap:   engine.Snapshot(),
		help:   help.New(),
		keys:   defaultMonitorKeys,
	}
}

// Init starts polling and listening for state transitions.
func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), waitForEvent(m.events))
}

func (m MonitorModel) poll() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return snapshotMsg(m.engine.Snapshot())
	})
}

func waitForEvent(events <-chan session.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return nil
		}
		return sessionEventMsg(e)
	}
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		height := max(msg.Height-statusLines-4, 3)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.help.Width = msg.Width
		m.viewport.SetContent(m.renderLog())

	case snapshotMsg:
		m.snap = Snapshot(msg)
		cmds = append(cmds, m.poll())

	case sessionEventMsg:
		e := session.Event(msg)
		line := fmt.Sprintf("%s  %s", e.At.Format("15:04:05.000"), e)
		m.log = append(m.log, line)
		if len(m.log) > eventLogSize {
			m.log = m.log[len(m.log)-eventLogSize:]
		}
		if m.ready {
			m.viewport.SetContent(m.renderLog())
			m.viewport.GotoBottom()
		}
		cmds = append(cmds, waitForEvent(m.events))

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.engine.EmergencyClear()
			m.notice = "Queues cleared"
			m.snap = m.engine.Snapshot()
		case key.Matches(msg, m.keys.Reset):
			m.engine.Reset()
			m.notice = "Beat history and queues reset"
			m.snap = m.engine.Snapshot()
		case key.Matches(msg, m.keys.Flash):
			m.engine.TestFlash()
			m.notice = "Test flash started"
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// statusLines is the height of the status block in View.
const statusLines = 10

func (m MonitorModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("beatlight"))
	sb.WriteString("\n\n")
	sb.WriteString(m.renderStatus())
	sb.WriteString("\n")
	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func (m MonitorModel) renderStatus() string {
	s, l := m.snap.Session, m.snap.Loop

	path := "request (fallback)"
	if s.Streaming {
		path = "streaming " + s.GroupID
	}
	state := infoStyle.Render(s.State.String())
	if s.State == session.Streaming {
		state = highlightStyle.Render(s.State.String())
	}

	rows := [][2]string{
		{"State", state},
		{"Path", path},
		{"Uptime", (time.Duration(s.UptimeSeconds) * time.Second).String()},
		{"Streaming", fmt.Sprintf("%d sent, %s", s.EntertainmentSent, errCount(s.EntertainmentErrors))},
		{"Request", fmt.Sprintf("%d sent, %s", s.RegularSent, errCount(s.RegularErrors))},
		{"Queues", fmt.Sprintf("%d streaming, %d request, %d cleared",
			s.QueueDepths[dispatch.LaneEntertainment], s.QueueDepths[dispatch.LaneRegular], s.EmergencyClears)},
		{"Audio", fmt.Sprintf("%s mode, %d beats in %d ticks", l.Mode, l.Beats, l.Ticks)},
	}

	var sb strings.Builder
	for _, r := range rows {
		sb.WriteString(labelStyle.Render(r[0]))
		sb.WriteString(r[1])
		sb.WriteString("\n")
	}
	switch {
	case s.NeedsManualClear:
		sb.WriteString(warnStyle.Render("Queue backed up: press c to clear"))
	case m.notice != "":
		sb.WriteString(infoStyle.Render(m.notice))
	}
	sb.WriteString("\n")
	return sb.String()
}

func (m MonitorModel) renderLog() string {
	if len(m.log) == 0 {
		return infoStyle.Render("No state changes yet.")
	}
	return strings.Join(m.log, "\n")
}

func errCount(n uint64) string {
	if n == 0 {
		return "no errors"
	}
	return errorStyle.Render(fmt.Sprintf("%d errors", n))
}

// RunMonitor shows the monitor until the user quits or ctx is cancelled.
func RunMonitor(ctx context.Context, engine Engine, events <-chan session.Event) error {
	p := tea.NewProgram(NewMonitorModel(engine, events), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
