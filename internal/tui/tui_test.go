// SPDX-License-Identifier: MIT
package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"beatlight/internal/audio"
	"beatlight/internal/dispatch"
	"beatlight/internal/session"
)

type fakeEngine struct {
	snap                  Snapshot
	clears, resets, flash int
}

func (f *fakeEngine) Snapshot() Snapshot { return f.snap }
func (f *fakeEngine) EmergencyClear()    { f.clears++ }
func (f *fakeEngine) Reset()             { f.resets++ }
func (f *fakeEngine) TestFlash()         { f.flash++ }

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sized(m tea.Model) tea.Model {
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m
}

func TestMonitorKeys(t *testing.T) {
	eng := &fakeEngine{}
	m := sized(NewMonitorModel(eng, nil))

	tests := []struct {
		key    string
		notice string
		count  func() int
	}{
		{"c", "Queues cleared", func() int { return eng.clears }},
		{"r", "Beat history and queues reset", func() int { return eng.resets }},
		{"f", "Test flash started", func() int { return eng.flash }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			m, _ = m.Update(runes(tt.key))
			if tt.count() != 1 {
				t.Errorf("key %q not forwarded to the engine", tt.key)
			}
			if !strings.Contains(m.View(), tt.notice) {
				t.Errorf("view missing %q", tt.notice)
			}
		})
	}

	_, cmd := m.Update(runes("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestMonitorShowsStatus(t *testing.T) {
	eng := &fakeEngine{}
	m := sized(NewMonitorModel(eng, nil))

	m, _ = m.Update(snapshotMsg(Snapshot{Session: session.Stats{
		State:             session.Streaming,
		Streaming:         true,
		GroupID:           "1a8d99cc-967b-44f2-9202-43f976c0fa6b",
		EntertainmentSent: 42,
		QueueDepths:       map[dispatch.Lane]int{dispatch.LaneEntertainment: 12},
		NeedsManualClear:  true,
	}}))

	view := m.View()
	for _, want := range []string{"streaming 1a8d99cc", "42 sent", "12 streaming", "press c to clear"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestMonitorLogsTransitions(t *testing.T) {
	events := make(chan session.Event, 1)
	m := sized(NewMonitorModel(&fakeEngine{}, events))

	e := session.Event{From: session.Streaming, To: session.FallbackActive, Cause: errors.New("3 consecutive send failures"), At: time.Now()}
	m, cmd := m.Update(sessionEventMsg(e))
	if cmd == nil {
		t.Error("monitor stopped listening for events")
	}
	if !strings.Contains(m.View(), "streaming -> fallback_active (3 consecutive send failures)") {
		t.Errorf("view missing transition:\n%s", m.View())
	}
}

func TestFetchDevicesKeepsInputs(t *testing.T) {
	orig := devicesFunc
	defer func() { devicesFunc = orig }()
	devicesFunc = func() ([]audio.Device, error) {
		return []audio.Device{
			{ID: 0, Name: "Speakers", MaxOutputChannels: 2},
			{ID: 1, Name: "Mic", MaxInputChannels: 1, DefaultSampleRate: 48000},
		}, nil
	}

	msg, ok := fetchDevices().(devicesMsg)
	if !ok || len(msg.devices) != 1 || msg.devices[0].Name != "Mic" {
		t.Errorf("fetchDevices() = %+v", msg)
	}
}

func TestDevicePicker(t *testing.T) {
	m := sized(NewDeviceListModel())
	m, _ = m.Update(devicesMsg{[]audio.Device{
		{ID: 1, Name: "Mic", MaxInputChannels: 1, DefaultSampleRate: 44100},
		{ID: 3, Name: "Interface", MaxInputChannels: 8, DefaultSampleRate: 48000},
	}})

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if !strings.Contains(m.View(), "Capture from: Interface") {
		t.Fatalf("config screen not shown:\n%s", m.View())
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("choosing did not quit")
	}

	sel, ok := m.(DeviceListModel).Selection()
	if !ok || sel.DeviceID != 3 || sel.SampleRate != 88200 {
		t.Errorf("selection = %+v, %v; want device 3 at 88200 Hz", sel, ok)
	}
}

func TestDevicePickerUnusualRate(t *testing.T) {
	m := sized(NewDeviceListModel())
	m, _ = m.Update(devicesMsg{[]audio.Device{{ID: 0, Name: "USB", MaxInputChannels: 1, DefaultSampleRate: 32000}}})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	sel, ok := m.(DeviceListModel).Selection()
	if !ok || sel.SampleRate != 32000 {
		t.Errorf("selection = %+v, want the device default 32000 Hz", sel)
	}
}
