// SPDX-License-Identifier: MIT
package session

import (
	"time"

	"beatlight/internal/dispatch"
)

// Stats is the telemetry snapshot offered to the UI and the exporters.
type Stats struct {
	EntertainmentSent   uint64                `json:"entertainment_sent"`
	EntertainmentErrors uint64                `json:"entertainment_errors"`
	RegularSent         uint64                `json:"regular_sent"`
	RegularErrors       uint64                `json:"regular_errors"`
	QueueDepths         map[dispatch.Lane]int `json:"queue_depths"`
	EmergencyClears     uint64                `json:"emergency_clears"`
	Enqueued            uint64                `json:"enqueued"`
	UptimeSeconds       float64               `json:"uptime_seconds"`
	State               State                 `json:"state"`
	Streaming           bool                  `json:"streaming"`
	GroupID             string                `json:"group_id,omitempty"`
	NeedsManualClear    bool                  `json:"needs_manual_clear"`
}

// Stats returns a snapshot of the session and its queues.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	disp, state, started, group := m.dispatcher, m.state, m.startedAt, m.groupID
	m.mu.Unlock()

	s := Stats{
		QueueDepths: make(map[dispatch.Lane]int, 2),
		Enqueued:    m.enqueued.Load(),
		State:       state,
		Streaming:   state == Streaming,
	}
	if state == Streaming {
		s.GroupID = group
	}
	if state != Idle && !started.IsZero() {
		s.UptimeSeconds = time.Since(started).Seconds()
	}
	if disp == nil {
		return s
	}

	ds := disp.Stats()
	ent, reg := ds.Lanes[dispatch.LaneEntertainment], ds.Lanes[dispatch.LaneRegular]
	s.EntertainmentSent, s.EntertainmentErrors = ent.Sent, ent.Errors
	s.RegularSent, s.RegularErrors = reg.Sent, reg.Errors
	for lane, ls := range ds.Lanes {
		s.QueueDepths[lane] = ls.QueueDepth
	}
	s.EmergencyClears = ds.EmergencyClears
	s.NeedsManualClear = ds.NeedsManualClear
	return s
}
