// SPDX-License-Identifier: MIT
package dispatch

// LaneStats is the telemetry of one lane.
type LaneStats struct {
	Sent              uint64 `json:"sent"`
	Errors            uint64 `json:"errors"`
	QueueDepth        int    `json:"queue_depth"`
	Coalesced         uint64 `json:"coalesced"`
	EmergencyClears   uint64 `json:"emergency_clears"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	CoolingDown       bool   `json:"cooling_down"`
}

// Stats is a point-in-time snapshot of the dispatcher.
type Stats struct {
	Lanes            map[Lane]LaneStats `json:"lanes"`
	EmergencyClears  uint64             `json:"emergency_clears"`
	NeedsManualClear bool               `json:"needs_manual_clear"`
}

// TotalDepth sums the queue depth over every lane.
func (s Stats) TotalDepth() int {
	n := 0
	for _, ls := range s.Lanes {
		n += ls.QueueDepth
	}
	return n
}
