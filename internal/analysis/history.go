// SPDX-License-Identifier: MIT
package analysis

// beatHistory is a fixed-capacity FIFO ring of recent bass energies. It never
// allocates after construction and is owned by a single Extractor.
type beatHistory struct {
	buf   []float64
	head  int // next write position
	count int
}

func newBeatHistory(capacity int) *beatHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &beatHistory{buf: make([]float64, capacity)}
}

// push appends v, evicting the oldest entry once the ring is full.
func (h *beatHistory) push(v float64) {
	h.buf[h.head] = v
	h.head = (h.head + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

func (h *beatHistory) len() int { return h.count }

// baseline returns the mean of the stored energies with the single highest
// value removed, so one spike cannot raise the bar for the next beat.
func (h *beatHistory) baseline() float64 {
	if h.count < 2 {
		if h.count == 1 {
			return h.buf[(h.head-1+len(h.buf))%len(h.buf)]
		}
		return 0
	}
	var sum float64
	peak := h.buf[0]
	for i := 0; i < h.count; i++ {
		v := h.buf[i]
		sum += v
		if v > peak {
			peak = v
		}
	}
	return (sum - peak) / float64(h.count-1)
}

func (h *beatHistory) reset() {
	clear(h.buf)
	h.head = 0
	h.count = 0
}
