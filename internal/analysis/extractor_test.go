// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"beatlight/pkg/signal"
)

const testBins = 128

func bassFrame(level uint8) FrequencyFrame {
	return FrequencyFrame(signal.BassSpectrum(testBins, level, 5))
}

func TestExtract_BandSplit(t *testing.T) {
	frame := make(FrequencyFrame, 100)
	for i := range frame {
		switch {
		case i < 10:
			frame[i] = 200
		case i < 50:
			frame[i] = 100
		default:
			frame[i] = 50
		}
	}
	frame[70] = 60 // peak stays in the bass region

	e := NewExtractor(20, 300*time.Millisecond)
	f := e.Extract(frame, 1.0)

	if f.Bass != 200 || f.Mid != 100 {
		t.Errorf("bass/mid = %v/%v, want 200/100", f.Bass, f.Mid)
	}
	if f.Treble != 50.2 {
		t.Errorf("treble = %v, want 50.2", f.Treble)
	}
	if f.Peak != 0 {
		t.Errorf("peak = %v, want 0", f.Peak)
	}
	if math.Abs(f.Energy-2500.0/15) > 1e-9 {
		t.Errorf("energy = %v", f.Energy)
	}
}

func TestExtract_EmptyFrame(t *testing.T) {
	e := NewExtractor(20, 300*time.Millisecond)
	if f := e.Extract(nil, 1.0); f != (Features{}) {
		t.Errorf("Extract(nil) = %+v, want zero features", f)
	}
}

func TestExtract_BeatOnlyOnSpike(t *testing.T) {
	e := NewExtractor(20, 300*time.Millisecond)
	threshold := ThresholdForSensitivity(5)
	start := time.Unix(1000, 0)

	for i := range 20 {
		level := uint8(10)
		if i == 19 {
			level = 200
		}
		f := e.ExtractAt(bassFrame(level), threshold, start.Add(time.Duration(i)*50*time.Millisecond))
		if i < 19 && f.IsBeat {
			t.Fatalf("beat reported on flat frame %d", i)
		}
		if i == 19 && !f.IsBeat {
			t.Fatalf("no beat on spike frame (energy %.1f)", f.Energy)
		}
	}
}

func TestExtract_NeedsFiveSamples(t *testing.T) {
	e := NewExtractor(20, 300*time.Millisecond)
	now := time.Unix(0, 0)
	for i := range 4 {
		if e.ExtractAt(bassFrame(250), 0.1, now.Add(time.Duration(i)*time.Second)).IsBeat {
			t.Fatalf("beat reported with only %d samples", i+1)
		}
	}
}

func TestExtract_RefractoryPeriod(t *testing.T) {
	e := NewExtractor(20, 300*time.Millisecond)
	threshold := ThresholdForSensitivity(5)
	now := time.Unix(0, 0)

	for range 5 {
		e.ExtractAt(bassFrame(10), threshold, now)
		now = now.Add(50 * time.Millisecond)
	}
	if !e.ExtractAt(bassFrame(200), threshold, now).IsBeat {
		t.Fatal("expected beat")
	}
	if e.ExtractAt(bassFrame(255), threshold, now.Add(100*time.Millisecond)).IsBeat {
		t.Error("beat reported inside refractory period")
	}
	if !e.ExtractAt(bassFrame(255), threshold, now.Add(350*time.Millisecond)).IsBeat {
		t.Error("expected beat after refractory period")
	}
}

func TestExtract_NeverTwiceWithinInterval(t *testing.T) {
	const interval = 300 * time.Millisecond
	e := NewExtractor(20, interval)
	rng := rand.New(rand.NewPCG(1, 2))
	now := time.Unix(0, 0)

	var last time.Time
	for range 2000 {
		level := uint8(rng.IntN(256))
		if rng.IntN(4) == 0 {
			level = 255
		}
		if e.ExtractAt(bassFrame(level), 0.5, now).IsBeat {
			if !last.IsZero() && now.Sub(last) < interval {
				t.Fatalf("beats %v apart", now.Sub(last))
			}
			last = now
		}
		now = now.Add(time.Duration(5+rng.IntN(30)) * time.Millisecond)
	}
	if last.IsZero() {
		t.Fatal("no beats at all; test is not exercising detection")
	}
}

func TestExtract_FlatHistoryNeverBeats(t *testing.T) {
	tests := []struct {
		name        string
		level       uint8
		sensitivity float64
	}{
		{"loud, ratio threshold", 180, 2.5},
		{"loud, strict threshold", 120, 1},
		{"quiet, below floor", 25, 10},
		{"quiet, default sensitivity", 10, 5},
		{"loud, default sensitivity", 100, 5},
		{"loud, max sensitivity", 200, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor(20, 300*time.Millisecond)
			now := time.Unix(0, 0)
			threshold := ThresholdForSensitivity(tt.sensitivity)
			for i := range 60 {
				if e.ExtractAt(bassFrame(tt.level), threshold, now).IsBeat {
					t.Fatalf("beat on flat frame %d", i)
				}
				now = now.Add(16 * time.Millisecond)
			}
		})
	}
}

func TestExtract_Reset(t *testing.T) {
	e := NewExtractor(20, 300*time.Millisecond)
	now := time.Unix(0, 0)
	for range 5 {
		e.ExtractAt(bassFrame(10), 0.75, now)
		now = now.Add(50 * time.Millisecond)
	}
	if !e.ExtractAt(bassFrame(200), 0.75, now).IsBeat {
		t.Fatal("expected beat")
	}

	e.Reset()
	if e.history.len() != 0 || !e.lastBeat.IsZero() {
		t.Fatalf("state survived Reset: len=%d lastBeat=%v", e.history.len(), e.lastBeat)
	}
	// History must refill before the next beat can be reported.
	if e.ExtractAt(bassFrame(200), 0.75, now.Add(10*time.Millisecond)).IsBeat {
		t.Error("beat reported on empty history after Reset")
	}
}

func TestThresholdForSensitivity(t *testing.T) {
	tests := []struct{ s, want float64 }{
		{1, 1.15}, {5, 0.75}, {10, 0.25},
	}
	for _, tt := range tests {
		if got := ThresholdForSensitivity(tt.s); got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("ThresholdForSensitivity(%v) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestBeatHistory(t *testing.T) {
	h := newBeatHistory(3)
	for _, v := range []float64{1, 2, 3, 100} {
		h.push(v)
	}
	// Oldest (1) was evicted; 100 is excluded as the single highest value.
	if h.len() != 3 {
		t.Fatalf("len = %d, want 3", h.len())
	}
	if got := h.baseline(); got != 2.5 {
		t.Errorf("baseline = %v, want 2.5", got)
	}
	h.reset()
	if h.len() != 0 || h.baseline() != 0 {
		t.Error("reset left data behind")
	}
}

func TestExtractHotPathZeroAllocs(t *testing.T) {
	e := NewExtractor(20, 300*time.Millisecond)
	frame := bassFrame(80)
	now := time.Unix(0, 0)
	allocs := testing.AllocsPerRun(100, func() {
		now = now.Add(10 * time.Millisecond)
		_ = e.ExtractAt(frame, 0.75, now)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Extract hot path, got %.1f", allocs)
	}
}

func BenchmarkExtract(b *testing.B) {
	e := NewExtractor(20, 300*time.Millisecond)
	frame := FrequencyFrame(signal.BassSpectrum(1024, 120, 30))
	now := time.Unix(0, 0)
	for b.Loop() {
		now = now.Add(16 * time.Millisecond)
		e.ExtractAt(frame, 0.75, now)
	}
}
