// SPDX-License-Identifier: MIT
package color

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"beatlight/internal/analysis"
)

func newTestMapper() *Mapper {
	return NewMapper(rand.New(rand.NewPCG(7, 11)))
}

var loud = analysis.Features{Bass: 200, Mid: 120, Treble: 60, Volume: 130, Peak: 0.1}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"spectrum", Spectrum, false},
		{"Intensity", Intensity, false},
		{" PULSE ", Pulse, false},
		{"", Spectrum, false},
		{"strobe", Spectrum, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
	}
	if Pulse.String() != "pulse" {
		t.Errorf("Pulse.String() = %q", Pulse.String())
	}
}

func TestMap_BetweenBeatIsDim(t *testing.T) {
	m := newTestMapper()
	for _, mode := range []Mode{Spectrum, Intensity, Pulse} {
		t.Run(mode.String(), func(t *testing.T) {
			d := m.Map(loud, mode, 10, false)
			if d.Color.Max() > dimCeil+1e-9 {
				t.Errorf("between-beat color %+v exceeds dim ceiling", d.Color)
			}
			if d.Transition < 300*time.Millisecond || d.Transition > 400*time.Millisecond {
				t.Errorf("transition = %v, want 300-400ms", d.Transition)
			}
		})
	}
}

func TestMap_SpectrumDimRange(t *testing.T) {
	m := newTestMapper()

	silent := m.Map(analysis.Features{}, Spectrum, 5, false).Color
	if silent != (RGB{dimFloor, dimFloor, dimFloor}) {
		t.Errorf("silence = %+v, want floor %v", silent, dimFloor)
	}

	full := m.Map(analysis.Features{Bass: 255, Mid: 255, Treble: 255}, Spectrum, 5, false).Color
	if math.Abs(full.R-dimCeil) > 1e-9 || math.Abs(full.B-dimCeil) > 1e-9 {
		t.Errorf("full scale = %+v, want ceiling %v", full, dimCeil)
	}
}

func TestMap_OnBeatIsBrightAndInstant(t *testing.T) {
	m := newTestMapper()
	for _, mode := range []Mode{Spectrum, Intensity, Pulse} {
		t.Run(mode.String(), func(t *testing.T) {
			d := m.Map(loud, mode, 5, true)
			if d.Transition != 0 {
				t.Errorf("beat transition = %v, want 0", d.Transition)
			}
			if d.Color != d.Color.Clamp() {
				t.Errorf("beat color %+v not clamped", d.Color)
			}
			between := m.Map(loud, mode, 5, false)
			if d.Color.Max() <= between.Color.Max() {
				t.Errorf("beat %+v not brighter than baseline %+v", d.Color, between.Color)
			}
		})
	}
}

func TestMap_JitterBounded(t *testing.T) {
	m := newTestMapper()
	f := analysis.Features{Bass: 100, Mid: 50, Treble: 20}
	// Spectrum beat before jitter: bands * (5/5) / 255 * 1.5.
	base := RGB{100.0 / 255, 50.0 / 255, 20.0 / 255}.Scale(beatBoost).Clamp()

	for range 200 {
		c := m.Map(f, Spectrum, 5, true).Color
		for _, d := range []float64{c.R - base.R, c.G - base.G, c.B - base.B} {
			if d < -1e-9 || d > beatJitter+1e-9 {
				t.Fatalf("jitter %v outside [0, %v] (color %+v)", d, beatJitter, c)
			}
		}
	}
}

func TestMap_PulseNeutralWhenQuiet(t *testing.T) {
	m := newTestMapper()
	d := m.Map(analysis.Features{Bass: 20, Mid: 10, Treble: 5}, Pulse, 5, false)
	if d.Color.R != d.Color.G || d.Color.G != d.Color.B {
		t.Errorf("quiet pulse color %+v should be neutral", d.Color)
	}
}

func TestMap_PulseHueFollowsPeak(t *testing.T) {
	m := NewMapper(rand.New(rand.NewPCG(1, 1)))
	low := m.Map(analysis.Features{Peak: 0}, Pulse, 5, true).Color
	if low.R < low.G || low.R < low.B {
		t.Errorf("low peak should flash red-ish, got %+v", low)
	}
}

func TestMap_PulseBeatIsSaturatedHue(t *testing.T) {
	m := newTestMapper()
	// Peak 0 maps to hue 0: pure red before jitter.
	f := analysis.Features{Bass: 200, Mid: 40, Treble: 10, Peak: 0}
	for range 50 {
		c := m.Map(f, Pulse, 5, true).Color
		if c.R != 1 || c.G > beatJitter+1e-9 || c.B > beatJitter+1e-9 {
			t.Fatalf("pulse beat = %+v, want saturated red plus jitter", c)
		}
	}
}
