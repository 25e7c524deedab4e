// SPDX-License-Identifier: MIT
package color

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"beatlight/internal/analysis"
)

// Mode selects how features become a color.
type Mode int

const (
	Spectrum  Mode = iota // bass, mid, treble drive red, green, blue
	Intensity             // overall volume drives a warm-to-cool hue
	Pulse                 // the loudest bin picks the hue
)

func (m Mode) String() string {
	switch m {
	case Spectrum:
		return "spectrum"
	case Intensity:
		return "intensity"
	case Pulse:
		return "pulse"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a mode name (case-insensitive).
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "spectrum", "":
		return Spectrum, nil
	case "intensity":
		return Intensity, nil
	case "pulse":
		return Pulse, nil
	}
	return Spectrum, fmt.Errorf("unknown color mode %q", name)
}

// Decision is a color together with the fade the lights should use to reach it.
type Decision struct {
	Color      RGB
	Transition time.Duration
}

const (
	beatBoost  = 1.5
	beatJitter = 0.2

	dimFloor = 0.02
	dimCeil  = 0.2

	spectrumFade  = 300 * time.Millisecond
	intensityFade = 400 * time.Millisecond
	pulseFade     = 350 * time.Millisecond

	pulseNeutralLevel = 30.0 // below this scaled band level pulse mode stays grey
)

// Mapper turns features into color decisions. Beats get a boosted, jittered
// color with an instant transition. Between beats the same computation lands in
// a dim range with a slow fade, so flashes stand out against the baseline.
type Mapper struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewMapper returns a Mapper drawing jitter from rng, or from a time-seeded
// source when rng is nil.
func NewMapper(rng *rand.Rand) *Mapper {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Mapper{rng: rng}
}

// Map computes the color for one tick. sensitivity is the same 1-10 scale the
// beat threshold uses and scales band levels around 5.
func (m *Mapper) Map(f analysis.Features, mode Mode, sensitivity float64, isBeat bool) Decision {
	gain := sensitivity / 5
	bass := level(f.Bass, gain)
	mid := level(f.Mid, gain)
	treble := level(f.Treble, gain)

	switch mode {
	case Intensity:
		vol := level(f.Volume, gain)
		hue := 30 + vol*230 // warm when quiet, cool when loud
		if isBeat {
			return m.beat(FromHSV(hue, 1, 1))
		}
		return Decision{Color: FromHSV(hue, 0.3+0.7*vol, dim(vol)), Transition: intensityFade}

	case Pulse:
		if isBeat {
			return m.beat(FromHSV(f.Peak*330, 1, 1))
		}
		base := max(f.Bass, f.Mid, f.Treble) * sensitivity / 10
		brightness := dim(min(base/255, 1))
		if base < pulseNeutralLevel {
			return Decision{Color: RGB{brightness, brightness, brightness}, Transition: pulseFade}
		}
		hue := 40.0 // bass-heavy: amber
		if f.Mid > f.Bass {
			hue = 240 // mid-heavy: blue
		}
		return Decision{Color: FromHSV(hue, 0.6, brightness), Transition: pulseFade}

	default:
		if isBeat {
			return m.beat(RGB{bass, mid, treble})
		}
		return Decision{Color: RGB{dim(bass), dim(mid), dim(treble)}, Transition: spectrumFade}
	}
}

// beat boosts c toward saturation and adds per-channel jitter.
func (m *Mapper) beat(c RGB) Decision {
	c = c.Scale(beatBoost).Clamp()

	m.mu.Lock()
	c.R += m.rng.Float64() * beatJitter
	c.G += m.rng.Float64() * beatJitter
	c.B += m.rng.Float64() * beatJitter
	m.mu.Unlock()

	return Decision{Color: c.Clamp(), Transition: 0}
}

// level normalizes a 0-255 band value and applies gain.
func level(v, gain float64) float64 {
	return clamp01(v / 255 * gain)
}

// dim remaps [0,1] into the between-beat output range.
func dim(v float64) float64 {
	return dimFloor + clamp01(v)*(dimCeil-dimFloor)
}
