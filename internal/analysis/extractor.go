// SPDX-License-Identifier: MIT
package analysis

import (
	"time"
)

// FrequencyFrame is one tick's spectrum: a byte-range magnitude per bin, lowest
// frequency first. Frames are not modified after they are produced.
type FrequencyFrame []uint8

// Features are the per-tick values derived from a FrequencyFrame. Band values
// are mean bin magnitudes in the frame's 0-255 range.
type Features struct {
	Bass   float64
	Mid    float64
	Treble float64
	Volume float64 // mean of every bin
	Peak   float64 // position of the loudest bin, 0 (lowest) to 1 (highest)
	Energy float64 // bass-focused energy used for beat detection
	IsBeat bool
}

const (
	bassBandEnd     = 0.10 // bins [0,10%) are bass
	midBandEnd      = 0.50 // bins [10%,50%) are mid, the rest treble
	beatBandShare   = 0.15 // beat energy uses the lowest 15% of bins...
	beatBandMaxBins = 20   // ...but never more than 20 of them
	minBeatSamples  = 5    // history needed before any beat is reported
	beatEnergyFloor = 30.0 // absolute floor that suppresses beats in near silence
)

// ThresholdForSensitivity maps a 1-10 sensitivity to the beat ratio threshold.
// Higher sensitivity lowers the bar. Extract treats anything below 1 as 1, so
// a flat history never yields a beat.
func ThresholdForSensitivity(sensitivity float64) float64 {
	return 1.25 - sensitivity/10
}

// Extractor turns FrequencyFrames into Features. It carries beat history and the
// refractory timer between calls, so one instance must live for a whole audio
// session. It is not safe for concurrent use.
type Extractor struct {
	history         *beatHistory
	minBeatInterval time.Duration
	lastBeat        time.Time
}

// NewExtractor creates an Extractor with the given history capacity and minimum
// spacing between accepted beats.
func NewExtractor(historySize int, minBeatInterval time.Duration) *Extractor {
	return &Extractor{
		history:         newBeatHistory(historySize),
		minBeatInterval: minBeatInterval,
	}
}

// Extract derives features from frame using the wall clock.
func (e *Extractor) Extract(frame FrequencyFrame, threshold float64) Features {
	return e.ExtractAt(frame, threshold, time.Now())
}

// ExtractAt derives features from frame as if observed at now.
func (e *Extractor) ExtractAt(frame FrequencyFrame, threshold float64, now time.Time) Features {
	n := len(frame)
	if n == 0 {
		return Features{}
	}

	bassEnd := clampIndex(int(float64(n)*bassBandEnd), 1, n)
	midEnd := clampIndex(int(float64(n)*midBandEnd), bassEnd, n)

	f := Features{
		Bass:   mean(frame[:bassEnd]),
		Mid:    mean(frame[bassEnd:midEnd]),
		Treble: mean(frame[midEnd:]),
		Volume: mean(frame),
	}

	peakIdx := 0
	for i, v := range frame {
		if v > frame[peakIdx] {
			peakIdx = i
		}
	}
	if n > 1 {
		f.Peak = float64(peakIdx) / float64(n-1)
	}

	beatBins := clampIndex(int(float64(n)*beatBandShare), 1, beatBandMaxBins)
	beatBins = min(beatBins, n)
	f.Energy = mean(frame[:beatBins])
	f.IsBeat = e.detectBeat(f.Energy, threshold, now)
	return f
}

func (e *Extractor) detectBeat(energy, threshold float64, now time.Time) bool {
	// Refractory period: nothing is recorded while it runs.
	if !e.lastBeat.IsZero() && now.Sub(e.lastBeat) < e.minBeatInterval {
		return false
	}

	e.history.push(energy)
	if e.history.len() < minBeatSamples {
		return false
	}

	// Thresholds below 1 count as 1: a steady level is never a beat.
	if energy > e.history.baseline()*max(threshold, 1) && energy > beatEnergyFloor {
		e.lastBeat = now
		return true
	}
	return false
}

// Reset clears beat history and the refractory timer.
func (e *Extractor) Reset() {
	e.history.reset()
	e.lastBeat = time.Time{}
}

func mean(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, v := range bins {
		sum += int(v)
	}
	return float64(sum) / float64(len(bins))
}

func clampIndex(v, lo, hi int) int {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}
