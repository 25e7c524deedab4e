// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// Gate is a peak noise gate. Blocks whose absolute peak does not exceed the
// threshold are treated as silence. Settings are atomic so the UI can change
// them while the capture callback runs.
type Gate struct {
	enabled   atomic.Bool
	threshold atomic.Int32 // Absolute amplitude threshold (0-2147483647)
}

// NewGate returns an enabled gate at the given threshold (0.0-1.0 of full scale).
func NewGate(threshold float64) *Gate {
	g := &Gate{}
	g.enabled.Store(true)
	g.SetThreshold(threshold)
	return g
}

func (g *Gate) Enable() {
	g.enabled.Store(true)
}

func (g *Gate) Disable() {
	g.enabled.Store(false)
}

func (g *Gate) Enabled() bool {
	return g.enabled.Load()
}

// SetThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(threshold float64) {
	if threshold < 0.0 {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}

	g.threshold.Store(int32(threshold * float64(math.MaxInt32)))
}

// Threshold returns the current noise gate threshold as a float64.
func (g *Gate) Threshold() float64 {
	return float64(g.threshold.Load()) / float64(math.MaxInt32)
}

// Open reports whether buffer passes the gate. A disabled gate is always open.
func (g *Gate) Open(buffer []int32) bool {
	if !g.enabled.Load() {
		return true
	}
	return peakAmplitude(buffer) > g.threshold.Load()
}

// peakAmplitude returns max |sample| without branching in the loop body.
func peakAmplitude(buffer []int32) int32 {
	var maxAmplitude int32
	for _, sample := range buffer {
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		diff := amplitude - maxAmplitude
		maxAmplitude += (diff & (diff >> 31)) ^ diff
	}
	return maxAmplitude
}
