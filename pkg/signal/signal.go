// SPDX-License-Identifier: MIT

// Package signal generates deterministic PCM buffers and byte spectra for
// exercising the analysis pipeline without an audio device.
package signal

import (
	"cmp"
	"math"
)

// GenerateComplexWave returns a 440Hz fundamental with two harmonics.
func GenerateComplexWave(size int, sampleRate float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2 // 440Hz fundamental + harmonics
		buffer[i] = int32(signal * math.MaxInt32 * 0.9)
	}
	return buffer
}

// GenerateSineWave returns a pure tone at 90% of full scale.
func GenerateSineWave(size int, sampleRate, frequency float64) []int32 {
	buffer := make([]int32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int32(math.Sin(2*math.Pi*frequency*t) * math.MaxInt32 * 0.9)
	}
	return buffer
}

// FlatSpectrum returns a byte spectrum with every bin at level.
func FlatSpectrum(bins int, level uint8) []uint8 {
	out := make([]uint8, bins)
	for i := range out {
		out[i] = level
	}
	return out
}

// BassSpectrum returns a spectrum whose lowest 20% of bins sit at bass and the
// rest at rest. Beat detectors only look at the bottom of the spectrum, so this
// is the shape used to script bass energy.
func BassSpectrum(bins int, bass, rest uint8) []uint8 {
	out := FlatSpectrum(bins, rest)
	lows := max(bins/5, 1)
	for i := 0; i < lows && i < bins; i++ {
		out[i] = bass
	}
	return out
}

// FindPeakBin returns the index of the largest value within [startBin, endBin].
func FindPeakBin[T cmp.Ordered](values []T, startBin, endBin int) int {
	if len(values) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(values) {
		endBin = len(values) - 1
	}

	peakBin := startBin
	peakValue := values[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if values[bin] > peakValue {
			peakValue = values[bin]
			peakBin = bin
		}
	}

	return peakBin
}
