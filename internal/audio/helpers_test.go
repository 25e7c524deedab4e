// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"strconv"

	"beatlight/internal/config"
	"beatlight/pkg/signal"
)

const (
	testSampleRate = 44100
	testFrameSize  = 1024
)

var (
	maxInt32      = float64(math.MaxInt32)
	lowThreshold  = int32(0.001 * maxInt32)
	highThreshold = int32(0.9 * maxInt32)

	testBuffer  = signal.GenerateSineWave(testFrameSize, testSampleRate, 440)
	quietBuffer = scaled(testBuffer, 0.0005)
	loudBuffer  = scaled(testBuffer, 1.0)
)

func scaled(in []int32, gain float64) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(float64(v) * gain)
	}
	return out
}

func testConfig(channels int) *config.Config {
	cfg := config.Default()
	cfg.Audio.SampleRate = testSampleRate
	cfg.Audio.InputChannels = channels
	cfg.Audio.FramesPerBuffer = testFrameSize
	cfg.Analysis.FFTSize = 1024
	cfg.Analysis.Smoothing = 0
	return &cfg
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func absFloat(v float64) float64 {
	return math.Abs(v)
}

// absInt32 returns the absolute value of x.
func absInt32(x int32) int32 {
	mask := x >> 31
	return (x ^ mask) - mask
}
