// SPDX-License-Identifier: MIT
package audio

import (
	"testing"

	"beatlight/pkg/signal"
)

func interleave(mono []int32, channels int) []int32 {
	out := make([]int32, len(mono)*channels)
	for i, v := range mono {
		out[i*channels] = v // other channels stay silent
	}
	return out
}

func TestProcessBuffer_UsesFirstChannel(t *testing.T) {
	engine := newTestEngine(t) // two channels
	engine.processBuffer(interleave(scaled(testBuffer, 0.002), 2)) // above the default gate, below byte saturation

	frame := engine.CurrentSamples()
	if len(frame) != 512 {
		t.Fatalf("frame length = %d, want 512", len(frame))
	}
	binHz := float64(testSampleRate) / 1024
	want := int(440 / binHz) // bin 10
	if got := signal.FindPeakBin(frame, 0, len(frame)-1); got < want-1 || got > want+1 {
		t.Errorf("peak bin = %d, want about %d", got, want)
	}
}

func TestProcessBuffer_GateClosedYieldsSilence(t *testing.T) {
	engine, err := newEngine(testConfig(1))
	if err != nil {
		t.Fatal(err)
	}
	engine.Gate().SetThreshold(0.5)
	engine.processBuffer(quietBuffer)

	for i, v := range engine.CurrentSamples() {
		if v != 0 {
			t.Fatalf("bin %d = %d with the gate closed", i, v)
		}
	}

	engine.Gate().Disable()
	engine.processBuffer(quietBuffer)
	frame := engine.CurrentSamples()
	if frame[signal.FindPeakBin(frame, 0, len(frame)-1)] == 0 {
		t.Error("open gate produced an empty spectrum")
	}
}

func TestProcessBufferHotPath(t *testing.T) {
	engine := newTestEngine(t)
	input := interleave(testBuffer, 2)
	engine.processBuffer(input)
	allocs := testing.AllocsPerRun(100, func() {
		engine.processBuffer(input)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in processBuffer, got %.1f", allocs)
	}
}

func BenchmarkHotPath(b *testing.B) {
	engine := newTestEngine(b)
	input := interleave(testBuffer, 2)
	b.ReportAllocs()
	for b.Loop() {
		engine.processBuffer(input)
	}
}
