// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"beatlight/internal/analysis"
	"beatlight/internal/config"
	"beatlight/internal/log"

	"github.com/go-audio/wav"
)

// FileSource plays a WAV file through the analyzer at real-time speed so the
// lighting pipeline can be rehearsed without a capture device.
type FileSource struct {
	samples    []int32 // first channel, scaled to the int32 range
	sampleRate float64
	block      int
	loop       bool

	mu       sync.Mutex
	pos      int
	analyzer *analysis.SpectrumAnalyzer
	gate     *Gate
}

var _ Source = (*FileSource)(nil)

// OpenFile decodes the whole file up front. Only the first channel is analysed.
func OpenFile(path string, cfg *config.Config, loop bool) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if channels < 1 || bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("unsupported WAV layout: %d channels, %d bits", channels, bitDepth)
	}

	shift := uint(32 - bitDepth)
	samples := make([]int32, len(buf.Data)/channels)
	for i := range samples {
		samples[i] = int32(buf.Data[i*channels]) << shift
	}

	sampleRate := float64(dec.SampleRate)
	analyzer, err := newAnalyzer(cfg, sampleRate)
	if err != nil {
		return nil, err
	}

	log.Infof("Audio: Loaded %s (%.1fs, %.0f Hz, %d-bit, %d ch)",
		path, float64(len(samples))/sampleRate, sampleRate, bitDepth, channels)

	return &FileSource{
		samples:    samples,
		sampleRate: sampleRate,
		block:      cfg.Audio.FramesPerBuffer,
		loop:       loop,
		analyzer:   analyzer,
		gate:       NewGate(cfg.Audio.GateThreshold),
	}, nil
}

// CurrentSamples returns the spectrum of the most recently played block.
func (s *FileSource) CurrentSamples() analysis.FrequencyFrame {
	return s.analyzer.Frame()
}

// Duration is the playing time of the decoded file.
func (s *FileSource) Duration() time.Duration {
	return time.Duration(float64(len(s.samples)) / s.sampleRate * float64(time.Second))
}

// Step feeds the next block to the analyzer. It reports false once the end
// of a non-looping file has been reached.
func (s *FileSource) Step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.samples) {
		if !s.loop || len(s.samples) == 0 {
			return false
		}
		s.pos = 0
	}
	end := min(s.pos+s.block, len(s.samples))
	block := s.samples[s.pos:end]
	s.pos = end

	if s.gate.Open(block) {
		s.analyzer.Process(block)
	} else {
		s.analyzer.Process(make([]int32, len(block)))
	}
	return true
}

// Run plays the file at its native rate until the end, or until ctx is done.
func (s *FileSource) Run(ctx context.Context) error {
	interval := time.Duration(float64(s.block) / s.sampleRate * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if !s.Step() {
				log.Infof("Audio: End of input file")
				return nil
			}
		}
	}
}
