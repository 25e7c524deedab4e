// SPDX-License-Identifier: MIT
/*
Package audio captures sound and turns it into per-tick spectra:
- Lock-free audio capture using PortAudio
- WAV file playback at real time for rehearsal without a microphone
- Noise gate with branchless implementation
- WAV recording of the analyzer input, replayable through OpenFile

Thread Safety:
- Uses atomic operations for state management
- Pre-allocates buffers to avoid GC in hot path
- Locks OS thread during audio processing
*/
package audio

import (
	"runtime"
	"sync/atomic"
	"time"

	"beatlight/internal/analysis"
	"beatlight/internal/config"
	"beatlight/internal/log"

	"github.com/gordonklaus/portaudio"
)

// Engine captures a live input device and feeds the spectrum analyzer.
type Engine struct {
	// Core configuration.
	cfg config.AudioConfig

	// Audio input handling.
	inputBuffer  []int32
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream

	// Spectrum analysis for the tick loop.
	analyzer  *analysis.SpectrumAnalyzer
	monoInput []int32 // First channel of the captured block
	silence   []int32 // Fed to the analyzer while the gate is closed

	gate *Gate

	// Set while recording; swapped atomically so the callback never blocks on Start/Stop.
	recording atomic.Pointer[recorder]
}

var _ Source = (*Engine)(nil)

// NewEngine resolves the configured input device and prepares buffers. PortAudio
// must already be initialized.
func NewEngine(cfg *config.Config) (*Engine, error) {
	inputDevice, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	engine.inputDevice = inputDevice
	if cfg.Audio.LowLatency {
		engine.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		engine.inputLatency = inputDevice.DefaultHighInputLatency
	}

	log.Infof("Audio: Using input device %q (%.0f Hz, %d frames/buffer)",
		inputDevice.Name, cfg.Audio.SampleRate, cfg.Audio.FramesPerBuffer)
	return engine, nil
}

// newEngine builds everything except the device binding.
func newEngine(cfg *config.Config) (*Engine, error) {
	analyzer, err := newAnalyzer(cfg, cfg.Audio.SampleRate)
	if err != nil {
		return nil, err
	}

	frames := cfg.Audio.FramesPerBuffer
	return &Engine{
		cfg:         cfg.Audio,
		inputBuffer: make([]int32, frames*cfg.Audio.InputChannels),
		analyzer:    analyzer,
		monoInput:   make([]int32, frames),
		silence:     make([]int32, frames),
		gate:        NewGate(cfg.Audio.GateThreshold),
	}, nil
}

// Gate exposes the engine's noise gate.
func (e *Engine) Gate() *Gate { return e.gate }

// CurrentSamples returns the latest spectrum.
func (e *Engine) CurrentSamples() analysis.FrequencyFrame {
	return e.analyzer.Frame()
}

func (e *Engine) StartInputStream() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.cfg.InputChannels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: e.cfg.FramesPerBuffer,
		SampleRate:      e.cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return err
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		return err
	}

	return nil
}

func (e *Engine) StopInputStream() error {
	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}

		if err := e.inputStream.Close(); err != nil {
			return err
		}

		e.inputStream = nil
	}

	return nil
}

// processInputStream is the core audio processing callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (e *Engine) processInputStream(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	copy(e.inputBuffer, in)
	e.processBuffer(e.inputBuffer)
}

// processBuffer extracts the first channel, applies the gate and updates the
// spectrum. The block the analyzer saw is recorded when a recording runs. No
// allocations.
func (e *Engine) processBuffer(buffer []int32) {
	channels := e.cfg.InputChannels
	mono := buffer
	if channels > 1 {
		for i := range e.monoInput {
			if i*channels < len(buffer) {
				e.monoInput[i] = buffer[i*channels]
			} else {
				e.monoInput[i] = 0
			}
		}
		mono = e.monoInput
	}

	analyzed := mono
	if !e.gate.Open(mono) {
		analyzed = e.silence[:len(mono)]
	}
	e.analyzer.Process(analyzed)

	if r := e.recording.Load(); r != nil {
		if err := r.write(analyzed); err != nil {
			log.Errorf("Audio: Error writing to WAV file: %v", err)
		}
	}
}
