// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	"beatlight/internal/log"
	"beatlight/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

// Byte mapping range. Magnitudes at or below minDecibels map to 0, at or above
// maxDecibels to 255.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Pre-allocated buffers for FFT calculations.
type spectrumWorkspace struct {
	samples   []float64    // Sliding window of the latest fftSize normalized samples.
	input     []float64    // Buffer for windowed input signal (float64).
	fftOutput []complex128 // Buffer for FFT complex results.
	smoothed  []float64    // Temporally smoothed linear magnitudes.
	frame     FrequencyFrame
	window    []float64 // Pre-calculated window coefficients.
	mu        sync.RWMutex
}

// SpectrumAnalyzer turns blocks of PCM samples into FrequencyFrames. Process is
// called from the capture side and Frame from the tick loop, so the workspace is
// lock protected.
type SpectrumAnalyzer struct {
	fftCalculator *fourier.FFT
	fftSize       int
	sampleRate    float64
	smoothing     float64
	workspace     spectrumWorkspace
}

// Compile-time checks for interface implementations.
var _ AudioProcessor = (*SpectrumAnalyzer)(nil)
var _ FrameProvider = (*SpectrumAnalyzer)(nil)

// NewSpectrumAnalyzer creates an analyzer producing fftSize/2 bins per frame.
func NewSpectrumAnalyzer(fftSize int, sampleRate float64, windowType WindowFunc, smoothing float64) (*SpectrumAnalyzer, error) {
	if bitint.Log2(fftSize) < 5 {
		return nil, fmt.Errorf("fft size must be a power of 2 >= 32, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}
	if smoothing < 0 || smoothing >= 1 {
		return nil, fmt.Errorf("smoothing must be within [0,1), got %f", smoothing)
	}

	windowCoeffs := make([]float64, fftSize)
	applyWindow(windowCoeffs, windowType)

	log.Debugf("Analysis: Initializing SpectrumAnalyzer (Size: %d, SampleRate: %.1f Hz, Window: %v)",
		fftSize, sampleRate, windowType)

	bins := fftSize / 2
	return &SpectrumAnalyzer{
		fftCalculator: fourier.NewFFT(fftSize),
		fftSize:       fftSize,
		sampleRate:    sampleRate,
		smoothing:     smoothing,
		workspace: spectrumWorkspace{
			samples:   make([]float64, fftSize),
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, fftSize/2+1),
			smoothed:  make([]float64, bins),
			frame:     make(FrequencyFrame, bins),
			window:    windowCoeffs,
		},
	}, nil
}

// Process appends inputBuffer to the sliding sample window, then windows the
// most recent fftSize samples, runs the FFT and updates the current frame.
// Capture blocks shorter than the FFT size therefore overlap between frames.
func (p *SpectrumAnalyzer) Process(inputBuffer []int32) {
	p.workspace.mu.Lock()
	defer p.workspace.mu.Unlock()

	const normFactor = 1.0 / float64(0x80000000) // int32 -> [-1.0, 1.0)
	if len(inputBuffer) > p.fftSize {
		inputBuffer = inputBuffer[len(inputBuffer)-p.fftSize:]
	}
	samples := p.workspace.samples
	keep := p.fftSize - len(inputBuffer)
	copy(samples, samples[len(inputBuffer):])
	for i, v := range inputBuffer {
		samples[keep+i] = float64(v) * normFactor
	}
	for i, v := range samples {
		p.workspace.input[i] = v * p.workspace.window[i]
	}

	p.fftCalculator.Coefficients(p.workspace.fftOutput, p.workspace.input)

	scale := 1.0 / float64(p.fftSize)
	k := p.smoothing
	for i := range p.workspace.smoothed {
		mag := cmplx.Abs(p.workspace.fftOutput[i]) * scale
		sm := k*p.workspace.smoothed[i] + (1-k)*mag
		p.workspace.smoothed[i] = sm
		p.workspace.frame[i] = toByte(sm)
	}
}

// toByte maps a linear magnitude onto the 0-255 decibel scale.
func toByte(mag float64) uint8 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// Frame returns a copy of the latest frame.
func (p *SpectrumAnalyzer) Frame() FrequencyFrame {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	out := make(FrequencyFrame, len(p.workspace.frame))
	copy(out, p.workspace.frame)
	return out
}

// FrameInto copies the latest frame into dest, which must hold Bins() values.
func (p *SpectrumAnalyzer) FrameInto(dest FrequencyFrame) error {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	if len(dest) != len(p.workspace.frame) {
		return fmt.Errorf("destination length %d does not match frame length %d", len(dest), len(p.workspace.frame))
	}
	copy(dest, p.workspace.frame)
	return nil
}

// Reset forgets smoothing state, for example after switching input.
func (p *SpectrumAnalyzer) Reset() {
	p.workspace.mu.Lock()
	clear(p.workspace.samples)
	clear(p.workspace.smoothed)
	clear(p.workspace.frame)
	p.workspace.mu.Unlock()
}

// Bins returns the number of bins per frame.
func (p *SpectrumAnalyzer) Bins() int { return p.fftSize / 2 }

// FrequencyForBin returns the center frequency (Hz) for a bin index.
func (p *SpectrumAnalyzer) FrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= p.Bins() {
		return 0.0
	}
	return float64(binIndex) * (p.sampleRate / float64(p.fftSize))
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window, Hann when the type is unknown.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// gonum windows scale the slice in place.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		log.Warnf("Analysis: Unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}
