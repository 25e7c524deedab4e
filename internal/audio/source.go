// SPDX-License-Identifier: MIT
package audio

import (
	"beatlight/internal/analysis"
	"beatlight/internal/config"
)

// Source supplies the spectrum for the current tick. The tick loop pulls from it;
// capture runs on its own schedule behind it.
type Source interface {
	CurrentSamples() analysis.FrequencyFrame
}

// newAnalyzer builds the spectrum analyzer described by the analysis section.
func newAnalyzer(cfg *config.Config, sampleRate float64) (*analysis.SpectrumAnalyzer, error) {
	windowType, err := analysis.ParseWindowFunc(cfg.Analysis.FFTWindow)
	if err != nil {
		return nil, err
	}
	return analysis.NewSpectrumAnalyzer(cfg.Analysis.FFTSize, sampleRate, windowType, cfg.Analysis.Smoothing)
}
