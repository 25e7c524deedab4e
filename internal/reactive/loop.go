// SPDX-License-Identifier: MIT

// Package reactive runs the tick loop: once per tick it pulls the spectrum from
// the audio source, extracts features, maps them to a color and hands the color
// to the session. It is the only producer of colors.
package reactive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"beatlight/internal/analysis"
	"beatlight/internal/animation"
	"beatlight/internal/audio"
	"beatlight/internal/color"
	"beatlight/internal/config"
	applog "beatlight/internal/log"
	"beatlight/internal/metrics"
)

var logger = applog.New("Reactive")

// Sink receives the colors. session.Manager implements it.
type Sink interface {
	SendColor(c color.RGB, transition time.Duration, force bool)
	Reset()
}

// Flasher plays the beat flash. animation.Sequencer implements it.
type Flasher interface {
	BeatFlash(ctx context.Context, beat color.RGB) error
}

// Options tunes the loop.
type Options struct {
	Mode            color.Mode
	Sensitivity     float64
	HistorySize     int
	MinBeatInterval time.Duration
	TickRate        int
	FlashOnBeat     bool
}

// OptionsFrom converts the analysis section of the config.
func OptionsFrom(cfg config.AnalysisConfig) (Options, error) {
	mode, err := color.ParseMode(cfg.Mode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Mode:            mode,
		Sensitivity:     cfg.Sensitivity,
		HistorySize:     cfg.HistorySize,
		MinBeatInterval: cfg.MinBeatInterval,
		TickRate:        cfg.TickRate,
		FlashOnBeat:     cfg.FlashOnBeat,
	}, nil
}

// Stats describes the loop's progress.
type Stats struct {
	Ticks uint64            `json:"ticks"`
	Beats uint64            `json:"beats"`
	Mode  string            `json:"mode"`
	Last  analysis.Features `json:"-"`
}

// Loop drives a Sink from an audio.Source.
type Loop struct {
	source  audio.Source
	sink    Sink
	mapper  *color.Mapper
	flasher Flasher

	mu        sync.Mutex // Guards extractor, opts and last; Reset may come from the UI.
	extractor *analysis.Extractor
	opts      Options
	last      analysis.Features

	ticks atomic.Uint64
	beats atomic.Uint64
}

// New creates a loop. mapper may be nil for a time-seeded one.
func New(source audio.Source, sink Sink, opts Options, mapper *color.Mapper) *Loop {
	if opts.HistorySize <= 0 {
		opts.HistorySize = config.DefaultHistorySize
	}
	if opts.MinBeatInterval <= 0 {
		opts.MinBeatInterval = config.DefaultMinBeatInterval
	}
	if opts.TickRate <= 0 {
		opts.TickRate = config.DefaultTickRate
	}
	opts.Sensitivity = clampSensitivity(opts.Sensitivity)
	if mapper == nil {
		mapper = color.NewMapper(nil)
	}
	return &Loop{
		source:    source,
		sink:      sink,
		mapper:    mapper,
		extractor: analysis.NewExtractor(opts.HistorySize, opts.MinBeatInterval),
		opts:      opts,
	}
}

// SetFlasher routes beats through f when FlashOnBeat is set. Call before Run.
func (l *Loop) SetFlasher(f Flasher) {
	l.flasher = f
}

// SetMode switches the visualization mode.
func (l *Loop) SetMode(mode color.Mode) {
	l.mu.Lock()
	l.opts.Mode = mode
	l.mu.Unlock()
}

// SetSensitivity changes the beat sensitivity, clamped to 1..10.
func (l *Loop) SetSensitivity(s float64) {
	l.mu.Lock()
	l.opts.Sensitivity = clampSensitivity(s)
	l.mu.Unlock()
}

// Run ticks at the configured rate until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	rate := l.opts.TickRate
	l.mu.Unlock()

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	logger.Infof("Tick loop running at %d Hz", rate)

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case now := <-ticker.C:
			l.Tick(ctx, now)
		}
	}
}

// Tick runs one iteration at now and returns the extracted features.
func (l *Loop) Tick(ctx context.Context, now time.Time) analysis.Features {
	start := time.Now()
	frame := l.source.CurrentSamples()
	if len(frame) == 0 {
		return analysis.Features{}
	}

	l.mu.Lock()
	opts := l.opts
	f := l.extractor.ExtractAt(frame, analysis.ThresholdForSensitivity(opts.Sensitivity), now)
	l.last = f
	l.mu.Unlock()
	l.ticks.Add(1)

	decision := l.mapper.Map(f, opts.Mode, opts.Sensitivity, f.IsBeat)
	if f.IsBeat {
		l.beats.Add(1)
		metrics.RecordBeat()
		l.beat(ctx, opts, decision)
	} else {
		l.sink.SendColor(decision.Color, decision.Transition, false)
	}

	metrics.RecordTick(time.Since(start).Seconds())
	return f
}

func (l *Loop) beat(ctx context.Context, opts Options, d color.Decision) {
	if opts.FlashOnBeat && l.flasher != nil {
		err := l.flasher.BeatFlash(ctx, d.Color)
		if err == nil {
			return
		}
		if !errors.Is(err, animation.ErrThrottled) {
			logger.Debugf("Beat flash: %v", err)
		}
	}
	l.sink.SendColor(d.Color, d.Transition, true)
}

// Reset clears the beat history, the queued commands and the last color sent,
// without touching the transport.
func (l *Loop) Reset() {
	l.mu.Lock()
	l.extractor.Reset()
	l.last = analysis.Features{}
	l.mu.Unlock()
	l.sink.Reset()
	logger.Infof("Reset")
}

// Stats returns the loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Ticks: l.ticks.Load(),
		Beats: l.beats.Load(),
		Mode:  l.opts.Mode.String(),
		Last:  l.last,
	}
}

func clampSensitivity(s float64) float64 {
	if s == 0 {
		return config.DefaultSensitivity
	}
	return min(max(s, config.MinSensitivity), config.MaxSensitivity)
}

// String is used in log lines.
func (o Options) String() string {
	return fmt.Sprintf("mode=%s sensitivity=%.1f flash=%t", o.Mode, o.Sensitivity, o.FlashOnBeat)
}
