// SPDX-License-Identifier: MIT

// Package animation builds short multi-step light effects: a flash on a beat and
// a hue cycle. Steps go through the dispatcher's animation spacing, and the
// sequencer caps how often a whole sequence may start.
package animation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"beatlight/internal/color"
	"beatlight/internal/config"
	applog "beatlight/internal/log"
)

const (
	MaxSteps             = 5
	MinCycleSteps        = 2
	DefaultStepDelay     = 500 * time.Millisecond
	DefaultSequenceEvery = 300 * time.Millisecond

	flashBoost   = 1.5
	dimFactor    = 0.3
	dimFloor     = 0.1
	testCycleLen = 3
)

// ErrThrottled is returned when a sequence is requested sooner than the
// sequence rate allows.
var ErrThrottled = errors.New("animation sequence throttled")

var logger = applog.New("Animation")

// Stepper accepts one animation step. The session implements it by enqueueing
// on the active lane.
type Stepper interface {
	EnqueueAnimationStep(c color.RGB, transition time.Duration) error
}

// Options configures a Sequencer.
type Options struct {
	// StepDelay separates the steps of a sequence. It is raised to
	// MinStepDelay when shorter.
	StepDelay    time.Duration
	MinStepDelay time.Duration
	// SequenceEvery is the minimum time between two sequence starts.
	SequenceEvery time.Duration
}

// Sequencer runs animations against a Stepper. Only one sequence runs at a time.
type Sequencer struct {
	target    Stepper
	limiter   *rate.Limiter
	stepDelay time.Duration

	running sync.Mutex
}

// New creates a sequencer.
func New(target Stepper, opts Options) *Sequencer {
	if opts.StepDelay <= 0 {
		opts.StepDelay = DefaultStepDelay
	}
	if opts.MinStepDelay <= 0 {
		opts.MinStepDelay = config.DefaultAnimationInterval
	}
	if opts.SequenceEvery <= 0 {
		opts.SequenceEvery = DefaultSequenceEvery
	}
	return &Sequencer{
		target:    target,
		limiter:   rate.NewLimiter(rate.Every(opts.SequenceEvery), 1),
		stepDelay: max(opts.StepDelay, opts.MinStepDelay),
	}
}

// StepDelay returns the effective delay between steps.
func (s *Sequencer) StepDelay() time.Duration {
	return s.stepDelay
}

// BeatFlash sends beat, an already boosted beat color, as one step with no
// transition. It never blocks: a flash requested too soon after the previous
// sequence returns ErrThrottled.
func (s *Sequencer) BeatFlash(ctx context.Context, beat color.RGB) error {
	if !s.limiter.Allow() {
		return ErrThrottled
	}
	if !s.running.TryLock() {
		return ErrThrottled
	}
	defer s.running.Unlock()
	return s.step(ctx, beat, 0)
}

// ColorCycle steps through evenly hue-spaced colors, StepDelay apart. The step
// count is clamped to MinCycleSteps..MaxSteps. It waits for the sequence rate.
func (s *Sequencer) ColorCycle(ctx context.Context, steps int) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.running.Lock()
	defer s.running.Unlock()
	return s.run(ctx, CycleColors(steps))
}

// FlashSequence plays bright, dim, bright on base.
func (s *Sequencer) FlashSequence(ctx context.Context, base color.RGB) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.running.Lock()
	defer s.running.Unlock()
	return s.run(ctx, flashSteps(base))
}

// TestFlash plays a flash sequence followed by a short color cycle, to check
// that the lights respond.
func (s *Sequencer) TestFlash(ctx context.Context, base color.RGB) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	s.running.Lock()
	defer s.running.Unlock()

	logger.Infof("Running test flash")
	if err := s.run(ctx, flashSteps(base)); err != nil {
		return err
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.run(ctx, CycleColors(testCycleLen))
}

func (s *Sequencer) run(ctx context.Context, steps []color.RGB) error {
	for i, c := range steps {
		if i > 0 {
			if err := s.wait(ctx); err != nil {
				return err
			}
		}
		if err := s.step(ctx, c, 0); err != nil {
			return fmt.Errorf("step %d of %d: %w", i+1, len(steps), err)
		}
	}
	return nil
}

func (s *Sequencer) step(ctx context.Context, c color.RGB, transition time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.target.EnqueueAnimationStep(c, transition)
}

func (s *Sequencer) wait(ctx context.Context) error {
	timer := time.NewTimer(s.stepDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Boost scales base by 1.5 and clamps. Black flashes white.
func Boost(base color.RGB) color.RGB {
	base = base.Clamp()
	if base.Max() == 0 {
		return color.White
	}
	return base.Scale(flashBoost).Clamp()
}

// CycleColors returns steps fully saturated colors evenly spaced around the hue
// circle, starting at red.
func CycleColors(steps int) []color.RGB {
	steps = min(max(steps, MinCycleSteps), MaxSteps)
	out := make([]color.RGB, steps)
	for i := range out {
		out[i] = color.FromHSV(float64(i)*360/float64(steps), 1, 1)
	}
	return out
}

func flashSteps(base color.RGB) []color.RGB {
	bright := Boost(base)
	base = base.Clamp()
	dim := color.RGB{
		R: math.Max(dimFloor, base.R*dimFactor),
		G: math.Max(dimFloor, base.G*dimFactor),
		B: math.Max(dimFloor, base.B*dimFactor),
	}
	return []color.RGB{bright, dim, bright}
}
