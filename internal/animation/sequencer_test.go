// SPDX-License-Identifier: MIT
package animation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beatlight/internal/color"
)

type step struct {
	c          color.RGB
	transition time.Duration
	at         time.Time
}

type recordingStepper struct {
	mu    sync.Mutex
	steps []step
	err   error
}

func (r *recordingStepper) EnqueueAnimationStep(c color.RGB, transition time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.steps = append(r.steps, step{c, transition, time.Now()})
	return nil
}

func (r *recordingStepper) recorded() []step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]step(nil), r.steps...)
}

func fastOptions() Options {
	return Options{StepDelay: 20 * time.Millisecond, MinStepDelay: 10 * time.Millisecond, SequenceEvery: 50 * time.Millisecond}
}

func TestBoost(t *testing.T) {
	tests := []struct {
		name string
		in   color.RGB
		want color.RGB
	}{
		{"scaled", color.RGB{R: 0.4, G: 0.2}, color.RGB{R: 0.6000000000000001, G: 0.30000000000000004}},
		{"clamped", color.RGB{R: 0.9, B: 0.1}, color.RGB{R: 1, B: 0.15000000000000002}},
		{"black flashes white", color.Black, color.White},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Boost(tt.in); got != tt.want {
				t.Errorf("Boost(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCycleColors(t *testing.T) {
	tests := []struct {
		steps int
		want  int
	}{
		{0, 2},
		{2, 2},
		{4, 4},
		{5, 5},
		{12, 5},
	}
	for _, tt := range tests {
		got := CycleColors(tt.steps)
		if len(got) != tt.want {
			t.Errorf("CycleColors(%d) has %d steps, want %d", tt.steps, len(got), tt.want)
		}
	}

	three := CycleColors(3)
	wantHues := []float64{0, 120, 240}
	for i, c := range three {
		if h := c.Hue(); h < wantHues[i]-0.5 || h > wantHues[i]+0.5 {
			t.Errorf("step %d hue = %.1f, want %.0f", i, h, wantHues[i])
		}
		if c.Max() != 1 {
			t.Errorf("step %d not fully bright: %v", i, c)
		}
	}
}

func TestBeatFlash(t *testing.T) {
	r := &recordingStepper{}
	s := New(r, fastOptions())

	if err := s.BeatFlash(context.Background(), color.RGB{R: 0.5}); err != nil {
		t.Fatal(err)
	}
	steps := r.recorded()
	if len(steps) != 1 || steps[0].transition != 0 || steps[0].c.R != 0.5 {
		t.Fatalf("steps = %+v", steps)
	}

	if err := s.BeatFlash(context.Background(), color.RGB{R: 0.5}); !errors.Is(err, ErrThrottled) {
		t.Errorf("second flash error = %v, want ErrThrottled", err)
	}
	time.Sleep(60 * time.Millisecond)
	if err := s.BeatFlash(context.Background(), color.RGB{R: 0.5}); err != nil {
		t.Errorf("flash after the sequence interval: %v", err)
	}
}

func TestColorCycleSpacing(t *testing.T) {
	r := &recordingStepper{}
	s := New(r, fastOptions())

	if err := s.ColorCycle(context.Background(), 4); err != nil {
		t.Fatal(err)
	}
	steps := r.recorded()
	if len(steps) != 4 {
		t.Fatalf("got %d steps, want 4", len(steps))
	}
	for i := 1; i < len(steps); i++ {
		if gap := steps[i].at.Sub(steps[i-1].at); gap < 19*time.Millisecond {
			t.Errorf("gap %d = %v, want >= 20ms", i, gap)
		}
	}
}

func TestStepDelayNeverBelowMinimum(t *testing.T) {
	s := New(&recordingStepper{}, Options{StepDelay: 50 * time.Millisecond, MinStepDelay: 200 * time.Millisecond})
	if got := s.StepDelay(); got != 200*time.Millisecond {
		t.Errorf("StepDelay() = %v, want 200ms", got)
	}
}

func TestSequenceRateLimited(t *testing.T) {
	r := &recordingStepper{}
	s := New(r, Options{StepDelay: time.Millisecond, MinStepDelay: time.Millisecond, SequenceEvery: 80 * time.Millisecond})

	start := time.Now()
	for range 2 {
		if err := s.ColorCycle(context.Background(), 2); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 75*time.Millisecond {
		t.Errorf("two sequences took %v, want >= 80ms apart", elapsed)
	}
}

func TestCycleCancelled(t *testing.T) {
	r := &recordingStepper{}
	s := New(r, Options{StepDelay: time.Second, SequenceEvery: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.ColorCycle(ctx, 5)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if n := len(r.recorded()); n != 1 {
		t.Errorf("%d steps sent before cancel, want 1", n)
	}
}

func TestStepErrorStopsSequence(t *testing.T) {
	boom := errors.New("not active")
	r := &recordingStepper{err: boom}
	s := New(r, fastOptions())

	if err := s.FlashSequence(context.Background(), color.White); !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped %v", err, boom)
	}
}

func TestTestFlash(t *testing.T) {
	r := &recordingStepper{}
	s := New(r, fastOptions())

	if err := s.TestFlash(context.Background(), color.RGB{R: 1}); err != nil {
		t.Fatal(err)
	}
	steps := r.recorded()
	if len(steps) != 6 {
		t.Fatalf("got %d steps, want flash (3) + cycle (3)", len(steps))
	}
	if steps[0].c != steps[2].c || steps[1].c.Max() >= steps[0].c.Max() {
		t.Errorf("flash steps = %v %v %v, want bright dim bright", steps[0].c, steps[1].c, steps[2].c)
	}
}
