// SPDX-License-Identifier: MIT

// Package dispatch queues and paces every outbound color command. It owns all
// pacing constants: minimum spacing per lane, animation step spacing, error
// cooldown, and the soft and hard queue ceilings.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"beatlight/internal/bridge"
	"beatlight/internal/config"
	applog "beatlight/internal/log"
	"beatlight/internal/metrics"
)

// Clear reasons, also used as metric labels.
const (
	ReasonOverflow    = "overflow"
	ReasonRateLimited = "rate_limited"
	ReasonManual      = "manual"
)

var logger = applog.New("Dispatcher")

// Options configures a Dispatcher.
type Options struct {
	MinInterval       time.Duration
	AnimationInterval time.Duration
	ErrorCooldown     time.Duration
	SendTimeout       time.Duration
	SoftCeiling       int
	HardCeiling       int
	RateLimitAfter    int
	Coalesce          bool

	// StreamInterval, when longer than MinInterval, spaces the entertainment lane.
	StreamInterval time.Duration

	// OnResult is called after every delivery attempt, from the lane goroutine.
	OnResult func(Result)
}

// OptionsFrom maps the dispatcher and streaming configuration onto Options.
func OptionsFrom(d config.DispatcherConfig, s config.StreamingConfig) Options {
	opts := Options{
		MinInterval:       d.MinInterval,
		AnimationInterval: d.AnimationInterval,
		ErrorCooldown:     d.ErrorCooldown,
		SendTimeout:       d.SendTimeout,
		SoftCeiling:       d.SoftCeiling,
		HardCeiling:       d.HardCeiling,
		RateLimitAfter:    d.RateLimitAfter,
		Coalesce:          d.Coalesce,
	}
	if s.UpdateRate > 0 {
		opts.StreamInterval = time.Second / time.Duration(s.UpdateRate)
	}
	return opts
}

func (o *Options) applyDefaults() {
	if o.MinInterval <= 0 {
		o.MinInterval = config.DefaultMinInterval
	}
	if o.AnimationInterval <= 0 {
		o.AnimationInterval = config.DefaultAnimationInterval
	}
	if o.ErrorCooldown < 0 {
		o.ErrorCooldown = 0
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = config.DefaultSendTimeout
	}
	if o.SoftCeiling <= 0 {
		o.SoftCeiling = config.DefaultSoftCeiling
	}
	if o.HardCeiling <= o.SoftCeiling {
		o.HardCeiling = max(config.DefaultHardCeiling, o.SoftCeiling+1)
	}
	if o.RateLimitAfter <= 0 {
		o.RateLimitAfter = config.DefaultRateLimitAfter
	}
}

// Dispatcher owns one queue and one drain goroutine per lane.
type Dispatcher struct {
	opts   Options
	lanes  [numLanes]*lane
	seq    atomic.Uint64
	clears atomic.Uint64

	mu      sync.Mutex // Guards cancel and running.
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New builds a dispatcher. A nil sender disables its lane: Enqueue on it fails.
func New(opts Options, entertainment, regular SendFunc) *Dispatcher {
	opts.applyDefaults()
	d := &Dispatcher{opts: opts}

	interval := opts.MinInterval
	d.lanes[LaneEntertainment] = newLane(LaneEntertainment, entertainment, max(interval, opts.StreamInterval))
	d.lanes[LaneRegular] = newLane(LaneRegular, regular, interval)
	return d
}

// Start launches the drain goroutines. Queued commands are delivered from here
// on. Calling Start on a running dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.running = true

	for _, l := range d.lanes {
		if l.send == nil {
			continue
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.drain(ctx, l)
		}()
	}
}

// Stop ends the drain goroutines, waits for any in-flight send and drops
// everything still queued. The dispatcher can be started again.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		d.clearAll("")
		return
	}
	d.cancel()
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	d.clearAll("")
}

// Enqueue appends cmd to its lane and returns the assigned sequence number.
// A lane pushed past the hard ceiling is cleared at once; Enqueue then reports
// bridge.ErrQueueOverflow for telemetry.
func (d *Dispatcher) Enqueue(cmd Command) (uint64, error) {
	if cmd.Lane < 0 || cmd.Lane >= numLanes {
		return 0, fmt.Errorf("enqueue: unknown lane %d", cmd.Lane)
	}
	l := d.lanes[cmd.Lane]
	if l.send == nil {
		return 0, fmt.Errorf("enqueue: lane %s has no transport", cmd.Lane)
	}

	cmd.Seq = d.seq.Add(1)
	if cmd.Enqueued.IsZero() {
		cmd.Enqueued = time.Now()
	}

	l.mu.Lock()
	if d.opts.Coalesce && l.coalesce(cmd) {
		l.mu.Unlock()
		return cmd.Seq, nil
	}
	l.queue = append(l.queue, cmd)
	depth := len(l.queue)
	overflow := depth > d.opts.HardCeiling
	if overflow {
		l.queue = l.queue[:0]
		l.clears++
		depth = 0
	}
	l.mu.Unlock()

	metrics.SetQueueDepth(l.id.String(), depth)
	if overflow {
		d.clears.Add(1)
		metrics.RecordEmergencyClear(l.id.String(), ReasonOverflow)
		logger.Warnf("%s queue exceeded %d commands, cleared", l.id, d.opts.HardCeiling)
		return cmd.Seq, fmt.Errorf("%s lane: %w", l.id, bridge.ErrQueueOverflow)
	}

	l.notify()
	return cmd.Seq, nil
}

// EmergencyClear drops every pending command on every lane.
func (d *Dispatcher) EmergencyClear() {
	d.clearAll(ReasonManual)
}

// Clear drops the pending commands of the given lanes, or of every lane when
// none is named. Unlike EmergencyClear it is not counted in telemetry.
func (d *Dispatcher) Clear(lanes ...Lane) {
	if len(lanes) == 0 {
		d.clearAll("")
		return
	}
	for _, id := range lanes {
		if id >= 0 && id < numLanes {
			d.clearLane(d.lanes[id], "")
		}
	}
}

// NeedsManualClear reports whether any lane is deeper than the soft ceiling.
func (d *Dispatcher) NeedsManualClear() bool {
	for _, l := range d.lanes {
		if l.depth() > d.opts.SoftCeiling {
			return true
		}
	}
	return false
}

// Depth returns the number of commands waiting on a lane.
func (d *Dispatcher) Depth(lane Lane) int {
	if lane < 0 || lane >= numLanes {
		return 0
	}
	return d.lanes[lane].depth()
}

// Stats returns a snapshot of every lane.
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		Lanes:           make(map[Lane]LaneStats, numLanes),
		EmergencyClears: d.clears.Load(),
	}
	for _, l := range d.lanes {
		ls := l.stats()
		s.Lanes[l.id] = ls
		if ls.QueueDepth > d.opts.SoftCeiling {
			s.NeedsManualClear = true
		}
	}
	return s
}

// clearAll empties every lane. An empty reason marks a clear that is part of
// shutdown and is not counted.
func (d *Dispatcher) clearAll(reason string) {
	for _, l := range d.lanes {
		d.clearLane(l, reason)
	}
}

func (d *Dispatcher) clearLane(l *lane, reason string) {
	l.mu.Lock()
	dropped := len(l.queue)
	l.queue = l.queue[:0]
	if reason != "" && dropped > 0 {
		l.clears++
	}
	l.mu.Unlock()

	metrics.SetQueueDepth(l.id.String(), 0)
	if reason == "" || dropped == 0 {
		return
	}
	d.clears.Add(1)
	metrics.RecordEmergencyClear(l.id.String(), reason)
	logger.Warnf("Cleared %d pending %s commands (%s)", dropped, l.id, reason)
}

// drain delivers one command at a time: wait for work, honour any cooldown,
// wait for the pacing token, then pop and send.
func (d *Dispatcher) drain(ctx context.Context, l *lane) {
	for {
		kind, ok := l.peek()
		if !ok {
			select {
			case <-l.wake:
				continue
			case <-ctx.Done():
				return
			}
		}

		if err := sleepUntil(ctx, l.readyAt(kind, d.opts.AnimationInterval)); err != nil {
			return
		}
		if err := l.limiter.Wait(ctx); err != nil {
			return
		}
		cmd, ok := l.pop()
		if !ok {
			continue // cleared while waiting
		}
		d.deliver(ctx, l, cmd)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, l *lane, cmd Command) {
	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	start := time.Now()
	err := l.send(sendCtx, cmd)
	elapsed := time.Since(start)
	cancel()

	res := Result{Command: cmd, Err: err, Duration: elapsed}
	if err == nil {
		l.succeeded(cmd, start)
		metrics.RecordSend(l.id.String(), elapsed.Seconds())
	} else {
		res.Kind = d.failed(l, err)
		metrics.RecordSendError(l.id.String(), res.Kind.String(), elapsed.Seconds())
	}
	metrics.SetQueueDepth(l.id.String(), l.depth())

	if d.opts.OnResult != nil {
		d.opts.OnResult(res)
	}
}

// failed records a send error and applies the cooldown. Repeated failures, or an
// explicit signal from the bridge, are treated as rate limiting; a backed up
// queue is then cleared.
func (d *Dispatcher) failed(l *lane, err error) bridge.Kind {
	kind := bridge.Classify(err)

	l.mu.Lock()
	l.errors++
	l.consecutive++
	if l.consecutive >= d.opts.RateLimitAfter {
		kind = bridge.KindRateLimited
	}
	l.cooldownUntil = time.Now().Add(d.opts.ErrorCooldown)
	depth := len(l.queue)
	consecutive := l.consecutive
	l.mu.Unlock()

	logger.Warnf("%s send failed (%s, %d in a row): %v", l.id, kind, consecutive, err)
	if kind == bridge.KindRateLimited && depth > d.opts.SoftCeiling {
		d.clearLane(l, ReasonRateLimited)
	}
	return kind
}

func sleepUntil(ctx context.Context, t time.Time) error {
	wait := time.Until(t)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lane is one queue with its pacing state.
type lane struct {
	id      Lane
	send    SendFunc
	limiter *rate.Limiter
	wake    chan struct{}

	mu            sync.Mutex
	queue         []Command
	sent          uint64
	errors        uint64
	coalesced     uint64
	clears        uint64
	consecutive   int
	cooldownUntil time.Time
	lastAnimation time.Time
}

func newLane(id Lane, send SendFunc, interval time.Duration) *lane {
	return &lane{
		id:      id,
		send:    send,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		wake:    make(chan struct{}, 1),
	}
}

func (l *lane) notify() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// coalesce replaces a queued plain color at the tail with cmd. Forced commands
// and animation steps are never merged.
func (l *lane) coalesce(cmd Command) bool {
	n := len(l.queue)
	if n == 0 || cmd.Force || cmd.Kind != KindColor {
		return false
	}
	tail := &l.queue[n-1]
	if tail.Force || tail.Kind != KindColor {
		return false
	}
	*tail = cmd
	l.coalesced++
	return true
}

func (l *lane) peek() (Kind, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return 0, false
	}
	return l.queue[0].Kind, true
}

func (l *lane) pop() (Command, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return Command{}, false
	}
	cmd := l.queue[0]
	l.queue = l.queue[1:]
	return cmd, true
}

// readyAt is the earliest time the head command may go out, ignoring the
// ordinary spacing enforced by the limiter.
func (l *lane) readyAt(kind Kind, animationInterval time.Duration) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.cooldownUntil
	if kind == KindAnimationStep && !l.lastAnimation.IsZero() {
		if next := l.lastAnimation.Add(animationInterval); next.After(t) {
			t = next
		}
	}
	return t
}

func (l *lane) succeeded(cmd Command, at time.Time) {
	l.mu.Lock()
	l.sent++
	l.consecutive = 0
	if cmd.Kind == KindAnimationStep {
		l.lastAnimation = at
	}
	l.mu.Unlock()
}

func (l *lane) depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *lane) stats() LaneStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LaneStats{
		Sent:              l.sent,
		Errors:            l.errors,
		QueueDepth:        len(l.queue),
		Coalesced:         l.coalesced,
		EmergencyClears:   l.clears,
		ConsecutiveErrors: l.consecutive,
		CoolingDown:       time.Now().Before(l.cooldownUntil),
	}
}
