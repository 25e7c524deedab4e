// SPDX-License-Identifier: MIT

// Package session selects between the streaming path and the request path and
// owns the connect, stream and stop lifecycle. A Manager is the single entry
// point for colors: the tick loop and the animation sequencer both go through
// it, and it hands every command to the dispatcher.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"beatlight/internal/bridge"
	"beatlight/internal/color"
	"beatlight/internal/config"
	"beatlight/internal/dispatch"
	applog "beatlight/internal/log"
	"beatlight/internal/metrics"
)

const (
	eventBuffer       = 64
	connectRetryDelay = 250 * time.Millisecond
)

var (
	errNotInitialized = errors.New("session not initialized")
	errNotActive      = errors.New("no active control path")
	errNoSecret       = errors.New("no usable streaming secret")
)

var logger = applog.New("Session")

// Options is the configuration a Manager is initialized with.
type Options struct {
	Bridge     config.Bridge
	Streaming  config.StreamingConfig
	Dispatcher config.DispatcherConfig
}

// OptionsFrom picks the sections a Manager needs out of the loaded config.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Bridge:     cfg.Bridge,
		Streaming:  cfg.Streaming,
		Dispatcher: cfg.Dispatcher,
	}
}

// Manager owns one bridge session. It is safe for concurrent use.
type Manager struct {
	ctrl   bridge.Controller
	lights bridge.LightController

	cfg atomic.Pointer[config.Bridge]

	mu            sync.Mutex
	state         State
	streaming     config.StreamingConfig
	dispatcher    *dispatch.Dispatcher
	session       bridge.Session
	groupID       string
	channels      []uint8
	lastSent      color.RGB
	hasLast       bool
	failures      int
	connectCancel context.CancelFunc
	epoch         uint64 // bumped by Stop; a connect from an older epoch is abandoned
	startedAt     time.Time
	lightIDs      []string

	retryDelay time.Duration
	enqueued   atomic.Uint64
	events     chan Event
	dropped    atomic.Uint64
	background sync.WaitGroup
}

// New creates an idle manager. lights drives the request path; when nil, ctrl
// is used if it implements bridge.LightController.
func New(ctrl bridge.Controller, lights bridge.LightController) *Manager {
	if lights == nil {
		lights, _ = ctrl.(bridge.LightController)
	}
	m := &Manager{
		ctrl:       ctrl,
		lights:     lights,
		retryDelay: connectRetryDelay,
		events:     make(chan Event, eventBuffer),
	}
	m.cfg.Store(&config.Bridge{})
	return m
}

// Events delivers state transitions. Events are dropped when the reader falls
// behind; see DroppedEvents.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// DroppedEvents counts transitions not delivered on Events.
func (m *Manager) DroppedEvents() uint64 {
	return m.dropped.Load()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns the bridge configuration currently in effect.
func (m *Manager) Config() config.Bridge {
	return *m.cfg.Load()
}

// IsUsingStreamingMode reports whether the streaming path is selected: a session
// was created and has not been demoted.
func (m *Manager) IsUsingStreamingMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil && (m.state == Initializing || m.state == Streaming)
}

// Initialize validates the bridge configuration and selects a control path. An
// invalid configuration is the only failure: without a usable secret, or when
// the streaming session cannot be created, the manager falls back to the
// request path and still succeeds. A manager that was already initialized is
// stopped first.
func (m *Manager) Initialize(ctx context.Context, opts Options) error {
	if !opts.Bridge.Valid() {
		return fmt.Errorf("initialize: address and application key are required: %w", bridge.ErrConfigInvalid)
	}
	if m.State() != Idle {
		m.Stop()
	}
	m.UpdateConfig(opts.Bridge)

	d := dispatch.OptionsFrom(opts.Dispatcher, opts.Streaming)
	d.OnResult = m.onResult
	disp := dispatch.New(d, m.sendStreaming, m.sendRegular)
	disp.Start(context.Background())

	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.dispatcher = disp
	m.streaming = opts.Streaming
	m.startedAt = time.Now()
	m.lightIDs = nil
	m.failures = 0
	m.connectCancel = cancel
	epoch := m.epoch
	m.setStateLocked(Initializing, nil)
	m.mu.Unlock()

	if _, ok := opts.Bridge.StreamingKey(); !ok {
		logger.Infof("No streaming secret configured, using the request path")
		m.demote(epoch, nil, errNoSecret)
		return nil
	}

	sess, err := m.createSession(connectCtx, opts.Bridge, max(opts.Streaming.ConnectAttempts, 1))
	if err != nil {
		if connectCtx.Err() != nil && ctx.Err() == nil {
			// Cancelled by Stop.
			return nil
		}
		logger.Warnf("Streaming session unavailable, using the request path: %v", err)
		m.demote(epoch, nil, err)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		go sess.Stop()
		return nil
	}
	m.connectCancel = nil
	m.session = sess
	logger.Infof("Streaming session created")
	return nil
}

func (m *Manager) createSession(ctx context.Context, cfg config.Bridge, attempts int) (bridge.Session, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sess, err := m.ctrl.CreateSession(ctx, cfg)
		if err == nil {
			return sess, nil
		}
		lastErr = err
		logger.Debugf("Create session attempt %d/%d failed: %v", attempt, attempts, err)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("create session: %w: %w", bridge.ErrTransportSetupFailed, ctx.Err())
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(m.retryDelay * time.Duration(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("create session: %w: %w", bridge.ErrTransportSetupFailed, ctx.Err())
		}
	}
	if bridge.Classify(lastErr) == bridge.KindConfigInvalid {
		return nil, lastErr
	}
	return nil, fmt.Errorf("create session after %d attempts: %w: %w", attempts, bridge.ErrTransportSetupFailed, lastErr)
}

// StartStreaming opens the streaming session on groupID, within the connect
// timeout. An empty groupID uses the configured group; a configured group that
// is not a UUID is replaced by the bridge's first entertainment group. A
// timeout or transport error demotes to the request path and returns nil.
// Only configuration problems are returned.
func (m *Manager) StartStreaming(ctx context.Context, groupID string) error {
	m.mu.Lock()
	switch {
	case m.state == Streaming || m.state == FallbackActive:
		m.mu.Unlock()
		return nil
	case m.state != Initializing || m.session == nil:
		m.mu.Unlock()
		return fmt.Errorf("start streaming: %w", errNotInitialized)
	}
	sess, epoch, timeout := m.session, m.epoch, m.streaming.ConnectTimeout
	if timeout <= 0 {
		timeout = config.DefaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	m.connectCancel = cancel
	m.mu.Unlock()
	defer cancel()

	cfg := m.Config()
	id, err := m.resolveGroup(connectCtx, cfg, groupID)
	if err != nil {
		if bridge.Classify(err) == bridge.KindConfigInvalid {
			return err
		}
		m.demote(epoch, sess, fmt.Errorf("start streaming: %w: %w", bridge.ErrTransportSetupFailed, err))
		return nil
	}

	logger.Infof("Starting stream on group %s", id)
	if err := sess.Start(connectCtx, id); err != nil {
		if bridge.Classify(err) == bridge.KindConfigInvalid {
			return fmt.Errorf("start streaming: %w", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no handshake within %s: %w", timeout, err)
		}
		if !errors.Is(err, bridge.ErrTransportSetupFailed) {
			err = fmt.Errorf("%w: %w", bridge.ErrTransportSetupFailed, err)
		}
		m.demote(epoch, sess, fmt.Errorf("start streaming: %w", err))
		return nil
	}

	channels := sess.Channels()
	if len(channels) == 0 {
		channels = defaultChannels(m.streaming.ChannelCount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCancel = nil
	if m.epoch != epoch || m.state != Initializing {
		// Stopped while the handshake completed; Stop may have run before Start
		// returned, so stop again.
		go sess.Stop()
		return nil
	}
	m.groupID = id
	m.channels = channels
	m.failures = 0
	m.setStateLocked(Streaming, nil)
	if cfg.SelectedGroupID != id {
		m.cfg.Store(ptr(cfg.WithGroup(id)))
	}
	return nil
}

func (m *Manager) resolveGroup(ctx context.Context, cfg config.Bridge, groupID string) (string, error) {
	if groupID == "" {
		groupID = cfg.SelectedGroupID
	}
	if uuid.Validate(groupID) == nil {
		return groupID, nil
	}
	if groupID != "" {
		logger.Warnf("Group id %q is not a UUID, using the first entertainment group", groupID)
	}

	groups, err := m.ctrl.Groups(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("list groups: %w", err)
	}
	for _, g := range groups {
		if uuid.Validate(g.ID) == nil {
			return g.ID, nil
		}
	}
	return "", fmt.Errorf("no entertainment group on the bridge: %w", bridge.ErrConfigInvalid)
}

// demote switches to the request path. sess, when not nil, is torn down. It is
// a no-op when the manager was stopped since epoch.
func (m *Manager) demote(epoch uint64, sess bridge.Session, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return
	}
	if sess != nil && sess != m.session {
		m.stopInBackground(sess)
	}
	m.demoteLocked(cause)
}

func (m *Manager) demoteLocked(cause error) {
	if m.state == FallbackActive {
		return
	}
	if m.session != nil {
		m.stopInBackground(m.session)
		m.session = nil
	}
	m.channels = nil
	m.connectCancel = nil
	m.setStateLocked(FallbackActive, cause)

	if m.dispatcher == nil {
		return
	}
	m.dispatcher.Clear(dispatch.LaneEntertainment)
	if m.hasLast {
		// Carry the current color over to the request path.
		m.enqueueLocked(dispatch.Command{Lane: dispatch.LaneRegular, Kind: dispatch.KindColor, Color: m.lastSent, Force: true})
	}
}

func (m *Manager) stopInBackground(sess bridge.Session) {
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		if err := sess.Stop(); err != nil {
			logger.Warnf("Stopping streaming session: %v", err)
		}
	}()
}

// SendColor hands a color to the dispatcher on the active path. It is a no-op
// when c equals the last color sent, unless force is set, and while no path is
// active.
func (m *Manager) SendColor(c color.RGB, transition time.Duration, force bool) {
	c = c.Clamp()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Active() {
		return
	}
	if !force && m.hasLast && m.lastSent == c {
		return
	}
	m.lastSent, m.hasLast = c, true
	m.enqueueLocked(dispatch.Command{Lane: m.laneLocked(), Kind: dispatch.KindColor, Color: c, Transition: transition, Force: force})
}

// EnqueueAnimationStep queues one animation step on the active path. Steps are
// never deduplicated.
func (m *Manager) EnqueueAnimationStep(c color.RGB, transition time.Duration) error {
	c = c.Clamp()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Active() {
		return errNotActive
	}
	m.lastSent, m.hasLast = c, true
	_, err := m.enqueueLocked(dispatch.Command{Lane: m.laneLocked(), Kind: dispatch.KindAnimationStep, Color: c, Transition: transition, Force: true})
	return err
}

func (m *Manager) laneLocked() dispatch.Lane {
	if m.state == Streaming {
		return dispatch.LaneEntertainment
	}
	return dispatch.LaneRegular
}

func (m *Manager) enqueueLocked(cmd dispatch.Command) (uint64, error) {
	m.enqueued.Add(1)
	seq, err := m.dispatcher.Enqueue(cmd)
	if err != nil {
		logger.Debugf("Enqueue %s command: %v", cmd.Lane, err)
	}
	return seq, err
}

// onResult runs on a dispatcher lane after each delivery. Consecutive failures
// on the streaming path demote the session.
func (m *Manager) onResult(res dispatch.Result) {
	if res.Command.Lane != dispatch.LaneEntertainment {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Streaming || m.session == nil {
		return
	}
	if res.Err == nil {
		m.failures = 0
		return
	}
	m.failures++
	limit := max(m.streaming.MaxConsecutiveFailures, 1)
	if m.failures < limit {
		return
	}
	logger.Warnf("%d consecutive streaming failures, switching to the request path", m.failures)
	m.demoteLocked(fmt.Errorf("%d consecutive send failures: %w", m.failures, res.Err))
}

// Stop cancels any connect in progress, drops every queued command, tears down
// the transport and returns to Idle.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.connectCancel != nil {
		m.connectCancel()
		m.connectCancel = nil
	}
	m.epoch++
	sess, disp, prev := m.session, m.dispatcher, m.state
	m.session = nil
	m.channels = nil
	m.lastSent, m.hasLast = color.RGB{}, false
	m.failures = 0
	m.mu.Unlock()

	if disp != nil {
		disp.Stop()
	}
	if sess != nil {
		if err := sess.Stop(); err != nil {
			logger.Warnf("Stopping streaming session: %v", err)
		}
	}
	m.background.Wait()

	if prev == Idle {
		return
	}
	m.mu.Lock()
	m.setStateLocked(Stopped, nil)
	m.setStateLocked(Idle, nil)
	m.mu.Unlock()
	logger.Infof("Session stopped")
}

// Reset drops queued commands and forgets the last color without touching the
// transport.
func (m *Manager) Reset() {
	m.mu.Lock()
	disp := m.dispatcher
	m.lastSent, m.hasLast = color.RGB{}, false
	m.failures = 0
	m.mu.Unlock()

	if disp != nil {
		disp.Clear()
	}
}

// EmergencyClear drops every queued command and counts it in telemetry.
func (m *Manager) EmergencyClear() {
	m.mu.Lock()
	disp := m.dispatcher
	m.mu.Unlock()
	if disp != nil {
		disp.EmergencyClear()
	}
}

// NeedsManualClear reports whether a queue is deep enough to offer a manual clear.
func (m *Manager) NeedsManualClear() bool {
	m.mu.Lock()
	disp := m.dispatcher
	m.mu.Unlock()
	return disp != nil && disp.NeedsManualClear()
}

// UpdateConfig swaps in a new bridge configuration as a whole value. A running
// session keeps its transport; the new values apply to the next request and
// the next connect.
func (m *Manager) UpdateConfig(cfg config.Bridge) {
	m.cfg.Store(&cfg)
	for _, target := range []any{m.ctrl, m.lights} {
		if c, ok := target.(bridge.Configurable); ok {
			c.SetConfig(cfg)
		}
	}
	m.mu.Lock()
	m.lightIDs = nil
	m.mu.Unlock()
}

// SelectGroup makes groupID the configured entertainment group.
func (m *Manager) SelectGroup(groupID string) error {
	if err := uuid.Validate(groupID); err != nil {
		return fmt.Errorf("select group %q: %w", groupID, bridge.ErrConfigInvalid)
	}
	m.UpdateConfig(m.Config().WithGroup(groupID))
	return nil
}

// setStateLocked records a transition and publishes it. m.mu must be held.
func (m *Manager) setStateLocked(to State, cause error) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	metrics.RecordTransition(from.String(), to.String(), to == Streaming)
	if cause != nil {
		logger.Infof("%s -> %s: %v", from, to, cause)
	} else {
		logger.Debugf("%s -> %s", from, to)
	}

	select {
	case m.events <- Event{From: from, To: to, Cause: cause, At: time.Now()}:
	default:
		m.dropped.Add(1)
	}
}

func defaultChannels(n int) []uint8 {
	n = min(max(n, 1), 20)
	ids := make([]uint8, n)
	for i := range ids {
		ids[i] = uint8(i)
	}
	return ids
}

func ptr[T any](v T) *T { return &v }
