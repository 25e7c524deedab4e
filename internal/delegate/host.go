// SPDX-License-Identifier: MIT

// Package delegate runs named bridge operations on behalf of the engine. Each
// call gets an operation id and a Future; progress, errors and completions are
// also published as Events to every subscriber.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	applog "beatlight/internal/log"
)

// Operation names used by the bridge adapter.
const (
	OpEntertainmentStart = "entertainment.start"
	OpEntertainmentStop  = "entertainment.stop"
	OpStreamOpen         = "stream.open"
	OpStreamSend         = "stream.send"
	OpStreamClose        = "stream.close"
	OpLightList          = "light.list"
	OpLightSet           = "light.set"
	OpBridgeDiscover     = "bridge.discover"
	OpBridgeRegister     = "bridge.register"
	OpGroupList          = "group.list"
	OpGroupChannels      = "group.channels"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrHostClosed       = errors.New("delegate host closed")
)

var logger = applog.New("Delegate")

// EventKind tells what happened to an operation.
type EventKind int

const (
	EventProgress EventKind = iota
	EventError
	EventComplete
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Event reports on one operation.
type Event struct {
	OpID    string
	Op      string
	Kind    EventKind
	Message string
	Err     error
	At      time.Time
}

// Call is what a handler sees of the operation it serves.
type Call struct {
	ID      string
	Op      string
	Payload any
	host    *Host
}

// Progress publishes a progress event for the call.
func (c *Call) Progress(format string, v ...any) {
	c.host.publish(Event{OpID: c.ID, Op: c.Op, Kind: EventProgress, Message: fmt.Sprintf(format, v...), At: time.Now()})
}

// Handler serves one named operation.
type Handler func(ctx context.Context, call *Call) (any, error)

// Host dispatches operations to registered handlers.
type Host struct {
	handlersMu sync.RWMutex
	handlers   map[string]Handler

	// In-flight operations: op id -> future.
	pendingMu sync.Mutex
	pending   map[string]*Future

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}

	closeMu sync.RWMutex // Orders wg.Add in Call against Close.
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewHost returns a host with no handlers.
func NewHost() *Host {
	return &Host{
		handlers:  make(map[string]Handler),
		pending:   make(map[string]*Future),
		listeners: make(map[chan Event]struct{}),
	}
}

// Handle registers fn for op, replacing any previous handler.
func (h *Host) Handle(op string, fn Handler) {
	h.handlersMu.Lock()
	h.handlers[op] = fn
	h.handlersMu.Unlock()
}

// Call starts op with payload and returns immediately. The handler runs on its
// own goroutine under ctx.
func (h *Host) Call(ctx context.Context, op string, payload any) *Future {
	f := newFuture(uuid.NewString(), op)

	h.closeMu.RLock()
	defer h.closeMu.RUnlock()
	if h.closed {
		f.resolve(nil, ErrHostClosed)
		return f
	}

	h.handlersMu.RLock()
	fn, ok := h.handlers[op]
	h.handlersMu.RUnlock()
	if !ok {
		err := fmt.Errorf("%s: %w", op, ErrUnknownOperation)
		h.publish(Event{OpID: f.id, Op: op, Kind: EventError, Err: err, At: time.Now()})
		f.resolve(nil, err)
		return f
	}

	h.pendingMu.Lock()
	h.pending[f.id] = f
	h.pendingMu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		result, err := fn(ctx, &Call{ID: f.id, Op: op, Payload: payload, host: h})

		h.pendingMu.Lock()
		delete(h.pending, f.id)
		h.pendingMu.Unlock()

		if err != nil {
			h.publish(Event{OpID: f.id, Op: op, Kind: EventError, Err: err, At: time.Now()})
		} else {
			h.publish(Event{OpID: f.id, Op: op, Kind: EventComplete, At: time.Now()})
		}
		f.resolve(result, err)
	}()
	return f
}

// Do calls op and waits for it.
func (h *Host) Do(ctx context.Context, op string, payload any) (any, error) {
	return h.Call(ctx, op, payload).Wait(ctx)
}

// Pending returns the number of operations still running.
func (h *Host) Pending() int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return len(h.pending)
}

// Subscribe returns a channel of events and a cancel function. Events are
// dropped for a subscriber whose buffer is full.
func (h *Host) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	h.listenerMu.Lock()
	h.listeners[ch] = struct{}{}
	h.listenerMu.Unlock()

	cancel := func() {
		h.listenerMu.Lock()
		if _, ok := h.listeners[ch]; ok {
			delete(h.listeners, ch)
			close(ch)
		}
		h.listenerMu.Unlock()
	}
	return ch, cancel
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Host) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Host) publish(evt Event) {
	if evt.Kind == EventError {
		logger.Debugf("%s %s failed: %v", evt.Op, shortID(evt.OpID), evt.Err)
	}
	h.listenerMu.RLock()
	defer h.listenerMu.RUnlock()
	for ch := range h.listeners {
		select {
		case ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Close rejects new calls, waits for running handlers and closes every
// subscriber channel.
func (h *Host) Close() {
	h.closeMu.Lock()
	if h.closed {
		h.closeMu.Unlock()
		return
	}
	h.closed = true
	h.closeMu.Unlock()
	h.wg.Wait()

	h.listenerMu.Lock()
	for ch := range h.listeners {
		delete(h.listeners, ch)
		close(ch)
	}
	h.listenerMu.Unlock()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
