// SPDX-License-Identifier: MIT

// Package hue implements the bridge capability for Hue bridges on top of a
// delegate host: every network operation is a named delegate call served by
// the handlers this package registers.
package hue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"beatlight/internal/bridge"
	"beatlight/internal/config"
	"beatlight/internal/delegate"
	applog "beatlight/internal/log"
	"beatlight/internal/protocol"
	"beatlight/internal/transport/dtls"
	"beatlight/internal/transport/rest"
)

const stopTimeout = 5 * time.Second

var logger = applog.New("Hue")

// DialFunc opens the streaming connection.
type DialFunc func(ctx context.Context, address string, port int, identity string, psk []byte) (dtls.FrameWriter, error)

// Options tunes the adapter. Zero values take the defaults from config.
type Options struct {
	Port            int
	KeepAlive       time.Duration
	DefaultChannels int
	Dial            DialFunc
	REST            []rest.Option
}

// Bridge is a Hue bridge reached through a delegate host.
type Bridge struct {
	host *delegate.Host
	opts Options
	cfg  atomic.Pointer[config.Bridge]

	mu      sync.Mutex
	clients map[string]*rest.Client // by address and application key
	streams map[string]*dtls.Stream // by stream handle
}

var (
	_ bridge.Controller      = (*Bridge)(nil)
	_ bridge.LightController = (*Bridge)(nil)
	_ bridge.Configurable    = (*Bridge)(nil)
)

// New registers the Hue handlers on host and returns the adapter.
func New(host *delegate.Host, cfg config.Bridge, opts Options) *Bridge {
	if opts.Port == 0 {
		opts.Port = config.DefaultStreamingPort
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = config.DefaultKeepAlive
	}
	if opts.DefaultChannels <= 0 {
		opts.DefaultChannels = config.DefaultChannelCount
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, address string, port int, identity string, psk []byte) (dtls.FrameWriter, error) {
			return dtls.Dial(ctx, address, port, identity, psk)
		}
	}

	b := &Bridge{
		host:    host,
		opts:    opts,
		clients: make(map[string]*rest.Client),
		streams: make(map[string]*dtls.Stream),
	}
	b.cfg.Store(&cfg)
	b.register()
	return b
}

// Close closes every open stream.
func (b *Bridge) Close() error {
	b.mu.Lock()
	streams := b.streams
	b.streams = make(map[string]*dtls.Stream)
	b.mu.Unlock()

	var errs []error
	for _, s := range streams {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// SetConfig replaces the configuration used by the light methods.
func (b *Bridge) SetConfig(cfg config.Bridge) {
	b.cfg.Store(&cfg)
}

func (b *Bridge) client(cfg config.Bridge) *rest.Client {
	key := cfg.Address + "|" + cfg.Credentials.ApplicationKey
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients[key]
	if !ok {
		c = rest.New(cfg.Address, cfg.Credentials.ApplicationKey, b.opts.REST...)
		b.clients[key] = c
	}
	return c
}

// --- bridge.Controller ---

func (b *Bridge) Discover(ctx context.Context) ([]bridge.Info, error) {
	return delegate.Await[[]bridge.Info](ctx, b.host.Call(ctx, delegate.OpBridgeDiscover, nil))
}

func (b *Bridge) Register(ctx context.Context, address, deviceType string) (config.Credentials, error) {
	if address == "" {
		return config.Credentials{}, fmt.Errorf("register: empty address: %w", bridge.ErrConfigInvalid)
	}
	return delegate.Await[config.Credentials](ctx, b.host.Call(ctx, delegate.OpBridgeRegister, registerRequest{address, deviceType}))
}

func (b *Bridge) Groups(ctx context.Context, cfg config.Bridge) ([]bridge.Group, error) {
	return delegate.Await[[]bridge.Group](ctx, b.host.Call(ctx, delegate.OpGroupList, cfg))
}

// CreateSession checks the streaming credentials. Nothing goes on the wire
// until Start.
func (b *Bridge) CreateSession(ctx context.Context, cfg config.Bridge) (bridge.Session, error) {
	if !cfg.Valid() {
		return nil, fmt.Errorf("create session: %w", bridge.ErrConfigInvalid)
	}
	if _, ok := cfg.StreamingKey(); !ok {
		return nil, fmt.Errorf("create session: shared secret is not 64 hex characters: %w", bridge.ErrTransportSetupFailed)
	}
	return &session{b: b, cfg: cfg}, nil
}

// --- bridge.LightController ---

func (b *Bridge) Lights(ctx context.Context) ([]bridge.Light, error) {
	return delegate.Await[[]bridge.Light](ctx, b.host.Call(ctx, delegate.OpLightList, *b.cfg.Load()))
}

func (b *Bridge) SetLightState(ctx context.Context, lightID string, state bridge.LightState) error {
	_, err := b.host.Do(ctx, delegate.OpLightSet, lightRequest{*b.cfg.Load(), lightID, state})
	return err
}

// session is one entertainment streaming session.
type session struct {
	b   *Bridge
	cfg config.Bridge

	mu       sync.Mutex
	groupID  string
	handle   string
	channels []uint8
}

func (s *session) Start(ctx context.Context, groupID string) error {
	req := groupRequest{Bridge: s.cfg, GroupID: groupID}

	channels, err := delegate.Await[[]uint8](ctx, s.b.host.Call(ctx, delegate.OpGroupChannels, req))
	if err != nil {
		if errors.Is(err, bridge.ErrConfigInvalid) {
			return err
		}
		logger.Warnf("Could not read channels of %s, using %d: %v", groupID, s.b.opts.DefaultChannels, err)
	}
	if len(channels) == 0 {
		channels = make([]uint8, s.b.opts.DefaultChannels)
		for i := range channels {
			channels[i] = uint8(i)
		}
	}

	if _, err := s.b.host.Do(ctx, delegate.OpEntertainmentStart, req); err != nil {
		return setupError(err)
	}
	handle, err := delegate.Await[string](ctx, s.b.host.Call(ctx, delegate.OpStreamOpen, req))
	if err != nil {
		s.deactivate(groupID)
		return setupError(err)
	}

	s.mu.Lock()
	s.groupID, s.handle, s.channels = groupID, handle, channels
	s.mu.Unlock()
	logger.Infof("Streaming to %s on %d channels", groupID, len(channels))
	return nil
}

func setupError(err error) error {
	if errors.Is(err, bridge.ErrConfigInvalid) || errors.Is(err, bridge.ErrTransportSetupFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", bridge.ErrTransportSetupFailed, err)
}

func (s *session) Channels() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint8(nil), s.channels...)
}

func (s *session) SendColors(ctx context.Context, channels []protocol.Channel) error {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == "" {
		return fmt.Errorf("session not started: %w", bridge.ErrTransportSendFailed)
	}
	// The handler may outlive ctx, so it gets its own copy.
	req := sendRequest{handle, append([]protocol.Channel(nil), channels...)}
	_, err := s.b.host.Do(ctx, delegate.OpStreamSend, req)
	return err
}

func (s *session) Stop() error {
	s.mu.Lock()
	handle, groupID := s.handle, s.groupID
	s.handle = ""
	s.mu.Unlock()
	if handle == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_, err := s.b.host.Do(ctx, delegate.OpStreamClose, handle)
	s.deactivate(groupID)
	return err
}

func (s *session) deactivate(groupID string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if _, err := s.b.host.Do(ctx, delegate.OpEntertainmentStop, groupRequest{s.cfg, groupID}); err != nil {
		logger.Warnf("Stopping entertainment mode: %v", err)
	}
}
