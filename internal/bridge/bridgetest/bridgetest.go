// SPDX-License-Identifier: MIT

// Package bridgetest provides an in-memory bridge for tests. It records every
// frame and light command and can be told to fail or stall.
package bridgetest

import (
	"context"
	"fmt"
	"sync"

	"beatlight/internal/bridge"
	"beatlight/internal/config"
	"beatlight/internal/protocol"
)

// Bridge implements bridge.Controller and bridge.LightController.
type Bridge struct {
	mu sync.Mutex

	found      []bridge.Info
	creds      config.Credentials
	groups     []bridge.Group
	lights     []bridge.Light
	channels   []uint8
	createErr   error
	blockCreate bool
	startErr    error
	blockStart  bool
	sendErr    error
	failSends  int
	setErr     error

	creates int
	starts  int
	stops   int
	frames  [][]protocol.Channel
	states  map[string][]bridge.LightState
}

var (
	_ bridge.Controller      = (*Bridge)(nil)
	_ bridge.LightController = (*Bridge)(nil)
)

// New returns a bridge with one group of two channels and two lights.
func New() *Bridge {
	return &Bridge{
		found:    []bridge.Info{{ID: "001788fffe000001", Address: "192.0.2.10"}},
		creds:    config.Credentials{ApplicationKey: "test-app-key", SharedSecret: "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"},
		groups:   []bridge.Group{{ID: "1a8d99cc-967b-44f2-9202-43f976c0fa6b", Name: "Living room", Status: "inactive", Channels: []uint8{0, 1}}},
		lights:   []bridge.Light{{ID: "light-1", Name: "Lamp"}, {ID: "light-2", Name: "Strip"}},
		channels: []uint8{0, 1},
		states:   make(map[string][]bridge.LightState),
	}
}

// FailCreate makes CreateSession return err.
func (b *Bridge) FailCreate(err error) {
	b.mu.Lock()
	b.createErr = err
	b.mu.Unlock()
}

// BlockCreate makes CreateSession wait until its context is done.
func (b *Bridge) BlockCreate() {
	b.mu.Lock()
	b.blockCreate = true
	b.mu.Unlock()
}

// FailStart makes Session.Start return err.
func (b *Bridge) FailStart(err error) {
	b.mu.Lock()
	b.startErr = err
	b.mu.Unlock()
}

// BlockStart makes Session.Start wait until its context is done.
func (b *Bridge) BlockStart() {
	b.mu.Lock()
	b.blockStart = true
	b.mu.Unlock()
}

// FailSends makes the next n SendColors calls return err. n < 0 fails forever.
func (b *Bridge) FailSends(n int, err error) {
	b.mu.Lock()
	b.failSends = n
	b.sendErr = err
	b.mu.Unlock()
}

// FailSetLightState makes SetLightState return err until cleared with nil.
func (b *Bridge) FailSetLightState(err error) {
	b.mu.Lock()
	b.setErr = err
	b.mu.Unlock()
}

// Frames returns a copy of every channel list sent over streaming sessions.
func (b *Bridge) Frames() [][]protocol.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]protocol.Channel, len(b.frames))
	copy(out, b.frames)
	return out
}

// States returns the commands sent to one light.
func (b *Bridge) States(lightID string) []bridge.LightState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bridge.LightState(nil), b.states[lightID]...)
}

// Calls reports how often sessions were created, started and stopped.
func (b *Bridge) Calls() (creates, starts, stops int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates, b.starts, b.stops
}

func (b *Bridge) Discover(ctx context.Context) ([]bridge.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bridge.Info(nil), b.found...), nil
}

func (b *Bridge) Register(ctx context.Context, address, deviceType string) (config.Credentials, error) {
	if address == "" {
		return config.Credentials{}, fmt.Errorf("register: %w", bridge.ErrConfigInvalid)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creds, nil
}

func (b *Bridge) Groups(ctx context.Context, cfg config.Bridge) ([]bridge.Group, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bridge.Group(nil), b.groups...), nil
}

func (b *Bridge) CreateSession(ctx context.Context, cfg config.Bridge) (bridge.Session, error) {
	b.mu.Lock()
	b.creates++
	block, err := b.blockCreate, b.createErr
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &session{b: b}, nil
}

func (b *Bridge) Lights(ctx context.Context) ([]bridge.Light, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bridge.Light(nil), b.lights...), nil
}

func (b *Bridge) SetLightState(ctx context.Context, lightID string, state bridge.LightState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.setErr != nil {
		return b.setErr
	}
	b.states[lightID] = append(b.states[lightID], state)
	return nil
}

type session struct {
	b       *Bridge
	started bool
}

func (s *session) Start(ctx context.Context, groupID string) error {
	s.b.mu.Lock()
	s.b.starts++
	block, err := s.b.blockStart, s.b.startErr
	s.b.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	s.started = true
	return nil
}

func (s *session) Channels() []uint8 {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return append([]uint8(nil), s.b.channels...)
}

func (s *session) SendColors(ctx context.Context, channels []protocol.Channel) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.b.failSends != 0 {
		if s.b.failSends > 0 {
			s.b.failSends--
		}
		return s.b.sendErr
	}
	s.b.frames = append(s.b.frames, append([]protocol.Channel(nil), channels...))
	return nil
}

func (s *session) Stop() error {
	s.b.mu.Lock()
	s.b.stops++
	s.b.mu.Unlock()
	return nil
}
