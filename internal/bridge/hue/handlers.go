// SPDX-License-Identifier: MIT
package hue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"beatlight/internal/bridge"
	"beatlight/internal/config"
	"beatlight/internal/delegate"
	"beatlight/internal/protocol"
	"beatlight/internal/transport/dtls"
	"beatlight/internal/transport/rest"
)

// Payloads carried by delegate calls.

type groupRequest struct {
	Bridge  config.Bridge
	GroupID string
}

type sendRequest struct {
	Handle   string
	Channels []protocol.Channel
}

type lightRequest struct {
	Bridge  config.Bridge
	LightID string
	State   bridge.LightState
}

type registerRequest struct {
	Address    string
	DeviceType string
}

func payload[T any](call *delegate.Call) (T, error) {
	v, ok := call.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: payload is %T, want %T: %w", call.Op, call.Payload, zero, bridge.ErrConfigInvalid)
	}
	return v, nil
}

func (b *Bridge) register() {
	h := b.host
	h.Handle(delegate.OpBridgeDiscover, b.handleDiscover)
	h.Handle(delegate.OpBridgeRegister, b.handleRegister)
	h.Handle(delegate.OpGroupList, b.handleGroupList)
	h.Handle(delegate.OpGroupChannels, b.handleGroupChannels)
	h.Handle(delegate.OpEntertainmentStart, b.handleEntertainment("start"))
	h.Handle(delegate.OpEntertainmentStop, b.handleEntertainment("stop"))
	h.Handle(delegate.OpStreamOpen, b.handleStreamOpen)
	h.Handle(delegate.OpStreamSend, b.handleStreamSend)
	h.Handle(delegate.OpStreamClose, b.handleStreamClose)
	h.Handle(delegate.OpLightList, b.handleLightList)
	h.Handle(delegate.OpLightSet, b.handleLightSet)
}

func (b *Bridge) handleDiscover(ctx context.Context, call *delegate.Call) (any, error) {
	call.Progress("querying %s", rest.DiscoveryURL)
	return rest.Discover(ctx, b.opts.REST...)
}

func (b *Bridge) handleRegister(ctx context.Context, call *delegate.Call) (any, error) {
	req, err := payload[registerRequest](call)
	if err != nil {
		return nil, err
	}
	return rest.New(req.Address, "", b.opts.REST...).Register(ctx, req.DeviceType)
}

func (b *Bridge) handleGroupList(ctx context.Context, call *delegate.Call) (any, error) {
	cfg, err := payload[config.Bridge](call)
	if err != nil {
		return nil, err
	}
	return b.client(cfg).Groups(ctx)
}

func (b *Bridge) handleGroupChannels(ctx context.Context, call *delegate.Call) (any, error) {
	req, err := payload[groupRequest](call)
	if err != nil {
		return nil, err
	}
	g, err := b.client(req.Bridge).Group(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	return g.Channels, nil
}

func (b *Bridge) handleEntertainment(action string) delegate.Handler {
	return func(ctx context.Context, call *delegate.Call) (any, error) {
		req, err := payload[groupRequest](call)
		if err != nil {
			return nil, err
		}
		c := b.client(req.Bridge)
		if action == "start" {
			return nil, c.StartEntertainment(ctx, req.GroupID)
		}
		return nil, c.StopEntertainment(ctx, req.GroupID)
	}
}

func (b *Bridge) handleStreamOpen(ctx context.Context, call *delegate.Call) (any, error) {
	req, err := payload[groupRequest](call)
	if err != nil {
		return nil, err
	}
	psk, ok := req.Bridge.StreamingKey()
	if !ok {
		return nil, fmt.Errorf("stream open: malformed shared secret: %w", bridge.ErrTransportSetupFailed)
	}

	call.Progress("handshaking with %s:%d", req.Bridge.Address, b.opts.Port)
	w, err := b.opts.Dial(ctx, req.Bridge.Address, b.opts.Port, req.Bridge.Credentials.ApplicationKey, psk)
	if err != nil {
		return nil, err
	}
	stream, err := dtls.NewStream(w, req.GroupID, b.opts.KeepAlive)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("%w: %w", bridge.ErrTransportSetupFailed, err)
	}
	if err := ctx.Err(); err != nil {
		// The caller stopped waiting during the handshake; nobody will own the handle.
		stream.Close()
		return nil, err
	}
	stream.Start()

	handle := uuid.NewString()
	b.mu.Lock()
	b.streams[handle] = stream
	b.mu.Unlock()
	return handle, nil
}

func (b *Bridge) stream(handle string) (*dtls.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[handle]
	if !ok {
		return nil, fmt.Errorf("no stream %q: %w", handle, bridge.ErrTransportSendFailed)
	}
	return s, nil
}

func (b *Bridge) handleStreamSend(ctx context.Context, call *delegate.Call) (any, error) {
	req, err := payload[sendRequest](call)
	if err != nil {
		return nil, err
	}
	s, err := b.stream(req.Handle)
	if err != nil {
		return nil, err
	}
	return nil, s.Send(req.Channels)
}

func (b *Bridge) handleStreamClose(ctx context.Context, call *delegate.Call) (any, error) {
	handle, err := payload[string](call)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	s, ok := b.streams[handle]
	delete(b.streams, handle)
	b.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return nil, s.Close()
}

func (b *Bridge) handleLightList(ctx context.Context, call *delegate.Call) (any, error) {
	cfg, err := payload[config.Bridge](call)
	if err != nil {
		return nil, err
	}
	return b.client(cfg).Lights(ctx)
}

func (b *Bridge) handleLightSet(ctx context.Context, call *delegate.Call) (any, error) {
	req, err := payload[lightRequest](call)
	if err != nil {
		return nil, err
	}
	return nil, b.client(req.Bridge).SetLightState(ctx, req.LightID, req.State)
}
