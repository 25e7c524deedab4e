// SPDX-License-Identifier: MIT

// Package bridge defines what the engine needs from a lighting bridge: discovery,
// pairing, a streaming session and per-light control for the request path. Any
// implementation is substitutable, including the in-memory one in bridgetest.
package bridge

import (
	"context"
	"time"

	"beatlight/internal/color"
	"beatlight/internal/config"
	"beatlight/internal/protocol"
)

// Info describes a bridge found on the network.
type Info struct {
	ID      string `json:"id"`
	Address string `json:"internalipaddress"`
	Port    int    `json:"port,omitempty"`
}

// Group is an entertainment configuration on the bridge.
type Group struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Status   string  `json:"status"`
	Channels []uint8 `json:"channels"`
}

// Light is a light addressable on the request path.
type Light struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LightState is one request path command.
type LightState struct {
	On         bool
	Brightness int        // 0-100
	XY         [2]float64 // CIE chromaticity
	Transition time.Duration
}

// StateFor builds the request path command for c.
func StateFor(c color.RGB, transition time.Duration) LightState {
	c = c.Clamp()
	x, y := c.XY()
	return LightState{
		On:         c.Max() > 0,
		Brightness: c.Brightness(),
		XY:         [2]float64{x, y},
		Transition: transition,
	}
}

// Controller discovers and pairs with bridges and opens streaming sessions.
type Controller interface {
	Discover(ctx context.Context) ([]Info, error)
	// Register pairs with the bridge at address. The link button must have been
	// pressed. The returned credentials carry the streaming secret when the
	// bridge issued one.
	Register(ctx context.Context, address, deviceType string) (config.Credentials, error)
	Groups(ctx context.Context, cfg config.Bridge) ([]Group, error)
	CreateSession(ctx context.Context, cfg config.Bridge) (Session, error)
}

// Session is one streaming session with a bridge.
type Session interface {
	// Start activates the entertainment group and completes the handshake.
	Start(ctx context.Context, groupID string) error
	// Channels lists the channel ids of the active group.
	Channels() []uint8
	SendColors(ctx context.Context, channels []protocol.Channel) error
	Stop() error
}

// LightController drives individual lights over the request path.
type LightController interface {
	Lights(ctx context.Context) ([]Light, error)
	SetLightState(ctx context.Context, lightID string, state LightState) error
}

// Configurable is implemented by adapters that cache the bridge configuration,
// so a hot swap reaches them too.
type Configurable interface {
	SetConfig(cfg config.Bridge)
}
