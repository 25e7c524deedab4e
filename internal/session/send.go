// SPDX-License-Identifier: MIT
package session

import (
	"context"
	"errors"
	"fmt"

	"beatlight/internal/bridge"
	"beatlight/internal/dispatch"
	"beatlight/internal/protocol"
)

// sendStreaming delivers one command as a frame with every channel set to the
// command's color.
func (m *Manager) sendStreaming(ctx context.Context, cmd dispatch.Command) error {
	m.mu.Lock()
	sess, channels := m.session, m.channels
	m.mu.Unlock()
	if sess == nil || len(channels) == 0 {
		return fmt.Errorf("no open stream: %w", bridge.ErrTransportSendFailed)
	}
	return sess.SendColors(ctx, protocol.Uniform(channels, cmd.Color))
}

// sendRegular sets every light over the request path. Forced commands are
// beats: full brightness, no transition.
func (m *Manager) sendRegular(ctx context.Context, cmd dispatch.Command) error {
	if m.lights == nil {
		return fmt.Errorf("no request path: %w", bridge.ErrTransportSendFailed)
	}
	ids, err := m.lightList(ctx)
	if err != nil {
		return err
	}

	state := bridge.StateFor(cmd.Color, cmd.Transition)
	if cmd.Force && state.On {
		state.Brightness = 100
		state.Transition = 0
	}

	var errs []error
	for _, id := range ids {
		if err := m.lights.SetLightState(ctx, id, state); err != nil {
			errs = append(errs, fmt.Errorf("light %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// lightList returns the cached light ids, listing them on first use.
func (m *Manager) lightList(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	ids := m.lightIDs
	m.mu.Unlock()
	if ids != nil {
		return ids, nil
	}

	lights, err := m.lights.Lights(ctx)
	if err != nil {
		return nil, fmt.Errorf("list lights: %w", err)
	}
	ids = make([]string, 0, len(lights))
	for _, l := range lights {
		ids = append(ids, l.ID)
	}
	logger.Debugf("Request path drives %d lights", len(ids))

	m.mu.Lock()
	m.lightIDs = ids
	m.mu.Unlock()
	return ids, nil
}
