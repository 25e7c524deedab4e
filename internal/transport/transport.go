// SPDX-License-Identifier: MIT

// Package transport carries telemetry snapshots out of the engine: over a
// websocket to any connected dashboard, or into the debug log.
package transport

import (
	"context"
	"time"
)

// Transport defines a generic interface for sending telemetry.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// Publish sends snapshot() on t every interval until ctx is done. Send errors are
// logged and the loop carries on.
func Publish(ctx context.Context, t Transport, interval time.Duration, snapshot func() any) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Send(snapshot()); err != nil {
				logger.Warnf("Telemetry send failed: %v", err)
			}
		}
	}
}
