// SPDX-License-Identifier: MIT
package transport

import (
	applog "beatlight/internal/log"
)

var logger = applog.New("Transport")

// LoggingTransport implements the Transport interface by writing telemetry to the
// debug log. It stands in when no websocket address is configured.
type LoggingTransport struct{}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	logger.Infof("Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the snapshot at debug level.
func (lt *LoggingTransport) Send(data any) error {
	logger.Debugf("Telemetry: %+v", data)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
