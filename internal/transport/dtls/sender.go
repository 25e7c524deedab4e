// SPDX-License-Identifier: MIT
package dtls

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	piondtls "github.com/pion/dtls/v3"

	"beatlight/internal/bridge"
	applog "beatlight/internal/log"
)

// writeTimeout bounds a single datagram write on the streaming path.
const writeTimeout = 500 * time.Millisecond

var logger = applog.New("DTLS")

// FrameWriter writes one encoded frame as a datagram.
type FrameWriter interface {
	Send(data []byte) error
	Close() error
}

// Sender is a PSK-secured DTLS 1.2 client connection to a bridge's streaming port.
type Sender struct {
	conn   *piondtls.Conn
	remote string
	mu     sync.Mutex // Protects conn during Close
	closed bool
}

var _ FrameWriter = (*Sender)(nil)

// ClientConfig returns the DTLS configuration for a bridge: identity is the
// application key, the pre-shared key is the decoded client secret.
func ClientConfig(identity string, psk []byte) *piondtls.Config {
	return &piondtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			return psk, nil
		},
		PSKIdentityHint: []byte(identity),
		CipherSuites:    []piondtls.CipherSuiteID{piondtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
	}
}

// Dial connects to address:port and completes the handshake before ctx expires.
// Every failure wraps bridge.ErrTransportSetupFailed.
func Dial(ctx context.Context, address string, port int, identity string, psk []byte) (*Sender, error) {
	target := net.JoinHostPort(address, strconv.Itoa(port))
	raddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w: %w", target, bridge.ErrTransportSetupFailed, err)
	}
	return DialAddr(ctx, raddr, ClientConfig(identity, psk))
}

// DialAddr is Dial with an explicit remote address and configuration.
func DialAddr(ctx context.Context, raddr *net.UDPAddr, cfg *piondtls.Config) (*Sender, error) {
	conn, err := piondtls.Dial("udp", raddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %w", raddr, bridge.ErrTransportSetupFailed, err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w: %w", raddr, bridge.ErrTransportSetupFailed, err)
	}

	logger.Infof("Handshake complete with %s", raddr)
	return &Sender{conn: conn, remote: raddr.String()}, nil
}

// Send writes data as one encrypted datagram. Safe for concurrent use, though
// the stream calls it sequentially.
func (s *Sender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sender to %s is closed: %w", s.remote, bridge.ErrTransportSendFailed)
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w: %w", bridge.ErrTransportSendFailed, err)
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("write to %s: %w: %w", s.remote, bridge.ErrTransportSendFailed, err)
	}
	return nil
}

// Close sends close_notify and releases the socket.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	logger.Infof("Closing connection to %s", s.remote)
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close connection to %s: %w", s.remote, err)
	}
	return nil
}
