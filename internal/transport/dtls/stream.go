// SPDX-License-Identifier: MIT
package dtls

import (
	"fmt"
	"sync"
	"time"

	"beatlight/internal/protocol"
)

// Stream turns channel colors into sequenced frames on a FrameWriter and keeps an
// idle session alive by repeating the last frame. Bridges end a streaming
// session after roughly ten seconds without traffic.
type Stream struct {
	writer    FrameWriter   // The underlying datagram writer.
	groupID   string        // Entertainment configuration id written into every frame.
	keepAlive time.Duration // Idle time after which the last frame is resent.

	ticker   *time.Ticker   // Ticker that triggers keep-alive checks.
	doneChan chan struct{}  // Signals the keep-alive goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the keep-alive goroutine during Stop.
	mu       sync.Mutex     // Protects everything below and ticker/doneChan.

	seq      uint8              // Wraps at 256.
	last     []protocol.Channel // Most recent frame content, for keep-alive.
	lastSent time.Time
	frame    []byte // Reused encode buffer.
}

// NewStream binds a writer to an entertainment group. A keepAlive <= 0 disables
// the keep-alive goroutine.
func NewStream(w FrameWriter, groupID string, keepAlive time.Duration) (*Stream, error) {
	if w == nil {
		return nil, fmt.Errorf("stream: frame writer cannot be nil")
	}
	if groupID == "" {
		return nil, fmt.Errorf("stream: group id cannot be empty")
	}
	return &Stream{
		writer:    w,
		groupID:   groupID,
		keepAlive: keepAlive,
		frame:     make([]byte, 0, protocol.MaxFrameSize),
	}, nil
}

// Send encodes channels with the next sequence number and writes the frame.
func (s *Stream) Send(channels []protocol.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = append(s.last[:0], channels...)
	return s.writeLocked()
}

func (s *Stream) writeLocked() error {
	s.frame = protocol.AppendFrame(s.frame[:0], s.seq, s.groupID, s.last)
	s.seq++
	s.lastSent = time.Now()
	return s.writer.Send(s.frame)
}

// Sequence returns the sequence number the next frame will carry.
func (s *Stream) Sequence() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Start launches the keep-alive goroutine. Calling Start twice is a no-op.
func (s *Stream) Start() {
	if s.keepAlive <= 0 {
		return
	}
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		logger.Warnf("Keep-alive already running")
		return
	}

	// Check at a finer grain than the interval so an idle gap never exceeds it by much.
	s.ticker = time.NewTicker(s.keepAlive / 4)
	s.doneChan = make(chan struct{})
	s.stopOnce = sync.Once{}
	ticker := s.ticker
	doneChan := s.doneChan
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ticker.C:
				s.keepAliveTick()
			case <-doneChan:
				return
			}
		}
	}()
}

func (s *Stream) keepAliveTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || time.Since(s.lastSent) < s.keepAlive {
		return
	}
	if err := s.writeLocked(); err != nil {
		logger.Warnf("Keep-alive frame failed: %v", err)
	}
}

// Stop ends the keep-alive goroutine and waits for it. Safe to call repeatedly.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopOnce.Do(func() {
		close(s.doneChan)
		s.ticker.Stop()
		s.ticker = nil
	})
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Close stops the keep-alive goroutine and closes the writer.
func (s *Stream) Close() error {
	s.Stop()
	return s.writer.Close()
}

var _ interface{ Close() error } = (*Stream)(nil)
