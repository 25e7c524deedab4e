// SPDX-License-Identifier: MIT
package dtls

import (
	"errors"
	"sync"
	"testing"
	"time"

	"beatlight/internal/bridge"
	"beatlight/internal/color"
	"beatlight/internal/protocol"
)

const testGroup = "1a8d99cc-967b-44f2-9202-43f976c0fa6b"

type recordingWriter struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	closed bool
}

func (w *recordingWriter) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, append([]byte(nil), data...))
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func (w *recordingWriter) frame(i int) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames[i]
}

func TestNewStreamValidates(t *testing.T) {
	if _, err := NewStream(nil, testGroup, 0); err == nil {
		t.Error("expected error for nil writer")
	}
	if _, err := NewStream(&recordingWriter{}, "", 0); err == nil {
		t.Error("expected error for empty group id")
	}
}

func TestStreamSequenceWraps(t *testing.T) {
	w := &recordingWriter{}
	s, err := NewStream(w, testGroup, 0)
	if err != nil {
		t.Fatal(err)
	}

	channels := protocol.Uniform([]uint8{0, 1}, color.RGB{R: 1})
	for range 258 {
		if err := s.Send(channels); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	for _, tt := range []struct {
		frame int
		seq   uint8
	}{{0, 0}, {1, 1}, {255, 255}, {256, 0}, {257, 1}} {
		h, err := protocol.ParseHeader(w.frame(tt.frame))
		if err != nil {
			t.Fatalf("frame %d: %v", tt.frame, err)
		}
		if h.Sequence != tt.seq {
			t.Errorf("frame %d sequence = %d, want %d", tt.frame, h.Sequence, tt.seq)
		}
		if h.GroupID != testGroup {
			t.Errorf("frame %d group = %q", tt.frame, h.GroupID)
		}
	}
	if got := s.Sequence(); got != 2 {
		t.Errorf("Sequence() = %d, want 2", got)
	}
}

func TestStreamSendPropagatesErrors(t *testing.T) {
	w := &recordingWriter{err: bridge.ErrTransportSendFailed}
	s, _ := NewStream(w, testGroup, 0)

	err := s.Send(protocol.Uniform([]uint8{0}, color.White))
	if !errors.Is(err, bridge.ErrTransportSendFailed) {
		t.Fatalf("Send error = %v, want ErrTransportSendFailed", err)
	}
	// A failed frame still consumes its sequence number.
	if got := s.Sequence(); got != 1 {
		t.Errorf("Sequence() = %d, want 1", got)
	}
}

func TestStreamKeepAliveRepeatsLastFrame(t *testing.T) {
	w := &recordingWriter{}
	s, _ := NewStream(w, testGroup, 20*time.Millisecond)
	s.Start()
	defer s.Close()

	// Nothing to repeat before the first frame.
	time.Sleep(50 * time.Millisecond)
	if n := w.count(); n != 0 {
		t.Fatalf("keep-alive sent %d frames before any color", n)
	}

	if err := s.Send(protocol.Uniform([]uint8{3}, color.RGB{G: 1})); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for w.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if w.count() < 2 {
		t.Fatal("keep-alive frame never sent")
	}

	chans, err := protocol.ParseChannels(w.frame(1))
	if err != nil {
		t.Fatal(err)
	}
	if len(chans) != 1 || chans[0].ID != 3 || chans[0].G != 0xFFFF {
		t.Errorf("keep-alive frame channels = %+v", chans)
	}
	h, _ := protocol.ParseHeader(w.frame(1))
	if h.Sequence != 1 {
		t.Errorf("keep-alive sequence = %d, want 1", h.Sequence)
	}
}

func TestStreamStopIdempotentAndClose(t *testing.T) {
	w := &recordingWriter{}
	s, _ := NewStream(w, testGroup, time.Second)
	s.Start()
	s.Start()

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !w.closed {
		t.Error("Close did not close the writer")
	}
}

func TestStreamSendZeroAllocs(t *testing.T) {
	s, _ := NewStream(discardWriter{}, testGroup, 0)
	channels := protocol.Uniform([]uint8{0, 1, 2, 3}, color.RGB{R: 0.5, B: 0.25})
	s.Send(channels)

	allocs := testing.AllocsPerRun(100, func() {
		s.Send(channels)
	})
	if allocs != 0 {
		t.Errorf("Send allocated %.1f times per frame", allocs)
	}
}

type discardWriter struct{}

func (discardWriter) Send([]byte) error { return nil }
func (discardWriter) Close() error      { return nil }

func BenchmarkStreamSend(b *testing.B) {
	s, _ := NewStream(discardWriter{}, testGroup, 0)
	channels := protocol.Uniform([]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, color.RGB{R: 0.5, G: 0.1, B: 0.9})
	b.ReportAllocs()
	for b.Loop() {
		s.Send(channels)
	}
}
