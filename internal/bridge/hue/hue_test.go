// SPDX-License-Identifier: MIT
package hue

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"beatlight/internal/bridge"
	"beatlight/internal/color"
	"beatlight/internal/config"
	"beatlight/internal/delegate"
	"beatlight/internal/protocol"
	"beatlight/internal/transport/dtls"
	"beatlight/internal/transport/rest"
)

const testGroup = "1a8d99cc-967b-44f2-9202-43f976c0fa6b"

var testBridge = config.Bridge{
	Address: "192.0.2.10",
	Credentials: config.Credentials{
		ApplicationKey: "app-key",
		SharedSecret:   "00112233445566778899AABBCCDDEEFF00112233445566778899AABBCCDDEEFF",
	},
	SelectedGroupID: testGroup,
}

type clip struct {
	mu    sync.Mutex
	calls []string // "METHOD path body"
}

func (c *clip) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.calls = append(c.calls, r.Method+" "+r.URL.Path+" "+string(body))
	c.mu.Unlock()

	switch r.URL.Path {
	case "/clip/v2/resource/entertainment_configuration/" + testGroup:
		if r.Method == http.MethodGet {
			io.WriteString(w, `{"errors":[],"data":[{"id":"`+testGroup+`","metadata":{"name":"Room"},"channels":[{"channel_id":0},{"channel_id":1},{"channel_id":2}]}]}`)
			return
		}
		io.WriteString(w, `{"errors":[],"data":[]}`)
	case "/clip/v2/resource/device":
		io.WriteString(w, `{"errors":[],"data":[{"id":"d1","metadata":{"name":"Lamp"},"services":[{"rid":"l1","rtype":"light"}]}]}`)
	default:
		io.WriteString(w, `{"errors":[],"data":[]}`)
	}
}

func (c *clip) saw(prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

type memWriter struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (w *memWriter) Send(b []byte) error {
	w.mu.Lock()
	w.frames = append(w.frames, append([]byte(nil), b...))
	w.mu.Unlock()
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func setup(t *testing.T, dialErr error) (*Bridge, *clip, *memWriter, *delegate.Host) {
	t.Helper()
	c := &clip{}
	srv := httptest.NewTLSServer(http.HandlerFunc(c.serve))
	t.Cleanup(srv.Close)

	w := &memWriter{}
	host := delegate.NewHost()
	t.Cleanup(host.Close)

	b := New(host, testBridge, Options{
		KeepAlive: -1,
		REST:      []rest.Option{rest.WithBaseURL(srv.URL)},
		Dial: func(ctx context.Context, address string, port int, identity string, psk []byte) (dtls.FrameWriter, error) {
			if dialErr != nil {
				return nil, dialErr
			}
			if address != testBridge.Address || port != config.DefaultStreamingPort || identity != "app-key" || len(psk) != 32 {
				t.Errorf("dial(%s, %d, %s, %d-byte key)", address, port, identity, len(psk))
			}
			return w, nil
		},
	})
	return b, c, w, host
}

func TestStreamingSessionLifecycle(t *testing.T) {
	b, c, w, host := setup(t, nil)
	events, cancel := host.Subscribe(64)
	defer cancel()
	ctx := context.Background()

	s, err := b.CreateSession(ctx, testBridge)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.Start(ctx, testGroup); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.saw(`PUT /clip/v2/resource/entertainment_configuration/` + testGroup + ` {"action":"start"}`) {
		t.Error("entertainment configuration was not started")
	}
	if got := s.Channels(); len(got) != 3 || got[2] != 2 {
		t.Errorf("Channels() = %v", got)
	}

	if err := s.SendColors(ctx, protocol.Uniform(s.Channels(), color.RGB{R: 1})); err != nil {
		t.Fatalf("SendColors: %v", err)
	}
	w.mu.Lock()
	frames := len(w.frames)
	var h protocol.Header
	if frames > 0 {
		h, _ = protocol.ParseHeader(w.frames[0])
	}
	w.mu.Unlock()
	if frames != 1 || h.GroupID != testGroup {
		t.Fatalf("frames = %d, header = %+v", frames, h)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !w.closed {
		t.Error("stream writer not closed")
	}
	if !c.saw(`PUT /clip/v2/resource/entertainment_configuration/` + testGroup + ` {"action":"stop"}`) {
		t.Error("entertainment configuration was not stopped")
	}
	if err := s.SendColors(ctx, nil); !errors.Is(err, bridge.ErrTransportSendFailed) {
		t.Errorf("SendColors after Stop = %v", err)
	}

	seen := map[string]bool{}
	for len(events) > 0 {
		evt := <-events
		if evt.Kind == delegate.EventComplete {
			seen[evt.Op] = true
		}
	}
	for _, op := range []string{delegate.OpGroupChannels, delegate.OpEntertainmentStart, delegate.OpStreamOpen,
		delegate.OpStreamSend, delegate.OpStreamClose, delegate.OpEntertainmentStop} {
		if !seen[op] {
			t.Errorf("no completion event for %s", op)
		}
	}
}

func TestCreateSessionRejectsBadSecret(t *testing.T) {
	b, _, _, _ := setup(t, nil)

	cfg := testBridge
	cfg.Credentials.SharedSecret = "not-a-key"
	if _, err := b.CreateSession(context.Background(), cfg); !errors.Is(err, bridge.ErrTransportSetupFailed) {
		t.Errorf("bad secret: %v", err)
	}

	cfg = testBridge
	cfg.Address = ""
	if _, err := b.CreateSession(context.Background(), cfg); !errors.Is(err, bridge.ErrConfigInvalid) {
		t.Errorf("missing address: %v", err)
	}
}

func TestDialFailureIsSetupFailure(t *testing.T) {
	b, c, _, _ := setup(t, errors.New("handshake timeout"))
	ctx := context.Background()

	s, err := b.CreateSession(ctx, testBridge)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Start(ctx, testGroup)
	if !errors.Is(err, bridge.ErrTransportSetupFailed) {
		t.Fatalf("Start error = %v, want ErrTransportSetupFailed", err)
	}
	if !c.saw(`PUT /clip/v2/resource/entertainment_configuration/` + testGroup + ` {"action":"stop"}`) {
		t.Error("entertainment configuration left active after a failed handshake")
	}
}

func TestHandshakeAfterDeadlineClosesStream(t *testing.T) {
	c := &clip{}
	srv := httptest.NewTLSServer(http.HandlerFunc(c.serve))
	t.Cleanup(srv.Close)
	host := delegate.NewHost()
	t.Cleanup(host.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &memWriter{}
	b := New(host, testBridge, Options{
		KeepAlive: -1,
		REST:      []rest.Option{rest.WithBaseURL(srv.URL)},
		Dial: func(context.Context, string, int, string, []byte) (dtls.FrameWriter, error) {
			// The handshake completes just as the caller gives up.
			cancel()
			return w, nil
		},
	})

	s, err := b.CreateSession(context.Background(), testBridge)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx, testGroup); err == nil {
		t.Fatal("Start succeeded after its context was cancelled")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stream writer left open")
		}
		time.Sleep(2 * time.Millisecond)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) != 0 {
		t.Errorf("%d streams registered, want 0", len(b.streams))
	}
}

func TestLightsThroughDelegate(t *testing.T) {
	b, c, _, _ := setup(t, nil)
	ctx := context.Background()

	lights, err := b.Lights(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(lights) != 1 || lights[0].ID != "l1" {
		t.Fatalf("Lights = %+v", lights)
	}

	if err := b.SetLightState(ctx, "l1", bridge.StateFor(color.White, 0)); err != nil {
		t.Fatal(err)
	}
	if !c.saw("PUT /clip/v2/resource/light/l1") {
		t.Error("light command not sent")
	}
}

func TestRegisterNeedsAddress(t *testing.T) {
	b, _, _, _ := setup(t, nil)
	if _, err := b.Register(context.Background(), "", "beatlight#test"); !errors.Is(err, bridge.ErrConfigInvalid) {
		t.Errorf("error = %v, want ErrConfigInvalid", err)
	}
}
