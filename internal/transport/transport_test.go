// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type snapshot struct {
	State string `json:"state"`
	Sent  int    `json:"sent"`
}

func dial(t *testing.T, wst *WebSocketTransport) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(wst.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for wst.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if wst.Clients() == 0 {
		t.Fatal("client never registered")
	}
	return conn
}

func TestWebSocketBroadcastsJSON(t *testing.T) {
	wst := NewWebSocketTransport("")
	defer wst.Close()
	conn := dial(t, wst)

	if err := wst.Send(snapshot{State: "streaming", Sent: 42}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got snapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.State != "streaming" || got.Sent != 42 {
		t.Errorf("received %+v", got)
	}
}

func TestWebSocketClientDisconnect(t *testing.T) {
	wst := NewWebSocketTransport("")
	defer wst.Close()
	conn := dial(t, wst)

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for wst.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := wst.Clients(); n != 0 {
		t.Errorf("clients after disconnect = %d", n)
	}
}

func TestWebSocketSendAfterClose(t *testing.T) {
	wst := NewWebSocketTransport("")
	if err := wst.Close(); err != nil {
		t.Fatal(err)
	}
	if err := wst.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := wst.Send(snapshot{}); err == nil {
		t.Error("Send after Close succeeded")
	}
}

type countingTransport struct {
	mu   sync.Mutex
	sent []any
}

func (c *countingTransport) Send(data any) error {
	c.mu.Lock()
	c.sent = append(c.sent, data)
	c.mu.Unlock()
	return nil
}

func (c *countingTransport) Close() error { return nil }

func (c *countingTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestPublishUntilCancelled(t *testing.T) {
	ct := &countingTransport{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	n := 0
	go func() {
		Publish(ctx, ct, 5*time.Millisecond, func() any { n++; return n })
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ct.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if ct.count() < 3 {
		t.Fatalf("published %d snapshots, want at least 3", ct.count())
	}
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport()
	if err := lt.Send(snapshot{State: "idle"}); err != nil {
		t.Fatal(err)
	}
	if err := lt.Close(); err != nil {
		t.Fatal(err)
	}
}
