package ddp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeServer is a scriptable stand-in for a DDP server: onMessage is
// invoked on the server's own goroutine for every decoded inbound
// frame, with the live connection so handlers can push frames back
// (including unsolicited ones, e.g. a "ping").
type fakeServer struct {
	*httptest.Server
	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeServer(t *testing.T, onMessage func(fs *fakeServer, m map[string]any)) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conn = conn
		fs.mu.Unlock()
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			onMessage(fs, m)
		}
	}))
	return fs
}

func (fs *fakeServer) send(v map[string]any) error {
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	if conn == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func newTestClient(t *testing.T, srv *fakeServer) *Client {
	t.Helper()
	c := New(wsURL(srv.URL))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientConnectAndCall(t *testing.T) {
	srv := newFakeServer(t, func(fs *fakeServer, m map[string]any) {
		switch m["msg"] {
		case "connect":
			_ = fs.send(map[string]any{"msg": "connected", "session": "sess-1"})
		case "method":
			_ = fs.send(map[string]any{"msg": "result", "id": m["id"], "result": "ok"})
		}
	})
	defer srv.Close()

	c := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if c.SessionID() != "sess-1" {
		t.Errorf("SessionID() = %q, want %q", c.SessionID(), "sess-1")
	}

	res, err := c.Call(ctx, "posts.insert", []any{"hello"}, time.Second)
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if res != "ok" {
		t.Errorf("result = %v, want %q", res, "ok")
	}
}

func TestClientVersionFallback(t *testing.T) {
	srv := newFakeServer(t, func(fs *fakeServer, m map[string]any) {
		if m["msg"] != "connect" {
			return
		}
		if m["version"] == "1" {
			_ = fs.send(map[string]any{"msg": "failed", "version": "pre2"})
			return
		}
		_ = fs.send(map[string]any{"msg": "connected", "session": "sess-fallback"})
	})
	defer srv.Close()

	c := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if c.Version() != "pre2" {
		t.Errorf("Version() = %q, want %q", c.Version(), "pre2")
	}
}

func TestClientSubscribeResolvesOnReady(t *testing.T) {
	srv := newFakeServer(t, func(fs *fakeServer, m map[string]any) {
		switch m["msg"] {
		case "connect":
			_ = fs.send(map[string]any{"msg": "connected", "session": "sess-1"})
		case "sub":
			_ = fs.send(map[string]any{"msg": "ready", "subs": []any{m["id"]}})
		}
	})
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	subID, err := c.Subscribe(ctx, "posts", []any{"recent"}, time.Second)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	if subID == "" {
		t.Error("expected a non-empty subscription id")
	}
}

func TestClientCollectionUpdateSequence(t *testing.T) {
	ready := make(chan struct{}, 1)
	srv := newFakeServer(t, func(fs *fakeServer, m map[string]any) {
		switch m["msg"] {
		case "connect":
			_ = fs.send(map[string]any{"msg": "connected", "session": "sess-1"})
		case "sub":
			_ = fs.send(map[string]any{"msg": "ready", "subs": []any{m["id"]}})
			ready <- struct{}{}
		}
	})
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	var addedCount, changedCount, removedCount int
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	c.On("collection:posts:added", func(args ...any) { mu.Lock(); addedCount++; mu.Unlock() })
	c.On("collection:posts:changed", func(args ...any) { mu.Lock(); changedCount++; mu.Unlock() })
	c.On("collection:posts:removed", func(args ...any) {
		mu.Lock()
		removedCount++
		mu.Unlock()
		done <- struct{}{}
	})

	if _, err := c.Subscribe(ctx, "posts", nil, time.Second); err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	<-ready

	_ = srv.send(map[string]any{"msg": "added", "collection": "posts", "id": "p1", "fields": map[string]any{"title": "hello"}})
	_ = srv.send(map[string]any{"msg": "changed", "collection": "posts", "id": "p1", "fields": map[string]any{"title": "updated"}})
	_ = srv.send(map[string]any{"msg": "removed", "collection": "posts", "id": "p1"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("did not observe the full added/changed/removed sequence in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if addedCount != 1 || changedCount != 1 || removedCount != 1 {
		t.Errorf("counts = added=%d changed=%d removed=%d, want 1/1/1", addedCount, changedCount, removedCount)
	}

	if _, ok := c.Collection("posts", "p1"); ok {
		t.Error("expected document to be gone from the cache after removal")
	}
}

func TestClientMethodError(t *testing.T) {
	srv := newFakeServer(t, func(fs *fakeServer, m map[string]any) {
		switch m["msg"] {
		case "connect":
			_ = fs.send(map[string]any{"msg": "connected", "session": "sess-1"})
		case "method":
			_ = fs.send(map[string]any{
				"msg": "result",
				"id":  m["id"],
				"error": map[string]any{
					"error":   "403",
					"reason":  "not authorized",
					"message": "403: not authorized",
				},
			})
		}
	})
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	_, err := c.Call(ctx, "posts.remove", []any{"p1"}, time.Second)
	if err == nil {
		t.Fatal("expected a method error")
	}
	var methodErr *MethodError
	if !errors.As(err, &methodErr) {
		t.Fatalf("expected a *MethodError, got %v (%T)", err, err)
	}
	if methodErr.Reason != "not authorized" {
		t.Errorf("Reason = %q, want %q", methodErr.Reason, "not authorized")
	}
}

func TestClientPingLiveness(t *testing.T) {
	pongReceived := make(chan string, 1)
	srv := newFakeServer(t, func(fs *fakeServer, m map[string]any) {
		switch m["msg"] {
		case "connect":
			_ = fs.send(map[string]any{"msg": "connected", "session": "sess-1"})
			go func() {
				time.Sleep(50 * time.Millisecond)
				_ = fs.send(map[string]any{"msg": "ping", "id": "srv-ping-1"})
			}()
		case "pong":
			if id, ok := m["id"].(string); ok {
				pongReceived <- id
			}
		}
	})
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	select {
	case id := <-pongReceived:
		if id != "srv-ping-1" {
			t.Errorf("pong id = %q, want %q", id, "srv-ping-1")
		}
	case <-time.After(time.Second):
		t.Fatal("did not observe a pong reply to the server's ping")
	}
}

func TestClientTransportDropAfterOpenClosesSession(t *testing.T) {
	srv := newFakeServer(t, func(fs *fakeServer, m map[string]any) {
		if m["msg"] == "connect" {
			_ = fs.send(map[string]any{"msg": "connected", "session": "sess-1"})
		}
	})
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	disconnected := make(chan struct{}, 1)
	c.On("disconnected", func(args ...any) { disconnected <- struct{}{} })

	srv.mu.Lock()
	conn := srv.conn
	srv.mu.Unlock()
	_ = conn.Close()

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("did not observe a \"disconnected\" event after the transport dropped")
	}

	if c.State() != Closed {
		t.Errorf("State() = %v, want CLOSED", c.State())
	}
}

func TestClientKeepaliveSendsPingsAndSurvivesPongs(t *testing.T) {
	pingsReceived := make(chan string, 8)
	srv := newFakeServer(t, func(fs *fakeServer, m map[string]any) {
		switch m["msg"] {
		case "connect":
			_ = fs.send(map[string]any{"msg": "connected", "session": "sess-1"})
		case "ping":
			id, _ := m["id"].(string)
			pingsReceived <- id
			_ = fs.send(map[string]any{"msg": "pong", "id": id})
		}
	})
	defer srv.Close()

	c := New(wsURL(srv.URL), WithKeepalive(30*time.Millisecond, 200*time.Millisecond))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	disconnected := make(chan struct{}, 1)
	c.On("disconnected", func(args ...any) { disconnected <- struct{}{} })

	for i := 0; i < 2; i++ {
		select {
		case id := <-pingsReceived:
			if id == "" {
				t.Error("expected a non-empty keepalive ping id")
			}
		case <-time.After(time.Second):
			t.Fatal("did not observe a keepalive ping in time")
		}
	}

	select {
	case <-disconnected:
		t.Fatal("client disconnected even though every ping was answered")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestClientKeepaliveTimeoutDisconnects(t *testing.T) {
	srv := newFakeServer(t, func(fs *fakeServer, m map[string]any) {
		if m["msg"] == "connect" {
			_ = fs.send(map[string]any{"msg": "connected", "session": "sess-1"})
		}
		// Deliberately never answer a "ping" with a "pong".
	})
	defer srv.Close()

	c := New(wsURL(srv.URL), WithKeepalive(20*time.Millisecond, 60*time.Millisecond))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, 2*time.Second); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	disconnected := make(chan struct{}, 1)
	c.On("disconnected", func(args ...any) { disconnected <- struct{}{} })

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected keepalive timeout to disconnect the client")
	}

	if c.State() != Closed {
		t.Errorf("State() = %v, want CLOSED", c.State())
	}
}
