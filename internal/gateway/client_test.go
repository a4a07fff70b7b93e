package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testGateway runs a minimal gateway: acks every chat.send and answers
// chat.history with the configured frames.
type testGateway struct {
	mu      sync.Mutex
	sends   []frame
	history []wireMessage
	sendErr string
}

func (g *testGateway) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case frameChatSend:
			g.mu.Lock()
			g.sends = append(g.sends, f)
			errMsg := g.sendErr
			g.mu.Unlock()
			resp := frame{Type: frameAck, ID: f.ID}
			if errMsg != "" {
				resp = frame{Type: frameError, ID: f.ID, Error: errMsg}
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		case frameChatHistory:
			g.mu.Lock()
			msgs := g.history
			g.mu.Unlock()
			if err := conn.WriteJSON(frame{Type: frameAck, ID: f.ID, Messages: msgs}); err != nil {
				return
			}
		}
	}
}

func (g *testGateway) sentFrames() []frame {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]frame(nil), g.sends...)
}

func testClient(t *testing.T, g *testGateway) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(g.handler))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewClient(url, nil)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientConnectAndSend(t *testing.T) {
	g := &testGateway{}
	c := testClient(t, g)

	var tokens []string
	var mu sync.Mutex
	c.OnStatusChange(func(token string) {
		mu.Lock()
		tokens = append(tokens, token)
		mu.Unlock()
	})

	if c.Ready() {
		t.Error("Ready() = true before Connect")
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.Ready() {
		t.Error("Ready() = false after Connect")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Send(ctx, "agent:main", "hello", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	frames := g.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("gateway saw %d sends, want 1", len(frames))
	}
	if frames[0].SessionKey != "agent:main" || frames[0].Content != "hello" {
		t.Errorf("frame = %+v, want agent:main/hello", frames[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(tokens) < 2 || tokens[0] != TokenConnecting || tokens[1] != TokenReady {
		t.Errorf("tokens = %v, want [connecting ready ...]", tokens)
	}
}

func TestClientSendRejected(t *testing.T) {
	g := &testGateway{sendErr: "session not found"}
	c := testClient(t, g)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Send(ctx, "agent:main", "hello", nil)
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Errorf("Send() error = %v, want gateway rejection", err)
	}
}

func TestClientFetchHistory(t *testing.T) {
	g := &testGateway{history: []wireMessage{
		{ID: "m2", SessionKey: "s1", Content: "newer", Timestamp: 2000},
		{ID: "m1", SessionKey: "s1", Role: "user", Content: "older", Timestamp: 1000},
	}}
	c := testClient(t, g)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msgs, err := c.FetchHistory(ctx, "s1", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	// Order preserved (newest-first as the gateway sent them).
	if msgs[0].ID != "m2" || msgs[1].ID != "m1" {
		t.Errorf("order = [%s %s], want [m2 m1]", msgs[0].ID, msgs[1].ID)
	}
	// Missing role defaults to assistant.
	if msgs[0].Role != "assistant" || msgs[1].Role != "user" {
		t.Errorf("roles = [%s %s], want [assistant user]", msgs[0].Role, msgs[1].Role)
	}
}

func TestClientFetchHistoryNoMessages(t *testing.T) {
	g := &testGateway{}
	c := testClient(t, g)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msgs, err := c.FetchHistory(ctx, "s1", 50)
	if err != nil {
		t.Fatalf("absence of messages is no data, not an error; got %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}

func TestClientSendWhileDisconnected(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws", nil)
	err := c.Send(context.Background(), "s1", "hi", nil)
	if err == nil {
		t.Error("Send() on a disconnected client should fail")
	}
}

func TestClientStatusCallbackIdempotent(t *testing.T) {
	g := &testGateway{}
	c := testClient(t, g)

	var first, second int
	var mu sync.Mutex
	c.OnStatusChange(func(string) { mu.Lock(); first++; mu.Unlock() })
	// Second registration must be a no-op.
	c.OnStatusChange(func(string) { mu.Lock(); second++; mu.Unlock() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if first == 0 {
		t.Error("first callback never invoked")
	}
	if second != 0 {
		t.Error("second registration should have been ignored")
	}
}

func TestClientCloseFlipsReady(t *testing.T) {
	g := &testGateway{}
	c := testClient(t, g)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.Ready() {
		t.Error("Ready() = true after Close")
	}
}
