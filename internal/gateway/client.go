package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clawapp/claw/internal/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is a websocket Transport implementation. One connection per
// client; requests are correlated to responses by frame id.
type Client struct {
	url    string
	logger *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	ready    bool
	statusFn func(token string)
	pending  map[string]chan frame
	done     chan struct{}
}

// NewClient creates a gateway client for the given websocket URL. It
// does not connect; call Connect.
func NewClient(url string, logger *zap.Logger) *Client {
	return &Client{
		url:     url,
		logger:  logger,
		pending: make(map[string]chan frame),
	}
}

// Connect dials the gateway and starts the read loop. On success the
// client becomes ready and the status callback receives TokenReady.
func (c *Client) Connect(ctx context.Context) error {
	c.emit(TokenConnecting)

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.emit(TokenClosed)
		return fmt.Errorf("dial gateway: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ready = true
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.readLoop(conn, done)

	c.emit(TokenReady)
	return nil
}

// Close tears the connection down. Safe to call when not connected.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	wasReady := c.ready
	c.ready = false
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := conn.Close()
	if wasReady {
		c.emit(TokenClosed)
	}
	return err
}

// Ready reports current connectivity.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// OnStatusChange registers the status callback. A second registration
// attempt is a no-op.
func (c *Client) OnStatusChange(fn func(token string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusFn != nil {
		return
	}
	c.statusFn = fn
}

// Send delivers one message and waits for the gateway ack.
func (c *Client) Send(ctx context.Context, sessionKey, content string, attachments json.RawMessage) error {
	resp, err := c.request(ctx, frame{
		Type:        frameChatSend,
		SessionKey:  sessionKey,
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}
	if resp.Type == frameError {
		return fmt.Errorf("gateway rejected send: %s", resp.Error)
	}
	return nil
}

// FetchHistory requests up to limit messages for a session. The
// gateway responds newest-first; a response with no messages field is
// treated as no data.
func (c *Client) FetchHistory(ctx context.Context, sessionKey string, limit int) ([]store.Message, error) {
	resp, err := c.request(ctx, frame{
		Type:       frameChatHistory,
		SessionKey: sessionKey,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	if resp.Type == frameError {
		return nil, fmt.Errorf("gateway rejected history fetch: %s", resp.Error)
	}

	msgs := make([]store.Message, 0, len(resp.Messages))
	for _, wm := range resp.Messages {
		msgs = append(msgs, wm.toStoreMessage())
	}
	return msgs, nil
}

// request writes one frame and blocks until the correlated response,
// the context, or the connection ends.
func (c *Client) request(ctx context.Context, req frame) (frame, error) {
	req.ID = uuid.New().String()
	ch := make(chan frame, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil || !c.ready {
		c.mu.Unlock()
		return frame{}, fmt.Errorf("gateway not connected")
	}
	done := c.done
	c.pending[req.ID] = ch
	err := conn.WriteJSON(req)
	c.mu.Unlock()

	if err != nil {
		c.dropPending(req.ID)
		return frame{}, fmt.Errorf("write %s frame: %w", req.Type, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.dropPending(req.ID)
		return frame{}, ctx.Err()
	case <-done:
		c.dropPending(req.ID)
		return frame{}, fmt.Errorf("gateway connection closed")
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			stillCurrent := c.conn == conn
			if stillCurrent {
				c.conn = nil
				c.ready = false
				if c.done == done {
					close(c.done)
					c.done = nil
				}
			}
			c.mu.Unlock()

			if stillCurrent {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logf("gateway connection lost", err)
				}
				c.emit(TokenClosed)
			}
			return
		}

		if f.ID == "" {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) emit(token string) {
	c.mu.Lock()
	fn := c.statusFn
	c.mu.Unlock()
	if fn != nil {
		fn(token)
	}
}

func (c *Client) logf(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, zap.Error(err))
	}
}
