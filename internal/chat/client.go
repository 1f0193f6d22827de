package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prestabot/prestabot/internal/config"
)

// dialTimeout bounds the initial WebSocket handshake.
const dialTimeout = 15 * time.Second

// Client communicates with the WhatsApp gateway daemon over a WebSocket
// speaking JSON-RPC 2.0. Inbound message notifications are pushed to a
// channel; outbound requests use request-response correlation via a
// pending map.
type Client struct {
	url    string
	token  string
	logger *slog.Logger

	conn *websocket.Conn

	nextID  atomic.Int64
	mu      sync.Mutex                 // protects pending + socket writes
	pending map[int64]chan rpcResponse // request ID → response channel

	messages chan *Envelope // inbound message notifications
	done     chan struct{}  // closed when the read loop exits
}

// NewClient creates a gateway client. Call Connect to establish the
// WebSocket session.
func NewClient(url, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:      url,
		token:    token,
		logger:   logger,
		pending:  make(map[int64]chan rpcResponse),
		messages: make(chan *Envelope, 64),
		done:     make(chan struct{}),
	}
}

// Connect dials the gateway and begins reading notifications. Must be
// called exactly once.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to gateway", "url", c.url)

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial gateway (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial gateway: %w", err)
	}
	c.conn = conn

	go c.readLoop()

	c.logger.Info("gateway connected")
	return nil
}

// Messages returns the channel of inbound message envelopes. The
// channel is closed when the connection drops.
func (c *Client) Messages() <-chan *Envelope {
	return c.messages
}

// Send sends a text message to a canonical phone number.
func (c *Client) Send(ctx context.Context, phone, text string) error {
	_, err := c.call(ctx, "send", map[string]any{
		"phone": phone,
		"text":  text,
	})
	if err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}
	return nil
}

// SendTyping toggles the typing indicator for a recipient.
func (c *Client) SendTyping(ctx context.Context, phone string, stop bool) error {
	_, err := c.call(ctx, "typing", map[string]any{
		"phone": phone,
		"stop":  stop,
	})
	if err != nil {
		return fmt.Errorf("gateway typing: %w", err)
	}
	return nil
}

// Ping checks that the gateway session is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "ping", nil)
	return err
}

// Close shuts down the WebSocket session gracefully.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()

	err := c.conn.Close()

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
	}
	return err
}

// call sends a JSON-RPC request and waits for the correlated response.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	c.mu.Lock()
	c.pending[id] = ch
	if err := c.conn.WriteJSON(req); err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write to gateway: %w", err)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-c.done:
		return nil, fmt.Errorf("gateway connection closed")
	}
}

// readLoop reads frames from the socket, routing responses to their
// pending channels and message notifications to the messages channel.
func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.messages)

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Error("gateway read error", "error", err)
			}
			// Drain any pending requests.
			c.mu.Lock()
			for id, ch := range c.pending {
				ch <- rpcResponse{Error: &rpcError{
					Code:    -1,
					Message: "connection closed",
				}}
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}

		c.logger.Log(context.Background(), config.LevelTrace,
			"gateway frame", "len", len(frame))

		var raw rpcRaw
		if err := json.Unmarshal(frame, &raw); err != nil {
			c.logger.Debug("gateway non-JSON frame", "frame", string(frame))
			continue
		}

		// Response (has ID): route to pending channel.
		if raw.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*raw.ID]
			if ok {
				delete(c.pending, *raw.ID)
			}
			c.mu.Unlock()

			if ok {
				ch <- rpcResponse{Result: raw.Result, Error: raw.Error}
			} else {
				c.logger.Debug("gateway response for unknown ID", "id", *raw.ID)
			}
			continue
		}

		// Notification: only "message" is actionable for the bridge.
		if raw.Method == "message" {
			var env Envelope
			if err := json.Unmarshal(raw.Params, &env); err != nil {
				c.logger.Warn("gateway malformed message notification",
					"error", err,
					"params", string(raw.Params),
				)
				continue
			}
			select {
			case c.messages <- &env:
			default:
				c.logger.Warn("gateway message channel full, dropping message",
					"sender", env.From,
				)
			}
			continue
		}

		c.logger.Debug("gateway unknown notification", "method", raw.Method)
	}
}
