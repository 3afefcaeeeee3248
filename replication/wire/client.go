package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/riftdb/riftdb/errs"
	"github.com/riftdb/riftdb/internal/rlog"
)

// Client is a replication.Transport implementation carrying push/pull
// envelopes over a single long-lived WebSocket connection, grounded on the
// teacher's eventsync WebSocketClient request/response framing.
type Client struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan Envelope
	closed  bool
}

// Dial opens a WebSocket connection to url and starts its receive loop.
func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, &errs.TransportError{Retryable: true, Cause: err}
	}
	c := &Client{conn: conn, pending: make(map[string]chan Envelope)}
	go c.receiveLoop()
	return c, nil
}

func (c *Client) receiveLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.failPending(err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			rlog.Warn("replication: discarding malformed envelope", zap.Error(err))
			continue
		}
		id, err := envelopeID(env)
		if err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	_ = err
}

func envelopeID(env Envelope) (string, error) {
	var id struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Payload, &id); err != nil {
		return "", err
	}
	return id.ID, nil
}

func (c *Client) register(id string) chan Envelope {
	ch := make(chan Envelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) roundTrip(ctx context.Context, reqType string, req any, id string) (Envelope, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Envelope{}, &errs.TransportError{Retryable: true, Cause: fmt.Errorf("connection closed")}
	}
	c.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, &errs.TransportError{Retryable: false, Cause: err}
	}

	ch := c.register(id)
	defer c.unregister(id)

	if err := c.conn.WriteJSON(Envelope{Type: reqType, Payload: payload}); err != nil {
		return Envelope{}, &errs.TransportError{Retryable: true, Cause: err}
	}

	select {
	case <-ctx.Done():
		return Envelope{}, &errs.TransportError{Retryable: true, Cause: ctx.Err()}
	case env, ok := <-ch:
		if !ok {
			return Envelope{}, &errs.TransportError{Retryable: true, Cause: fmt.Errorf("connection closed while awaiting response")}
		}
		return env, nil
	}
}

// Push sends req and waits for the matching push_response envelope.
func (c *Client) Push(ctx context.Context, req PushRequest) (PushResponse, error) {
	env, err := c.roundTrip(ctx, TypePush, req, req.ID)
	if err != nil {
		return PushResponse{}, err
	}
	var resp PushResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return PushResponse{}, &errs.TransportError{Retryable: false, Cause: err}
	}
	return resp, nil
}

// Pull sends req and waits for the matching pull_response envelope.
func (c *Client) Pull(ctx context.Context, req PullRequest) (PullResponse, error) {
	env, err := c.roundTrip(ctx, TypePull, req, req.ID)
	if err != nil {
		return PullResponse{}, err
	}
	var resp PullResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return PullResponse{}, &errs.TransportError{Retryable: false, Cause: err}
	}
	return resp, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
