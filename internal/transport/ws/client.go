// Package ws connects a calendar session to its remote authority over a
// websocket. Requests and replies are correlated by envelope ref; every other
// frame from the authority is a push.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"evcal/internal/calsync"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/protocol"
)

// maxFrameBytes bounds a single frame; an events reply for a month view of a
// busy calendar easily exceeds the library default of 32 KiB.
const maxFrameBytes = 8 << 20

var ErrClosed = errors.New("ws: connection closed")

// RemoteError is an error reply from the authority.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ws: %s: authority error: %s", e.Type, e.Message)
}

// Handler receives pushes from the authority.
type Handler func(ctx context.Context, env protocol.Envelope) error

type Client struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan protocol.Envelope
	done    chan struct{}
	err     error
}

var _ calsync.Authority = (*Client)(nil)

// Dial connects to the authority at url. A non-empty token is sent as a
// bearer credential.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, resp, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}
	appLog.Info("ws: connected to authority", "url", url)
	return NewClient(conn), nil
}

func NewClient(conn *websocket.Conn) *Client {
	conn.SetReadLimit(maxFrameBytes)
	return &Client{
		conn:    conn,
		pending: make(map[string]chan protocol.Envelope),
		done:    make(chan struct{}),
	}
}

// FetchEvents asks the authority for the events of req's window and waits
// for the matching reply. Run must be active to receive it.
func (c *Client) FetchEvents(ctx context.Context, req calsync.FetchRequest) ([]model.WireEvent, error) {
	ref := uuid.NewString()
	env, err := protocol.NewEnvelope(protocol.TypeFetchEvents, ref, req.Payload())
	if err != nil {
		return nil, err
	}

	replyCh := make(chan protocol.Envelope, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	c.pending[ref] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		return nil, fmt.Errorf("ws: send %s: %w", protocol.TypeFetchEvents, err)
	}

	select {
	case reply := <-replyCh:
		if reply.Error != "" {
			return nil, &RemoteError{Type: protocol.TypeFetchEvents, Message: reply.Error}
		}
		var p protocol.EventsPayload
		if err := reply.Decode(&p); err != nil {
			return nil, err
		}
		return p.Events, nil
	case <-c.done:
		return nil, c.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Push sends a notification to the authority.
func (c *Client) Push(ctx context.Context, typ string, payload any) error {
	env, err := protocol.NewEnvelope(typ, "", payload)
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, c.conn, env); err != nil {
		return fmt.Errorf("ws: send %s: %w", typ, err)
	}
	return nil
}

// Run reads frames until the connection fails or ctx is canceled. Replies
// are routed to their waiting request; pushes are passed to h in arrival
// order. A push h fails on is logged and skipped.
func (c *Client) Run(ctx context.Context, h Handler) error {
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			c.fail(err)
			return err
		}

		if env.Type == protocol.TypeReply {
			c.deliver(env)
			continue
		}
		if err := h(ctx, env); err != nil {
			appLog.Error("ws: push rejected", err, "type", env.Type)
		}
	}
}

func (c *Client) deliver(env protocol.Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.Ref]
	c.mu.Unlock()
	if !ok {
		appLog.Debug("ws: reply without waiting request", "ref", env.Ref)
		return
	}
	// Buffered for one reply; a duplicate ref is dropped.
	select {
	case ch <- env:
	default:
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = fmt.Errorf("%w: %v", ErrClosed, err)
	close(c.done)
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection normally.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "closing connection")
}
