// Package hubclient is the student agent's side of the hub protocol: a
// gorilla/websocket connection to the teacher's /ws/student route, a
// pending-call table keyed by envelope id, and an inbound event channel for
// server-initiated pushes. A consecutive-failure circuit breaker decides
// when a broken connection should stop being trusted and trigger a
// reconnect.
package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/controledu/classroom/internal/wire"
)

// ErrClosed is returned by Call once the client has been closed.
var ErrClosed = errors.New("hubclient: connection closed")

// circuitBreakerThreshold/ProbeInterval mirror server/client.go's per-peer
// breaker, generalized to a single outbound connection: once this many
// consecutive Call failures accrue, the agent's main loop should treat the
// connection as dead and reconnect rather than keep retrying individual
// calls against it.
const (
	circuitBreakerThreshold     uint32 = 5
	circuitBreakerProbeInterval uint32 = 3
)

type pendingCall struct {
	replyCh chan wire.Envelope
}

// Client is one live hub connection. It is not reusable after Close; the
// agent main loop constructs a new Client on every reconnect attempt.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
	closeCh chan struct{}

	events chan Event

	failures atomic.Uint32
}

// Event is a server-initiated push (no request id).
type Event struct {
	Method  string
	Payload []byte
}

// Dial opens a WebSocket connection to url (e.g. wss://host:port/ws/student)
// and starts the reader goroutine that demultiplexes responses from pushes.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("hubclient: dial %s: %w", url, err)
	}
	conn.SetReadLimit(wire.MaxHubMessageBytes)

	c := &Client{
		conn:    conn,
		pending: make(map[string]*pendingCall),
		closeCh: make(chan struct{}),
		events:  make(chan Event, 128),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel of server-initiated pushes. The agent loop
// drains it non-blockingly each iteration.
func (c *Client) Events() <-chan Event { return c.events }

// Call sends method/payload and blocks for the matching reply or ctx's
// deadline, whichever comes first. out may be nil when the response carries
// no payload.
func (c *Client) Call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if payload == nil {
		body = nil
	}

	id := uuid.NewString()
	env := wire.Envelope{Method: method, ID: id, Payload: body}

	call := &pendingCall{replyCh: make(chan wire.Envelope, 1)}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = call
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(env); err != nil {
		c.recordFailure()
		return err
	}

	select {
	case reply := <-call.replyCh:
		c.recordSuccess()
		if reply.Error != "" {
			return fmt.Errorf("hubclient: %s: %s", method, reply.Error)
		}
		if out != nil && len(reply.Payload) > 0 {
			return json.Unmarshal(reply.Payload, out)
		}
		return nil
	case <-ctx.Done():
		c.recordFailure()
		return ctx.Err()
	case <-c.closeCh:
		return ErrClosed
	}
}

func (c *Client) send(env wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(env)
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		var env wire.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		if env.ID != "" {
			c.mu.Lock()
			call, ok := c.pending[env.ID]
			c.mu.Unlock()
			if ok {
				select {
				case call.replyCh <- env:
				default:
				}
			}
			continue
		}
		select {
		case c.events <- Event{Method: env.Method, Payload: env.Payload}:
		default:
			// Drop oldest by draining one slot, mirroring the bounded
			// drop-oldest rings used elsewhere in the hub.
			select {
			case <-c.events:
			default:
			}
			select {
			case c.events <- Event{Method: env.Method, Payload: env.Payload}:
			default:
			}
		}
	}
}

// Broken reports whether consecutive Call failures have crossed the
// circuit-breaker threshold, signaling the agent loop should reconnect.
func (c *Client) Broken() bool {
	return c.failures.Load() >= circuitBreakerThreshold
}

func (c *Client) recordFailure() { c.failures.Add(1) }
func (c *Client) recordSuccess() { c.failures.Store(0) }

// Close tears down the connection and unblocks every pending Call.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.mu.Unlock()
	return c.conn.Close()
}
