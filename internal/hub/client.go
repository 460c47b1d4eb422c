// internal/hub/client.go
package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erilali/readsync/internal/identity"
)

type State int32

const (
	StateConnecting State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var (
	errClientClosed  = errors.New("client disconnected")
	errSendQueueFull = errors.New("send queue full")
)

// Client is one live connection. Send is drained by the write pump; it is
// closed exactly once, when the client disconnects.
type Client struct {
	ID        string
	UserKey   string
	Anonymous bool
	Syncing   bool
	Ephemeral bool
	Conn      *websocket.Conn
	Send      chan []byte

	mu         sync.Mutex
	state      State
	lastActive time.Time
}

func NewClient(id string, ident identity.Identity, sendBuffer int) *Client {
	return &Client{
		ID:         id,
		UserKey:    ident.UserKey,
		Anonymous:  ident.Anonymous,
		Syncing:    ident.Syncing,
		Ephemeral:  ident.Ephemeral,
		Send:       make(chan []byte, sendBuffer),
		lastActive: time.Now(),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// enqueue never blocks; a full queue is reported so the caller can evict.
func (c *Client) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(frame)
}

func (c *Client) enqueueLocked(frame []byte) error {
	if c.state == StateDisconnected {
		return errClientClosed
	}
	select {
	case c.Send <- frame:
		return nil
	default:
		return errSendQueueFull
	}
}

// disconnect moves the client to its terminal state, closes Send and
// returns the state it was in before.
func (c *Client) disconnect() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	if prev != StateDisconnected {
		c.state = StateDisconnected
		close(c.Send)
	}
	return prev
}
