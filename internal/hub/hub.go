// internal/hub/hub.go
// Keeps every open connection of a user looking at the same reading list.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erilali/readsync/internal/identity"
	"github.com/erilali/readsync/internal/logger"
	"github.com/erilali/readsync/internal/message"
	"github.com/erilali/readsync/internal/registry"
	"github.com/erilali/readsync/internal/store"
)

var (
	ErrNotJoined       = errors.New("connection is not joined")
	ErrNotSyncing      = errors.New("connection is excluded from sync")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrInvalidPayload  = errors.New("payload is not valid JSON")
)

const evictQueueSize = 256

type Options struct {
	MaxPayloadBytes int
	RequireJSON     bool
	SendBuffer      int
	ReadDeadline    time.Duration
	WriteDeadline   time.Duration
	StoreTimeout    time.Duration
	AllowedOrigins  []string

	// Broadcaster replaces in-process fan-out, e.g. with a backplane that
	// eventually calls DeliverLocal on every instance.
	Broadcaster Broadcaster
	Events      EventSink
}

func DefaultOptions() Options {
	return Options{
		MaxPayloadBytes: 64 * 1024,
		SendBuffer:      32,
		ReadDeadline:    60 * time.Second,
		WriteDeadline:   10 * time.Second,
		StoreTimeout:    5 * time.Second,
	}
}

type Stats struct {
	Connections int64 `json:"connections"`
	Groups      int   `json:"groups"`
	Published   int64 `json:"published"`
	Replays     int64 `json:"replays"`
	Evictions   int64 `json:"evictions"`
	Dropped     int64 `json:"dropped"`
}

// Hub is the sync endpoint. Connect, Publish and Disconnect are safe to call
// concurrently from per-connection goroutines.
type Hub struct {
	registry    *registry.Registry
	store       store.Store
	identifier  *identity.Identifier
	broadcaster Broadcaster
	events      EventSink
	opts        Options
	Logger      *logger.Logger

	clients sync.Map // connection id -> *Client
	evict   chan *Client

	connections atomic.Int64
	published   atomic.Int64
	replays     atomic.Int64
	evictions   atomic.Int64
	dropped     atomic.Int64
}

func NewHub(reg *registry.Registry, st store.Store, identifier *identity.Identifier, opts Options, log *logger.Logger) *Hub {
	def := DefaultOptions()
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.ReadDeadline <= 0 {
		opts.ReadDeadline = def.ReadDeadline
	}
	if opts.WriteDeadline <= 0 {
		opts.WriteDeadline = def.WriteDeadline
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = def.StoreTimeout
	}
	if opts.Events == nil {
		opts.Events = NopSink{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if identifier == nil {
		identifier = &identity.Identifier{Policy: identity.AnonymousIsolated}
	}

	h := &Hub{
		registry:   reg,
		store:      st,
		identifier: identifier,
		events:     opts.Events,
		opts:       opts,
		Logger:     log,
		evict:      make(chan *Client, evictQueueSize),
	}
	h.broadcaster = opts.Broadcaster
	if h.broadcaster == nil {
		h.broadcaster = localBroadcaster{h}
	}
	return h
}

// Run drains the eviction queue until ctx is done. Clients whose send
// queue overflowed are disconnected here, off the publisher's path.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.evict:
			if h.Disconnect(client) {
				h.evictions.Add(1)
				h.Logger.WithField("connection_id", client.ID).Warnf("Evicted slow client of %s, last active %s",
					client.UserKey, client.LastActive().Format(time.RFC3339))
			}
		}
	}
}

// Connect joins the client to its user's group and replays the stored list
// to it. The client lock is held from Join until the replay is queued, so a
// concurrent publish for the same user is queued after the replay.
func (h *Hub) Connect(ctx context.Context, c *Client) {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	h.clients.Store(c.ID, c)
	if c.Syncing {
		h.registry.Join(c.ID, c.UserKey)
		h.replay(ctx, c)
	}
	c.state = StateJoined
	c.mu.Unlock()

	h.connections.Add(1)
	h.events.Emit(Event{Kind: EventJoined, UserKey: c.UserKey, ConnectionID: c.ID, Anonymous: c.Anonymous})
	h.Logger.WithField("connection_id", c.ID).Infof("Client connected: %s", c.UserKey)
}

// replay must be called with c.mu held.
func (h *Hub) replay(ctx context.Context, c *Client) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()

	payload, ok, err := h.store.Get(ctx, c.UserKey)
	if err != nil {
		h.Logger.WithError(err).Warnf("Replay lookup failed for %s", c.UserKey)
		return
	}
	if !ok {
		return
	}
	frame, err := message.EncodeReplace(payload)
	if err != nil {
		h.Logger.WithError(err).Error("Failed to encode replay")
		return
	}
	if err := c.enqueueLocked(frame); err != nil {
		h.Logger.WithError(err).Warnf("Replay to %s dropped", c.ID)
		return
	}
	h.replays.Add(1)
}

// Publish stores payload as the latest list for the client's user and sends
// it to the user's other connections. The sender never gets its own update.
// Lists under an ephemeral key are not stored, since no later connection
// can replay them.
//
// Put and Broadcast are not atomic per user: with concurrent publishers the
// store keeps the last Put while peers may receive the frames in the other
// order, so a peer can sit on an older list than a later replay returns
// until the next publish.
func (h *Hub) Publish(ctx context.Context, c *Client, payload string) error {
	if c.State() != StateJoined {
		return ErrNotJoined
	}
	if !c.Syncing {
		return ErrNotSyncing
	}
	if err := validatePayload(payload, h.opts.MaxPayloadBytes, h.opts.RequireJSON); err != nil {
		h.dropped.Add(1)
		return err
	}

	if !c.Ephemeral {
		putCtx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
		err := h.store.Put(putCtx, c.UserKey, payload)
		cancel()
		if err != nil {
			return fmt.Errorf("store list for %s: %w", c.UserKey, err)
		}
	}

	frame, err := message.EncodeReplace(payload)
	if err != nil {
		return fmt.Errorf("encode replace: %w", err)
	}
	delivered := h.broadcaster.Broadcast(c.UserKey, c.ID, frame)

	h.published.Add(1)
	h.events.Emit(Event{
		Kind:         EventSynced,
		UserKey:      c.UserKey,
		ConnectionID: c.ID,
		Anonymous:    c.Anonymous,
		Bytes:        len(payload),
		Delivered:    delivered,
	})
	h.Logger.WithField("connection_id", c.ID).Debugf("List of %s synced to %d peers", c.UserKey, delivered)
	return nil
}

// Disconnect leaves the group and closes the client's queue. It is safe to
// call more than once; only the first call reports true.
func (h *Hub) Disconnect(c *Client) bool {
	prev := c.disconnect()
	if prev == StateDisconnected {
		return false
	}
	if prev == StateJoined {
		if c.Syncing {
			h.registry.Leave(c.ID, c.UserKey)
		}
		h.clients.CompareAndDelete(c.ID, c)
		h.connections.Add(-1)
		h.events.Emit(Event{Kind: EventLeft, UserKey: c.UserKey, ConnectionID: c.ID, Anonymous: c.Anonymous})
		h.Logger.WithField("connection_id", c.ID).Infof("Client disconnected: %s", c.UserKey)
	}
	return true
}

// Snapshot returns the stored list for a user key.
func (h *Hub) Snapshot(ctx context.Context, userKey string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()
	return h.store.Get(ctx, userKey)
}

func (h *Hub) Stats() Stats {
	return Stats{
		Connections: h.connections.Load(),
		Groups:      h.registry.Stats().Groups,
		Published:   h.published.Load(),
		Replays:     h.replays.Load(),
		Evictions:   h.evictions.Load(),
		Dropped:     h.dropped.Load(),
	}
}
