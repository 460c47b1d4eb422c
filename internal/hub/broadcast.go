package hub

import "errors"

// Broadcaster fans a frame out to every connection of userKey except one.
// It returns how many connections accepted the frame locally.
type Broadcaster interface {
	Broadcast(userKey, except string, frame []byte) int
}

type localBroadcaster struct {
	h *Hub
}

func (b localBroadcaster) Broadcast(userKey, except string, frame []byte) int {
	return b.h.DeliverLocal(userKey, except, frame)
}

// DeliverLocal queues frame on this process's connections for userKey.
// A full queue counts as a failed transport: the member is scheduled for
// eviction and the remaining members are still served.
func (h *Hub) DeliverLocal(userKey, except string, frame []byte) int {
	delivered := 0
	for _, id := range h.registry.MembersExcept(userKey, except) {
		v, ok := h.clients.Load(id)
		if !ok {
			continue
		}
		client := v.(*Client)
		err := client.enqueue(frame)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, errSendQueueFull):
			h.scheduleEvict(client)
		}
	}
	return delivered
}

func (h *Hub) scheduleEvict(c *Client) {
	select {
	case h.evict <- c:
	default:
		go func() {
			if h.Disconnect(c) {
				h.evictions.Add(1)
			}
		}()
	}
}
