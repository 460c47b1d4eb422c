// internal/hub/messaging.go
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/erilali/readsync/internal/message"
)

func validatePayload(payload string, maxBytes int, requireJSON bool) error {
	if len(payload) > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxBytes)
	}
	if requireJSON && !json.Valid([]byte(payload)) {
		return ErrInvalidPayload
	}
	return nil
}

// HandleClientMessage decodes one inbound frame and publishes it. Nothing is
// reported back to the client; failures only cost that update.
func (h *Hub) HandleClientMessage(client *Client, frame []byte) {
	log := h.Logger.WithField("connection_id", client.ID)

	payload, err := message.DecodePublish(frame)
	if err != nil {
		h.dropped.Add(1)
		log.Warnf("Ignoring frame from %s: %v", client.UserKey, err)
		return
	}

	err = h.Publish(context.Background(), client, payload)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotSyncing), errors.Is(err, ErrNotJoined):
		log.Debugf("Ignoring publish: %v", err)
	default:
		log.Warnf("Publish from %s dropped: %v", client.UserKey, err)
	}
}
