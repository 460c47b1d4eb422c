// internal/message/message.go
// Wire envelopes exchanged over the reading-list websocket.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

const Version = "1.0"

const (
	TypePublish = "publish" // client -> server
	TypeReplace = "replace" // server -> client
)

var ErrUnsupportedType = errors.New("unsupported message type")

// Envelope is the frame format in both directions. Data carries the list
// payload verbatim; the server never interprets it.
type Envelope struct {
	Version string `json:"version"`
	Type    string `json:"type"`
	Data    string `json:"data"`
}

// DecodePublish parses a client frame. Only publish frames are accepted.
func DecodePublish(frame []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	if env.Type != TypePublish {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
	return env.Data, nil
}

func EncodeReplace(payload string) ([]byte, error) {
	return json.Marshal(Envelope{Version: Version, Type: TypeReplace, Data: payload})
}

func EncodePublish(payload string) ([]byte, error) {
	return json.Marshal(Envelope{Version: Version, Type: TypePublish, Data: payload})
}
