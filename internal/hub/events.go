package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/nats-io/nats.go"

	"github.com/erilali/readsync/internal/logger"
)

type EventKind string

const (
	EventJoined EventKind = "joined"
	EventLeft   EventKind = "left"
	EventSynced EventKind = "synced"
)

const (
	SubjectPrefix  = "readinglist"
	StreamSubjects = SubjectPrefix + ".>"
)

type Event struct {
	Kind         EventKind `json:"kind"`
	UserKey      string    `json:"user_key"`
	ConnectionID string    `json:"connection_id"`
	Anonymous    bool      `json:"anonymous,omitempty"`
	Bytes        int       `json:"bytes,omitempty"`
	Delivered    int       `json:"delivered,omitempty"`
	Timestamp    int64     `json:"timestamp"`
}

// EventSink receives hub lifecycle events. Emit must not block the caller
// for long; it runs on the connection's goroutine.
type EventSink interface {
	Emit(Event)
}

type NopSink struct{}

func (NopSink) Emit(Event) {}

// Subject builds the subject for an event. User keys are hashed because they
// may contain dots, which NATS treats as token separators.
func Subject(kind EventKind, userKey string) string {
	return fmt.Sprintf("%s.%s.%016x", SubjectPrefix, kind, xxhash.Sum64String(userKey))
}

// JetStreamSink journals events to JetStream without waiting for acks.
type JetStreamSink struct {
	js     nats.JetStreamContext
	Logger *logger.Logger
}

func NewJetStreamSink(js nats.JetStreamContext, log *logger.Logger) *JetStreamSink {
	return &JetStreamSink{js: js, Logger: log}
}

func (s *JetStreamSink) Emit(ev Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.Logger.Errorf("Failed to marshal %s event: %v", ev.Kind, err)
		return
	}
	if _, err := s.js.PublishAsync(Subject(ev.Kind, ev.UserKey), data); err != nil {
		s.Logger.Errorf("Failed to publish %s event to NATS: %v", ev.Kind, err)
	}
}
