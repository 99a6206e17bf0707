// Package bus implements the JSON event envelope and the websocket broker
// client that carries it.
//
// Every message on the bus is wrapped in an [Envelope] with a hierarchical
// dot-separated topic. Subscriptions match by topic prefix, so subscribing
// to "kestrel.response" receives both "kestrel.response.chunk" and
// "kestrel.response.completed". Delivery is at-most-once: the bus offers no
// persistence and no redelivery.
package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the wire schema version stamped on every message.
const EnvelopeVersion = 1

// Topics published by Kestrel.
const (
	TopicStateChanged     = "kestrel.state.changed"
	TopicRecordingStarted = "kestrel.recording.started"
	TopicPlaybackStarted  = "kestrel.playback.started"
	TopicTranscriptFinal  = "kestrel.transcript.final"
)

// Topics Kestrel subscribes to.
const (
	TopicResponseChunk     = "kestrel.response.chunk"
	TopicResponseCompleted = "kestrel.response.completed"
	TopicInputActivation   = "kestrel.input.activation"
)

// Envelope is the wire format for every bus message.
type Envelope struct {
	// Version is the envelope schema version.
	Version int `json:"version"`

	// Topic is the hierarchical dot-separated message topic.
	Topic string `json:"topic"`

	// MessageID uniquely identifies this message.
	MessageID string `json:"message_id"`

	// Source identifies the publishing component.
	Source string `json:"source"`

	// TimestampMs is the publish time in Unix milliseconds.
	TimestampMs int64 `json:"timestamp_ms"`

	// Payload is the topic-specific message body. Decode it with
	// [DecodePayload] to get the typed representation.
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload for topic, stamping a fresh message ID and the
// current time.
func NewEnvelope(topic, source string, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("bus: marshal payload for %s: %w", topic, err)
	}
	return &Envelope{
		Version:     EnvelopeVersion,
		Topic:       topic,
		MessageID:   uuid.NewString(),
		Source:      source,
		TimestampMs: time.Now().UnixMilli(),
		Payload:     body,
	}, nil
}

// Validate reports whether e is structurally sound.
func (e *Envelope) Validate() error {
	if e.Version != EnvelopeVersion {
		return fmt.Errorf("bus: unsupported envelope version %d", e.Version)
	}
	if e.Topic == "" {
		return fmt.Errorf("bus: envelope has no topic")
	}
	if e.MessageID == "" {
		return fmt.Errorf("bus: envelope has no message_id")
	}
	return nil
}

// TopicMatches reports whether topic falls under the given subscription
// prefix. A prefix matches itself and any deeper topic separated by a dot.
func TopicMatches(prefix, topic string) bool {
	if prefix == topic {
		return true
	}
	return strings.HasPrefix(topic, prefix+".")
}
