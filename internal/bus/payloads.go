package bus

import (
	"encoding/json"
	"fmt"
)

// StateChanged is the payload of [TopicStateChanged].
type StateChanged struct {
	// From and To are conversation state names: "idle", "listening",
	// "speaking".
	From string `json:"from"`
	To   string `json:"to"`
}

// RecordingStarted is the payload of [TopicRecordingStarted].
type RecordingStarted struct {
	// UtteranceID correlates the recording with its later transcript.
	UtteranceID string `json:"utterance_id"`
}

// PlaybackStarted is the payload of [TopicPlaybackStarted].
type PlaybackStarted struct {
	// TurnID identifies the response turn being played.
	TurnID string `json:"turn_id"`
}

// FinalTranscript is the payload of [TopicTranscriptFinal].
type FinalTranscript struct {
	// UtteranceID identifies the speech segment this transcript came from.
	UtteranceID string `json:"utterance_id"`

	// Text is the authoritative transcribed content. May be empty when the
	// segment contained no recognizable speech.
	Text string `json:"text"`

	// Confidence is the provider's overall score, zero when unreported.
	Confidence float64 `json:"confidence,omitempty"`

	// Speaker attribution. UserID is empty when verification is disabled,
	// timed out, or found no match; Similarity and ConfidenceLevel are only
	// meaningful when UserID is set.
	UserID          string  `json:"user_id,omitempty"`
	Similarity      float64 `json:"similarity,omitempty"`
	ConfidenceLevel string  `json:"confidence_level,omitempty"`

	// Embedding is the raw query embedding, attached only when configured.
	Embedding []float64 `json:"embedding,omitempty"`
}

// ResponseChunk is the payload of [TopicResponseChunk].
type ResponseChunk struct {
	// TurnID groups chunks belonging to one response turn.
	TurnID string `json:"turn_id"`

	// Seq is the chunk's sequence index within the turn, starting at 0.
	Seq int `json:"seq"`

	// Text is the chunk's text content. Empty for audio chunks.
	Text string `json:"text,omitempty"`

	// Audio is base64-encoded pre-synthesised audio. When set, the chunk
	// bypasses text aggregation entirely.
	Audio string `json:"audio,omitempty"`

	// Encoding names the audio codec when Audio is set: "pcm16" or "opus".
	Encoding string `json:"encoding,omitempty"`
}

// ResponseCompleted is the payload of [TopicResponseCompleted].
type ResponseCompleted struct {
	TurnID string `json:"turn_id"`
}

// InputActivation is the payload of [TopicInputActivation]: the push-to-talk
// control surface.
type InputActivation struct {
	// Action is "press" or "release".
	Action string `json:"action"`
}

// DecodePayload decodes an envelope payload into the typed representation
// for its topic and validates the required fields. Unknown topics return an
// error; callers dispatching on a prefix should check the exact topic first.
func DecodePayload(e *Envelope) (any, error) {
	switch e.Topic {
	case TopicStateChanged:
		var p StateChanged
		if err := decodeInto(e, &p); err != nil {
			return nil, err
		}
		if p.From == "" || p.To == "" {
			return nil, fmt.Errorf("bus: %s payload missing from/to", e.Topic)
		}
		return p, nil

	case TopicRecordingStarted:
		var p RecordingStarted
		if err := decodeInto(e, &p); err != nil {
			return nil, err
		}
		if p.UtteranceID == "" {
			return nil, fmt.Errorf("bus: %s payload missing utterance_id", e.Topic)
		}
		return p, nil

	case TopicPlaybackStarted:
		var p PlaybackStarted
		if err := decodeInto(e, &p); err != nil {
			return nil, err
		}
		if p.TurnID == "" {
			return nil, fmt.Errorf("bus: %s payload missing turn_id", e.Topic)
		}
		return p, nil

	case TopicTranscriptFinal:
		var p FinalTranscript
		if err := decodeInto(e, &p); err != nil {
			return nil, err
		}
		if p.UtteranceID == "" {
			return nil, fmt.Errorf("bus: %s payload missing utterance_id", e.Topic)
		}
		return p, nil

	case TopicResponseChunk:
		var p ResponseChunk
		if err := decodeInto(e, &p); err != nil {
			return nil, err
		}
		if p.TurnID == "" {
			return nil, fmt.Errorf("bus: %s payload missing turn_id", e.Topic)
		}
		if p.Seq < 0 {
			return nil, fmt.Errorf("bus: %s payload has negative seq %d", e.Topic, p.Seq)
		}
		if p.Audio != "" && p.Encoding == "" {
			return nil, fmt.Errorf("bus: %s audio chunk missing encoding", e.Topic)
		}
		return p, nil

	case TopicResponseCompleted:
		var p ResponseCompleted
		if err := decodeInto(e, &p); err != nil {
			return nil, err
		}
		if p.TurnID == "" {
			return nil, fmt.Errorf("bus: %s payload missing turn_id", e.Topic)
		}
		return p, nil

	case TopicInputActivation:
		var p InputActivation
		if err := decodeInto(e, &p); err != nil {
			return nil, err
		}
		if p.Action != "press" && p.Action != "release" {
			return nil, fmt.Errorf("bus: %s payload has unknown action %q", e.Topic, p.Action)
		}
		return p, nil
	}

	return nil, fmt.Errorf("bus: no payload type registered for topic %q", e.Topic)
}

func decodeInto(e *Envelope, v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("bus: decode %s payload: %w", e.Topic, err)
	}
	return nil
}
