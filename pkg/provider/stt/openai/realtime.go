// Package openai implements the stt provider interfaces against OpenAI's
// transcription APIs.
//
// RealtimeProvider speaks the Realtime transcription protocol over a
// bidirectional WebSocket: audio is transmitted as base64-encoded PCM16
// chunks via input_audio_buffer.append events, and the server pushes
// transcription delta and completed events back. BatchTranscriber uses the
// HTTP transcription endpoint for segment-at-a-time recognition.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
)

// Compile-time assertions that RealtimeProvider and session satisfy the stt
// interfaces.
var _ stt.Provider = (*RealtimeProvider)(nil)
var _ stt.SessionHandle = (*session)(nil)

const (
	defaultRealtimeModel = "gpt-4o-mini-transcribe"
	defaultRealtimeURL   = "wss://api.openai.com/v1/realtime"
)

// ── Options ────────────────────────────────────────────────────────────────────

// RealtimeOption is a functional option for configuring a RealtimeProvider.
type RealtimeOption func(*RealtimeProvider)

// WithRealtimeModel sets the transcription model used for sessions.
func WithRealtimeModel(model string) RealtimeOption {
	return func(p *RealtimeProvider) { p.model = model }
}

// WithRealtimeURL overrides the base WebSocket URL. Primarily used in tests
// to point at a local mock server.
func WithRealtimeURL(url string) RealtimeOption {
	return func(p *RealtimeProvider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// RealtimeProvider implements stt.Provider for OpenAI's Realtime
// transcription API.
type RealtimeProvider struct {
	apiKey  string
	model   string
	baseURL string
}

// NewRealtime creates a new Realtime transcription provider with the given
// API key and options.
func NewRealtime(apiKey string, opts ...RealtimeOption) *RealtimeProvider {
	p := &RealtimeProvider{
		apiKey:  apiKey,
		model:   defaultRealtimeModel,
		baseURL: defaultRealtimeURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StartStream establishes a new Realtime transcription session. The returned
// SessionHandle is ready to accept audio once the transcription_session.update
// message has been sent.
func (p *RealtimeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL := fmt.Sprintf("%s?intent=transcription", p.baseURL)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	if err := sess.sendSessionUpdate(p.model, cfg.Language); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	InputAudioFormat        string              `json:"input_audio_format"`
	InputAudioTranscription transcriptionParams `json:"input_audio_transcription"`
}

type transcriptionParams struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type commitAudioMessage struct {
	Type string `json:"type"`
}

// serverErrorDetail represents the nested error object in a Realtime error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// conversation.item.input_audio_transcription.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu     sync.Mutex
	errVal error
	closed bool

	// currentText accumulates transcription delta events so each partial
	// carries the full text recognized so far for the current item.
	currentText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures the audio format and transcription model.
func (s *session) sendSessionUpdate(model, language string) error {
	return s.writeJSON(sessionUpdateMessage{
		Type: "transcription_session.update",
		Session: sessionParams{
			InputAudioFormat: "pcm16",
			InputAudioTranscription: transcriptionParams{
				Model:    model,
				Language: language,
			},
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns partials and finals: it closes both when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "conversation.item.input_audio_transcription.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.currentText += evt.Delta
		text := s.currentText
		s.mu.Unlock()

		select {
		case s.partials <- stt.Transcript{Text: text}:
		case <-s.ctx.Done():
		}

	case "conversation.item.input_audio_transcription.completed":
		s.mu.Lock()
		s.currentText = ""
		s.mu.Unlock()

		// An empty transcript is still an authoritative result: the item
		// contained no recognizable speech.
		select {
		case s.finals <- stt.Transcript{Text: evt.Transcript, IsFinal: true}:
		case <-s.ctx.Done():
		}

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.setErr(fmt.Errorf("openai: %s", msg))
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.partials)
		close(s.finals)
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 audio chunk to the transcription session.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("openai: session closed")
	}
	s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(chunk)
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: encoded,
	})
}

// Partials returns the channel on which interim transcripts arrive.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the channel on which authoritative transcripts arrive.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close commits any buffered audio, terminates the session and releases all
// resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Best effort: ask the server to finalize whatever audio is buffered
	// before tearing the connection down.
	_ = s.writeJSON(commitAudioMessage{Type: "input_audio_buffer.commit"})

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
