// Package mock provides a scriptable [vad.Engine] for tests.
package mock

import (
	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/audio/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine  = (*Engine)(nil)
	_ vad.Session = (*Session)(nil)
)

// Engine produces sessions that replay a scripted voiced/unvoiced sequence.
type Engine struct {
	// Script is the voiced classification returned per frame, in order.
	// Frames past the end of the script are classified unvoiced.
	Script []bool
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{script: e.Script}, nil
}

// Session replays the engine's script.
type Session struct {
	script []bool
	pos    int
	voiced bool
}

// ProcessFrame implements [vad.Session].
func (s *Session) ProcessFrame(samples []int16) (vad.Event, error) {
	voiced := false
	if s.pos < len(s.script) {
		voiced = s.script[s.pos]
	}
	s.pos++

	ev := vad.Event{Voiced: voiced, Level: audio.PeakAmplitude(samples)}
	switch {
	case voiced && !s.voiced:
		ev.Type = vad.SpeechStart
	case voiced:
		ev.Type = vad.SpeechContinue
	case s.voiced:
		ev.Type = vad.SpeechEnd
	default:
		ev.Type = vad.Silence
	}
	s.voiced = voiced
	return ev, nil
}

// Reset implements [vad.Session].
func (s *Session) Reset() {
	s.pos = 0
	s.voiced = false
}

// Close implements [vad.Session].
func (s *Session) Close() error { return nil }
