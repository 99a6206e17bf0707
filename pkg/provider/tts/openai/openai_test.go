package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
)

// speechServer fakes the OpenAI speech endpoint: it records every request
// body and answers with fixed PCM bytes.
type speechServer struct {
	mu       sync.Mutex
	requests []map[string]any
	audio    []byte
}

func (s *speechServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		w.Write(s.audio)
	}
}

func (s *speechServer) recorded() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.requests))
	copy(out, s.requests)
	return out
}

// synthesize runs one text unit through the provider against the fake server
// and returns the request bodies it saw plus the collected audio.
func synthesize(t *testing.T, voice tts.VoiceProfile) ([]map[string]any, []byte) {
	t.Helper()

	fake := &speechServer{audio: []byte{0x01, 0x02, 0x03, 0x04}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	p, err := New("test-key", "", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	textCh := make(chan string, 1)
	textCh <- "hello there"
	close(textCh)

	audioCh, err := p.SynthesizeStream(context.Background(), textCh, voice)
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var audio []byte
	for chunk := range audioCh {
		audio = append(audio, chunk...)
	}
	return fake.recorded(), audio
}

func TestSynthesizeStreamSendsConfiguredVoice(t *testing.T) {
	reqs, audio := synthesize(t, tts.VoiceProfile{ID: "nova", Provider: "openai"})

	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if got := reqs[0]["voice"]; got != "nova" {
		t.Errorf("voice param = %v, want nova", got)
	}
	if got := reqs[0]["input"]; got != "hello there" {
		t.Errorf("input param = %v, want the text unit", got)
	}
	if !bytes.Equal(audio, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("audio = %v, want the response body", audio)
	}
}

func TestSynthesizeStreamVoiceFallsBackToName(t *testing.T) {
	reqs, _ := synthesize(t, tts.VoiceProfile{Name: "verse"})

	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if got := reqs[0]["voice"]; got != "verse" {
		t.Errorf("voice param = %v, want verse", got)
	}
}

func TestSynthesizeStreamEmptyProfileUsesDefaultVoice(t *testing.T) {
	reqs, _ := synthesize(t, tts.VoiceProfile{})

	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if got := reqs[0]["voice"]; got != DefaultVoice {
		t.Errorf("voice param = %v, want %q", got, DefaultVoice)
	}
}

func TestSampleRateIsFixedByTheResponseFormat(t *testing.T) {
	p, err := New("test-key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// The raw PCM response format is always 24 kHz mono regardless of the
	// playback format, so callers must resample.
	if got := p.SampleRate(); got != 24000 {
		t.Errorf("SampleRate = %d, want 24000", got)
	}
}
