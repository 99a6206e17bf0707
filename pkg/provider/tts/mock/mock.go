// Package mock provides a test double for the tts.Provider interface.
//
// The provider echoes each consumed text unit back as a deterministic audio
// chunk, so tests can verify both what was synthesised and in which order.
package mock

import (
	"context"
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
)

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// AudioFor maps a text unit to the audio bytes emitted for it. Units
	// with no entry emit the unit's own bytes, which keeps assertions
	// readable in tests.
	AudioFor map[string][]byte

	// StartErr, if non-nil, is returned as the error from SynthesizeStream.
	StartErr error

	// Synthesized records every text unit consumed, in order.
	Synthesized []string

	// Voices records the voice passed to each SynthesizeStream call.
	Voices []tts.VoiceProfile

	// Rate is reported by SampleRate. Zero means the playback rate, so
	// tests that do not exercise resampling stay byte-exact.
	Rate int
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.Rate }

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	if p.StartErr != nil {
		defer p.mu.Unlock()
		return nil, p.StartErr
	}
	p.Voices = append(p.Voices, voice)
	p.mu.Unlock()

	audioCh := make(chan []byte, 16)
	go func() {
		defer close(audioCh)
		for {
			select {
			case <-ctx.Done():
				return
			case unit, ok := <-text:
				if !ok {
					return
				}
				p.mu.Lock()
				p.Synthesized = append(p.Synthesized, unit)
				chunk, found := p.AudioFor[unit]
				p.mu.Unlock()
				if !found {
					chunk = []byte(unit)
				}
				select {
				case audioCh <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return audioCh, nil
}

// RequestedVoices returns a copy of the voices passed to SynthesizeStream so
// far. Thread-safe.
func (p *Provider) RequestedVoices() []tts.VoiceProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.VoiceProfile, len(p.Voices))
	copy(out, p.Voices)
	return out
}

// SynthesizedUnits returns a copy of the units consumed so far. Thread-safe.
func (p *Provider) SynthesizedUnits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Synthesized))
	copy(out, p.Synthesized)
	return out
}
