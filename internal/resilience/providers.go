package resilience

import (
	"context"

	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
)

// Compile-time interface assertions.
var (
	_ stt.BatchProvider = (*BatchSTTChain)(nil)
	_ stt.Provider      = (*StreamSTTChain)(nil)
	_ tts.Provider      = (*SynthChain)(nil)
)

// BatchSTTChain implements [stt.BatchProvider] with failover across several
// batch transcription backends.
type BatchSTTChain struct {
	chain *Chain[stt.BatchProvider]
}

// NewBatchSTTChain creates a [BatchSTTChain] with primary as the preferred
// backend.
func NewBatchSTTChain(name string, primary stt.BatchProvider, cfg ChainConfig) *BatchSTTChain {
	return &BatchSTTChain{chain: NewChain(name, primary, cfg)}
}

// Add registers an additional batch backend, tried after the primary.
func (c *BatchSTTChain) Add(name string, p stt.BatchProvider) {
	c.chain.Add(name, p)
}

// Transcribe converts the segment using the first healthy backend.
func (c *BatchSTTChain) Transcribe(ctx context.Context, pcm []byte, cfg stt.StreamConfig) (stt.Transcript, error) {
	return DoWith(c.chain, func(p stt.BatchProvider) (stt.Transcript, error) {
		return p.Transcribe(ctx, pcm, cfg)
	})
}

// StreamSTTChain implements [stt.Provider] with failover across several
// streaming transcription backends. Only session setup is covered; once a
// session is open, mid-stream errors belong to the caller.
type StreamSTTChain struct {
	chain *Chain[stt.Provider]
}

// NewStreamSTTChain creates a [StreamSTTChain] with primary as the preferred
// backend.
func NewStreamSTTChain(name string, primary stt.Provider, cfg ChainConfig) *StreamSTTChain {
	return &StreamSTTChain{chain: NewChain(name, primary, cfg)}
}

// Add registers an additional streaming backend, tried after the primary.
func (c *StreamSTTChain) Add(name string, p stt.Provider) {
	c.chain.Add(name, p)
}

// StartStream opens a session against the first healthy backend.
func (c *StreamSTTChain) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return DoWith(c.chain, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// SynthChain implements [tts.Provider] with failover across several synthesis
// backends. Only stream setup is covered; errors after the audio channel is
// handed out belong to the caller.
type SynthChain struct {
	chain *Chain[tts.Provider]
}

// NewSynthChain creates a [SynthChain] with primary as the preferred backend.
func NewSynthChain(name string, primary tts.Provider, cfg ChainConfig) *SynthChain {
	return &SynthChain{chain: NewChain(name, primary, cfg)}
}

// Add registers an additional synthesis backend, tried after the primary.
func (c *SynthChain) Add(name string, p tts.Provider) {
	c.chain.Add(name, p)
}

// SampleRate reports the primary backend's PCM output rate. Fallback
// backends must synthesise at the same rate; mixing rates within one chain
// would make playback depend on which backend answered.
func (c *SynthChain) SampleRate() int {
	return c.chain.links[0].backend.SampleRate()
}

// SynthesizeStream starts synthesis on the first healthy backend.
func (c *SynthChain) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return DoWith(c.chain, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}
