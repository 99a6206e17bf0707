// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service and presents a uniform
// streaming interface. The primary entry point is SynthesizeStream, which
// accepts a channel of text units and returns a channel of raw PCM audio
// bytes as they become available, enabling low-latency pipelining between
// response aggregation and playback.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text units from the text channel and returns
	// a channel that emits raw PCM audio byte slices as they are
	// synthesised. This lets the caller pipe sentence-sized response units
	// directly into synthesis without waiting for the full response.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's internal
	// goroutines.
	//
	// voice specifies the voice profile to use. Providers should return an
	// error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio
	// channel early; callers should check ctx.Err() to distinguish
	// cancellation from provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// SampleRate reports the rate, in Hz, of the mono 16-bit little-endian
	// PCM emitted on the audio channel. Callers playing through a device
	// opened at a different rate must resample; backends do not adapt their
	// output to the requested voice profile's rate.
	SampleRate() int
}
