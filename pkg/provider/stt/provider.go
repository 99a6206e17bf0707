// Package stt defines the provider interfaces for speech-to-text backends.
//
// Two shapes of backend exist. A streaming Provider wraps a realtime
// transcription service and exposes a session that accepts raw PCM audio and
// emits two streams of Transcript values: low-latency partials for UI
// feedback and authoritative finals for the conversation. A BatchProvider
// transcribes a complete speech segment in one call and suits backends
// without a streaming API, such as local whisper.cpp inference or the HTTP
// transcription endpoint.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// transcription session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The capture pipeline
	// produces 16000 Hz mono.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono, which is what
	// most transcription backends require.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// SessionHandle represents an open streaming transcription session. It is an
// interface so test code can provide mock implementations without a live
// provider connection.
//
// Callers must call Close when the session is no longer needed; failing to
// do so may leak goroutines and network connections inside the provider.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw little-endian 16-bit PCM bytes to
	// the provider. The chunk must match the format agreed in StreamConfig.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel emitting interim Transcript
	// values as the provider refines its guess. These drive live feedback
	// and must never be treated as authoritative. The channel is closed
	// when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel emitting authoritative Transcript
	// values once the provider commits to a result. The channel is closed
	// when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes pending audio, and releases
	// all resources. After Close returns, the Partials and Finals channels
	// will be closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over a streaming speech-to-text backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. The caller owns
	// the handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// BatchProvider transcribes a complete speech segment in a single call.
// Backends without a streaming API implement this instead of Provider.
type BatchProvider interface {
	// Transcribe converts one segment of raw little-endian 16-bit PCM bytes
	// into a final Transcript. The returned transcript always has IsFinal
	// set. An empty recognized text is a valid result, not an error.
	Transcribe(ctx context.Context, pcm []byte, cfg StreamConfig) (Transcript, error)
}
