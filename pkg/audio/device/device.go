// Package device defines the interfaces for the single exclusively-owned
// audio device used by Kestrel.
//
// The two abstractions are:
//
//   - [Device] — opens capture and playback streams on the hardware.
//   - [CaptureStream] / [PlaybackStream] — an active stream in one direction.
//
// Hardware drivers (ALSA and friends) live outside this repository and plug
// in by implementing [Device]. The conversation state machine enforces that
// capture and playback are never active at the same time; implementations may
// additionally return [ErrDeviceBusy] as a defence if both directions are
// requested concurrently.
//
// This package lives under pkg/ because external driver adapters are expected
// to implement these interfaces.
package device

import (
	"context"
	"errors"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

// ErrDeviceBusy is returned when a stream is opened while the opposite
// direction is still active on the same device.
var ErrDeviceBusy = errors.New("device: capture and playback are mutually exclusive")

// ErrStreamClosed is returned by stream operations after Close.
var ErrStreamClosed = errors.New("device: stream closed")

// CaptureStream delivers microphone frames in strict capture order.
//
// The Frames channel is closed when the stream is closed or the device fails.
// Implementations run their own blocking I/O loop; callers must drain or
// close promptly to avoid overruns.
type CaptureStream interface {
	// Frames returns the channel of captured audio frames. Frames carry
	// monotonically increasing Seq values starting at the stream open.
	Frames() <-chan audio.Frame

	// Close stops capture and releases the device for the other direction.
	// Safe to call more than once.
	Close() error
}

// PlaybackStream accepts raw little-endian 16-bit PCM for playback.
type PlaybackStream interface {
	// Write queues PCM bytes for playback. Blocks only if the device buffer
	// is full. Returns ErrStreamClosed after Close.
	Write(pcm []byte) error

	// Drain blocks until all queued audio has been played out or ctx is
	// cancelled. Required before handing the device back to capture.
	Drain(ctx context.Context) error

	// Close stops playback, discarding any still-queued audio.
	// Safe to call more than once.
	Close() error
}

// Device opens exclusive streams on the audio hardware.
//
// Implementations must be safe for concurrent use, but only one direction may
// be active at a time.
type Device interface {
	// OpenCapture starts capturing frames in the given format.
	OpenCapture(ctx context.Context, format audio.Format) (CaptureStream, error)

	// OpenPlayback opens the device for playback in the given format.
	OpenPlayback(ctx context.Context, format audio.Format) (PlaybackStream, error)
}
