// Package audio defines the core audio data types shared by every stage of
// the Kestrel pipeline.
//
// Frames are the atomic unit of audio transport — captured from the input
// device, cleaned by the signal processor chain, classified by VAD, and
// assembled into speech segments. A Frame is passed by value between stages;
// stages that mutate samples must call [Frame.Clone] first so that no two
// stages ever share a backing array.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSampleRate is the pipeline-wide capture rate in Hz. All processing
// stages assume 16 kHz mono 16-bit PCM.
const DefaultSampleRate = 16000

// ErrEmptyFrame is returned when a zero-sample frame enters a stage that
// requires audio data.
var ErrEmptyFrame = errors.New("audio: empty frame")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a compact human-readable description, e.g. "16000Hz/1ch".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// Frame is a fixed-size run of signed 16-bit mono samples tagged with a
// monotonically increasing sequence number and its capture time.
//
// A Frame is owned exclusively by the pipeline stage currently processing it.
// Stages receive frames by value and must not retain the Samples slice past
// the call unless they clone it.
type Frame struct {
	// Samples is the raw PCM data, one int16 per sample.
	Samples []int16

	// SampleRate in Hz. The capture loop produces frames at
	// [DefaultSampleRate]; any other rate is a configuration error.
	SampleRate int

	// Seq is the monotonically increasing capture sequence number.
	Seq uint64

	// Captured is the wall-clock time the frame was read from the device.
	Captured time.Time
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Clone returns a deep copy of the frame with its own backing array.
func (f Frame) Clone() Frame {
	out := f
	out.Samples = make([]int16, len(f.Samples))
	copy(out.Samples, f.Samples)
	return out
}
