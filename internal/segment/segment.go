// Package segment turns the processed frame stream into discrete speech
// segments.
//
// The segmenter consumes frames synchronously in the capture loop together
// with their VAD classification. It declares speech start on the first
// voiced frame after a run of silence, and speech end once a configurable
// trailing-silence window has elapsed with the amplitude below the
// configured threshold. Segments shorter than the minimum speech length are
// discarded without ever reaching the transcription path — this is a
// deliberate cost and accuracy filter, not an error.
package segment

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/audio/apm"
	"github.com/kestrelvoice/kestrel/pkg/audio/vad"
)

// EventType classifies segmenter events.
type EventType int

const (
	// SpeechStart marks the first voiced frame of a new segment.
	SpeechStart EventType = iota

	// SpeechEnd marks a completed segment that passed the length filter.
	SpeechEnd
)

// Event is emitted by [Segmenter.ProcessFrame] when an utterance boundary is
// detected.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// Segment is set on SpeechEnd only.
	Segment *Segment
}

// Segment is an ordered run of frames bounded by detected speech start and
// end. Its duration is always at least the configured minimum speech length;
// shorter candidates are discarded before an Event is produced.
type Segment struct {
	// ID is the utterance identifier used to correlate transcripts.
	ID string

	// Frames in strict capture order.
	Frames []audio.Frame

	// Start and End are the capture timestamps of the boundary frames.
	Start, End time.Time
}

// Duration returns the total audio length of the segment.
func (s *Segment) Duration() time.Duration {
	var d time.Duration
	for _, f := range s.Frames {
		d += f.Duration()
	}
	return d
}

// PCM returns the segment audio as contiguous little-endian 16-bit bytes.
func (s *Segment) PCM() []byte {
	total := 0
	for _, f := range s.Frames {
		total += len(f.Samples)
	}
	samples := make([]int16, 0, total)
	for _, f := range s.Frames {
		samples = append(samples, f.Samples...)
	}
	return audio.Int16sToBytes(samples)
}

// Config holds the segmentation policy.
type Config struct {
	// MinSpeechLength is the minimum duration a segment must reach to be
	// emitted. Shorter segments are dropped silently.
	MinSpeechLength time.Duration

	// TrailingSilence is how long the signal must stay silent before a
	// segment is closed.
	TrailingSilence time.Duration

	// SilenceAmplitudeThreshold is the normalised peak level below which a
	// frame counts toward the trailing-silence window.
	SilenceAmplitudeThreshold float64

	// EdgeFadeEnabled applies short boundary ramps when the segment is
	// assembled, so spliced segment audio does not click.
	EdgeFadeEnabled bool

	// SampleRate of the incoming frames, used to size the edge fade.
	SampleRate int
}

// Validate reports whether cfg is usable.
func (c Config) Validate() error {
	if c.MinSpeechLength < 0 {
		return fmt.Errorf("segment: min speech length %v is negative", c.MinSpeechLength)
	}
	if c.TrailingSilence <= 0 {
		return fmt.Errorf("segment: trailing silence %v must be positive", c.TrailingSilence)
	}
	if c.SilenceAmplitudeThreshold < 0 || c.SilenceAmplitudeThreshold > 1 {
		return fmt.Errorf("segment: silence amplitude threshold %v out of range [0, 1]", c.SilenceAmplitudeThreshold)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("segment: sample rate %d is invalid", c.SampleRate)
	}
	return nil
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithDiscardHandler installs a callback invoked when a too-short segment is
// dropped. Used to feed the discard metric.
func WithDiscardHandler(fn func(*Segment)) Option {
	return func(s *Segmenter) { s.onDiscard = fn }
}

// Segmenter accumulates frames into speech segments. It runs synchronously
// in the capture loop and is not safe for concurrent use.
type Segmenter struct {
	cfg   Config
	fader *apm.Fader

	inSpeech  bool
	frames    []audio.Frame
	start     time.Time
	silentFor time.Duration
	onDiscard func(*Segment)
}

// New creates a Segmenter with the given policy.
func New(cfg Config, opts ...Option) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Segmenter{cfg: cfg}
	if cfg.EdgeFadeEnabled {
		s.fader = apm.NewFader(cfg.SampleRate, apm.DefaultFadeDuration)
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ProcessFrame advances the segmenter with one processed frame and its VAD
// event. It returns a non-nil Event at utterance boundaries and nil
// otherwise.
func (s *Segmenter) ProcessFrame(frame audio.Frame, ev vad.Event) *Event {
	if !s.inSpeech {
		if !ev.Voiced {
			return nil
		}
		// Speech start: declared on the first voiced frame after silence.
		s.inSpeech = true
		s.frames = append(s.frames[:0], frame)
		s.start = frame.Captured
		s.silentFor = 0
		return &Event{Type: SpeechStart, Timestamp: frame.Captured}
	}

	s.frames = append(s.frames, frame)

	if ev.Voiced || ev.Level >= s.cfg.SilenceAmplitudeThreshold {
		s.silentFor = 0
		return nil
	}

	s.silentFor += frame.Duration()
	if s.silentFor < s.cfg.TrailingSilence {
		return nil
	}
	return s.finish(frame.Captured)
}

// Flush force-closes any in-progress segment, e.g. when push-to-talk is
// released. Returns the SpeechEnd event, or nil if nothing was in progress
// or the segment was too short.
func (s *Segmenter) Flush() *Event {
	if !s.inSpeech {
		return nil
	}
	ts := time.Now()
	if n := len(s.frames); n > 0 {
		ts = s.frames[n-1].Captured
	}
	return s.finish(ts)
}

func (s *Segmenter) finish(end time.Time) *Event {
	frames := make([]audio.Frame, len(s.frames))
	copy(frames, s.frames)
	s.inSpeech = false
	s.frames = s.frames[:0]
	s.silentFor = 0

	seg := &Segment{
		ID:     uuid.NewString(),
		Frames: frames,
		Start:  s.start,
		End:    end,
	}

	if seg.Duration() < s.cfg.MinSpeechLength {
		slog.Debug("segment: discarding short segment",
			"duration", seg.Duration(),
			"min", s.cfg.MinSpeechLength,
		)
		if s.onDiscard != nil {
			s.onDiscard(seg)
		}
		return nil
	}

	if s.fader != nil && len(seg.Frames) > 0 {
		first := seg.Frames[0].Clone()
		s.fader.FadeIn(first.Samples)
		seg.Frames[0] = first

		last := seg.Frames[len(seg.Frames)-1].Clone()
		s.fader.FadeOut(last.Samples)
		seg.Frames[len(seg.Frames)-1] = last
	}

	return &Event{Type: SpeechEnd, Timestamp: end, Segment: seg}
}

// Active reports whether a segment is currently being accumulated.
func (s *Segmenter) Active() bool { return s.inSpeech }

// Reset drops any in-progress segment without emitting an event.
func (s *Segmenter) Reset() {
	s.inSpeech = false
	s.frames = s.frames[:0]
	s.silentFor = 0
}
