// Package apm implements the audio preprocessing chain applied to streaming
// microphone frames before they reach voice activity detection and
// transcription.
//
// The chain is an ordered list of [Stage] transforms: DC removal, speech
// high-pass, declicking, spectral noise suppression, automatic gain control,
// and RMS normalization. Each stage can be disabled individually through
// [Config] without reordering the others, and each carries its own filter
// state across frames so there are no discontinuities at frame boundaries.
//
// Failure semantics: a malformed frame (wrong sample count or rate) fails
// fast with [FrameError]; a stage that cannot process a frame passes the
// frame through unmodified and reports a [StageError] to the configured
// handler instead of dropping audio.
package apm

import (
	"fmt"
	"log/slog"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

// Config is the immutable processing snapshot for one session. Build a new
// Config and a new [Chain] to change parameters; never mutate in place.
type Config struct {
	// SampleRate of incoming frames in Hz.
	SampleRate int

	// FrameSize is the exact number of samples per frame. Frames of any
	// other size are rejected.
	FrameSize int

	// DCRemovalEnabled inserts a DC-blocking filter ahead of the high-pass.
	DCRemovalEnabled bool

	// HighPassEnabled toggles the 2nd-order speech high-pass filter.
	HighPassEnabled bool

	// HighPassCutoffHz is the high-pass cutoff. Default 70 Hz.
	HighPassCutoffHz float64

	// DeclickingEnabled toggles median/MAD single-sample click removal.
	DeclickingEnabled bool

	// NoiseSuppressionLevel selects spectral suppression aggressiveness,
	// 0 (off) to 3 (strong).
	NoiseSuppressionLevel int

	// AGCEnabled toggles automatic gain control.
	AGCEnabled bool

	// NormalizationEnabled toggles RMS normalization with peak limiting.
	NormalizationEnabled bool

	// TargetRMSDBFS is the normalization target level. Default -20 dBFS.
	TargetRMSDBFS float64

	// PeakLimitDBFS is the hard peak ceiling applied after gain scaling.
	// Default -3 dBFS.
	PeakLimitDBFS float64
}

// Defaults mirrored from the production tuning of the reference chain.
const (
	DefaultHighPassCutoffHz = 70.0
	DefaultTargetRMSDBFS    = -20.0
	DefaultPeakLimitDBFS    = -3.0
)

// FrameError reports a malformed input frame. This is a configuration-level
// failure: the capture format and the chain config disagree.
type FrameError struct {
	Want, Got int
	Field     string // "samples" or "sample_rate"
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("apm: frame %s mismatch: got %d, want %d", e.Field, e.Got, e.Want)
}

// StageError reports a non-fatal stage failure. The frame was passed through
// unmodified; the error exists for observability only.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("apm: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage is a single audio transform. Process receives normalised float64
// samples and returns the transformed samples, which must have the same
// length. Stages are called from the audio capture goroutine only, so they
// need not be safe for concurrent use.
type Stage interface {
	// Name identifies the stage in logs and metrics.
	Name() string

	// Process transforms one frame of normalised samples. Implementations
	// may modify buf in place and return it, or return a new slice.
	Process(buf []float64) ([]float64, error)

	// Reset clears carried filter state, e.g. when the stream restarts.
	Reset()
}

// Option configures a [Chain] during construction.
type Option func(*Chain)

// WithStageErrorHandler installs a callback invoked whenever a stage fails
// and its frame is passed through. Used to feed the stage-error metric.
func WithStageErrorHandler(fn func(*StageError)) Option {
	return func(c *Chain) { c.onStageError = fn }
}

// WithAppendedStage appends a custom stage after the built-in ones.
// Primarily used by tests to inject failing stages.
func WithAppendedStage(s Stage) Option {
	return func(c *Chain) { c.extra = append(c.extra, s) }
}

// Chain applies the configured stages to each frame in fixed order.
// Not safe for concurrent use; the capture loop owns it.
type Chain struct {
	cfg          Config
	stages       []Stage
	extra        []Stage
	onStageError func(*StageError)
}

// New validates cfg, instantiates the enabled stages in their fixed order,
// and returns the ready chain.
func New(cfg Config, opts ...Option) (*Chain, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("apm: sample rate %d is invalid", cfg.SampleRate)
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("apm: frame size %d is invalid", cfg.FrameSize)
	}
	if cfg.HighPassCutoffHz == 0 {
		cfg.HighPassCutoffHz = DefaultHighPassCutoffHz
	}
	if cfg.HighPassCutoffHz < 0 || cfg.HighPassCutoffHz >= float64(cfg.SampleRate)/2 {
		return nil, fmt.Errorf("apm: high-pass cutoff %.1f Hz out of range (0, %d)", cfg.HighPassCutoffHz, cfg.SampleRate/2)
	}
	if cfg.NoiseSuppressionLevel < 0 || cfg.NoiseSuppressionLevel > 3 {
		return nil, fmt.Errorf("apm: noise suppression level %d out of range 0..3", cfg.NoiseSuppressionLevel)
	}
	if cfg.TargetRMSDBFS == 0 {
		cfg.TargetRMSDBFS = DefaultTargetRMSDBFS
	}
	if cfg.PeakLimitDBFS == 0 {
		cfg.PeakLimitDBFS = DefaultPeakLimitDBFS
	}
	if cfg.TargetRMSDBFS > 0 || cfg.PeakLimitDBFS > 0 {
		return nil, fmt.Errorf("apm: target %.1f / peak %.1f dBFS must be negative", cfg.TargetRMSDBFS, cfg.PeakLimitDBFS)
	}

	c := &Chain{cfg: cfg}
	for _, o := range opts {
		o(c)
	}

	if cfg.DCRemovalEnabled {
		c.stages = append(c.stages, newDCRemoval(cfg.SampleRate))
	}
	if cfg.HighPassEnabled {
		c.stages = append(c.stages, newHighPass(cfg.SampleRate, cfg.HighPassCutoffHz))
	}
	if cfg.DeclickingEnabled {
		c.stages = append(c.stages, newDeclicker())
	}
	if cfg.NoiseSuppressionLevel > 0 {
		c.stages = append(c.stages, newNoiseSuppressor(cfg.SampleRate, cfg.NoiseSuppressionLevel))
	}
	if cfg.AGCEnabled {
		c.stages = append(c.stages, newAGC(cfg.SampleRate, cfg.FrameSize))
	}
	if cfg.NormalizationEnabled {
		c.stages = append(c.stages, newNormalizer(cfg.TargetRMSDBFS, cfg.PeakLimitDBFS))
	}
	c.stages = append(c.stages, c.extra...)
	return c, nil
}

// Process runs all enabled stages over one frame and returns the processed
// frame with the same sequence number and timestamp. The frame length and
// sample rate are always preserved.
func (c *Chain) Process(frame audio.Frame) (audio.Frame, error) {
	if frame.SampleRate != c.cfg.SampleRate {
		return frame, &FrameError{Field: "sample_rate", Got: frame.SampleRate, Want: c.cfg.SampleRate}
	}
	if len(frame.Samples) != c.cfg.FrameSize {
		return frame, &FrameError{Field: "samples", Got: len(frame.Samples), Want: c.cfg.FrameSize}
	}

	buf := audio.SamplesToFloat64(frame.Samples)
	for _, s := range c.stages {
		out, err := s.Process(buf)
		if err == nil && len(out) != len(buf) {
			err = fmt.Errorf("length changed from %d to %d", len(buf), len(out))
		}
		if err != nil {
			serr := &StageError{Stage: s.Name(), Err: err}
			slog.Warn("apm: stage failed, passing frame through", "stage", s.Name(), "err", err)
			if c.onStageError != nil {
				c.onStageError(serr)
			}
			continue // frame continues unmodified through this stage
		}
		buf = out
	}

	out := frame
	out.Samples = audio.Float64ToSamples(buf)
	return out, nil
}

// Reset clears the carried state of every stage. Call when the capture
// stream restarts.
func (c *Chain) Reset() {
	for _, s := range c.stages {
		s.Reset()
	}
}

// Stages returns the names of the active stages in processing order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}
