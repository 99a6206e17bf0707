package vad

import (
	"errors"
	"fmt"
	"math"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ Engine  = (*EnergyEngine)(nil)
	_ Session = (*energySession)(nil)
)

// ErrSessionClosed is returned by ProcessFrame after Close.
var ErrSessionClosed = errors.New("vad: session closed")

// Per-aggressiveness tuning. ratio is the multiple of the tracked noise
// floor a frame must exceed to count as voiced; absMin is an absolute RMS
// floor that rejects very quiet rooms regardless of the adaptive estimate.
// Both grow monotonically with aggressiveness so higher levels strictly
// narrow the voiced classification.
var energyLevels = [4]struct {
	ratio  float64
	absMin float64
}{
	{ratio: 1.8, absMin: 0.004},
	{ratio: 2.5, absMin: 0.008},
	{ratio: 3.5, absMin: 0.015},
	{ratio: 5.0, absMin: 0.025},
}

// floorAlpha is the EMA coefficient of the adaptive noise-floor tracker.
// Only unvoiced frames update the floor.
const floorAlpha = 0.05

// EnergyEngine is the built-in VAD backend: an adaptive-noise-floor energy
// classifier. It has no model weights and no external dependencies, which
// makes it the default for embedded targets; model-based engines plug in by
// implementing [Engine].
type EnergyEngine struct{}

// NewEnergyEngine returns the built-in energy VAD engine.
func NewEnergyEngine() *EnergyEngine {
	return &EnergyEngine{}
}

// NewSession implements [Engine].
func (e *EnergyEngine) NewSession(cfg Config) (Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &energySession{cfg: cfg, tuning: energyLevels[cfg.Aggressiveness]}, nil
}

type energySession struct {
	cfg    Config
	tuning struct {
		ratio  float64
		absMin float64
	}

	floorRMS float64
	voiced   bool
	closed   bool
}

func (s *energySession) ProcessFrame(samples []int16) (Event, error) {
	if s.closed {
		return Event{}, ErrSessionClosed
	}
	if len(samples) != s.cfg.FrameSize {
		return Event{}, &FrameSizeError{Got: len(samples), Want: s.cfg.FrameSize}
	}

	rms := frameRMS(samples)

	voiced := rms > s.tuning.absMin
	if s.floorRMS > 0 {
		voiced = voiced && rms > s.floorRMS*s.tuning.ratio
	}

	// Track the noise floor on unvoiced frames only.
	if !voiced {
		if s.floorRMS == 0 {
			s.floorRMS = math.Max(rms, 1e-6)
		} else {
			s.floorRMS = (1-floorAlpha)*s.floorRMS + floorAlpha*math.Max(rms, 1e-6)
		}
	}

	ev := Event{Voiced: voiced, Level: audio.PeakAmplitude(samples)}
	switch {
	case voiced && !s.voiced:
		ev.Type = SpeechStart
	case voiced:
		ev.Type = SpeechContinue
	case s.voiced:
		ev.Type = SpeechEnd
	default:
		ev.Type = Silence
	}
	s.voiced = voiced
	return ev, nil
}

func (s *energySession) Reset() {
	s.floorRMS = 0
	s.voiced = false
}

func (s *energySession) Close() error {
	s.closed = true
	return nil
}

// FrameSizeError reports a frame that does not match the configured size.
type FrameSizeError struct {
	Got, Want int
}

func (e *FrameSizeError) Error() string {
	return fmt.Sprintf("vad: frame size %d does not match configured %d", e.Got, e.Want)
}

func frameRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
