package vad

import (
	"math"
	"testing"
)

const (
	testRate      = 16000
	testFrameSize = 320
)

func toneFrame(amplitude float64) []int16 {
	samples := make([]int16, testFrameSize)
	for i := range samples {
		samples[i] = int16(amplitude * 32000 * math.Sin(2*math.Pi*300*float64(i)/testRate))
	}
	return samples
}

func mustSession(t *testing.T, aggressiveness int) Session {
	t.Helper()
	s, err := NewEnergyEngine().NewSession(Config{
		SampleRate:     testRate,
		FrameSize:      testFrameSize,
		Aggressiveness: aggressiveness,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{SampleRate: 0, FrameSize: 320, Aggressiveness: 1},
		{SampleRate: 16000, FrameSize: 0, Aggressiveness: 1},
		{SampleRate: 16000, FrameSize: 320, Aggressiveness: 4},
		{SampleRate: 16000, FrameSize: 320, Aggressiveness: -1},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("config %d: expected validation error", i)
		}
	}
	ok := Config{SampleRate: 16000, FrameSize: 320, Aggressiveness: 1}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestSpeechStartAndEndEvents(t *testing.T) {
	s := mustSession(t, 1)

	// Establish a noise floor with quiet frames.
	for range 10 {
		ev, err := s.ProcessFrame(toneFrame(0.001))
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if ev.Voiced {
			t.Fatal("quiet frame classified as voiced")
		}
	}

	ev, err := s.ProcessFrame(toneFrame(0.5))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != SpeechStart {
		t.Fatalf("loud frame after silence: %v, want SPEECH_START", ev.Type)
	}

	ev, _ = s.ProcessFrame(toneFrame(0.5))
	if ev.Type != SpeechContinue {
		t.Fatalf("second loud frame: %v, want SPEECH_CONTINUE", ev.Type)
	}

	ev, _ = s.ProcessFrame(toneFrame(0.001))
	if ev.Type != SpeechEnd {
		t.Fatalf("quiet frame after speech: %v, want SPEECH_END", ev.Type)
	}

	ev, _ = s.ProcessFrame(toneFrame(0.001))
	if ev.Type != Silence {
		t.Fatalf("continued quiet: %v, want SILENCE", ev.Type)
	}
}

func TestAggressivenessIsMonotonic(t *testing.T) {
	// A frame voiced at level N must also be voiced at every level < N.
	// Sweep amplitudes and check no inversion occurs.
	for _, amp := range []float64{0.003, 0.006, 0.01, 0.02, 0.05, 0.2} {
		var voiced [4]bool
		for level := range 4 {
			s := mustSession(t, level)
			// First frame: floor not yet established, absolute floor decides.
			ev, err := s.ProcessFrame(toneFrame(amp))
			if err != nil {
				t.Fatalf("ProcessFrame: %v", err)
			}
			voiced[level] = ev.Voiced
		}
		for level := 1; level < 4; level++ {
			if voiced[level] && !voiced[level-1] {
				t.Errorf("amp %v: voiced at level %d but not at %d", amp, level, level-1)
			}
		}
	}
}

func TestFrameSizeMismatch(t *testing.T) {
	s := mustSession(t, 1)
	if _, err := s.ProcessFrame(make([]int16, 100)); err == nil {
		t.Fatal("expected frame size error")
	}
}

func TestClosedSessionRejectsFrames(t *testing.T) {
	s := mustSession(t, 1)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(toneFrame(0.5)); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestResetClearsNoiseFloor(t *testing.T) {
	s := mustSession(t, 1)

	// Push the floor up with loud "noise".
	for range 50 {
		s.ProcessFrame(toneFrame(0.001))
	}
	s.Reset()

	ev, err := s.ProcessFrame(toneFrame(0.05))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	// After reset there is no floor yet, so the absolute threshold decides.
	if !ev.Voiced {
		t.Error("moderate frame after Reset not voiced")
	}
}
