package apm

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

const (
	testRate      = 16000
	testFrameSize = 320 // 20 ms
)

// sineFrame builds a test frame containing a sine at freq Hz with the given
// peak amplitude (0..1), phase-continuous from startSample.
func sineFrame(t *testing.T, freq, amplitude float64, startSample int) audio.Frame {
	t.Helper()
	samples := make([]int16, testFrameSize)
	for i := range samples {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(startSample+i)/testRate)
		samples[i] = int16(v * 32000)
	}
	return audio.Frame{Samples: samples, SampleRate: testRate, Seq: uint64(startSample / testFrameSize), Captured: time.Now()}
}

func mustChain(t *testing.T, cfg Config, opts ...Option) *Chain {
	t.Helper()
	cfg.SampleRate = testRate
	cfg.FrameSize = testFrameSize
	c, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestChainPreservesShapeForAllStageSubsets(t *testing.T) {
	// Every combination of enabled stages must preserve frame length and
	// sample rate.
	for mask := range 64 {
		cfg := Config{
			DCRemovalEnabled:     mask&1 != 0,
			HighPassEnabled:      mask&2 != 0,
			DeclickingEnabled:    mask&4 != 0,
			AGCEnabled:           mask&8 != 0,
			NormalizationEnabled: mask&16 != 0,
		}
		if mask&32 != 0 {
			cfg.NoiseSuppressionLevel = 2
		}
		chain := mustChain(t, cfg)

		for n := range 3 {
			in := sineFrame(t, 440, 0.5, n*testFrameSize)
			out, err := chain.Process(in)
			if err != nil {
				t.Fatalf("mask %06b frame %d: %v", mask, n, err)
			}
			if len(out.Samples) != testFrameSize {
				t.Fatalf("mask %06b: frame length %d, want %d", mask, len(out.Samples), testFrameSize)
			}
			if out.SampleRate != testRate {
				t.Fatalf("mask %06b: sample rate %d, want %d", mask, out.SampleRate, testRate)
			}
			if out.Seq != in.Seq {
				t.Fatalf("mask %06b: seq changed from %d to %d", mask, in.Seq, out.Seq)
			}
		}
	}
}

func TestChainRejectsMalformedFrames(t *testing.T) {
	chain := mustChain(t, Config{HighPassEnabled: true})

	var ferr *FrameError

	short := audio.Frame{Samples: make([]int16, 100), SampleRate: testRate}
	if _, err := chain.Process(short); !errors.As(err, &ferr) {
		t.Errorf("short frame: got %v, want FrameError", err)
	}

	wrongRate := audio.Frame{Samples: make([]int16, testFrameSize), SampleRate: 8000}
	if _, err := chain.Process(wrongRate); !errors.As(err, &ferr) {
		t.Errorf("wrong rate: got %v, want FrameError", err)
	}
}

// failingStage always errors to exercise the pass-through path.
type failingStage struct{}

func (failingStage) Name() string                          { return "boom" }
func (failingStage) Process([]float64) ([]float64, error)  { return nil, errors.New("induced failure") }
func (failingStage) Reset()                                {}

func TestChainPassesFrameThroughOnStageFailure(t *testing.T) {
	var stageErrs []*StageError
	chain := mustChain(t, Config{},
		WithAppendedStage(failingStage{}),
		WithStageErrorHandler(func(e *StageError) { stageErrs = append(stageErrs, e) }),
	)

	in := sineFrame(t, 440, 0.5, 0)
	out, err := chain.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Audio must not be dropped or altered by the failed stage.
	for i := range in.Samples {
		if out.Samples[i] != in.Samples[i] {
			t.Fatalf("sample %d modified by failing stage: %d != %d", i, out.Samples[i], in.Samples[i])
		}
	}
	if len(stageErrs) != 1 || stageErrs[0].Stage != "boom" {
		t.Fatalf("stage error handler: got %v", stageErrs)
	}
}

func TestChainConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero sample rate", Config{FrameSize: 320}},
		{"zero frame size", Config{SampleRate: 16000}},
		{"cutoff above nyquist", Config{SampleRate: 16000, FrameSize: 320, HighPassEnabled: true, HighPassCutoffHz: 9000}},
		{"suppression level too high", Config{SampleRate: 16000, FrameSize: 320, NoiseSuppressionLevel: 4}},
		{"positive target dbfs", Config{SampleRate: 16000, FrameSize: 320, TargetRMSDBFS: 3}},
	}
	for _, tc := range cases {
		if _, err := New(tc.cfg); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestChainStagesOrderIsFixed(t *testing.T) {
	chain := mustChain(t, Config{
		DCRemovalEnabled:      true,
		HighPassEnabled:       true,
		DeclickingEnabled:     true,
		NoiseSuppressionLevel: 1,
		AGCEnabled:            true,
		NormalizationEnabled:  true,
	})

	want := []string{"dc_removal", "high_pass", "declicking", "noise_suppression", "agc", "normalization"}
	got := chain.Stages()
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d = %q, want %q", i, got[i], want[i])
		}
	}

	// Disabling a middle stage must not reorder the rest.
	chain = mustChain(t, Config{
		DCRemovalEnabled:     true,
		AGCEnabled:           true,
		NormalizationEnabled: true,
	})
	want = []string{"dc_removal", "agc", "normalization"}
	got = chain.Stages()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d = %q, want %q", i, got[i], want[i])
		}
	}
}
