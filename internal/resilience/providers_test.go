package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
	sttmock "github.com/kestrelvoice/kestrel/pkg/provider/stt/mock"
	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
	ttsmock "github.com/kestrelvoice/kestrel/pkg/provider/tts/mock"
)

func TestBatchSTTChainUsesPrimary(t *testing.T) {
	primary := &sttmock.BatchProvider{Result: stt.Transcript{Text: "hello", IsFinal: true}}
	secondary := &sttmock.BatchProvider{Result: stt.Transcript{Text: "fallback", IsFinal: true}}

	chain := NewBatchSTTChain("primary", primary, ChainConfig{
		Breaker: BreakerConfig{FailureThreshold: 3},
	})
	chain.Add("secondary", secondary)

	tr, err := chain.Transcribe(context.Background(), []byte{1, 2}, stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "hello" {
		t.Fatalf("text = %q, want hello", tr.Text)
	}
	if secondary.TranscribeCallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.TranscribeCallCount())
	}
}

func TestBatchSTTChainFailsOver(t *testing.T) {
	primary := &sttmock.BatchProvider{Err: errors.New("primary down")}
	secondary := &sttmock.BatchProvider{Result: stt.Transcript{Text: "fallback", IsFinal: true}}

	chain := NewBatchSTTChain("primary", primary, ChainConfig{
		Breaker: BreakerConfig{FailureThreshold: 3},
	})
	chain.Add("secondary", secondary)

	tr, err := chain.Transcribe(context.Background(), []byte{1, 2}, stt.StreamConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "fallback" {
		t.Fatalf("text = %q, want fallback", tr.Text)
	}
	if primary.TranscribeCallCount() != 1 {
		t.Fatalf("primary called %d times, want 1", primary.TranscribeCallCount())
	}
}

func TestBatchSTTChainAllDown(t *testing.T) {
	primary := &sttmock.BatchProvider{Err: errors.New("primary down")}
	secondary := &sttmock.BatchProvider{Err: errors.New("secondary down")}

	chain := NewBatchSTTChain("primary", primary, ChainConfig{
		Breaker: BreakerConfig{FailureThreshold: 3},
	})
	chain.Add("secondary", secondary)

	_, err := chain.Transcribe(context.Background(), nil, stt.StreamConfig{})
	if !errors.Is(err, ErrAllBackends) {
		t.Fatalf("err = %v, want ErrAllBackends", err)
	}
}

func TestStreamSTTChainFailsOver(t *testing.T) {
	primary := &sttmock.Provider{StartStreamErr: errors.New("primary down")}
	sess := &sttmock.Session{
		PartialsCh: make(chan stt.Transcript, 1),
		FinalsCh:   make(chan stt.Transcript, 1),
	}
	secondary := &sttmock.Provider{Session: sess}

	chain := NewStreamSTTChain("primary", primary, ChainConfig{
		Breaker: BreakerConfig{FailureThreshold: 3},
	})
	chain.Add("secondary", secondary)

	handle, err := chain.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle == nil {
		t.Fatal("handle is nil")
	}
	if len(secondary.StartStreamCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.StartStreamCalls))
	}
	_ = handle.Close()
}

func TestSynthChainFailsOver(t *testing.T) {
	primary := &ttsmock.Provider{StartErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{}

	chain := NewSynthChain("primary", primary, ChainConfig{
		Breaker: BreakerConfig{FailureThreshold: 3},
	})
	chain.Add("secondary", secondary)

	text := make(chan string, 1)
	text <- "hello"
	close(text)

	audio, err := chain.SynthesizeStream(context.Background(), text, tts.VoiceProfile{Name: "test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range audio {
	}
	if got := secondary.SynthesizedUnits(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("synthesized = %v, want [hello]", got)
	}
}

func TestSynthChainReportsPrimarySampleRate(t *testing.T) {
	primary := &ttsmock.Provider{Rate: 24000}
	chain := NewSynthChain("primary", primary, ChainConfig{})
	chain.Add("secondary", &ttsmock.Provider{Rate: 24000})

	if got := chain.SampleRate(); got != 24000 {
		t.Fatalf("SampleRate = %d, want 24000", got)
	}
}
