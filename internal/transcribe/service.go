package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
)

// sendChunkBytes is how much PCM is written per SendAudio call in streaming
// mode: 100 ms at 16 kHz mono.
const sendChunkBytes = 3200

// Service drives the transcription backend and funnels results through the
// Aggregator. It supports two modes: a streaming provider with a
// per-utterance session, or a batch provider with one call per segment.
// Exactly one of the two providers must be set.
type Service struct {
	streaming stt.Provider
	batch     stt.BatchProvider
	agg       *Aggregator
	cfg       stt.StreamConfig
	metrics   *observe.Metrics

	// OnPartial, when non-nil, is invoked for every retained partial. Used
	// to drive live feedback.
	OnPartial func(utteranceID, text string)
}

// NewStreaming creates a Service in streaming mode.
func NewStreaming(p stt.Provider, cfg stt.StreamConfig, metrics *observe.Metrics) *Service {
	return &Service{streaming: p, agg: NewAggregator(), cfg: cfg, metrics: metrics}
}

// NewBatch creates a Service in batch mode.
func NewBatch(p stt.BatchProvider, cfg stt.StreamConfig, metrics *observe.Metrics) *Service {
	return &Service{batch: p, agg: NewAggregator(), cfg: cfg, metrics: metrics}
}

// Aggregator exposes the underlying aggregator, mainly for tests and for
// callers that finalize abandoned utterances themselves.
func (s *Service) Aggregator() *Aggregator { return s.agg }

// Transcribe converts one complete speech segment into its final transcript.
// In batch mode this is a single provider call. In streaming mode the
// segment audio is replayed into a fresh session and the provider's partial
// and final results are aggregated.
//
// Cancellation mid-stream keeps the partials received so far: the longest
// one is promoted to the final result rather than discarded.
func (s *Service) Transcribe(ctx context.Context, utteranceID string, pcm []byte) (Final, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	// Utterance IDs are single-use, so once the final has been produced the
	// aggregator entry (partials and the finalized marker) is released. The
	// marker still guards against duplicate finals for the duration of the
	// call.
	defer s.agg.Forget(utteranceID)

	switch {
	case s.batch != nil:
		return s.transcribeBatch(ctx, utteranceID, pcm)
	case s.streaming != nil:
		return s.transcribeStreaming(ctx, utteranceID, pcm)
	}
	return Final{}, errors.New("transcribe: no provider configured")
}

func (s *Service) transcribeBatch(ctx context.Context, utteranceID string, pcm []byte) (Final, error) {
	tr, err := s.batch.Transcribe(ctx, pcm, s.cfg)
	if err != nil {
		// Finalize from nothing so the exactly-once contract holds even on
		// failure: downstream still sees one (empty) final.
		final, _ := s.agg.Finalize(utteranceID, nil)
		return final, fmt.Errorf("transcribe: batch call for %s: %w", utteranceID, err)
	}
	final, ok := s.agg.Finalize(utteranceID, &tr)
	if !ok {
		return Final{}, fmt.Errorf("transcribe: utterance %s already finalized", utteranceID)
	}
	return final, nil
}

func (s *Service) transcribeStreaming(ctx context.Context, utteranceID string, pcm []byte) (Final, error) {
	sess, err := s.streaming.StartStream(ctx, s.cfg)
	if err != nil {
		final, _ := s.agg.Finalize(utteranceID, nil)
		return final, fmt.Errorf("transcribe: start stream for %s: %w", utteranceID, err)
	}

	// Feed audio from a separate goroutine so partials can be consumed
	// concurrently. Closing the session after the last chunk tells the
	// provider to commit.
	sendErr := make(chan error, 1)
	go func() {
		defer close(sendErr)
		for off := 0; off < len(pcm); off += sendChunkBytes {
			end := min(off+sendChunkBytes, len(pcm))
			if err := sess.SendAudio(pcm[off:end]); err != nil {
				sendErr <- fmt.Errorf("transcribe: send audio for %s: %w", utteranceID, err)
				return
			}
		}
		if err := sess.Close(); err != nil {
			sendErr <- fmt.Errorf("transcribe: close session for %s: %w", utteranceID, err)
		}
	}()
	defer sess.Close()

	partials := sess.Partials()
	finals := sess.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			// Keep what we heard: promote the longest partial.
			final, ok := s.agg.Finalize(utteranceID, nil)
			if !ok {
				return Final{}, fmt.Errorf("transcribe: utterance %s already finalized", utteranceID)
			}
			return final, nil

		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			s.agg.AddPartial(utteranceID, tr)
			if s.OnPartial != nil {
				if kept, found := s.agg.Partial(utteranceID); found {
					s.OnPartial(utteranceID, kept.Text)
				}
			}

		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			final, done := s.agg.Finalize(utteranceID, &tr)
			if !done {
				slog.Warn("transcribe: provider emitted a second final, dropping",
					"utterance_id", utteranceID)
				continue
			}
			go drainSendErr(sendErr)
			return final, nil
		}
	}

	// Both channels closed without an authoritative final: end-of-stream
	// finalization from the longest partial.
	if err := <-sendErr; err != nil {
		slog.Warn("transcribe: audio delivery incomplete", "utterance_id", utteranceID, "error", err)
	}
	final, ok := s.agg.Finalize(utteranceID, nil)
	if !ok {
		return Final{}, fmt.Errorf("transcribe: utterance %s already finalized", utteranceID)
	}
	return final, nil
}

func drainSendErr(ch <-chan error) {
	for range ch {
	}
}
