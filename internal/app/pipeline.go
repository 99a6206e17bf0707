package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrelvoice/kestrel/internal/bus"
	"github.com/kestrelvoice/kestrel/internal/segment"
	"github.com/kestrelvoice/kestrel/internal/verify"
	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/audio/device"
)

// captureLoop runs while push-to-talk is held: it pulls frames from the
// capture stream and pushes each through the signal chain, the VAD, and the
// segmenter synchronously. When the stream closes (release), any in-progress
// segment is flushed.
func (a *App) captureLoop(ctx context.Context, cs device.CaptureStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-cs.Frames():
			if !ok {
				if ev := a.segmenter.Flush(); ev != nil && ev.Segment != nil {
					a.submitSegment(ev.Segment)
				}
				return
			}
			a.processFrame(ctx, frame)
		}
	}
}

// processFrame advances the synchronous part of the pipeline by one frame.
func (a *App) processFrame(ctx context.Context, frame audio.Frame) {
	processed, err := a.chain.Process(frame)
	if err != nil {
		// FrameError: capture format and chain config disagree. Drop the
		// frame; the config validation should have caught this.
		slog.Error("app: dropping malformed frame", "seq", frame.Seq, "error", err)
		a.metrics.RecordStageError(ctx, "frame")
		return
	}
	a.metrics.FramesProcessed.Add(ctx, 1)

	vev, err := a.vadSess.ProcessFrame(processed.Samples)
	if err != nil {
		slog.Warn("app: vad failed on frame", "seq", frame.Seq, "error", err)
		a.metrics.RecordStageError(ctx, "vad")
		return
	}

	sev := a.segmenter.ProcessFrame(processed, vev)
	if sev == nil {
		return
	}
	switch sev.Type {
	case segment.SpeechStart:
		slog.Debug("app: speech started", "at", sev.Timestamp)
	case segment.SpeechEnd:
		a.submitSegment(sev.Segment)
	}
}

// submitSegment queues a finished segment for transcription. The queue is
// bounded; when the worker is backlogged the segment is dropped rather than
// stalling the capture loop.
func (a *App) submitSegment(seg *segment.Segment) {
	select {
	case a.segments <- seg:
	default:
		slog.Warn("app: transcription backlog, dropping segment",
			"utterance_id", seg.ID, "duration", seg.Duration())
	}
}

// segmentWorker transcribes finished segments off the audio path and
// publishes the final transcripts.
func (a *App) segmentWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case seg := <-a.segments:
			a.handleSegment(ctx, seg)
		}
	}
}

// verification bundles the identification outcome with the query embedding.
type verification struct {
	result    verify.Result
	embedding []float64
}

// handleSegment runs transcription and verification for one segment and
// publishes the final transcript. Verification runs concurrently and is
// joined with a timeout at publish time; a slow identification publishes the
// transcript without attribution rather than delaying the turn.
func (a *App) handleSegment(ctx context.Context, seg *segment.Segment) {
	pcm := seg.PCM()
	a.logSegment(seg, pcm)

	verCh := a.startVerification(ctx, pcm)

	final, err := a.transcriber.Transcribe(ctx, seg.ID, pcm)
	if err != nil {
		slog.Error("app: transcription failed, discarding utterance",
			"utterance_id", seg.ID, "error", err)
		a.metrics.RecordStageError(ctx, "transcription")
		return
	}

	ev := bus.FinalTranscript{
		UtteranceID: final.UtteranceID,
		Text:        final.Text,
		Confidence:  final.Confidence,
	}

	if verCh != nil {
		timeout := time.Duration(a.cfg.Verification.TimeoutMs) * time.Millisecond
		select {
		case v := <-verCh:
			if !v.result.None() {
				ev.UserID = v.result.UserID
				ev.Similarity = v.result.Similarity
				ev.ConfidenceLevel = string(v.result.Confidence)
			}
			if a.cfg.Verification.IncludeEmbedding {
				ev.Embedding = v.embedding
			}
		case <-time.After(timeout):
			slog.Debug("app: verification missed the publish window",
				"utterance_id", seg.ID, "timeout", timeout)
		case <-ctx.Done():
			return
		}
	}

	if err := a.comps.Bus.Publish(ctx, bus.TopicTranscriptFinal, ev); err != nil {
		slog.Warn("app: publish final transcript", "utterance_id", seg.ID, "error", err)
	}
	if len(a.ackTone) > 0 {
		a.pendingAck.Store(true)
	}
}

// startVerification kicks off embedding and identification for the segment.
// Returns nil when verification is not wired; otherwise a channel that
// receives exactly one result.
func (a *App) startVerification(ctx context.Context, pcm []byte) <-chan verification {
	if a.verifier == nil || a.comps.Embedder == nil {
		return nil
	}
	ch := make(chan verification, 1)
	go func() {
		emb, err := a.comps.Embedder.Embed(ctx, pcm)
		if err != nil {
			slog.Warn("app: voice embedding failed", "error", err)
			ch <- verification{}
			return
		}
		ch <- verification{result: a.verifier.Identify(ctx, emb), embedding: emb}
	}()
	return ch
}

// logSegment dumps the segment to the audio log directory as a WAV file.
func (a *App) logSegment(seg *segment.Segment, pcm []byte) {
	if a.cfg.Audio.LogDir == "" {
		return
	}
	path := filepath.Join(a.cfg.Audio.LogDir, seg.ID+".wav")
	data := audio.EncodeWAV(pcm, a.cfg.Audio.SampleRate, 1)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Warn("app: write segment audio log", "path", path, "error", err)
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
