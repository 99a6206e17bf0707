// Package app wires all Kestrel subsystems into a running pipeline.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the processing loops under one errgroup, and
// Shutdown tears everything down in order.
//
// Three loops run concurrently, decoupled by bounded queues so a slow
// network round trip never blocks frame capture:
//
//   - the bus read loop, which enqueues decoded control events;
//   - the event loop, which drives the conversation state machine and
//     response playback;
//   - the segment worker, which transcribes finished speech segments,
//     joins the verification result, and publishes final transcripts.
//
// A fourth, the capture loop, exists only while push-to-talk is held. It
// runs the signal chain, VAD, and segmenter synchronously per frame.
//
// For testing, inject mock implementations through [Components]
// (device, bus, providers, embedder) — New never dials anything that was
// injected.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelvoice/kestrel/internal/bus"
	"github.com/kestrelvoice/kestrel/internal/config"
	"github.com/kestrelvoice/kestrel/internal/convo"
	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/internal/respond"
	"github.com/kestrelvoice/kestrel/internal/segment"
	"github.com/kestrelvoice/kestrel/internal/transcribe"
	"github.com/kestrelvoice/kestrel/internal/verify"
	profilestore "github.com/kestrelvoice/kestrel/internal/verify/postgres"
	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/audio/apm"
	"github.com/kestrelvoice/kestrel/pkg/audio/device"
	"github.com/kestrelvoice/kestrel/pkg/audio/vad"
	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
)

// Bus is the event bus surface the app needs. *bus.Client satisfies it.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(prefix string, h bus.Handler)
	Run(ctx context.Context) error
	Close() error
}

// Components holds one value per external collaborator slot. Device and Bus
// are required; exactly one of STT/STTBatch must match the configured
// transcription mode. Nil Embedder disables speaker attribution even when
// verification is enabled in config.
type Components struct {
	Device   device.Device
	Bus      Bus
	STT      stt.Provider
	STTBatch stt.BatchProvider
	TTS      tts.Provider
	Embedder verify.Embedder

	// VAD overrides the built-in adaptive energy engine.
	VAD vad.Engine

	// Metrics overrides the global default instruments. Tests pass an
	// instance backed by a manual reader.
	Metrics *observe.Metrics
}

// activeTurn tracks the response turn currently being played.
type activeTurn struct {
	id    string
	units chan respond.Unit
	done  chan error
}

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	cfg   *config.Config
	comps *Components

	metrics     *observe.Metrics
	machine     *convo.Machine
	chain       *apm.Chain
	vadSess     vad.Session
	segmenter   *segment.Segmenter
	transcriber *transcribe.Service
	verifier    *verify.Verifier
	store       *profilestore.Store
	agg         *respond.Aggregator
	player      *respond.Player

	// Bounded queues between the bus read loop, the event loop, and the
	// segment worker.
	events   chan any
	segments chan *segment.Segment

	ackTone    []byte
	pendingAck atomic.Bool

	turnMu sync.Mutex
	turn   *activeTurn

	captureWG sync.WaitGroup

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithVerifier injects a pre-built verifier instead of creating one from
// config (and skips the profile store entirely).
func WithVerifier(v *verify.Verifier) Option {
	return func(a *App) { a.verifier = v }
}

// New creates an App by wiring all subsystems together. It validates the
// component set against the config, builds the signal chain, segmenter and
// transcription service, loads voice profiles when a store is configured,
// and prepares the response playback path. Nothing runs until [App.Run].
func New(ctx context.Context, cfg *config.Config, comps *Components, opts ...Option) (*App, error) {
	if comps == nil || comps.Device == nil {
		return nil, fmt.Errorf("app: an audio device is required")
	}
	if comps.Bus == nil {
		return nil, fmt.Errorf("app: a bus connection is required")
	}
	if comps.TTS == nil {
		return nil, fmt.Errorf("app: a synthesis provider is required")
	}

	a := &App{
		cfg:      cfg,
		comps:    comps,
		events:   make(chan any, 64),
		segments: make(chan *segment.Segment, 8),
		agg:      respond.NewAggregator(),
	}
	for _, o := range opts {
		o(a)
	}

	a.metrics = comps.Metrics
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 1}
	a.machine = convo.New(comps.Device, comps.Bus, format, a.metrics)

	if err := a.initCapturePipeline(); err != nil {
		return nil, err
	}
	if err := a.initTranscriber(); err != nil {
		return nil, err
	}
	if err := a.initVerifier(ctx); err != nil {
		return nil, err
	}

	voice := tts.VoiceProfile{
		ID:         cfg.Synthesis.Voice,
		Name:       cfg.Synthesis.Voice,
		Provider:   cfg.Synthesis.Provider,
		SampleRate: comps.TTS.SampleRate(),
	}
	a.player = respond.NewPlayer(comps.TTS, voice, format, a.metrics)

	if cfg.Audio.AckTonePath != "" {
		tone, err := os.ReadFile(cfg.Audio.AckTonePath)
		if err != nil {
			return nil, fmt.Errorf("app: read ack tone %q: %w", cfg.Audio.AckTonePath, err)
		}
		a.ackTone = tone
	}
	if cfg.Audio.LogDir != "" {
		if err := os.MkdirAll(cfg.Audio.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("app: create audio log dir: %w", err)
		}
	}

	return a, nil
}

// initCapturePipeline builds the signal chain, the VAD session, and the
// segmenter from the processing config.
func (a *App) initCapturePipeline() error {
	cfg := a.cfg
	chain, err := apm.New(apm.Config{
		SampleRate:            cfg.Audio.SampleRate,
		FrameSize:             cfg.Audio.FrameSize,
		DCRemovalEnabled:      true,
		HighPassEnabled:       true,
		HighPassCutoffHz:      cfg.Processing.HighPassCutoffHz,
		DeclickingEnabled:     cfg.Processing.DeclickingEnabled,
		NoiseSuppressionLevel: cfg.Processing.NoiseSuppressionLevel,
		AGCEnabled:            cfg.Processing.AGCEnabled,
		NormalizationEnabled:  cfg.Processing.NormalizationEnabled,
		TargetRMSDBFS:         cfg.Processing.TargetRMSDBFS,
		PeakLimitDBFS:         cfg.Processing.PeakLimitDBFS,
	}, apm.WithStageErrorHandler(func(se *apm.StageError) {
		a.metrics.RecordStageError(context.Background(), se.Stage)
	}))
	if err != nil {
		return fmt.Errorf("app: build signal chain: %w", err)
	}
	a.chain = chain

	engine := a.comps.VAD
	if engine == nil {
		engine = vad.NewEnergyEngine()
	}
	sess, err := engine.NewSession(vad.Config{
		SampleRate:     cfg.Audio.SampleRate,
		FrameSize:      cfg.Audio.FrameSize,
		Aggressiveness: cfg.Processing.VADAggressiveness,
	})
	if err != nil {
		return fmt.Errorf("app: create vad session: %w", err)
	}
	a.vadSess = sess
	a.closers = append(a.closers, sess.Close)

	seg, err := segment.New(segment.Config{
		MinSpeechLength:           secondsToDuration(cfg.Processing.MinSpeechLengthS),
		TrailingSilence:           secondsToDuration(cfg.Processing.TrailingSilenceS),
		SilenceAmplitudeThreshold: cfg.Processing.SilenceAmplitudeThreshold,
		EdgeFadeEnabled:           cfg.Processing.EdgeFadeEnabled,
		SampleRate:                cfg.Audio.SampleRate,
	}, segment.WithDiscardHandler(func(*segment.Segment) {
		a.metrics.SegmentsDiscarded.Add(context.Background(), 1)
	}))
	if err != nil {
		return fmt.Errorf("app: build segmenter: %w", err)
	}
	a.segmenter = seg
	return nil
}

// initTranscriber selects the transcription service per the configured mode.
func (a *App) initTranscriber() error {
	streamCfg := stt.StreamConfig{
		SampleRate: a.cfg.Audio.SampleRate,
		Channels:   1,
		Language:   a.cfg.Transcribe.Language,
	}
	switch a.cfg.Transcribe.Mode {
	case config.ModeBatch:
		if a.comps.STTBatch == nil {
			return fmt.Errorf("app: transcribe.mode batch requires a batch transcription provider")
		}
		a.transcriber = transcribe.NewBatch(a.comps.STTBatch, streamCfg, a.metrics)
	default:
		if a.comps.STT == nil {
			return fmt.Errorf("app: transcribe.mode streaming requires a streaming transcription provider")
		}
		a.transcriber = transcribe.NewStreaming(a.comps.STT, streamCfg, a.metrics)
	}
	return nil
}

// initVerifier builds the verification engine from config and seeds it from
// the profile store when one is configured. A verifier injected through
// [WithVerifier] is used as-is.
func (a *App) initVerifier(ctx context.Context) error {
	if a.verifier != nil || !a.cfg.Verification.Enabled {
		return nil
	}

	vc := a.cfg.Verification
	verifier, err := verify.New(verify.Config{
		Threshold:      vc.Threshold,
		Strategy:       verify.Strategy(vc.Strategy),
		TopK:           vc.TopK,
		DecisionMargin: vc.DecisionMargin,
		BucketEdges:    [2]float64{vc.BucketEdges[0], vc.BucketEdges[1]},
	}, a.metrics)
	if err != nil {
		return fmt.Errorf("app: build verifier: %w", err)
	}
	a.verifier = verifier

	if vc.PostgresDSN == "" {
		return nil
	}
	store, err := profilestore.NewStore(ctx, vc.PostgresDSN, vc.EmbeddingDimensions)
	if err != nil {
		return fmt.Errorf("app: open profile store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})

	samples, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("app: load voice profiles: %w", err)
	}
	for _, s := range samples {
		if err := verifier.Enroll(s.UserID, s.Embedding); err != nil {
			return fmt.Errorf("app: enroll stored profile for %s: %w", s.UserID, err)
		}
	}
	return nil
}

// Enroll adds one voice sample for the user to the in-memory verifier and,
// when a profile store is configured, persists it.
func (a *App) Enroll(ctx context.Context, userID string, embedding []float64) error {
	if a.verifier == nil {
		return fmt.Errorf("app: verification is disabled")
	}
	if err := a.verifier.Enroll(userID, embedding); err != nil {
		return err
	}
	if a.store != nil {
		if err := a.store.Append(ctx, userID, embedding); err != nil {
			return fmt.Errorf("app: persist profile sample: %w", err)
		}
	}
	return nil
}

// Run starts the bus read loop, the event loop, and the segment worker, and
// blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.subscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.comps.Bus.Run(ctx) })
	g.Go(func() error { a.eventLoop(ctx); return nil })
	g.Go(func() error { a.segmentWorker(ctx); return nil })

	err := g.Wait()
	a.captureWG.Wait()
	return err
}

// Shutdown tears down all subsystems: the active turn is released, the state
// machine gives the device back, and closers run in order.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.turnMu.Lock()
		if a.turn != nil {
			close(a.turn.units)
			a.turn = nil
		}
		a.turnMu.Unlock()

		a.machine.Shutdown()
		a.captureWG.Wait()

		for _, closer := range a.closers {
			select {
			case <-ctx.Done():
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				shutdownErr = err
			}
		}
		if err := a.comps.Bus.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	})
	return shutdownErr
}

// Machine exposes the conversation state machine, mainly for tests asserting
// on the current state.
func (a *App) Machine() *convo.Machine { return a.machine }
