// Command kestrel is the push-to-talk voice pipeline daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelvoice/kestrel/internal/app"
	"github.com/kestrelvoice/kestrel/internal/bus"
	"github.com/kestrelvoice/kestrel/internal/config"
	"github.com/kestrelvoice/kestrel/internal/health"
	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/internal/resilience"
	"github.com/kestrelvoice/kestrel/pkg/audio/device"
	sttopenai "github.com/kestrelvoice/kestrel/pkg/provider/stt/openai"
	"github.com/kestrelvoice/kestrel/pkg/provider/stt/whisper"
	ttsopenai "github.com/kestrelvoice/kestrel/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kestrel: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("kestrel starting",
		"config", *configPath,
		"transcribe", cfg.Transcribe.Provider,
		"mode", cfg.Transcribe.Mode,
		"synthesis", cfg.Synthesis.Provider,
		"bus", cfg.Bus.URL,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "kestrel",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Components ────────────────────────────────────────────────────────────
	comps, err := buildComponents(ctx, cfg)
	if err != nil {
		slog.Error("failed to build components", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, comps)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if cfg.Server.MetricsAddr != "" {
		go serveHTTP(cfg.Server.MetricsAddr, comps.Bus)
	}

	slog.Info("pipeline ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Component wiring ────────────────────────────────────────────────────────

// buildComponents instantiates the external collaborators named in cfg: the
// broker connection, the audio device, and the transcription and synthesis
// providers.
func buildComponents(ctx context.Context, cfg *config.Config) (*app.Components, error) {
	comps := &app.Components{}

	// Audio device. Hardware drivers plug in by implementing device.Device;
	// without one the null device lets the control plane run end to end.
	comps.Device = device.NewNull()
	slog.Warn("no audio driver wired in — using the null device")

	// Event bus.
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := bus.Dial(dialCtx, cfg.Bus.URL, cfg.Bus.Source)
	if err != nil {
		return nil, fmt.Errorf("connect event bus: %w", err)
	}
	comps.Bus = client

	// Transcription. Remote backends sit behind a breaker so an upstream
	// outage stops the pipeline from hammering the API every segment.
	switch cfg.Transcribe.Provider {
	case "openai":
		if cfg.Transcribe.Mode == config.ModeBatch {
			p, err := sttopenai.NewBatch(cfg.Transcribe.APIKey, cfg.Transcribe.Model)
			if err != nil {
				return nil, fmt.Errorf("create openai batch transcriber: %w", err)
			}
			comps.STTBatch = resilience.NewBatchSTTChain("openai", p, resilience.ChainConfig{})
		} else {
			var opts []sttopenai.RealtimeOption
			if cfg.Transcribe.Model != "" {
				opts = append(opts, sttopenai.WithRealtimeModel(cfg.Transcribe.Model))
			}
			p := sttopenai.NewRealtime(cfg.Transcribe.APIKey, opts...)
			comps.STT = resilience.NewStreamSTTChain("openai", p, resilience.ChainConfig{})
		}
	case "whisper-native":
		var opts []whisper.NativeOption
		if cfg.Transcribe.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(cfg.Transcribe.Language))
		}
		p, err := whisper.NewNative(cfg.Transcribe.ModelPath, opts...)
		if err != nil {
			return nil, fmt.Errorf("load whisper model: %w", err)
		}
		comps.STTBatch = p
	default:
		return nil, fmt.Errorf("unsupported transcription provider %q", cfg.Transcribe.Provider)
	}

	// Synthesis.
	switch cfg.Synthesis.Provider {
	case "openai":
		p, err := ttsopenai.New(cfg.Synthesis.APIKey, cfg.Synthesis.Model)
		if err != nil {
			return nil, fmt.Errorf("create openai synthesizer: %w", err)
		}
		comps.TTS = resilience.NewSynthChain("openai", p, resilience.ChainConfig{})
	default:
		return nil, fmt.Errorf("unsupported synthesis provider %q", cfg.Synthesis.Provider)
	}

	// Speaker verification needs an embedding backend; none ships in-tree,
	// so attribution stays absent until one is injected.
	if cfg.Verification.Enabled {
		slog.Warn("verification enabled but no embedding backend is wired — transcripts publish without attribution")
	}

	return comps, nil
}

// serveHTTP exposes the Prometheus scrape endpoint plus liveness and
// readiness probes. Readiness checks that the broker connection still
// accepts writes.
func serveHTTP(addr string, b app.Bus) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	probes := health.New(health.Probe{
		Name: "bus",
		Check: func(ctx context.Context) error {
			return b.Publish(ctx, "health.ping", nil)
		},
	})
	probes.Register(mux)

	slog.Info("http endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("http endpoint failed", "err", err)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
