package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per concern. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcribe": {"openai", "whisper-native", "mock"},
	"synthesis":  {"openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must be positive", cfg.Audio.FrameSize))
	}

	// Processing
	p := cfg.Processing
	if p.HighPassCutoffHz < 0 {
		errs = append(errs, fmt.Errorf("processing.high_pass_cutoff_hz %.1f must not be negative", p.HighPassCutoffHz))
	}
	if cfg.Audio.SampleRate > 0 && p.HighPassCutoffHz >= float64(cfg.Audio.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("processing.high_pass_cutoff_hz %.1f is at or above the Nyquist frequency for sample rate %d", p.HighPassCutoffHz, cfg.Audio.SampleRate))
	}
	if p.NoiseSuppressionLevel < 0 || p.NoiseSuppressionLevel > 3 {
		errs = append(errs, fmt.Errorf("processing.noise_suppression_level %d is out of range [0, 3]", p.NoiseSuppressionLevel))
	}
	if p.VADAggressiveness < 0 || p.VADAggressiveness > 3 {
		errs = append(errs, fmt.Errorf("processing.vad_aggressiveness %d is out of range [0, 3]", p.VADAggressiveness))
	}
	if p.TargetRMSDBFS > 0 {
		errs = append(errs, fmt.Errorf("processing.target_rms_dbfs %.1f must be a dBFS value (<= 0)", p.TargetRMSDBFS))
	}
	if p.PeakLimitDBFS > 0 {
		errs = append(errs, fmt.Errorf("processing.peak_limit_dbfs %.1f must be a dBFS value (<= 0)", p.PeakLimitDBFS))
	}
	if p.MinSpeechLengthS < 0 {
		errs = append(errs, fmt.Errorf("processing.min_speech_length_s %.2f must not be negative", p.MinSpeechLengthS))
	}
	if p.TrailingSilenceS <= 0 {
		errs = append(errs, fmt.Errorf("processing.trailing_silence_s %.2f must be positive", p.TrailingSilenceS))
	}
	if p.SilenceAmplitudeThreshold < 0 || p.SilenceAmplitudeThreshold > 1 {
		errs = append(errs, fmt.Errorf("processing.silence_amplitude_threshold %.3f is out of range [0, 1]", p.SilenceAmplitudeThreshold))
	}

	// Transcription
	if cfg.Transcribe.Mode != "" && !cfg.Transcribe.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("transcribe.mode %q is invalid; valid values: streaming, batch", cfg.Transcribe.Mode))
	}
	validateProviderName("transcribe", cfg.Transcribe.Provider)
	if cfg.Transcribe.Provider == "whisper-native" {
		if cfg.Transcribe.ModelPath == "" {
			errs = append(errs, errors.New("transcribe.model_path is required when provider is whisper-native"))
		}
		if cfg.Transcribe.Mode == ModeStreaming {
			errs = append(errs, errors.New("transcribe.mode streaming is not supported by the whisper-native provider"))
		}
	}
	if cfg.Transcribe.Provider == "openai" && cfg.Transcribe.APIKey == "" {
		slog.Warn("transcribe.api_key is empty; the openai provider will fail to authenticate")
	}

	// Synthesis
	validateProviderName("synthesis", cfg.Synthesis.Provider)
	if cfg.Synthesis.Provider == "openai" && cfg.Synthesis.APIKey == "" {
		slog.Warn("synthesis.api_key is empty; the openai provider will fail to authenticate")
	}

	// Verification
	v := cfg.Verification
	if v.Enabled {
		if v.Threshold < 0 || v.Threshold > 1 {
			errs = append(errs, fmt.Errorf("verification.threshold %.3f is out of range [0, 1]", v.Threshold))
		}
		if v.Strategy != "" && !v.Strategy.IsValid() {
			errs = append(errs, fmt.Errorf("verification.strategy %q is invalid; valid values: max, mean", v.Strategy))
		}
		if v.TopK < 0 {
			errs = append(errs, fmt.Errorf("verification.top_k %d must not be negative", v.TopK))
		}
		if v.EmbeddingDimensions <= 0 {
			errs = append(errs, fmt.Errorf("verification.embedding_dimensions %d must be positive", v.EmbeddingDimensions))
		}
		if v.DecisionMargin < 0 {
			errs = append(errs, fmt.Errorf("verification.decision_margin %.3f must not be negative", v.DecisionMargin))
		}
		if len(v.BucketEdges) != 2 {
			errs = append(errs, fmt.Errorf("verification.bucket_edges must contain exactly 2 values, got %d", len(v.BucketEdges)))
		} else if v.BucketEdges[0] >= v.BucketEdges[1] {
			errs = append(errs, fmt.Errorf("verification.bucket_edges %v must be strictly ascending", v.BucketEdges))
		}
		if v.TimeoutMs <= 0 {
			errs = append(errs, fmt.Errorf("verification.timeout_ms %d must be positive", v.TimeoutMs))
		}
		if v.PostgresDSN == "" {
			slog.Warn("verification.postgres_dsn is empty; voice profiles will not survive restarts")
		}
	}

	// Bus
	if cfg.Bus.URL == "" {
		errs = append(errs, errors.New("bus.url is required"))
	}
	if cfg.Bus.Source == "" {
		errs = append(errs, errors.New("bus.source is required"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
