// Package config provides the configuration schema and loader for the
// Kestrel voice pipeline.
package config

// LogLevel controls log verbosity for the Kestrel daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// TranscriptionMode selects how captured speech reaches the transcription
// service.
type TranscriptionMode string

const (
	// ModeStreaming feeds frames to a realtime session as they arrive and
	// consumes partial transcripts.
	ModeStreaming TranscriptionMode = "streaming"

	// ModeBatch submits the complete segment in one call. Slightly higher
	// latency, slightly better accuracy.
	ModeBatch TranscriptionMode = "batch"
)

// IsValid reports whether m is a recognised transcription mode.
func (m TranscriptionMode) IsValid() bool {
	return m == ModeStreaming || m == ModeBatch
}

// EnsembleStrategy selects how per-sample similarities are combined when a
// speaker profile holds multiple embeddings.
type EnsembleStrategy string

const (
	EnsembleMax  EnsembleStrategy = "max"
	EnsembleMean EnsembleStrategy = "mean"
)

// IsValid reports whether s is a recognised ensemble strategy.
func (s EnsembleStrategy) IsValid() bool {
	return s == EnsembleMax || s == EnsembleMean
}

// Config is the root configuration structure for Kestrel.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	Processing   ProcessingConfig   `yaml:"processing"`
	Transcribe   TranscribeConfig   `yaml:"transcribe"`
	Synthesis    SynthesisConfig    `yaml:"synthesis"`
	Verification VerificationConfig `yaml:"verification"`
	Bus          BusConfig          `yaml:"bus"`
}

// ServerConfig holds logging and observability settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the address the Prometheus metrics endpoint listens on
	// (e.g. ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// AudioConfig holds device and capture format settings.
type AudioConfig struct {
	// SampleRate of capture and the processing chain, in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per captured frame.
	FrameSize int `yaml:"frame_size"`

	// LogDir, when non-empty, enables dumping each finished speech segment
	// as a WAV file into this directory.
	LogDir string `yaml:"log_dir"`

	// AckTonePath, when non-empty, points at a raw PCM file played as a
	// short acknowledgment cue after a final transcript is published.
	AckTonePath string `yaml:"ack_tone_path"`
}

// ProcessingConfig is the immutable per-session snapshot of signal chain and
// segmentation parameters. A new snapshot replaces the old one; it is never
// mutated in place.
type ProcessingConfig struct {
	HighPassCutoffHz          float64 `yaml:"high_pass_cutoff_hz"`
	DeclickingEnabled         bool    `yaml:"declicking_enabled"`
	NoiseSuppressionLevel     int     `yaml:"noise_suppression_level"`
	AGCEnabled                bool    `yaml:"agc_enabled"`
	VADAggressiveness         int     `yaml:"vad_aggressiveness"`
	NormalizationEnabled      bool    `yaml:"normalization_enabled"`
	TargetRMSDBFS             float64 `yaml:"target_rms_dbfs"`
	PeakLimitDBFS             float64 `yaml:"peak_limit_dbfs"`
	EdgeFadeEnabled           bool    `yaml:"edge_fade_enabled"`
	MinSpeechLengthS          float64 `yaml:"min_speech_length_s"`
	TrailingSilenceS          float64 `yaml:"trailing_silence_s"`
	SilenceAmplitudeThreshold float64 `yaml:"silence_amplitude_threshold"`
}

// TranscribeConfig selects and configures the transcription backend.
type TranscribeConfig struct {
	// Mode is "streaming" or "batch".
	Mode TranscriptionMode `yaml:"mode"`

	// Provider selects the backend implementation: "openai",
	// "whisper-native", or "mock".
	Provider string `yaml:"provider"`

	// APIKey authenticates against hosted backends.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// ModelPath points at a local model file for whisper-native.
	ModelPath string `yaml:"model_path"`

	// Language is the BCP-47 recognition language hint.
	Language string `yaml:"language"`
}

// SynthesisConfig selects and configures the speech synthesis backend.
type SynthesisConfig struct {
	// Provider selects the backend implementation: "openai" or "mock".
	Provider string `yaml:"provider"`

	// APIKey authenticates against hosted backends.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Voice is the provider voice ID used for responses.
	Voice string `yaml:"voice"`
}

// VerificationConfig controls the speaker verification engine.
type VerificationConfig struct {
	// Enabled toggles verification entirely. When off, transcripts are
	// published without speaker attribution.
	Enabled bool `yaml:"enabled"`

	// Threshold is the minimum similarity for a positive identification.
	Threshold float64 `yaml:"threshold"`

	// IncludeEmbedding attaches the raw query embedding to published
	// transcript events for downstream consumers.
	IncludeEmbedding bool `yaml:"include_embedding"`

	// Strategy combines per-sample similarities: "max" or "mean".
	Strategy EnsembleStrategy `yaml:"strategy"`

	// TopK, when > 0 with the mean strategy, averages only the K best
	// sample similarities per profile.
	TopK int `yaml:"top_k"`

	// EmbeddingDimensions is the vector size produced by the embedding
	// backend. The profile store's vector column is sized to it.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// DecisionMargin is the minimum gap between the best and second-best
	// speaker score for an identification to stand.
	DecisionMargin float64 `yaml:"decision_margin"`

	// BucketEdges are the similarity boundaries between low/medium/high
	// confidence. Exactly two ascending values.
	BucketEdges []float64 `yaml:"bucket_edges"`

	// Timeout bounds how long transcript publication waits for a pending
	// verification result, in milliseconds.
	TimeoutMs int `yaml:"timeout_ms"`

	// PostgresDSN, when non-empty, persists voice profiles in Postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BusConfig configures the event bus connection.
type BusConfig struct {
	// URL is the websocket address of the broker (e.g. "ws://127.0.0.1:7078").
	URL string `yaml:"url"`

	// Source is the source identifier stamped on published envelopes.
	Source string `yaml:"source"`
}

// Default returns a Config with the documented defaults applied. Loading a
// file overlays the defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Audio: AudioConfig{
			SampleRate: 16000,
			FrameSize:  320,
		},
		Processing: ProcessingConfig{
			HighPassCutoffHz:          70.0,
			DeclickingEnabled:         true,
			NoiseSuppressionLevel:     2,
			AGCEnabled:                true,
			VADAggressiveness:         1,
			NormalizationEnabled:      true,
			TargetRMSDBFS:             -20.0,
			PeakLimitDBFS:             -3.0,
			EdgeFadeEnabled:           true,
			MinSpeechLengthS:          0.3,
			TrailingSilenceS:          0.7,
			SilenceAmplitudeThreshold: 0.01,
		},
		Transcribe: TranscribeConfig{
			Mode:     ModeStreaming,
			Provider: "openai",
		},
		Synthesis: SynthesisConfig{
			Provider: "openai",
			Voice:    "alloy",
		},
		Verification: VerificationConfig{
			Threshold:           0.267,
			Strategy:            EnsembleMean,
			TopK:                3,
			EmbeddingDimensions: 192,
			DecisionMargin:      0.04,
			BucketEdges:         []float64{0.35, 0.55},
			TimeoutMs:           150,
		},
		Bus: BusConfig{
			URL:    "ws://127.0.0.1:7078",
			Source: "kestrel",
		},
	}
}
