package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
)

// DefaultBatchModel is the default model for segment-at-a-time transcription.
const DefaultBatchModel = "whisper-1"

// Ensure BatchTranscriber implements the stt.BatchProvider interface.
var _ stt.BatchProvider = (*BatchTranscriber)(nil)

// BatchTranscriber implements stt.BatchProvider using the OpenAI audio
// transcription endpoint. Each segment is wrapped in a WAV container and
// submitted as one request.
type BatchTranscriber struct {
	client oai.Client
	model  string
}

// batchConfig holds optional configuration for the transcriber.
type batchConfig struct {
	baseURL string
	timeout time.Duration
}

// BatchOption is a functional option for BatchTranscriber.
type BatchOption func(*batchConfig)

// WithBatchBaseURL overrides the default OpenAI API base URL.
func WithBatchBaseURL(url string) BatchOption {
	return func(c *batchConfig) { c.baseURL = url }
}

// WithBatchTimeout sets a per-request HTTP timeout.
func WithBatchTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) { c.timeout = d }
}

// NewBatch constructs a new OpenAI batch transcriber.
// If model is empty, DefaultBatchModel (whisper-1) is used.
func NewBatch(apiKey string, model string, opts ...BatchOption) (*BatchTranscriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai batch: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultBatchModel
	}

	cfg := &batchConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &BatchTranscriber{client: client, model: model}, nil
}

// Transcribe implements stt.BatchProvider.
func (t *BatchTranscriber) Transcribe(ctx context.Context, pcm []byte, cfg stt.StreamConfig) (stt.Transcript, error) {
	if len(pcm) == 0 {
		return stt.Transcript{}, fmt.Errorf("openai batch: empty segment")
	}

	wav := audio.EncodeWAV(pcm, cfg.SampleRate, cfg.Channels)

	params := oai.AudioTranscriptionNewParams{
		Model: t.model,
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
	}
	if cfg.Language != "" {
		params.Language = param.NewOpt(cfg.Language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai batch: transcribe: %w", err)
	}

	bytesPerSecond := cfg.SampleRate * cfg.Channels * 2
	dur := time.Duration(float64(len(pcm)) / float64(bytesPerSecond) * float64(time.Second))

	return stt.Transcript{
		Text:     resp.Text,
		IsFinal:  true,
		Duration: dur,
	}, nil
}
