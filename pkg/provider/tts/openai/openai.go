// Package openai implements the tts.Provider interface using the OpenAI
// speech endpoint. Each text unit is synthesised as one request with the raw
// PCM response format, and the response body is streamed to the audio
// channel in fixed-size chunks so playback can begin before synthesis
// completes.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

const (
	// DefaultModel is the default OpenAI speech synthesis model.
	DefaultModel = "gpt-4o-mini-tts"

	// DefaultVoice is used when the caller does not specify a voice.
	DefaultVoice = "alloy"

	// pcmSampleRate is the fixed output rate of the OpenAI PCM response
	// format: 24 kHz, mono, 16-bit little-endian.
	pcmSampleRate = 24000

	// readChunkSize is how much of the response body is forwarded per
	// audio channel send.
	readChunkSize = 4096
)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI TTS Provider.
// If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
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
	return &Provider{client: client, model: model}, nil
}

// SampleRate returns the PCM output rate of the provider: 24 kHz mono.
func (p *Provider) SampleRate() int { return pcmSampleRate }

// SynthesizeStream implements tts.Provider. It consumes text units in order
// and forwards each synthesised PCM stream to the returned channel.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if text == nil {
		return nil, errors.New("openai tts: text channel must not be nil")
	}

	voiceID := voice.ID
	if voiceID == "" {
		voiceID = voice.Name
	}
	if voiceID == "" {
		voiceID = DefaultVoice
	}

	audioCh := make(chan []byte, 16)
	go func() {
		defer close(audioCh)
		for {
			select {
			case <-ctx.Done():
				return
			case unit, ok := <-text:
				if !ok {
					return
				}
				if unit == "" {
					continue
				}
				if err := p.synthesizeUnit(ctx, unit, voiceID, audioCh); err != nil {
					if ctx.Err() == nil {
						slog.Error("openai tts: synthesis failed", "error", err)
					}
					return
				}
			}
		}
	}()
	return audioCh, nil
}

// synthesizeUnit issues one speech request and streams the PCM body to out.
func (p *Provider) synthesizeUnit(ctx context.Context, unit, voiceID string, out chan<- []byte) error {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          unit,
		Voice:          oai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	for {
		buf := make([]byte, readChunkSize)
		n, err := resp.Body.Read(buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read speech body: %w", err)
		}
	}
}
