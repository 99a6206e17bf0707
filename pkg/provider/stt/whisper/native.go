// Package whisper implements stt.BatchProvider using the whisper.cpp CGO
// bindings for fully local transcription. The whisper.cpp static library
// (libwhisper.a) and headers (whisper.h) must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH environment variables.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.BatchProvider.
var _ stt.BatchProvider = (*NativeProvider)(nil)

const defaultLanguage = "en"

// NativeProvider implements stt.BatchProvider using whisper.cpp Go bindings
// (CGO), eliminating network overhead entirely. The model is loaded once at
// startup and shared across all transcriptions.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	// Contexts created from the shared model are not thread-safe, and
	// creating one per segment is cheap relative to inference, so each
	// Transcribe call gets a fresh context. mu serializes inference because
	// local CPU inference gains nothing from overlap.
	mu sync.Mutex
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription (e.g. "en",
// "de"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.BatchProvider. It runs whisper.cpp inference on
// the complete segment and returns the concatenated text of all recognized
// sub-segments.
func (p *NativeProvider) Transcribe(ctx context.Context, pcm []byte, cfg stt.StreamConfig) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if len(pcm) == 0 {
		return stt.Transcript{}, errors.New("whisper: empty segment")
	}

	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	samples := pcmToFloat32Mono(pcm, channels)

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	bytesPerSecond := cfg.SampleRate * channels * 2
	var dur time.Duration
	if bytesPerSecond > 0 {
		dur = time.Duration(float64(len(pcm)) / float64(bytesPerSecond) * float64(time.Second))
	}

	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		IsFinal:  true,
		Duration: dur,
	}, nil
}
