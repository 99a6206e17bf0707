package respond

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/audio/device"
	"github.com/kestrelvoice/kestrel/pkg/audio/opus"
	"github.com/kestrelvoice/kestrel/pkg/provider/tts"
)

// EncodingPCM16 and EncodingOpus are the recognised audio chunk codecs.
const (
	EncodingPCM16 = "pcm16"
	EncodingOpus  = "opus"
)

// Player converts the units of one turn into playback writes: text units go
// through the synthesis provider, audio units are decoded (for Opus) or
// written directly (for PCM16).
type Player struct {
	tts     tts.Provider
	voice   tts.VoiceProfile
	format  audio.Format
	metrics *observe.Metrics
}

// NewPlayer creates a Player. format describes the playback stream the
// decoded audio units must match.
func NewPlayer(p tts.Provider, voice tts.VoiceProfile, format audio.Format, metrics *observe.Metrics) *Player {
	return &Player{tts: p, voice: voice, format: format, metrics: metrics}
}

// PlayTurn consumes units in order and writes their audio to out. It returns
// after the units channel is closed and all queued audio has drained, so the
// caller can safely switch the device back to capture. Units are strictly
// sequential: a text unit is fully synthesised and written before the next
// unit is touched, preserving emission order on the wire.
func (p *Player) PlayTurn(ctx context.Context, turnID string, units <-chan Unit, out device.PlaybackStream) error {
	// One decoder per turn keeps Opus codec state inside turn boundaries.
	var dec *opus.Decoder

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case unit, ok := <-units:
			if !ok {
				if err := out.Drain(ctx); err != nil {
					return fmt.Errorf("respond: drain playback for turn %s: %w", turnID, err)
				}
				return nil
			}

			if unit.IsAudio() {
				pcm, err := p.decodeUnit(&dec, unit)
				if err != nil {
					// A bad audio chunk skips, it must not kill the turn.
					slog.Warn("respond: skipping undecodable audio unit",
						"turn_id", turnID, "encoding", unit.Encoding, "error", err)
					continue
				}
				if err := out.Write(pcm); err != nil {
					return fmt.Errorf("respond: write audio unit for turn %s: %w", turnID, err)
				}
				continue
			}

			if err := p.playText(ctx, unit.Text, out); err != nil {
				return fmt.Errorf("respond: synthesize unit for turn %s: %w", turnID, err)
			}
		}
	}
}

func (p *Player) decodeUnit(dec **opus.Decoder, unit Unit) ([]byte, error) {
	switch unit.Encoding {
	case EncodingPCM16, "":
		return unit.Audio, nil
	case EncodingOpus:
		if *dec == nil {
			d, err := opus.NewDecoder(p.format)
			if err != nil {
				return nil, err
			}
			*dec = d
		}
		return (*dec).Decode(unit.Audio)
	}
	return nil, fmt.Errorf("unknown encoding %q", unit.Encoding)
}

// playText synthesises one text unit and writes the resulting audio. The
// unit is sent through a single-element channel so the provider sees one
// complete prosodic unit. When the provider's PCM rate differs from the
// playback stream rate the audio is resampled on the way through.
func (p *Player) playText(ctx context.Context, text string, out device.PlaybackStream) error {
	start := time.Now()

	var rs *audio.Resampler
	if p.voice.SampleRate > 0 && p.voice.SampleRate != p.format.SampleRate {
		var err error
		rs, err = audio.NewResampler(p.voice.SampleRate, p.format.SampleRate)
		if err != nil {
			return err
		}
	}

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := p.tts.SynthesizeStream(ctx, textCh, p.voice)
	if err != nil {
		return err
	}
	for chunk := range audioCh {
		if rs != nil {
			chunk = rs.Process(chunk)
			if len(chunk) == 0 {
				continue
			}
		}
		if err := out.Write(chunk); err != nil {
			return err
		}
	}

	if p.metrics != nil {
		p.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	}
	return ctx.Err()
}

// DecodeChunkAudio converts the base64 audio field of a wire chunk into raw
// bytes. Kept here so bus handling stays free of codec details.
func DecodeChunkAudio(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("respond: decode chunk audio: %w", err)
	}
	return data, nil
}
