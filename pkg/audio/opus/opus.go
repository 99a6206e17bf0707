// Package opus wraps the gopus codec for decoding pre-encoded response audio
// chunks into raw PCM the playback path can consume directly.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

// maxFrameSize is the largest Opus frame the decoder accepts: 120 ms at
// 48 kHz per channel.
const maxFrameSize = 5760

// Decoder decodes a stream of Opus packets for one turn. Each turn gets its
// own decoder so codec state never crosses turn boundaries.
type Decoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewDecoder creates a decoder for the given output format.
func NewDecoder(format audio.Format) (*Decoder, error) {
	dec, err := gopus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder for %s: %w", format, err)
	}
	return &Decoder{dec: dec, channels: format.Channels}, nil
}

// Decode decodes one Opus packet into little-endian 16-bit PCM bytes.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, maxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode packet of %d bytes: %w", len(packet), err)
	}
	return audio.Int16sToBytes(pcm), nil
}
