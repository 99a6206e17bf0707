package audio

import (
	"fmt"
	"math"
)

// Resampler converts a stream of 16-bit little-endian mono PCM from one
// sample rate to another using linear interpolation. It is streaming: state
// carries across Process calls, so the output is identical no matter how the
// input is chunked. Linear interpolation is adequate for speech playback;
// the pipeline never resamples audio that feeds recognition.
//
// A Resampler is not safe for concurrent use.
type Resampler struct {
	step float64 // input samples advanced per output sample

	pos    float64 // position of the next output, in input samples past prev
	prev   int16   // last input sample consumed, interpolation anchor at pos 0
	primed bool

	carry    byte // held when a chunk ends mid-sample
	hasCarry bool
}

// NewResampler creates a Resampler converting from Hz to to Hz.
func NewResampler(from, to int) (*Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("audio: resample %d -> %d: rates must be positive", from, to)
	}
	return &Resampler{step: float64(from) / float64(to)}, nil
}

// Process converts one chunk of input PCM and returns the output PCM. The
// returned slice may be empty when the chunk is too short to produce a new
// output sample; the held remainder is consumed by the next call.
func (r *Resampler) Process(pcm []byte) []byte {
	if r.hasCarry && len(pcm) > 0 {
		joined := make([]byte, 0, len(pcm)+1)
		joined = append(joined, r.carry)
		joined = append(joined, pcm...)
		pcm = joined
		r.hasCarry = false
	}
	if len(pcm)%2 == 1 {
		r.carry = pcm[len(pcm)-1]
		r.hasCarry = true
		pcm = pcm[:len(pcm)-1]
	}

	samples := BytesToInt16s(pcm)
	if len(samples) == 0 {
		return nil
	}
	if !r.primed {
		r.prev = samples[0]
		samples = samples[1:]
		r.primed = true
	}
	n := len(samples)

	out := make([]int16, 0, int(float64(n)/r.step)+2)
	for {
		k := int(r.pos)
		frac := r.pos - float64(k)
		need := k
		if frac > 0 {
			need = k + 1
		}
		if need > n {
			break
		}
		v := r.sampleAt(k, samples)
		if frac > 0 {
			v += frac * (r.sampleAt(k+1, samples) - v)
		}
		out = append(out, clampRound(v))
		r.pos += r.step
	}

	if n > 0 {
		r.prev = samples[n-1]
		r.pos -= float64(n)
	}
	return Int16sToBytes(out)
}

// sampleAt reads the virtual input stream: index 0 is the carried previous
// sample, index i >= 1 is samples[i-1].
func (r *Resampler) sampleAt(i int, samples []int16) float64 {
	if i == 0 {
		return float64(r.prev)
	}
	return float64(samples[i-1])
}

func clampRound(v float64) int16 {
	s := math.Round(v)
	if s > 32767 {
		s = 32767
	} else if s < -32768 {
		s = -32768
	}
	return int16(s)
}
