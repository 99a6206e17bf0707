package apm

import (
	"math"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

// noiseSuppressor applies Wiener-style spectral suppression over overlapped
// Hann-windowed sub-frames (75% overlap) so block boundaries do not produce
// audible artifacts. The noise power spectrum is estimated adaptively: it is
// only updated on sub-frames a coarse speech estimate classifies as
// non-speech, so speech energy never leaks into the noise model.
type noiseSuppressor struct {
	level     int
	strength  float64
	smoothing float64

	frameSize int // sub-frame length in samples (10 ms)
	hop       int
	nfft      int
	window    []float64

	noisePSD []float64
	prevGain []float64

	// Adaptive noise-floor RMS tracker for the coarse speech estimate.
	floorRMS float64
}

const (
	nsSubFrameMs = 10
	// nsSpeechRatio: a sub-frame whose RMS exceeds this multiple of the
	// tracked noise floor counts as speech for PSD-update gating.
	nsSpeechRatio = 2.5
	nsFloorAlpha  = 0.05
	nsGainFloor   = 0.15
)

func newNoiseSuppressor(sampleRate, level int) *noiseSuppressor {
	n := &noiseSuppressor{
		level:     level,
		frameSize: sampleRate * nsSubFrameMs / 1000,
	}

	switch level {
	case 1:
		n.strength, n.smoothing = 0.6, 0.12
	case 2:
		n.strength, n.smoothing = 0.85, 0.08
	default: // level >= 3
		n.strength, n.smoothing = 1.0, 0.05
	}

	n.nfft = 512
	if n.frameSize > 512 {
		n.nfft = 1024
	}
	n.hop = max(1, n.frameSize/4)

	// Hann window with a small offset so the edges never reach zero, which
	// would break the overlap-add normalisation.
	n.window = make([]float64, n.frameSize)
	for i := range n.window {
		n.window[i] = 0.5*(1-math.Cos(2*math.Pi*float64(i)/float64(n.frameSize-1))) + 0.01
	}
	return n
}

func (n *noiseSuppressor) Name() string { return "noise_suppression" }

func (n *noiseSuppressor) Process(buf []float64) ([]float64, error) {
	numSamples := len(buf)
	out := make([]float64, numSamples+n.frameSize)
	winSum := make([]float64, len(out))

	bins := n.nfft/2 + 1
	re := make([]float64, n.nfft)
	im := make([]float64, n.nfft)
	frame := make([]float64, n.frameSize)

	for start := 0; start < numSamples; start += n.hop {
		for i := range frame {
			frame[i] = 0
		}
		copyLen := min(n.frameSize, numSamples-start)
		copy(frame, buf[start:start+copyLen])

		isSpeech := n.classify(frame)

		// Forward transform of the windowed sub-frame.
		for i := range re {
			re[i], im[i] = 0, 0
		}
		for i, v := range frame {
			re[i] = v * n.window[i]
		}
		fft(re, im, false)

		power := make([]float64, bins)
		for i := range bins {
			power[i] = re[i]*re[i] + im[i]*im[i]
		}

		if n.noisePSD == nil {
			n.noisePSD = make([]float64, bins)
			seed := 1.0
			if isSpeech {
				seed = 0.3
			}
			for i := range bins {
				n.noisePSD[i] = math.Max(power[i]*seed, 1e-10)
			}
		}
		if !isSpeech {
			for i := range bins {
				n.noisePSD[i] = (1-n.smoothing)*n.noisePSD[i] + n.smoothing*power[i]
			}
		}

		// Wiener gain per bin, clipped and smoothed across sub-frames.
		gain := make([]float64, bins)
		for i := range bins {
			g := power[i] / (power[i] + n.strength*n.noisePSD[i] + 1e-10)
			if g < nsGainFloor {
				g = nsGainFloor
			} else if g > 1 {
				g = 1
			}
			gain[i] = g
		}
		if n.prevGain != nil {
			for i := range bins {
				gain[i] = 0.7*gain[i] + 0.3*n.prevGain[i]
			}
		}
		n.prevGain = gain

		// Apply the amplitude gain, mirroring the conjugate-symmetric bins.
		for i := range bins {
			g := math.Sqrt(gain[i])
			re[i] *= g
			im[i] *= g
			if i > 0 && i < n.nfft-i {
				re[n.nfft-i] *= g
				im[n.nfft-i] *= g
			}
		}
		fft(re, im, true)

		// Window again and overlap-add. The signal carries both the analysis
		// and synthesis windows at this point, so unity gain needs the
		// squared-window sum.
		for i := range n.frameSize {
			out[start+i] += re[i] * n.window[i]
			winSum[start+i] += n.window[i] * n.window[i]
		}
	}

	for i := range numSamples {
		if winSum[i] > 1e-8 {
			buf[i] = out[i] / winSum[i]
		} else {
			buf[i] = out[i]
		}
	}
	return buf, nil
}

// classify is the coarse per-sub-frame speech estimate that gates noise PSD
// updates. It tracks an exponential noise-floor RMS and flags sub-frames well
// above it.
func (n *noiseSuppressor) classify(frame []float64) bool {
	rms := audio.RMS(frame)
	if n.floorRMS == 0 {
		n.floorRMS = math.Max(rms, 1e-6)
		return false
	}
	speech := rms > n.floorRMS*nsSpeechRatio
	if !speech {
		n.floorRMS = (1-nsFloorAlpha)*n.floorRMS + nsFloorAlpha*math.Max(rms, 1e-6)
	}
	return speech
}

func (n *noiseSuppressor) Reset() {
	n.noisePSD = nil
	n.prevGain = nil
	n.floorRMS = 0
}
