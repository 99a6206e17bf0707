package apm

import "github.com/kestrelvoice/kestrel/pkg/audio"

// normalizer scales each frame toward a target RMS level using an
// exponentially smoothed gain estimate, then enforces a hard peak ceiling
// after scaling. The ceiling is clip prevention, not dynamic compression:
// when the scaled peak would exceed the limit, the whole frame is scaled
// down uniformly.
type normalizer struct {
	targetRMS float64
	peakLimit float64
	emaAlpha  float64

	gainEMA float64
}

const (
	normEMAAlpha    = 0.1
	normQuietFloor  = 1e-8
)

func newNormalizer(targetRMSDBFS, peakLimitDBFS float64) *normalizer {
	return &normalizer{
		targetRMS: dbToLinear(targetRMSDBFS),
		peakLimit: dbToLinear(peakLimitDBFS),
		emaAlpha:  normEMAAlpha,
		gainEMA:   1.0,
	}
}

func (n *normalizer) Name() string { return "normalization" }

func (n *normalizer) Process(buf []float64) ([]float64, error) {
	rms := audio.RMS(buf)
	if rms < normQuietFloor {
		// Too quiet to estimate a meaningful gain; leave untouched.
		return buf, nil
	}

	instantaneous := n.targetRMS / rms
	n.gainEMA = (1-n.emaAlpha)*n.gainEMA + n.emaAlpha*instantaneous

	peak := 0.0
	for i := range buf {
		buf[i] *= n.gainEMA
		if a := abs(buf[i]); a > peak {
			peak = a
		}
	}

	// Hard ceiling after gain scaling.
	if peak > n.peakLimit {
		ratio := n.peakLimit / peak
		for i := range buf {
			buf[i] *= ratio
		}
	}
	return buf, nil
}

func (n *normalizer) Reset() {
	n.gainEMA = 1.0
}
