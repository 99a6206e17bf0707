package apm

import (
	"math"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

// agc applies smooth automatic gain control toward a fixed target level.
// The signal envelope is tracked with separate attack and release time
// constants, and the applied gain is both smoothed and hard rate-limited per
// frame so level corrections never produce audible stepping.
type agc struct {
	targetLinear float64
	minGain      float64
	maxGain      float64
	attackAlpha  float64
	releaseAlpha float64

	envelope float64
	gain     float64
}

const (
	agcTargetDBFS    = -18.0
	agcMaxGainDB     = 20.0
	agcMinGainDB     = -20.0
	agcAttackMs      = 5.0
	agcReleaseMs     = 50.0
	agcMaxStepDB     = 3.0 // hard gain-change ceiling per frame
	agcSilenceFloor  = 1e-8
)

func newAGC(sampleRate, frameSize int) *agc {
	frameMs := float64(frameSize) / float64(sampleRate) * 1000.0
	return &agc{
		targetLinear: dbToLinear(agcTargetDBFS),
		minGain:      dbToLinear(agcMinGainDB),
		maxGain:      dbToLinear(agcMaxGainDB),
		attackAlpha:  math.Exp(-frameMs / agcAttackMs),
		releaseAlpha: math.Exp(-frameMs / agcReleaseMs),
		gain:         1.0,
	}
}

func (a *agc) Name() string { return "agc" }

func (a *agc) Process(buf []float64) ([]float64, error) {
	rms := audio.RMS(buf)

	// Envelope tracking: fast on rising level, slow on falling.
	if a.envelope == 0 {
		a.envelope = rms
	} else {
		alpha := a.releaseAlpha
		if rms > a.envelope {
			alpha = a.attackAlpha
		}
		a.envelope = alpha*a.envelope + (1-alpha)*rms
	}

	desired := 1.0
	if a.envelope > agcSilenceFloor {
		desired = a.targetLinear / a.envelope
		if !isFinitePositive(desired) {
			desired = 1.0
		}
		desired = clamp(desired, a.minGain, a.maxGain)
	}

	// Smooth toward the desired gain: reducing gain uses the attack
	// constant, increasing uses release.
	alpha := a.releaseAlpha
	if desired < a.gain {
		alpha = a.attackAlpha
	}
	next := alpha*a.gain + (1-alpha)*desired

	// Rate limit the change in dB per frame.
	stepDB := linearToDB(next) - linearToDB(a.gain)
	if stepDB > agcMaxStepDB {
		next = a.gain * dbToLinear(agcMaxStepDB)
	} else if stepDB < -agcMaxStepDB {
		next = a.gain * dbToLinear(-agcMaxStepDB)
	}
	a.gain = next

	for i := range buf {
		buf[i] *= a.gain
	}
	return buf, nil
}

func (a *agc) Reset() {
	a.envelope = 0
	a.gain = 1.0
}

func dbToLinear(db float64) float64 { return math.Pow(10, db/20) }

func linearToDB(lin float64) float64 {
	if lin <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(lin)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isFinitePositive(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v) && v > 0
}
