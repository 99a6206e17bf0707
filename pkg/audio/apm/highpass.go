package apm

import "math"

// dcRemoval is a one-pole DC-blocking filter that removes the constant
// offset some capture hardware leaves on the signal. Runs ahead of the
// speech high-pass so the biquad operates on a zero-centred signal.
type dcRemoval struct {
	r        float64
	prevIn   float64
	prevOut  float64
	havePrev bool
}

// dcCutoffHz is the corner frequency of the DC blocker.
const dcCutoffHz = 20.0

func newDCRemoval(sampleRate int) *dcRemoval {
	return &dcRemoval{r: 1.0 - 2.0*math.Pi*dcCutoffHz/float64(sampleRate)}
}

func (d *dcRemoval) Name() string { return "dc_removal" }

func (d *dcRemoval) Process(buf []float64) ([]float64, error) {
	for i, x := range buf {
		if !d.havePrev {
			d.prevIn, d.prevOut = x, 0
			d.havePrev = true
			buf[i] = 0
			continue
		}
		y := x - d.prevIn + d.r*d.prevOut
		d.prevIn, d.prevOut = x, y
		buf[i] = y
	}
	return buf, nil
}

func (d *dcRemoval) Reset() {
	d.prevIn, d.prevOut, d.havePrev = 0, 0, false
}

// highPass is a 2nd-order Butterworth high-pass biquad with filter state
// carried across frames, so consecutive frames are filtered as one
// continuous signal with no group-delay discontinuity at frame boundaries.
type highPass struct {
	b0, b1, b2 float64
	a1, a2     float64
	z1, z2     float64 // direct form II transposed state
}

func newHighPass(sampleRate int, cutoffHz float64) *highPass {
	// Butterworth Q.
	const q = math.Sqrt2 / 2

	w := 2 * math.Pi * cutoffHz / float64(sampleRate)
	cosW, sinW := math.Cos(w), math.Sin(w)
	alpha := sinW / (2 * q)

	a0 := 1 + alpha
	return &highPass{
		b0: (1 + cosW) / 2 / a0,
		b1: -(1 + cosW) / a0,
		b2: (1 + cosW) / 2 / a0,
		a1: -2 * cosW / a0,
		a2: (1 - alpha) / a0,
	}
}

func (h *highPass) Name() string { return "high_pass" }

func (h *highPass) Process(buf []float64) ([]float64, error) {
	for i, x := range buf {
		y := h.b0*x + h.z1
		h.z1 = h.b1*x - h.a1*y + h.z2
		h.z2 = h.b2*x - h.a2*y
		buf[i] = y
	}
	return buf, nil
}

func (h *highPass) Reset() {
	h.z1, h.z2 = 0, 0
}
