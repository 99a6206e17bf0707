package apm

import "time"

// DefaultFadeDuration is the ramp length applied at segment boundaries.
const DefaultFadeDuration = time.Millisecond

// Fader applies short linear ramps at the start and end of a discrete audio
// chunk so spliced chunks do not click at the seam. It is applied once per
// assembled segment boundary, not per frame; the segmenter calls it on the
// first and last frames when a speech segment is finalised.
type Fader struct {
	fadeSamples int
}

// NewFader creates a Fader with the given ramp duration at sampleRate.
func NewFader(sampleRate int, fade time.Duration) *Fader {
	n := int(float64(sampleRate) * fade.Seconds())
	if n < 1 {
		n = 1
	}
	return &Fader{fadeSamples: n}
}

// FadeSamples returns the ramp length in samples.
func (f *Fader) FadeSamples() int { return f.fadeSamples }

// FadeIn ramps the first fadeSamples of samples from 0 to full scale in
// place. Chunks shorter than twice the ramp are left untouched.
func (f *Fader) FadeIn(samples []int16) {
	if len(samples) <= 2*f.fadeSamples {
		return
	}
	for i := range f.fadeSamples {
		g := float64(i) / float64(f.fadeSamples)
		samples[i] = int16(float64(samples[i]) * g)
	}
}

// FadeOut ramps the last fadeSamples of samples down to 0 in place.
// Chunks shorter than twice the ramp are left untouched.
func (f *Fader) FadeOut(samples []int16) {
	if len(samples) <= 2*f.fadeSamples {
		return
	}
	n := len(samples)
	for i := range f.fadeSamples {
		g := float64(i) / float64(f.fadeSamples)
		samples[n-1-i] = int16(float64(samples[n-1-i]) * g)
	}
}
