package apm

import "sort"

// declicker removes single-sample clicks using median/MAD outlier detection
// over a small sliding window. Samples more than madThreshold deviations from
// the window median are replaced by the median, which interpolates them from
// their neighbours. Clean audio passes through bit-identically, so the stage
// is idempotent.
type declicker struct {
	windowSize   int
	madThreshold float64
	scratch      []float64
}

const (
	declickWindow    = 5
	declickThreshold = 6.0
	// madFloor keeps the deviation scale non-zero on perfectly flat windows.
	madFloor = 1e-8
)

func newDeclicker() *declicker {
	return &declicker{
		windowSize:   declickWindow,
		madThreshold: declickThreshold,
		scratch:      make([]float64, declickWindow-1),
	}
}

func (d *declicker) Name() string { return "declicking" }

func (d *declicker) Process(buf []float64) ([]float64, error) {
	if len(buf) < d.windowSize {
		return buf, nil
	}

	half := d.windowSize / 2
	out := make([]float64, len(buf))
	copy(out, buf)

	neighbours := d.scratch
	for i := half; i < len(buf)-half; i++ {
		// Window around i excluding the candidate sample itself.
		n := 0
		for j := i - half; j < i; j++ {
			neighbours[n] = buf[j]
			n++
		}
		for j := i + 1; j <= i+half; j++ {
			neighbours[n] = buf[j]
			n++
		}

		med := median(neighbours)
		mad := medianAbsDeviation(neighbours, med) + madFloor

		if abs(buf[i]-med) > d.madThreshold*mad {
			out[i] = med
		}
	}
	return out, nil
}

func (d *declicker) Reset() {}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// median returns the median of vals, modifying vals in the process.
func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// medianAbsDeviation returns the median absolute deviation from med.
func medianAbsDeviation(vals []float64, med float64) float64 {
	devs := make([]float64, len(vals))
	for i, v := range vals {
		devs[i] = abs(v - med)
	}
	return median(devs)
}
