// Package verify implements the speaker verification engine: enrollment of
// voice profiles and identification of utterances by cosine similarity over
// embedding ensembles.
//
// Embedding extraction itself is an external collaborator behind the
// [Embedder] interface; the engine only scores vectors. Profiles live in
// memory under a reader/writer lock — identification is the hot path and
// takes the read side, enrollment the write side. An optional Postgres store
// (subpackage postgres) persists profiles across restarts.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kestrelvoice/kestrel/internal/observe"
)

// Embedder converts a speech segment into a fixed-dimension voice embedding.
type Embedder interface {
	Embed(ctx context.Context, pcm []byte) ([]float64, error)
}

// Level buckets a similarity score into a coarse confidence statement.
type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"
)

// Strategy selects how per-sample similarities combine into one profile
// score.
type Strategy string

const (
	// StrategyMax scores a profile by its best-matching sample.
	StrategyMax Strategy = "max"

	// StrategyMean scores a profile by the mean of its top-K sample
	// similarities (all samples when TopK is 0).
	StrategyMean Strategy = "mean"
)

// Result is the outcome of one identification. It is derived on the fly and
// never persisted.
type Result struct {
	// UserID of the matched profile, or empty when no profile matched.
	UserID string

	// Similarity is the best profile score in [0, 1].
	Similarity float64

	// Confidence buckets Similarity against the configured edges.
	Confidence Level
}

// None reports whether the identification matched no enrolled profile.
func (r Result) None() bool { return r.UserID == "" }

// Config tunes the engine. Zero values fall back to the documented defaults.
type Config struct {
	// Threshold is the minimum profile score for a positive match.
	Threshold float64

	// Strategy combines per-sample similarities. Default: mean.
	Strategy Strategy

	// TopK limits the mean strategy to the K best samples. 0 means all.
	TopK int

	// DecisionMargin is the minimum gap between the best and second-best
	// profile score. A narrower gap rejects the identification: two voices
	// that score nearly the same are not a reliable match.
	DecisionMargin float64

	// BucketEdges are the low/medium and medium/high similarity boundaries,
	// strictly ascending.
	BucketEdges [2]float64
}

func (c Config) validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("verify: threshold %v out of range [0, 1]", c.Threshold)
	}
	if c.Strategy != "" && c.Strategy != StrategyMax && c.Strategy != StrategyMean {
		return fmt.Errorf("verify: unknown strategy %q", c.Strategy)
	}
	if c.TopK < 0 {
		return fmt.Errorf("verify: top_k %d must not be negative", c.TopK)
	}
	if c.DecisionMargin < 0 {
		return fmt.Errorf("verify: decision_margin %v must not be negative", c.DecisionMargin)
	}
	if c.BucketEdges[0] >= c.BucketEdges[1] {
		return fmt.Errorf("verify: bucket edges %v must be strictly ascending", c.BucketEdges)
	}
	return nil
}

// ErrDimensionMismatch is returned when an embedding's dimension differs
// from the profiles already enrolled.
var ErrDimensionMismatch = errors.New("verify: embedding dimension mismatch")

// Verifier holds the enrolled profiles and scores identifications against
// them. Safe for concurrent use.
type Verifier struct {
	cfg     Config
	metrics *observe.Metrics

	mu       sync.RWMutex
	profiles map[string][][]float64
	dims     int
}

// New creates a Verifier with the given config.
func New(cfg Config, metrics *observe.Metrics) (*Verifier, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyMean
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Verifier{
		cfg:      cfg,
		metrics:  metrics,
		profiles: make(map[string][][]float64),
	}, nil
}

// Enroll adds one embedding sample to the user's profile, creating the
// profile if needed. The first enrollment fixes the embedding dimension.
func (v *Verifier) Enroll(userID string, embedding []float64) error {
	if userID == "" {
		return errors.New("verify: enroll requires a user id")
	}
	if len(embedding) == 0 {
		return errors.New("verify: enroll requires a non-empty embedding")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dims == 0 {
		v.dims = len(embedding)
	} else if len(embedding) != v.dims {
		return fmt.Errorf("%w: got %d, profiles use %d", ErrDimensionMismatch, len(embedding), v.dims)
	}

	sample := make([]float64, len(embedding))
	copy(sample, embedding)
	v.profiles[userID] = append(v.profiles[userID], sample)
	return nil
}

// Profiles returns the enrolled user IDs.
func (v *Verifier) Profiles() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.profiles))
	for id := range v.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Identify scores the embedding against every enrolled profile and returns
// the best match, or a none-result when no profiles are enrolled, the best
// score is below the threshold, or the margin to the runner-up is too
// narrow.
func (v *Verifier) Identify(ctx context.Context, embedding []float64) Result {
	start := time.Now()
	defer func() {
		if v.metrics != nil {
			v.metrics.VerificationDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.profiles) == 0 || len(embedding) == 0 || len(embedding) != v.dims {
		return Result{Confidence: LevelLow}
	}

	var bestID string
	best, second := math.Inf(-1), math.Inf(-1)
	for id, samples := range v.profiles {
		score := v.scoreProfile(embedding, samples)
		switch {
		case score > best:
			second = best
			best, bestID = score, id
		case score > second:
			second = score
		}
	}

	if best < v.cfg.Threshold {
		return Result{Similarity: clamp01(best), Confidence: LevelLow}
	}
	if !math.IsInf(second, -1) && best-second < v.cfg.DecisionMargin {
		// Ambiguous between two speakers: report the score but no identity.
		return Result{Similarity: clamp01(best), Confidence: LevelLow}
	}

	sim := clamp01(best)
	return Result{UserID: bestID, Similarity: sim, Confidence: v.bucket(sim)}
}

// IdentifyAsync runs Identify on its own goroutine and delivers the result
// on the returned channel. Callers attach the result at publish time with a
// join-or-timeout select.
func (v *Verifier) IdentifyAsync(ctx context.Context, embedding []float64) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- v.Identify(ctx, embedding)
		close(out)
	}()
	return out
}

func (v *Verifier) scoreProfile(query []float64, samples [][]float64) float64 {
	sims := make([]float64, 0, len(samples))
	for _, s := range samples {
		sims = append(sims, cosine(query, s))
	}

	if v.cfg.Strategy == StrategyMax {
		best := math.Inf(-1)
		for _, s := range sims {
			if s > best {
				best = s
			}
		}
		return best
	}

	sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
	k := len(sims)
	if v.cfg.TopK > 0 && v.cfg.TopK < k {
		k = v.cfg.TopK
	}
	var sum float64
	for _, s := range sims[:k] {
		sum += s
	}
	return sum / float64(k)
}

func (v *Verifier) bucket(sim float64) Level {
	switch {
	case sim < v.cfg.BucketEdges[0]:
		return LevelLow
	case sim < v.cfg.BucketEdges[1]:
		return LevelMedium
	}
	return LevelHigh
}

// cosine returns the cosine similarity of a and b. Scores within floating
// point noise of a perfect match snap to exactly 1.0 so that an embedding
// compared against itself reports certainty.
func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim > 1-1e-12 {
		return 1.0
	}
	return sim
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
