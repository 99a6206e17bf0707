package verify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Threshold:      0.267,
		Strategy:       StrategyMean,
		TopK:           3,
		DecisionMargin: 0.04,
		BucketEdges:    [2]float64{0.35, 0.55},
	}
}

func mustVerifier(t *testing.T, cfg Config) *Verifier {
	t.Helper()
	v, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestIdentifyIdenticalEmbeddingIsCertain(t *testing.T) {
	v := mustVerifier(t, testConfig())
	emb := []float64{0.12, -0.5, 0.33, 0.81, -0.02}
	if err := v.Enroll("alice", emb); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	res := v.Identify(context.Background(), emb)
	if res.UserID != "alice" {
		t.Errorf("user = %q, want alice", res.UserID)
	}
	if res.Similarity != 1.0 {
		t.Errorf("similarity = %v, want exactly 1.0", res.Similarity)
	}
	if res.Confidence != LevelHigh {
		t.Errorf("confidence = %q, want high", res.Confidence)
	}
}

func TestIdentifyWithNoProfilesIsNone(t *testing.T) {
	v := mustVerifier(t, testConfig())
	res := v.Identify(context.Background(), []float64{1, 0, 0})
	if !res.None() {
		t.Errorf("result = %+v, want none", res)
	}
}

func TestIdentifyBelowThresholdIsNone(t *testing.T) {
	v := mustVerifier(t, testConfig())
	v.Enroll("alice", []float64{1, 0, 0, 0})

	// Orthogonal query: similarity 0.
	res := v.Identify(context.Background(), []float64{0, 1, 0, 0})
	if !res.None() {
		t.Errorf("result = %+v, want none", res)
	}
	if res.Similarity != 0 {
		t.Errorf("similarity = %v, want 0", res.Similarity)
	}
}

func TestIdentifyAmbiguousMarginIsNone(t *testing.T) {
	v := mustVerifier(t, testConfig())
	// Two speakers with nearly identical profiles: the gap between best and
	// second-best falls inside the decision margin.
	v.Enroll("alice", []float64{1, 0.01, 0, 0})
	v.Enroll("bob", []float64{1, 0, 0.01, 0})

	res := v.Identify(context.Background(), []float64{1, 0.005, 0.005, 0})
	if !res.None() {
		t.Errorf("result = %+v, want none for ambiguous match", res)
	}
	if res.Similarity < 0.9 {
		t.Errorf("similarity = %v, expected the best score to be reported", res.Similarity)
	}
}

func TestIdentifyPicksBestOfSeveral(t *testing.T) {
	v := mustVerifier(t, testConfig())
	v.Enroll("alice", []float64{1, 0, 0, 0})
	v.Enroll("bob", []float64{0, 1, 0, 0})

	res := v.Identify(context.Background(), []float64{0.95, 0.05, 0, 0})
	if res.UserID != "alice" {
		t.Errorf("user = %q, want alice", res.UserID)
	}
	if res.Confidence != LevelHigh {
		t.Errorf("confidence = %q, want high", res.Confidence)
	}
}

func TestEnsembleStrategies(t *testing.T) {
	// One enrolled sample matches the query exactly, two others are
	// orthogonal. Max scores 1.0; mean over all three scores ~0.33.
	enroll := func(v *Verifier) {
		v.Enroll("alice", []float64{1, 0, 0})
		v.Enroll("alice", []float64{0, 1, 0})
		v.Enroll("alice", []float64{0, 0, 1})
	}
	query := []float64{1, 0, 0}

	maxCfg := testConfig()
	maxCfg.Strategy = StrategyMax
	vMax := mustVerifier(t, maxCfg)
	enroll(vMax)
	if res := vMax.Identify(context.Background(), query); res.Similarity != 1.0 {
		t.Errorf("max strategy similarity = %v, want 1.0", res.Similarity)
	}

	meanCfg := testConfig()
	meanCfg.Strategy = StrategyMean
	meanCfg.TopK = 0
	vMean := mustVerifier(t, meanCfg)
	enroll(vMean)
	res := vMean.Identify(context.Background(), query)
	if res.Similarity > 0.4 {
		t.Errorf("mean strategy similarity = %v, want ~0.33", res.Similarity)
	}

	// Top-1 mean degenerates to max.
	topCfg := testConfig()
	topCfg.TopK = 1
	vTop := mustVerifier(t, topCfg)
	enroll(vTop)
	if res := vTop.Identify(context.Background(), query); res.Similarity != 1.0 {
		t.Errorf("top-1 mean similarity = %v, want 1.0", res.Similarity)
	}
}

func TestConfidenceBuckets(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = 0
	cfg.DecisionMargin = 0
	v := mustVerifier(t, cfg)
	if got := v.bucket(0.2); got != LevelLow {
		t.Errorf("bucket(0.2) = %q", got)
	}
	if got := v.bucket(0.45); got != LevelMedium {
		t.Errorf("bucket(0.45) = %q", got)
	}
	if got := v.bucket(0.9); got != LevelHigh {
		t.Errorf("bucket(0.9) = %q", got)
	}
}

func TestEnrollValidation(t *testing.T) {
	v := mustVerifier(t, testConfig())
	if err := v.Enroll("", []float64{1}); err == nil {
		t.Error("empty user id accepted")
	}
	if err := v.Enroll("alice", nil); err == nil {
		t.Error("empty embedding accepted")
	}
	if err := v.Enroll("alice", []float64{1, 0, 0}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	err := v.Enroll("bob", []float64{1, 0})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("dimension mismatch error = %v", err)
	}
}

func TestEnrollCopiesTheEmbedding(t *testing.T) {
	v := mustVerifier(t, testConfig())
	emb := []float64{1, 0, 0}
	v.Enroll("alice", emb)
	emb[0] = -1 // caller mutates its slice afterwards

	res := v.Identify(context.Background(), []float64{1, 0, 0})
	if res.UserID != "alice" || res.Similarity != 1.0 {
		t.Errorf("stored profile was aliased to caller memory: %+v", res)
	}
}

func TestIdentifyAsyncJoin(t *testing.T) {
	v := mustVerifier(t, testConfig())
	emb := []float64{0.3, 0.7, 0.1}
	v.Enroll("alice", emb)

	ch := v.IdentifyAsync(context.Background(), emb)
	select {
	case res := <-ch:
		if res.UserID != "alice" {
			t.Errorf("user = %q", res.UserID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("async identification never completed")
	}
}

func TestConfigValidation(t *testing.T) {
	bad := []Config{
		{Threshold: -0.1, BucketEdges: [2]float64{0.3, 0.6}},
		{Threshold: 0.5, Strategy: "median", BucketEdges: [2]float64{0.3, 0.6}},
		{Threshold: 0.5, TopK: -1, BucketEdges: [2]float64{0.3, 0.6}},
		{Threshold: 0.5, BucketEdges: [2]float64{0.6, 0.3}},
	}
	for i, cfg := range bad {
		if _, err := New(cfg, nil); err == nil {
			t.Errorf("config %d accepted", i)
		}
	}
}
