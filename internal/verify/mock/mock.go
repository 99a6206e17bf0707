// Package mock provides a test double for the verify.Embedder interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelvoice/kestrel/internal/verify"
)

// Ensure Embedder implements verify.Embedder at compile time.
var _ verify.Embedder = (*Embedder)(nil)

// Embedder is a mock implementation of verify.Embedder. It returns a fixed
// embedding (or the result of EmbedFunc when set) and records every call.
type Embedder struct {
	mu sync.Mutex

	// Embedding is returned from every Embed call unless EmbedFunc is set.
	Embedding []float64

	// Err, if non-nil, is returned instead of an embedding.
	Err error

	// Delay, if non-zero, is slept before returning. Used to exercise the
	// join-or-timeout path at transcript publish time.
	Delay time.Duration

	// EmbedFunc, if non-nil, overrides the canned behaviour entirely.
	EmbedFunc func(pcm []byte) ([]float64, error)

	// EmbedCalls records a copy of the PCM passed to each call.
	EmbedCalls [][]byte
}

// Embed implements verify.Embedder.
func (e *Embedder) Embed(ctx context.Context, pcm []byte) ([]float64, error) {
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	e.mu.Lock()
	e.EmbedCalls = append(e.EmbedCalls, cp)
	fn := e.EmbedFunc
	emb, err, delay := e.Embedding, e.Err, e.Delay
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(pcm)
	}
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(emb))
	copy(out, emb)
	return out, nil
}

// CallCount returns how many times Embed was invoked. Thread-safe.
func (e *Embedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.EmbedCalls)
}
