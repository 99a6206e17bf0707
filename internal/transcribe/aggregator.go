// Package transcribe turns speech segments into exactly one final transcript
// per utterance.
//
// In streaming mode, partial transcripts accumulate per utterance while
// audio is in flight; the aggregator keeps the longest partial seen so far
// and promotes it if the provider never commits a final. In batch mode the
// provider returns a single authoritative result. Either way, downstream
// consumers observe exactly one final per utterance ID, and an empty final
// text is a valid "no command" result rather than an error.
package transcribe

import (
	"strings"
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/provider/stt"
)

// Final is the authoritative transcript for one utterance.
type Final struct {
	// UtteranceID identifies the speech segment this transcript came from.
	UtteranceID string

	// Text is the recognized content. Empty means the utterance contained
	// no recognizable speech.
	Text string

	// Confidence is the provider's score, zero when unreported.
	Confidence float64

	// FromPartial is true when no authoritative provider result arrived and
	// the longest partial was promoted instead.
	FromPartial bool
}

// Aggregator tracks per-utterance partials and enforces the exactly-once
// finalization contract. Safe for concurrent use.
type Aggregator struct {
	mu        sync.Mutex
	partials  map[string]stt.Transcript
	finalized map[string]struct{}
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		partials:  make(map[string]stt.Transcript),
		finalized: make(map[string]struct{}),
	}
}

// AddPartial records an interim transcript for the utterance. Only the
// longest partial is retained: providers re-emit the full recognized text so
// far, so a shorter partial carries no new information. Partials arriving
// after finalization are dropped.
func (a *Aggregator) AddPartial(utteranceID string, tr stt.Transcript) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, done := a.finalized[utteranceID]; done {
		return
	}
	cur, ok := a.partials[utteranceID]
	if !ok || len(tr.Text) > len(cur.Text) {
		a.partials[utteranceID] = tr
	}
}

// Finalize commits the final transcript for the utterance. If final is nil
// (stream cancelled or provider never committed), the longest retained
// partial is promoted. The second and later calls for the same utterance
// return false and have no effect.
func (a *Aggregator) Finalize(utteranceID string, final *stt.Transcript) (Final, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, done := a.finalized[utteranceID]; done {
		return Final{}, false
	}
	a.finalized[utteranceID] = struct{}{}

	out := Final{UtteranceID: utteranceID}
	if final != nil {
		out.Text = strings.TrimSpace(final.Text)
		out.Confidence = final.Confidence
	} else if partial, ok := a.partials[utteranceID]; ok {
		out.Text = strings.TrimSpace(partial.Text)
		out.Confidence = partial.Confidence
		out.FromPartial = true
	}
	delete(a.partials, utteranceID)
	return out, true
}

// Partial returns the longest partial retained so far for the utterance.
func (a *Aggregator) Partial(utteranceID string) (stt.Transcript, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tr, ok := a.partials[utteranceID]
	return tr, ok
}

// Forget drops all state for an utterance, including its finalized marker.
// [Service.Transcribe] calls it once the final has been consumed so the
// aggregator does not grow by one entry per utterance over the process
// lifetime; it also covers segments abandoned before transcription.
func (a *Aggregator) Forget(utteranceID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.partials, utteranceID)
	delete(a.finalized, utteranceID)
}
