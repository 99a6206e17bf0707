// Package respond aggregates streamed response chunks into playable units.
//
// Text chunks are grouped at sentence boundaries so synthesis receives
// natural prosodic units instead of arbitrary fragments. Pre-synthesised
// audio chunks bypass aggregation entirely but still respect sequence order:
// any buffered text ahead of an audio chunk is flushed first, so emission
// order always follows non-decreasing sequence index. Turn completion
// flushes whatever text remains; a turn that produced no chunks at all
// finishes silently.
package respond

import (
	"log/slog"
	"strings"
	"sync"
)

// sentenceTerminators end a speakable unit.
const sentenceTerminators = ".!?:;"

// Chunk is one response fragment received from the backend.
type Chunk struct {
	// TurnID groups chunks belonging to one response turn.
	TurnID string

	// Seq is the chunk's sequence index within the turn, starting at 0.
	Seq int

	// Text content. Empty for audio chunks.
	Text string

	// Audio is pre-synthesised audio, bypassing text aggregation.
	Audio []byte

	// Encoding names the audio codec when Audio is set: "pcm16" or "opus".
	Encoding string
}

// Unit is an ordered playable piece of a response turn: either a text unit
// bound for synthesis or a passthrough audio unit.
type Unit struct {
	TurnID   string
	Text     string
	Audio    []byte
	Encoding string
}

// IsAudio reports whether the unit carries pre-synthesised audio.
func (u Unit) IsAudio() bool { return len(u.Audio) > 0 }

// turnState tracks aggregation progress for one in-flight turn.
type turnState struct {
	nextSeq int
	pending map[int]Chunk
	buf     strings.Builder
}

// Aggregator groups response chunks into units per turn. Safe for concurrent
// use.
type Aggregator struct {
	mu    sync.Mutex
	turns map[string]*turnState
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{turns: make(map[string]*turnState)}
}

// Add ingests one chunk and returns the units it completes, in sequence
// order. Out-of-order chunks are buffered until the gap fills; duplicates
// and already-processed sequence indexes are dropped.
func (a *Aggregator) Add(c Chunk) []Unit {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.turns[c.TurnID]
	if st == nil {
		st = &turnState{pending: make(map[int]Chunk)}
		a.turns[c.TurnID] = st
	}

	if c.Seq < st.nextSeq {
		slog.Warn("respond: dropping replayed chunk", "turn_id", c.TurnID, "seq", c.Seq)
		return nil
	}
	if _, dup := st.pending[c.Seq]; dup {
		slog.Warn("respond: dropping duplicate chunk", "turn_id", c.TurnID, "seq", c.Seq)
		return nil
	}
	st.pending[c.Seq] = c

	// Consume the contiguous run starting at nextSeq. Anything beyond a gap
	// stays buffered until the missing chunk arrives.
	var units []Unit
	for {
		chunk, ok := st.pending[st.nextSeq]
		if !ok {
			break
		}
		delete(st.pending, st.nextSeq)
		st.nextSeq++
		units = append(units, st.consume(chunk)...)
	}
	return units
}

// consume applies one in-order chunk to the turn state and returns any units
// it completes. Caller holds the aggregator lock.
func (st *turnState) consume(c Chunk) []Unit {
	if len(c.Audio) > 0 {
		// Audio bypasses aggregation, but buffered text ahead of it must be
		// emitted first to preserve sequence order.
		var units []Unit
		if st.buf.Len() > 0 {
			units = append(units, Unit{TurnID: c.TurnID, Text: st.buf.String()})
			st.buf.Reset()
		}
		return append(units, Unit{TurnID: c.TurnID, Audio: c.Audio, Encoding: c.Encoding})
	}

	st.buf.WriteString(c.Text)
	text := st.buf.String()
	cut := lastTerminator(text)
	if cut < 0 {
		return nil
	}

	unit := text[:cut+1]
	rest := text[cut+1:]
	st.buf.Reset()
	st.buf.WriteString(rest)
	return []Unit{{TurnID: c.TurnID, Text: unit}}
}

// Complete finishes the turn: it drains whatever contiguous chunks remain,
// flushes trailing text that never reached a sentence boundary, and drops
// the turn state. A turn with no chunks (or only whitespace left) returns no
// units. Chunks still stuck behind a sequence gap are discarded with a
// warning — completion is authoritative.
func (a *Aggregator) Complete(turnID string) []Unit {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.turns[turnID]
	if st == nil {
		return nil
	}
	delete(a.turns, turnID)

	var units []Unit
	for {
		chunk, ok := st.pending[st.nextSeq]
		if !ok {
			break
		}
		delete(st.pending, st.nextSeq)
		st.nextSeq++
		units = append(units, st.consume(chunk)...)
	}
	if len(st.pending) > 0 {
		slog.Warn("respond: discarding chunks stranded behind a sequence gap",
			"turn_id", turnID, "count", len(st.pending))
	}

	if trailing := st.buf.String(); strings.TrimSpace(trailing) != "" {
		units = append(units, Unit{TurnID: turnID, Text: trailing})
	}
	return units
}

// lastTerminator returns the index of the last sentence terminator in s, or
// -1 if none is present.
func lastTerminator(s string) int {
	return strings.LastIndexAny(s, sentenceTerminators)
}
