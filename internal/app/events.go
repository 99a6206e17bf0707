package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kestrelvoice/kestrel/internal/bus"
	"github.com/kestrelvoice/kestrel/internal/convo"
	"github.com/kestrelvoice/kestrel/internal/respond"
	"github.com/kestrelvoice/kestrel/pkg/audio"
)

// subscribe registers the bus subscriptions. Handlers run on the bus read
// goroutine, so they only decode and enqueue; the event loop does the work.
func (a *App) subscribe() {
	a.comps.Bus.Subscribe(bus.TopicInputActivation, a.enqueue)
	a.comps.Bus.Subscribe(bus.TopicResponseChunk, a.enqueue)
	a.comps.Bus.Subscribe(bus.TopicResponseCompleted, a.enqueue)
}

// enqueue decodes the envelope payload and hands it to the event loop. The
// queue is bounded; when the event loop cannot keep up, control messages are
// dropped rather than backing up into the bus read loop.
func (a *App) enqueue(env *bus.Envelope) {
	payload, err := bus.DecodePayload(env)
	if err != nil {
		slog.Warn("app: dropping undecodable event", "topic", env.Topic, "error", err)
		return
	}
	select {
	case a.events <- payload:
	default:
		slog.Warn("app: event queue full, dropping", "topic", env.Topic)
	}
}

// eventLoop consumes decoded bus events and drives the state machine and
// playback path.
func (a *App) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			switch p := ev.(type) {
			case bus.InputActivation:
				if p.Action == "press" {
					a.handlePress(ctx)
				} else {
					a.handleRelease(ctx)
				}
			case bus.ResponseChunk:
				a.handleChunk(ctx, p)
			case bus.ResponseCompleted:
				a.handleCompleted(ctx, p)
			}
		}
	}
}

// handlePress starts a capture window. A press outside idle is a no-op; the
// machine already logged and counted it.
func (a *App) handlePress(ctx context.Context) {
	cs, err := a.machine.Press(ctx, uuid.NewString())
	if err != nil {
		if !errors.Is(err, convo.ErrInvalidTransition) {
			slog.Error("app: press failed", "error", err)
		}
		return
	}

	// A new utterance supersedes any acknowledgment cue still waiting for a
	// response turn; playing it later would acknowledge the wrong utterance.
	a.pendingAck.Store(false)

	a.chain.Reset()
	a.vadSess.Reset()
	a.segmenter.Reset()

	a.captureWG.Add(1)
	go func() {
		defer a.captureWG.Done()
		a.captureLoop(ctx, cs)
	}()
}

// handleRelease ends the capture window. The machine closes the capture
// stream, which makes the capture loop flush any in-progress segment.
func (a *App) handleRelease(ctx context.Context) {
	if err := a.machine.Release(ctx); err != nil && !errors.Is(err, convo.ErrInvalidTransition) {
		slog.Error("app: release failed", "error", err)
	}
}

// handleChunk feeds one response chunk into the aggregator, opening the
// playback turn on the first chunk. Chunks for a turn other than the one
// currently playing are dropped: the device is single-owner and turns are
// strictly sequential.
func (a *App) handleChunk(ctx context.Context, p bus.ResponseChunk) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	if a.turn != nil && a.turn.id != p.TurnID {
		slog.Warn("app: dropping chunk for inactive turn",
			"turn_id", p.TurnID, "active_turn", a.turn.id, "seq", p.Seq)
		return
	}
	if a.turn == nil {
		if err := a.beginTurnLocked(ctx, p.TurnID); err != nil {
			if !errors.Is(err, convo.ErrInvalidTransition) {
				slog.Error("app: cannot start playback turn", "turn_id", p.TurnID, "error", err)
			}
			return
		}
	}

	audioBytes, err := respond.DecodeChunkAudio(p.Audio)
	if err != nil {
		slog.Warn("app: dropping chunk with bad audio", "turn_id", p.TurnID, "seq", p.Seq, "error", err)
		return
	}

	units := a.agg.Add(respond.Chunk{
		TurnID:   p.TurnID,
		Seq:      p.Seq,
		Text:     p.Text,
		Audio:    audioBytes,
		Encoding: p.Encoding,
	})
	a.forwardUnitsLocked(ctx, units)
}

// handleCompleted finishes the turn: the aggregator flushes its remaining
// text, playback drains, and the machine returns to idle. A completion for a
// turn that never produced a playable chunk finishes silently.
func (a *App) handleCompleted(ctx context.Context, p bus.ResponseCompleted) {
	a.turnMu.Lock()
	t := a.turn
	if t == nil || t.id != p.TurnID {
		a.turnMu.Unlock()
		// Drop any aggregation state the turn left behind (zero playable
		// chunks, or chunks discarded as inactive).
		if units := a.agg.Complete(p.TurnID); len(units) > 0 {
			slog.Warn("app: discarding units of a turn that never started playback",
				"turn_id", p.TurnID, "units", len(units))
		}
		return
	}
	units := a.agg.Complete(p.TurnID)
	a.forwardUnitsLocked(ctx, units)
	close(t.units)
	a.turn = nil
	a.turnMu.Unlock()

	if err := <-t.done; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("app: playback failed", "turn_id", p.TurnID, "error", err)
	}
	if err := a.machine.CompleteTurn(ctx); err != nil && !errors.Is(err, convo.ErrInvalidTransition) {
		slog.Error("app: complete turn", "turn_id", p.TurnID, "error", err)
	}
}

// beginTurnLocked transitions the machine to speaking and starts the player
// goroutine for the turn. Caller holds turnMu.
func (a *App) beginTurnLocked(ctx context.Context, turnID string) error {
	ps, err := a.machine.BeginSpeaking(ctx, turnID)
	if err != nil {
		return err
	}

	// The acknowledgment cue rides at the head of the response audio so it
	// never needs the device outside a speaking window.
	if a.pendingAck.Swap(false) && len(a.ackTone) > 0 {
		if err := ps.Write(a.ackTone); err != nil {
			slog.Warn("app: ack tone write failed", "error", err)
		}
	}

	t := &activeTurn{
		id:    turnID,
		units: make(chan respond.Unit, 64),
		done:  make(chan error, 1),
	}
	a.turn = t

	go func() {
		err := a.player.PlayTurn(ctx, turnID, t.units, ps)
		if err != nil {
			// Abort semantics: what was queued has played or been flushed;
			// the rest of the turn is discarded so the feeder never blocks.
			audio.Drain(t.units)
		}
		t.done <- err
	}()
	return nil
}

// forwardUnitsLocked hands units to the player goroutine. Caller holds
// turnMu; the player (or its abort drain) always consumes, so this cannot
// block indefinitely.
func (a *App) forwardUnitsLocked(ctx context.Context, units []respond.Unit) {
	if a.turn == nil {
		return
	}
	for _, u := range units {
		select {
		case a.turn.units <- u:
		case <-ctx.Done():
			return
		}
	}
}
