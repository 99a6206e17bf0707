// Package convo implements the conversation state machine that arbitrates
// exclusive access to the single audio device.
//
// The machine owns the process-wide conversation state and is the only
// component allowed to change it. All transitions go through its methods:
// [Machine.Press] and [Machine.Release] for the push-to-talk surface,
// [Machine.BeginSpeaking] and [Machine.CompleteTurn] for response playback.
// Capture and playback are never both active; switching directions first
// drains or closes the outgoing stream. Every accepted transition publishes a
// state-change event to the bus before the device action, so external
// observers see intent before effect. Invalid transition attempts are logged,
// counted, and refused with [ErrInvalidTransition], never fatal.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kestrelvoice/kestrel/internal/bus"
	"github.com/kestrelvoice/kestrel/internal/observe"
	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/audio/device"
)

// State is one of the three conversation states.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateSpeaking  State = "speaking"
)

// ErrInvalidTransition is returned when a transition is requested from a
// state that does not allow it. Callers treat it as a no-op signal, not a
// failure.
var ErrInvalidTransition = errors.New("convo: invalid state transition")

// Publisher is the bus surface the machine needs. *bus.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Machine is the conversation state machine. All methods are safe for
// concurrent use; transitions are serialised under one mutex so the device
// invariant can never be raced.
type Machine struct {
	dev     device.Device
	pub     Publisher
	format  audio.Format
	metrics *observe.Metrics

	mu       sync.Mutex
	state    State
	capture  device.CaptureStream
	playback device.PlaybackStream
}

// New creates a Machine in the idle state. pub may be nil in tests that do
// not assert on bus traffic; metrics may be nil likewise.
func New(dev device.Device, pub Publisher, format audio.Format, metrics *observe.Metrics) *Machine {
	return &Machine{
		dev:     dev,
		pub:     pub,
		format:  format,
		state:   StateIdle,
		metrics: metrics,
	}
}

// State returns the current conversation state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Press handles a push-to-talk press: idle becomes listening and capture
// opens. utteranceID correlates the recording with its later transcript. The
// returned stream delivers the microphone frames for this utterance.
//
// A press in any other state is refused with [ErrInvalidTransition].
func (m *Machine) Press(ctx context.Context, utteranceID string) (device.CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return nil, m.refuse(ctx, "press", StateListening)
	}

	m.announce(ctx, StateIdle, StateListening)
	cs, err := m.dev.OpenCapture(ctx, m.format)
	if err != nil {
		// The device refused; roll the announced state back so observers are
		// not left believing capture is live. The rollback departs from the
		// announced listening state so observers can pair the two events.
		m.announce(ctx, StateListening, StateIdle)
		return nil, fmt.Errorf("convo: open capture: %w", err)
	}
	m.capture = cs
	m.state = StateListening
	m.recordTransition(ctx, StateIdle, StateListening)

	m.publish(ctx, bus.TopicRecordingStarted, bus.RecordingStarted{UtteranceID: utteranceID})
	return cs, nil
}

// Release handles a push-to-talk release: listening returns to idle and the
// capture stream closes. The caller finalises the in-flight transcription
// from the frames it already received.
//
// A release in any other state is refused with [ErrInvalidTransition].
func (m *Machine) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateListening {
		return m.refuse(ctx, "release", StateIdle)
	}

	m.announce(ctx, StateListening, StateIdle)
	m.closeCaptureLocked()
	m.state = StateIdle
	m.recordTransition(ctx, StateListening, StateIdle)
	return nil
}

// BeginSpeaking starts playback of a response turn. Valid from idle, or from
// listening (the capture stream is closed first so the device is free). The
// returned stream accepts the turn's PCM.
//
// Refused with [ErrInvalidTransition] while a turn is already speaking.
func (m *Machine) BeginSpeaking(ctx context.Context, turnID string) (device.PlaybackStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateSpeaking {
		return nil, m.refuse(ctx, "begin_speaking", StateSpeaking)
	}
	from := m.state

	m.announce(ctx, from, StateSpeaking)
	m.closeCaptureLocked()

	ps, err := m.dev.OpenPlayback(ctx, m.format)
	if err != nil {
		m.announce(ctx, StateSpeaking, StateIdle)
		m.state = StateIdle
		return nil, fmt.Errorf("convo: open playback: %w", err)
	}
	m.playback = ps
	m.state = StateSpeaking
	m.recordTransition(ctx, from, StateSpeaking)
	if m.metrics != nil {
		m.metrics.ActiveTurns.Add(ctx, 1)
	}

	m.publish(ctx, bus.TopicPlaybackStarted, bus.PlaybackStarted{TurnID: turnID})
	return ps, nil
}

// CompleteTurn handles a turn-completion signal: speaking drains its queued
// playback, the stream closes, and the machine returns to idle.
//
// A completion while not speaking is refused with [ErrInvalidTransition].
func (m *Machine) CompleteTurn(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSpeaking {
		return m.refuse(ctx, "complete_turn", StateIdle)
	}

	m.announce(ctx, StateSpeaking, StateIdle)
	if m.playback != nil {
		if err := m.playback.Drain(ctx); err != nil {
			slog.Warn("convo: playback drain interrupted", "error", err)
		}
		if err := m.playback.Close(); err != nil {
			slog.Warn("convo: close playback", "error", err)
		}
		m.playback = nil
	}
	m.state = StateIdle
	m.recordTransition(ctx, StateSpeaking, StateIdle)
	if m.metrics != nil {
		m.metrics.ActiveTurns.Add(ctx, -1)
	}
	return nil
}

// Shutdown closes whatever stream is still open and returns the machine to
// idle without publishing. Used on process teardown.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCaptureLocked()
	if m.playback != nil {
		m.playback.Close()
		m.playback = nil
	}
	m.state = StateIdle
}

// closeCaptureLocked closes the capture stream if one is open. Caller holds
// the mutex.
func (m *Machine) closeCaptureLocked() {
	if m.capture == nil {
		return
	}
	if err := m.capture.Close(); err != nil {
		slog.Warn("convo: close capture", "error", err)
	}
	m.capture = nil
}

// announce publishes the state change before the device action. from is
// passed explicitly rather than read from m.state so a rollback announcement
// names the state observers were just told about, not the stored one. Bus
// delivery is best-effort; a failed publish never blocks the transition.
func (m *Machine) announce(ctx context.Context, from, to State) {
	m.publish(ctx, bus.TopicStateChanged, bus.StateChanged{
		From: string(from),
		To:   string(to),
	})
}

func (m *Machine) publish(ctx context.Context, topic string, payload any) {
	if m.pub == nil {
		return
	}
	if err := m.pub.Publish(ctx, topic, payload); err != nil {
		slog.Warn("convo: publish failed", "topic", topic, "error", err)
	}
}

// refuse logs and counts an invalid transition attempt and returns
// [ErrInvalidTransition]. Caller holds the mutex.
func (m *Machine) refuse(ctx context.Context, trigger string, wanted State) error {
	slog.Warn("convo: ignoring invalid transition",
		"trigger", trigger, "state", string(m.state), "wanted", string(wanted))
	if m.metrics != nil {
		m.metrics.InvalidTransitions.Add(ctx, 1)
	}
	return ErrInvalidTransition
}

func (m *Machine) recordTransition(ctx context.Context, from, to State) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordStateTransition(ctx, string(from), string(to))
}
