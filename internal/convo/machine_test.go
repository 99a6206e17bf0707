package convo

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/kestrelvoice/kestrel/internal/bus"
	"github.com/kestrelvoice/kestrel/pkg/audio"
	devicemock "github.com/kestrelvoice/kestrel/pkg/audio/device/mock"
)

// pubRecorder records every published topic/payload pair and optionally runs
// a probe at publish time.
type pubRecorder struct {
	mu        sync.Mutex
	topics    []string
	payloads  []any
	onPublish func(topic string, payload any)
}

func (p *pubRecorder) Publish(_ context.Context, topic string, payload any) error {
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	probe := p.onPublish
	p.mu.Unlock()
	if probe != nil {
		probe(topic, payload)
	}
	return nil
}

func (p *pubRecorder) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.topics))
	copy(out, p.topics)
	return out
}

func (p *pubRecorder) has(topic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func newTestMachine() (*Machine, *devicemock.Device, *pubRecorder) {
	dev := devicemock.New()
	pub := &pubRecorder{}
	m := New(dev, pub, audio.Format{SampleRate: audio.DefaultSampleRate, Channels: 1}, nil)
	return m, dev, pub
}

func TestPressOpensCaptureFromIdle(t *testing.T) {
	m, dev, pub := newTestMachine()
	ctx := context.Background()

	cs, err := m.Press(ctx, "utt-1")
	if err != nil {
		t.Fatalf("Press: %v", err)
	}
	if cs == nil {
		t.Fatal("Press returned no capture stream")
	}
	if got := m.State(); got != StateListening {
		t.Errorf("state = %q, want listening", got)
	}
	if !dev.CaptureActive() {
		t.Error("capture not active after press")
	}
	if !pub.has(bus.TopicRecordingStarted) {
		t.Errorf("recording.started not published; got %v", pub.published())
	}
}

func TestPressRefusedOutsideIdle(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	m.Press(ctx, "utt-1")
	if _, err := m.Press(ctx, "utt-2"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second press error = %v, want ErrInvalidTransition", err)
	}
	if got := m.State(); got != StateListening {
		t.Errorf("state after refused press = %q, want listening", got)
	}
}

func TestReleaseReturnsToIdleWithoutPlayback(t *testing.T) {
	m, dev, pub := newTestMachine()
	ctx := context.Background()

	m.Press(ctx, "utt-1")
	if err := m.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
	if dev.CaptureActive() {
		t.Error("capture still active after release")
	}
	// A press/release cycle with no response turn must never touch playback.
	if dev.PlaybackActive() {
		t.Error("playback active after empty press/release cycle")
	}
	if pub.has(bus.TopicPlaybackStarted) {
		t.Error("playback.started published for an empty press/release cycle")
	}
}

func TestReleaseRefusedWhileIdle(t *testing.T) {
	m, _, _ := newTestMachine()
	if err := m.Release(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("release while idle = %v, want ErrInvalidTransition", err)
	}
}

func TestBeginSpeakingClosesCaptureFirst(t *testing.T) {
	m, dev, pub := newTestMachine()
	ctx := context.Background()

	m.Press(ctx, "utt-1")
	ps, err := m.BeginSpeaking(ctx, "turn-1")
	if err != nil {
		t.Fatalf("BeginSpeaking: %v", err)
	}
	if ps == nil {
		t.Fatal("BeginSpeaking returned no playback stream")
	}
	if dev.CaptureActive() {
		t.Error("capture still active while speaking")
	}
	if !dev.PlaybackActive() {
		t.Error("playback not active while speaking")
	}
	if dev.OverlapObserved() {
		t.Error("capture and playback overlapped during the direction switch")
	}
	if !pub.has(bus.TopicPlaybackStarted) {
		t.Errorf("playback.started not published; got %v", pub.published())
	}
}

func TestBeginSpeakingRefusedWhileSpeaking(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	if _, err := m.BeginSpeaking(ctx, "turn-1"); err != nil {
		t.Fatalf("BeginSpeaking from idle: %v", err)
	}
	if _, err := m.BeginSpeaking(ctx, "turn-2"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second BeginSpeaking = %v, want ErrInvalidTransition", err)
	}
	if got := m.State(); got != StateSpeaking {
		t.Errorf("state after refused transition = %q, want speaking", got)
	}
}

func TestCompleteTurnDrainsAndReturnsToIdle(t *testing.T) {
	m, dev, _ := newTestMachine()
	ctx := context.Background()

	m.BeginSpeaking(ctx, "turn-1")
	if err := m.CompleteTurn(ctx); err != nil {
		t.Fatalf("CompleteTurn: %v", err)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
	if dev.PlaybackActive() {
		t.Error("playback still active after turn completion")
	}
}

func TestCompleteTurnIgnoredWhileIdle(t *testing.T) {
	m, _, _ := newTestMachine()
	if err := m.CompleteTurn(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("completion while idle = %v, want ErrInvalidTransition", err)
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
}

func TestStateChangePublishedBeforeDeviceAction(t *testing.T) {
	dev := devicemock.New()
	pub := &pubRecorder{}
	// At the moment the listening announcement goes out, the device must not
	// be capturing yet: observers see intent before effect.
	pub.onPublish = func(topic string, payload any) {
		sc, ok := payload.(bus.StateChanged)
		if topic != bus.TopicStateChanged || !ok {
			return
		}
		if sc.To == string(StateListening) && dev.CaptureActive() {
			t.Error("capture already active when state change was published")
		}
		if sc.To == string(StateSpeaking) && dev.PlaybackActive() {
			t.Error("playback already active when state change was published")
		}
	}
	m := New(dev, pub, audio.Format{SampleRate: audio.DefaultSampleRate, Channels: 1}, nil)
	ctx := context.Background()

	if _, err := m.Press(ctx, "utt-1"); err != nil {
		t.Fatalf("Press: %v", err)
	}
	if err := m.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := m.BeginSpeaking(ctx, "turn-1"); err != nil {
		t.Fatalf("BeginSpeaking: %v", err)
	}
}

func TestFullTurnStateSequence(t *testing.T) {
	m, _, pub := newTestMachine()
	ctx := context.Background()

	m.Press(ctx, "utt-1")
	m.BeginSpeaking(ctx, "turn-1")
	m.CompleteTurn(ctx)

	var changes []string
	pub.mu.Lock()
	for i, topic := range pub.topics {
		if topic != bus.TopicStateChanged {
			continue
		}
		sc := pub.payloads[i].(bus.StateChanged)
		changes = append(changes, sc.From+">"+sc.To)
	}
	pub.mu.Unlock()

	want := []string{"idle>listening", "listening>speaking", "speaking>idle"}
	if len(changes) != len(want) {
		t.Fatalf("state changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %q, want %q", i, changes[i], want[i])
		}
	}
}

// stateChanges flattens the published state-change events into "from>to"
// strings, in publish order.
func stateChanges(pub *pubRecorder) []string {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	var changes []string
	for i, topic := range pub.topics {
		if topic != bus.TopicStateChanged {
			continue
		}
		sc := pub.payloads[i].(bus.StateChanged)
		changes = append(changes, sc.From+">"+sc.To)
	}
	return changes
}

// TestFailedCaptureOpenRollsBackAnnouncedState covers the rollback path: the
// listening announcement goes out before the device opens, so when the open
// fails observers must see a matching listening>idle event, not idle>idle.
func TestFailedCaptureOpenRollsBackAnnouncedState(t *testing.T) {
	m, dev, pub := newTestMachine()
	dev.OpenCaptureErr = errors.New("device unavailable")
	ctx := context.Background()

	if _, err := m.Press(ctx, "utt-1"); err == nil {
		t.Fatal("Press succeeded although the device refused to open capture")
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}

	got := stateChanges(pub)
	want := []string{"idle>listening", "listening>idle"}
	if len(got) != len(want) {
		t.Fatalf("state changes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFailedPlaybackOpenRollsBackAnnouncedState(t *testing.T) {
	m, dev, pub := newTestMachine()
	ctx := context.Background()

	if _, err := m.Press(ctx, "utt-1"); err != nil {
		t.Fatalf("Press: %v", err)
	}
	dev.OpenPlaybackErr = errors.New("device unavailable")
	if _, err := m.BeginSpeaking(ctx, "turn-1"); err == nil {
		t.Fatal("BeginSpeaking succeeded although the device refused to open playback")
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}

	got := stateChanges(pub)
	want := []string{"idle>listening", "listening>speaking", "speaking>idle"}
	if len(got) != len(want) {
		t.Fatalf("state changes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestRandomizedTransitionsNeverOverlapDevice drives the machine with 10,000
// random transition attempts and asserts the device never sees capture and
// playback active at the same time, regardless of the order triggers arrive
// in.
func TestRandomizedTransitionsNeverOverlapDevice(t *testing.T) {
	m, dev, _ := newTestMachine()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 10000; i++ {
		switch rng.Intn(4) {
		case 0:
			m.Press(ctx, "utt")
		case 1:
			m.Release(ctx)
		case 2:
			m.BeginSpeaking(ctx, "turn")
		case 3:
			m.CompleteTurn(ctx)
		}
		if dev.OverlapObserved() {
			t.Fatalf("capture/playback overlap after %d transitions", i+1)
		}
		if dev.CaptureActive() && dev.PlaybackActive() {
			t.Fatalf("both directions active after %d transitions", i+1)
		}
	}
}

func TestShutdownReleasesTheDevice(t *testing.T) {
	m, dev, _ := newTestMachine()
	ctx := context.Background()

	m.Press(ctx, "utt-1")
	m.Shutdown()
	if dev.CaptureActive() {
		t.Error("capture still active after shutdown")
	}
	if got := m.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
}
