// Package mock provides an in-memory [device.Device] implementation for
// tests. It records which directions are active so invariant tests can assert
// that capture and playback never overlap.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelvoice/kestrel/pkg/audio"
	"github.com/kestrelvoice/kestrel/pkg/audio/device"
)

// Compile-time interface assertions.
var (
	_ device.Device         = (*Device)(nil)
	_ device.CaptureStream  = (*CaptureStream)(nil)
	_ device.PlaybackStream = (*PlaybackStream)(nil)
)

// Device is an in-memory audio device. Feed capture audio with
// [Device.PushFrame]; inspect played audio with [Device.Played].
type Device struct {
	mu              sync.Mutex
	captureActive   bool
	playbackActive  bool
	overlapObserved atomic.Bool

	capture  *CaptureStream
	played   [][]byte
	frameSeq uint64

	// OpenCaptureErr and OpenPlaybackErr, when non-nil, make the next open
	// of that direction fail. Set them before the call under test.
	OpenCaptureErr  error
	OpenPlaybackErr error
}

// New creates an idle mock device.
func New() *Device {
	return &Device{}
}

// OpenCapture implements [device.Device].
func (d *Device) OpenCapture(_ context.Context, format audio.Format) (device.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenCaptureErr != nil {
		return nil, d.OpenCaptureErr
	}
	if d.playbackActive {
		d.overlapObserved.Store(true)
		return nil, device.ErrDeviceBusy
	}
	d.captureActive = true
	d.capture = &CaptureStream{dev: d, format: format, frames: make(chan audio.Frame, 64)}
	return d.capture, nil
}

// OpenPlayback implements [device.Device].
func (d *Device) OpenPlayback(_ context.Context, format audio.Format) (device.PlaybackStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenPlaybackErr != nil {
		return nil, d.OpenPlaybackErr
	}
	if d.captureActive {
		d.overlapObserved.Store(true)
		return nil, device.ErrDeviceBusy
	}
	d.playbackActive = true
	return &PlaybackStream{dev: d}, nil
}

// PushFrame injects a capture frame, assigning the next sequence number.
// Returns false if no capture stream is open.
func (d *Device) PushFrame(samples []int16) bool {
	d.mu.Lock()
	cs := d.capture
	if cs == nil || !d.captureActive {
		d.mu.Unlock()
		return false
	}
	d.frameSeq++
	seq := d.frameSeq
	d.mu.Unlock()

	cs.frames <- audio.Frame{
		Samples:    samples,
		SampleRate: audio.DefaultSampleRate,
		Seq:        seq,
		Captured:   time.Now(),
	}
	return true
}

// Played returns a copy of all PCM chunks written for playback so far.
func (d *Device) Played() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.played))
	copy(out, d.played)
	return out
}

// OverlapObserved reports whether capture and playback were ever requested
// simultaneously during the device's lifetime.
func (d *Device) OverlapObserved() bool {
	return d.overlapObserved.Load()
}

// CaptureActive reports whether a capture stream is currently open.
func (d *Device) CaptureActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captureActive
}

// PlaybackActive reports whether a playback stream is currently open.
func (d *Device) PlaybackActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playbackActive
}

// CaptureStream is the mock capture half.
type CaptureStream struct {
	dev    *Device
	format audio.Format
	frames chan audio.Frame
	once   sync.Once
}

// Frames implements [device.CaptureStream].
func (c *CaptureStream) Frames() <-chan audio.Frame { return c.frames }

// Close implements [device.CaptureStream].
func (c *CaptureStream) Close() error {
	c.once.Do(func() {
		c.dev.mu.Lock()
		c.dev.captureActive = false
		c.dev.capture = nil
		c.dev.mu.Unlock()
		close(c.frames)
	})
	return nil
}

// PlaybackStream is the mock playback half.
type PlaybackStream struct {
	dev    *Device
	mu     sync.Mutex
	closed bool
}

// Write implements [device.PlaybackStream].
func (p *PlaybackStream) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return device.ErrStreamClosed
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.dev.mu.Lock()
	p.dev.played = append(p.dev.played, cp)
	p.dev.mu.Unlock()
	return nil
}

// Drain implements [device.PlaybackStream]. The mock has no device buffer, so
// Drain returns immediately unless ctx is already cancelled.
func (p *PlaybackStream) Drain(ctx context.Context) error {
	return ctx.Err()
}

// Close implements [device.PlaybackStream].
func (p *PlaybackStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.dev.mu.Lock()
	p.dev.playbackActive = false
	p.dev.mu.Unlock()
	return nil
}
