package device

import (
	"context"
	"sync"

	"github.com/kestrelvoice/kestrel/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ Device         = (*NullDevice)(nil)
	_ CaptureStream  = (*nullCapture)(nil)
	_ PlaybackStream = (*nullPlayback)(nil)
)

// NullDevice is a Device without hardware behind it: capture produces no
// frames and playback discards audio. It lets the daemon run end to end on
// hosts without a configured driver, and serves as the reference for the
// direction-exclusivity contract drivers must uphold.
type NullDevice struct {
	mu             sync.Mutex
	captureActive  bool
	playbackActive bool
}

// NewNull returns an idle NullDevice.
func NewNull() *NullDevice {
	return &NullDevice{}
}

// OpenCapture implements [Device].
func (d *NullDevice) OpenCapture(_ context.Context, _ audio.Format) (CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.playbackActive {
		return nil, ErrDeviceBusy
	}
	d.captureActive = true
	return &nullCapture{dev: d, frames: make(chan audio.Frame)}, nil
}

// OpenPlayback implements [Device].
func (d *NullDevice) OpenPlayback(_ context.Context, _ audio.Format) (PlaybackStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.captureActive {
		return nil, ErrDeviceBusy
	}
	d.playbackActive = true
	return &nullPlayback{dev: d}, nil
}

type nullCapture struct {
	dev    *NullDevice
	frames chan audio.Frame
	once   sync.Once
}

func (c *nullCapture) Frames() <-chan audio.Frame { return c.frames }

func (c *nullCapture) Close() error {
	c.once.Do(func() {
		c.dev.mu.Lock()
		c.dev.captureActive = false
		c.dev.mu.Unlock()
		close(c.frames)
	})
	return nil
}

type nullPlayback struct {
	dev    *NullDevice
	mu     sync.Mutex
	closed bool
}

func (p *nullPlayback) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStreamClosed
	}
	return nil
}

func (p *nullPlayback) Drain(ctx context.Context) error { return ctx.Err() }

func (p *nullPlayback) Close() error {
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
