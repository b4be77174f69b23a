package ffmpeg

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/audiorelay/pkg/audio"
)

// Connection reads raw PCM from a capture process and chunks it into 20 ms
// frames. It is capture-only: Send always fails with audio.ErrCaptureOnly.
type Connection struct {
	r      io.ReadCloser
	stop   func() error
	frames chan audio.Frame
	done   chan struct{}

	endMu        sync.Mutex
	endCallbacks []func(audio.EndReason)
	endOnce      sync.Once

	closeOnce sync.Once
}

var _ audio.Connection = (*Connection)(nil)

func newConnection(r io.ReadCloser, stop func() error) *Connection {
	c := &Connection{
		r:      r,
		stop:   stop,
		frames: make(chan audio.Frame, 16),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Frames returns the channel of captured PCM frames. The channel is closed
// when the capture process exits or the connection is disconnected.
func (c *Connection) Frames() <-chan audio.Frame {
	return c.frames
}

// Send always fails: this platform cannot play audio.
func (c *Connection) Send(audio.Frame) error {
	return audio.ErrCaptureOnly
}

// OnStreamEnd registers a callback invoked when the capture process exits
// without Disconnect being called.
func (c *Connection) OnStreamEnd(fn func(audio.EndReason)) {
	c.endMu.Lock()
	defer c.endMu.Unlock()
	c.endCallbacks = append(c.endCallbacks, fn)
}

// Disconnect stops the capture process and releases all resources. It is
// safe to call multiple times and from concurrent goroutines.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.r.Close()
		err = c.stop()
	})
	return err
}

// readLoop chunks the capture stream into fixed-size 20 ms frames.
func (c *Connection) readLoop() {
	defer close(c.frames)
	buf := make([]byte, captureFrameBytes)
	start := time.Now()

	for {
		if _, err := io.ReadFull(c.r, buf); err != nil {
			select {
			case <-c.done:
				// Disconnect closed the pipe under us.
			default:
				slog.Warn("audio capture stream ended", "error", err)
				c.fireStreamEnd(audio.StreamEnded)
			}
			return
		}
		frame := audio.Frame{
			Data:       append([]byte(nil), buf...),
			SampleRate: captureSampleRate,
			Channels:   captureChannels,
			Timestamp:  time.Since(start),
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) fireStreamEnd(reason audio.EndReason) {
	c.endOnce.Do(func() {
		c.endMu.Lock()
		callbacks := make([]func(audio.EndReason), len(c.endCallbacks))
		copy(callbacks, c.endCallbacks)
		c.endMu.Unlock()
		for _, fn := range callbacks {
			fn(reason)
		}
	})
}
