// Package buffer provides the bounded frame queue that decouples capture
// rate from delivery rate in the relay.
//
// The central type is [FrameBuffer], a fixed-capacity FIFO with a
// drop-oldest overflow policy. Producers never block: when the buffer is
// full, the longest-queued frame is evicted to admit the new one. Consumers
// wait with a bounded timeout and receive an explicit "no data" result
// rather than an error when nothing arrives in time.
//
// All methods are safe for concurrent use; Put, Get, and Stats are
// linearizable with respect to each other.
package buffer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/audiorelay/pkg/audio"
)

// DefaultCapacity is the frame capacity used when none is configured.
const DefaultCapacity = 50

// Stats is a point-in-time snapshot of buffer counters. The counters are
// monotonic and reset only by an explicit [FrameBuffer.ResetStats] call.
//
// The counters always satisfy Received >= Sent + Dropped + Size: frames in
// flight are exactly Received - Sent - Dropped.
type Stats struct {
	// Received counts frames accepted by Put.
	Received int64

	// Sent counts frames handed out by Get.
	Sent int64

	// Dropped counts frames evicted under overflow.
	Dropped int64

	// Size is the number of frames currently queued.
	Size int

	// Capacity is the configured maximum queue depth.
	Capacity int

	// LastActivity is the wall-clock time of the last successful Put or Get.
	LastActivity time.Time
}

// IdleTime returns the elapsed time since the last successful Put or Get.
func (s Stats) IdleTime() time.Duration {
	return time.Since(s.LastActivity)
}

// DropRate returns Dropped / max(Received, 1).
func (s Stats) DropRate() float64 {
	received := s.Received
	if received < 1 {
		received = 1
	}
	return float64(s.Dropped) / float64(received)
}

// FrameBuffer is a bounded FIFO of audio frames with drop-oldest overflow.
type FrameBuffer struct {
	mu       sync.Mutex
	queue    []audio.Frame
	capacity int

	received int64
	sent     int64
	dropped  int64
	lastAct  time.Time

	stopped bool

	// notify is signalled (coalesced, 1-buffered) whenever a frame becomes
	// available, waking at most one waiting Get.
	notify chan struct{}

	// done is closed by Stop so waiting Gets return immediately.
	done chan struct{}
}

// New creates a FrameBuffer with the given frame capacity.
// Non-positive capacities fall back to [DefaultCapacity].
func New(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FrameBuffer{
		queue:    make([]audio.Frame, 0, capacity),
		capacity: capacity,
		lastAct:  time.Now(),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Put appends frame to the buffer without blocking. When the buffer is
// full, the oldest queued frame is evicted (counted as dropped) to make
// room; the newest frame is never the one discarded. Put on a stopped
// buffer is a no-op.
func (b *FrameBuffer) Put(frame audio.Frame) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}

	if len(b.queue) >= b.capacity {
		// Drop-oldest: evict the head to admit the new frame.
		b.popFront()
		b.dropped++
	}

	if len(b.queue) >= b.capacity {
		// Still full after eviction. Count the new frame as both received
		// and dropped so the accounting invariant holds, and warn; the
		// producer never sees an error.
		b.received++
		b.dropped++
		b.mu.Unlock()
		slog.Warn("frame buffer overflow, frame dropped", "capacity", b.capacity)
		return
	}

	b.queue = append(b.queue, frame)
	b.received++
	b.lastAct = time.Now()
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Get removes and returns the oldest queued frame. When the buffer is
// empty, Get waits up to timeout for a frame to arrive. The second return
// value is false when no frame became available: on timeout, or
// immediately when the buffer is stopped. Callers use the no-data result to
// decide whether to emit a keepalive frame; it is not an error condition.
func (b *FrameBuffer) Get(timeout time.Duration) (audio.Frame, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			frame := b.popFront()
			b.sent++
			b.lastAct = time.Now()
			remaining := len(b.queue)
			b.mu.Unlock()

			// Re-signal so other waiters see frames still queued.
			if remaining > 0 {
				select {
				case b.notify <- struct{}{}:
				default:
				}
			}
			return frame, true
		}
		stopped := b.stopped
		b.mu.Unlock()

		if stopped {
			return audio.Frame{}, false
		}

		select {
		case <-b.notify:
		case <-deadline.C:
			return audio.Frame{}, false
		case <-b.done:
			return audio.Frame{}, false
		}
	}
}

// popFront removes and returns the oldest queued frame, shifting survivors
// down so the backing array is reused instead of sliding away. Must be
// called with b.mu held and a non-empty queue.
func (b *FrameBuffer) popFront() audio.Frame {
	frame := b.queue[0]
	copy(b.queue, b.queue[1:])
	b.queue[len(b.queue)-1] = audio.Frame{}
	b.queue = b.queue[:len(b.queue)-1]
	return frame
}

// Capacity returns the configured maximum queue depth.
func (b *FrameBuffer) Capacity() int {
	return b.capacity
}

// Stopped reports whether Stop has been called.
func (b *FrameBuffer) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// Stats returns a consistent snapshot of the buffer counters.
func (b *FrameBuffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Received:     b.received,
		Sent:         b.sent,
		Dropped:      b.dropped,
		Size:         len(b.queue),
		Capacity:     b.capacity,
		LastActivity: b.lastAct,
	}
}

// ResetStats zeroes all counters and resets the activity timestamp to now.
// Intended for operator tooling and tests, not steady-state logic.
func (b *FrameBuffer) ResetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received = 0
	b.sent = 0
	b.dropped = 0
	b.lastAct = time.Now()
	slog.Info("frame buffer statistics reset")
}

// Drain removes and discards all queued frames without counting them as
// drops. Used on controlled shutdown, where discarding queued audio is
// deliberate rather than an overflow event.
func (b *FrameBuffer) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.queue {
		b.queue[i] = audio.Frame{}
	}
	b.queue = b.queue[:0]
}

// Stop marks the buffer stopped: subsequent Puts are no-ops and Gets return
// no-data immediately. Safe to call more than once.
func (b *FrameBuffer) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	close(b.done)
}
