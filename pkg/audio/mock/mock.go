// Package mock provides in-memory mock implementations of the
// [audio.Platform] and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields the test sets to control return values.
//
// Typical usage:
//
//	frames := make(chan audio.Frame, 16)
//	conn := &mock.Connection{FramesResult: frames}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "voice-42")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/audiorelay/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported Result fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// FramesResult is returned by [Connection.Frames]. When nil, a closed
	// channel is returned so readers terminate immediately.
	FramesResult chan audio.Frame

	// SendError is returned by [Connection.Send].
	SendError error

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// SentFrames records every frame passed to Send, in order.
	SentFrames []audio.Frame

	// CallCountFrames records how many times Frames was called.
	CallCountFrames int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// RecordedCallbacks holds the callbacks registered via OnStreamEnd,
	// in order of registration.
	RecordedCallbacks []func(audio.EndReason)
}

// Frames implements [audio.Connection]. Returns FramesResult, or a closed
// channel when FramesResult is nil.
func (c *Connection) Frames() <-chan audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountFrames++
	if c.FramesResult == nil {
		closed := make(chan audio.Frame)
		close(closed)
		return closed
	}
	return c.FramesResult
}

// Send implements [audio.Connection]. Records the frame and returns SendError.
func (c *Connection) Send(frame audio.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendError != nil {
		return c.SendError
	}
	c.SentFrames = append(c.SentFrames, frame)
	return nil
}

// Sent returns a copy of the frames recorded by Send.
func (c *Connection) Sent() []audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Frame, len(c.SentFrames))
	copy(out, c.SentFrames)
	return out
}

// SetSendError swaps the error returned by subsequent Send calls.
func (c *Connection) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SendError = err
}

// OnStreamEnd implements [audio.Connection]. The callback is appended to
// RecordedCallbacks. To simulate a stream ending in tests, call
// [Connection.EmitStreamEnd].
func (c *Connection) OnStreamEnd(cb func(audio.EndReason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RecordedCallbacks = append(c.RecordedCallbacks, cb)
}

// Disconnect implements [audio.Connection]. Returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// EmitStreamEnd calls all registered stream-end callbacks with the given
// reason. Use this in tests to simulate a disruption event.
func (c *Connection) EmitStreamEnd(reason audio.EndReason) {
	c.mu.Lock()
	cbs := make([]func(audio.EndReason), len(c.RecordedCallbacks))
	copy(cbs, c.RecordedCallbacks)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(reason)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// EndpointID is the endpointID argument passed to Connect.
	EndpointID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectFunc, when non-nil, overrides ConnectResult/ConnectError and is
	// invoked for every Connect call. Useful for per-attempt behaviour such
	// as failing the first N reconnects.
	ConnectFunc func(ctx context.Context, endpointID string) (audio.Connection, error)

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform]. Records the call and returns
// ConnectFunc's result when set, otherwise ConnectResult / ConnectError.
func (p *Platform) Connect(ctx context.Context, endpointID string) (audio.Connection, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{EndpointID: endpointID})
	fn := p.ConnectFunc
	res, err := p.ConnectResult, p.ConnectError
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, endpointID)
	}
	return res, err
}

// CallCount returns the number of Connect invocations so far.
func (p *Platform) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}
