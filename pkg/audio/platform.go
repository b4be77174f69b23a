// Package audio defines the interfaces and types for voice-platform
// connectivity used by the relay.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice endpoint and returns a [Connection].
//   - [Connection] is an active session on that endpoint, exposing the frame
//     stream (source role), outbound sending (sink role), and stream-end
//     events.
//
// Implementations are provided by platform-specific adapter packages
// (audio/discord for voice-chat endpoints, audio/ffmpeg for local device
// capture). The interfaces are intentionally narrow: the relay core never
// probes a connection for capabilities at runtime; a collaborator either
// implements the contract or it does not.
package audio

import (
	"context"
	"errors"
)

// ErrCaptureOnly is returned by Send on connections that can only produce
// frames (e.g. a local capture device).
var ErrCaptureOnly = errors.New("audio: connection is capture-only")

// EndReason classifies why a connection's stream ended.
type EndReason int

const (
	// StreamEnded means the remote stream finished or the media track stopped.
	StreamEnded EndReason = iota

	// Kicked means the session was forcibly terminated by the remote side.
	Kicked

	// Left means the local side left the endpoint deliberately.
	Left
)

// String returns the human-readable name of the end reason.
func (r EndReason) String() string {
	switch r {
	case StreamEnded:
		return "STREAM_ENDED"
	case Kicked:
		return "KICKED"
	case Left:
		return "LEFT"
	default:
		return "UNKNOWN"
	}
}

// FrameSource produces a lazy, unbounded sequence of audio frames.
type FrameSource interface {
	// Frames returns the read-only channel delivering captured frames.
	// The channel may stall for arbitrary periods and is closed when the
	// underlying stream ends or the connection is disconnected.
	Frames() <-chan Frame
}

// FrameSink accepts frames for outbound transmission.
type FrameSink interface {
	// Send queues one frame for transmission. A non-nil error means the
	// destination is disrupted; callers should treat it as a disconnect.
	// Send must not block indefinitely.
	Send(frame Frame) error
}

// Connection represents an active session on a voice endpoint.
//
// A Connection is obtained from [Platform.Connect] and remains valid until
// [Connection.Disconnect] is called or the stream ends. A single connection
// serves either the source or the destination role of the relay; both frame
// directions are exposed so adapters stay symmetric.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	FrameSource
	FrameSink

	// OnStreamEnd registers cb to be invoked when the connection's stream
	// ends for any reason other than a local Disconnect. Callbacks
	// accumulate; every registered callback fires once, in registration
	// order, on the first stream end. Callbacks run on an internal
	// goroutine and must not block.
	OnStreamEnd(cb func(EndReason))

	// Disconnect tears down the connection and closes the Frames channel.
	// Safe to call more than once; subsequent calls are no-ops returning nil.
	Disconnect() error
}

// Platform is the connection manager for one kind of voice endpoint.
// Implementations wrap provider-specific SDKs or subprocess transports and
// expose the uniform [Connection] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the endpoint identified by endpointID and returns an
	// active [Connection]. The supplied ctx governs the lifetime of the
	// connection attempt only; once established, the Connection lives until
	// [Connection.Disconnect].
	Connect(ctx context.Context, endpointID string) (Connection, error)
}
