package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/audiorelay/pkg/audio"
)

// Default reconnection parameters.
const (
	defaultMaxAttempts    = 10
	defaultReconnectDelay = 5 * time.Second
)

// ConnState describes the connection lifecycle of a [Reconnector].
type ConnState int

const (
	// StateConnected means the endpoint has an active connection.
	StateConnected ConnState = iota
	// StateReconnecting means the connection was lost and retry attempts
	// are in progress.
	StateReconnecting
	// StateFailed means all retry attempts were exhausted without a
	// successful reconnection.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Reconnector monitors an audio connection and automatically reconnects
// on disconnection.
//
// Callers obtain the initial connection via [Reconnector.Connect], then call
// [Reconnector.Monitor] to start a background goroutine that watches for
// disconnections. When a drop is detected (via [Reconnector.NotifyDisconnect]),
// the monitor retries the connection a bounded number of times, waiting the
// fixed delay before each attempt. A successful retry invokes the configured
// OnReconnect callback with the new connection; exhausting all attempts marks
// the endpoint failed and invokes OnGiveUp.
//
// The delay is deliberately not exponential. Voice platforms rate-limit and
// queue join requests themselves, and a relay that is down wants to come back
// as soon as the platform allows rather than minutes later.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	platform    audio.Platform
	endpointID  string
	label       string
	maxAttempts int
	delay       time.Duration
	onReconnect func(audio.Connection)
	onGiveUp    func()
	onAttempt   func(attempt int)

	mu           sync.Mutex
	conn         audio.Connection
	state        ConnState
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{} // signalled when a disconnect is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Platform is the audio platform used to establish connections.
	Platform audio.Platform

	// EndpointID identifies the platform endpoint to connect to.
	EndpointID string

	// Label names the endpoint's role in log output, e.g. "source" or
	// "destination". Defaults to EndpointID if empty.
	Label string

	// MaxAttempts is the maximum number of reconnection attempts per
	// disconnection before giving up. Defaults to 10 if zero.
	MaxAttempts int

	// Delay is the fixed wait between attempts. Defaults to 5s if zero.
	Delay time.Duration

	// OnReconnect is called after a successful reconnection with the new
	// connection. May be nil.
	OnReconnect func(audio.Connection)

	// OnGiveUp is called once when all attempts for a disconnection are
	// exhausted. May be nil.
	OnGiveUp func()

	// OnAttempt is called before each reconnection attempt with the
	// 1-based attempt number. May be nil.
	OnAttempt func(attempt int)
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	label := cfg.Label
	if label == "" {
		label = cfg.EndpointID
	}
	return &Reconnector{
		platform:     cfg.Platform,
		endpointID:   cfg.EndpointID,
		label:        label,
		maxAttempts:  maxAttempts,
		delay:        delay,
		onReconnect:  cfg.OnReconnect,
		onGiveUp:     cfg.OnGiveUp,
		onAttempt:    cfg.OnAttempt,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Connect performs the initial connection to the endpoint.
func (r *Reconnector) Connect(ctx context.Context) (audio.Connection, error) {
	conn, err := r.platform.Connect(ctx, r.endpointID)
	if err != nil {
		return nil, fmt.Errorf("reconnector initial connect %s: %w", r.label, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.state = StateConnected
	r.mu.Unlock()

	return conn, nil
}

// Monitor starts monitoring the connection in a background goroutine.
// If a disconnection is signalled via [Reconnector.NotifyDisconnect], it
// attempts reconnection, waiting the fixed delay before each attempt.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals the monitor that the connection has been lost
// and reconnection should be attempted. Safe to call multiple times; only
// the first call per reconnection cycle has effect.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled; avoid blocking.
	}
}

// Stop halts monitoring and disconnects the current connection.
// Safe to call multiple times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()

	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}

// Connection returns the current active connection. May return nil during
// reconnection or after failure.
func (r *Reconnector) Connection() audio.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// State returns the current connection lifecycle state.
func (r *Reconnector) State() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// monitorLoop waits for disconnect notifications and attempts reconnection.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// attemptReconnect retries the connection up to maxAttempts times with a
// fixed delay, updating the lifecycle state as it goes.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	r.mu.Lock()
	r.state = StateReconnecting
	r.mu.Unlock()

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		// The delay precedes every attempt, including the first. A
		// disruption that recurs right after a successful reconnect must
		// not produce an unthrottled join storm.
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(r.delay):
		}

		if r.onAttempt != nil {
			r.onAttempt(attempt)
		}

		slog.Info("attempting reconnection",
			"endpoint", r.label,
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"delay", r.delay,
		)

		conn, err := r.platform.Connect(ctx, r.endpointID)
		if err == nil {
			r.mu.Lock()
			oldConn := r.conn
			r.conn = conn
			r.state = StateConnected
			r.mu.Unlock()

			// Disconnect the old (failed) connection to release its resources.
			if oldConn != nil {
				_ = oldConn.Disconnect()
			}

			// Drop any disconnect signal that arrived mid-cycle. It refers
			// to the connection that was just replaced; acting on it would
			// tear down the healthy new one.
			select {
			case <-r.disconnected:
			default:
			}

			slog.Info("reconnection successful",
				"endpoint", r.label,
				"attempt", attempt,
			)

			if r.onReconnect != nil {
				r.onReconnect(conn)
			}
			return
		}

		slog.Warn("reconnection attempt failed",
			"endpoint", r.label,
			"attempt", attempt,
			"error", err,
		)
	}

	r.mu.Lock()
	r.conn = nil
	r.state = StateFailed
	r.mu.Unlock()

	slog.Error("reconnection failed after max attempts",
		"endpoint", r.label,
		"max_attempts", r.maxAttempts,
	)

	if r.onGiveUp != nil {
		r.onGiveUp()
	}
}
