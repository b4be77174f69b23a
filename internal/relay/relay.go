// Package relay contains the core of the audio relay: the Relay orchestrator
// that moves frames from a source connection through a bounded buffer to a
// destination connection, and the Reconnector that keeps both endpoint
// connections alive across disruptions.
//
// The Relay owns exactly three long-running activities: capture
// (source → buffer), delivery (buffer → destination), and the health monitor.
// Any fatal condition in one cancels the others. Frames move with at-most-once
// semantics: a frame handed to a cancelled delivery task is not re-queued.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/audiorelay/internal/buffer"
	"github.com/MrWong99/audiorelay/internal/health"
	"github.com/MrWong99/audiorelay/internal/observe"
	"github.com/MrWong99/audiorelay/pkg/audio"
)

// ErrGaveUp is returned by [Relay.Run] when an endpoint exhausted all
// reconnection attempts. The relay cannot make progress without both
// endpoints, so this is terminal.
var ErrGaveUp = errors.New("relay: endpoint reconnection gave up")

// defaultGetTimeout bounds how long the delivery task waits for a frame
// before emitting a silence keepalive.
const defaultGetTimeout = 1 * time.Second

// Silence keepalive frame parameters. 48 kHz stereo matches what voice
// platforms expect.
const (
	keepaliveSampleRate = 48000
	keepaliveChannels   = 2
	keepaliveDuration   = 20 * time.Millisecond
)

// metricsSyncInterval is how often buffer counters are mirrored into the
// OTel instruments.
const metricsSyncInterval = 1 * time.Second

// Config configures a [Relay].
type Config struct {
	// Source is the platform frames are captured from. Required.
	Source audio.Platform

	// SourceEndpoint identifies the source endpoint on its platform.
	SourceEndpoint string

	// Destination is the platform frames are delivered to. Required.
	Destination audio.Platform

	// DestinationEndpoint identifies the destination endpoint on its platform.
	DestinationEndpoint string

	// BufferCapacity is the bounded buffer size in frames.
	// Defaults to [buffer.DefaultCapacity] if zero.
	BufferCapacity int

	// GetTimeout bounds each delivery wait for a buffered frame. When it
	// elapses without data a silence keepalive is sent instead.
	// Defaults to 1s if zero.
	GetTimeout time.Duration

	// ReconnectMaxAttempts bounds reconnection attempts per disruption.
	// Defaults to 10 if zero.
	ReconnectMaxAttempts int

	// ReconnectDelay is the fixed wait between attempts. Defaults to 5s if zero.
	ReconnectDelay time.Duration

	// Health configures the periodic buffer health monitor. Zero fields
	// take the monitor's defaults.
	Health health.MonitorConfig

	// Metrics receives frame and reconnection instrumentation. When nil,
	// [observe.DefaultMetrics] is used.
	Metrics *observe.Metrics

	// DisableKeepalive suppresses silence frames on delivery timeout.
	// Mainly for tests.
	DisableKeepalive bool
}

// Relay moves audio frames from a source connection to a destination
// connection through a bounded drop-oldest buffer.
//
// Construct with [New], then call [Relay.Run]. Run blocks until the context
// is cancelled, [Relay.Stop] is called, or an endpoint permanently fails
// (in which case it returns [ErrGaveUp]).
type Relay struct {
	id  string
	cfg Config
	log *slog.Logger

	buf     *buffer.FrameBuffer
	monitor *health.Monitor
	source  *Reconnector
	dest    *Reconnector
	metrics *observe.Metrics

	// srcReconnected is signalled when the source reconnector installs a
	// fresh connection, waking the capture loop. 1-buffered and coalesced.
	srcReconnected chan struct{}

	// gaveUp is closed when either endpoint exhausts its attempts.
	gaveUp     chan struct{}
	gaveUpOnce sync.Once

	// quit is closed by Stop.
	quit     chan struct{}
	stopOnce sync.Once

	teardownOnce sync.Once
}

// New creates a Relay from cfg. The endpoint connections are not opened
// until [Relay.Run].
func New(cfg Config) (*Relay, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("relay: source platform is required")
	}
	if cfg.Destination == nil {
		return nil, fmt.Errorf("relay: destination platform is required")
	}
	if cfg.GetTimeout <= 0 {
		cfg.GetTimeout = defaultGetTimeout
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	r := &Relay{
		id:             uuid.NewString(),
		cfg:            cfg,
		metrics:        metrics,
		srcReconnected: make(chan struct{}, 1),
		gaveUp:         make(chan struct{}),
		quit:           make(chan struct{}),
	}
	r.log = slog.Default().With("relay_id", r.id)

	r.buf = buffer.New(cfg.BufferCapacity)
	r.monitor = health.NewMonitor(r.buf, cfg.Health)

	r.source = NewReconnector(ReconnectorConfig{
		Platform:    cfg.Source,
		EndpointID:  cfg.SourceEndpoint,
		Label:       "source",
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Delay:       cfg.ReconnectDelay,
		OnReconnect: r.onSourceReconnect,
		OnGiveUp:    r.signalGiveUp,
		OnAttempt: func(int) {
			metrics.RecordReconnectAttempt(context.Background(), "source")
		},
	})
	r.dest = NewReconnector(ReconnectorConfig{
		Platform:    cfg.Destination,
		EndpointID:  cfg.DestinationEndpoint,
		Label:       "destination",
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Delay:       cfg.ReconnectDelay,
		OnReconnect: r.onDestReconnect,
		OnGiveUp:    r.signalGiveUp,
		OnAttempt: func(int) {
			metrics.RecordReconnectAttempt(context.Background(), "destination")
		},
	})

	return r, nil
}

// ID returns the unique identifier of this relay run.
func (r *Relay) ID() string { return r.id }

// Health returns the relay's buffer health monitor, for wiring readiness
// checks and the stats feed.
func (r *Relay) Health() *health.Monitor { return r.monitor }

// Buffer returns the relay's frame buffer, for wiring the stats feed.
func (r *Relay) Buffer() *buffer.FrameBuffer { return r.buf }

// Run opens both endpoint connections and relays frames until ctx is
// cancelled, Stop is called, or an endpoint permanently fails.
//
// The destination is connected first so that captured frames always have
// somewhere to go. Teardown happens in reverse order and is idempotent.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Stop() cancels the run context.
	go func() {
		select {
		case <-r.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	// ── Connect destination, then source ─────────────────────────────────
	destConn, err := r.dest.Connect(ctx)
	if err != nil {
		return fmt.Errorf("relay: connect destination: %w", err)
	}
	r.metrics.ActiveConnections.Add(ctx, 1)
	r.watchStreamEnd(destConn, r.dest, "destination")

	srcConn, err := r.source.Connect(ctx)
	if err != nil {
		r.teardown()
		return fmt.Errorf("relay: connect source: %w", err)
	}
	r.metrics.ActiveConnections.Add(ctx, 1)
	r.watchStreamEnd(srcConn, r.source, "source")

	defer func() {
		r.teardown()
		r.metrics.ActiveConnections.Add(context.Background(), -2)
	}()

	r.source.Monitor(ctx)
	r.dest.Monitor(ctx)

	r.log.Info("relay started",
		"source", r.cfg.SourceEndpoint,
		"destination", r.cfg.DestinationEndpoint,
		"buffer_capacity", r.buf.Capacity(),
	)

	// ── Supervised tasks ─────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		r.monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		r.captureLoop(gctx)
		return nil
	})
	g.Go(func() error {
		r.deliveryLoop(gctx)
		return nil
	})
	g.Go(func() error {
		return r.syncMetrics(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-r.gaveUp:
			return ErrGaveUp
		}
	})

	err = g.Wait()
	if err != nil {
		r.log.Error("relay stopped", "error", err)
		return err
	}
	r.log.Info("relay stopped")
	return nil
}

// Stop terminates a running relay. Safe to call multiple times and from a
// signal-handling context; it does not block on the relay's goroutines.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.quit)
	})
}

// teardown releases endpoint connections and the buffer in reverse start
// order. Idempotent.
func (r *Relay) teardown() {
	r.teardownOnce.Do(func() {
		if err := r.source.Stop(); err != nil {
			r.log.Warn("source disconnect failed", "error", err)
		}
		r.buf.Stop()
		if err := r.dest.Stop(); err != nil {
			r.log.Warn("destination disconnect failed", "error", err)
		}
	})
}

// signalGiveUp marks the relay terminally failed. Idempotent.
func (r *Relay) signalGiveUp() {
	r.gaveUpOnce.Do(func() {
		close(r.gaveUp)
	})
}

// onSourceReconnect installs stream-end watching on the fresh connection and
// wakes the capture loop.
func (r *Relay) onSourceReconnect(conn audio.Connection) {
	r.watchStreamEnd(conn, r.source, "source")
	select {
	case r.srcReconnected <- struct{}{}:
	default:
	}
}

// onDestReconnect installs stream-end watching on the fresh connection. The
// delivery loop picks up the new connection on its next send.
func (r *Relay) onDestReconnect(conn audio.Connection) {
	r.watchStreamEnd(conn, r.dest, "destination")
}

// watchStreamEnd maps a connection's stream-end event to a disconnect
// notification on its reconnector.
func (r *Relay) watchStreamEnd(conn audio.Connection, rec *Reconnector, label string) {
	conn.OnStreamEnd(func(reason audio.EndReason) {
		r.log.Warn("stream ended", "endpoint", label, "reason", reason)
		rec.NotifyDisconnect()
	})
}

// captureLoop reads frames from the current source connection into the
// buffer. When the source's frame channel closes it signals a disconnect and
// waits for the reconnector to install a fresh connection.
func (r *Relay) captureLoop(ctx context.Context) {
	for {
		conn := r.source.Connection()
		if conn == nil {
			// Between connections; wait for a reconnect or shutdown.
			select {
			case <-ctx.Done():
				return
			case <-r.srcReconnected:
				continue
			}
		}

		frames := conn.Frames()
	capture:
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					r.log.Warn("source frame stream closed")
					r.source.NotifyDisconnect()
					break capture
				}
				r.buf.Put(frame)
			}
		}

		// Wait for a new connection before touching Frames again.
		select {
		case <-ctx.Done():
			return
		case <-r.srcReconnected:
		}
	}
}

// deliveryLoop drains the buffer into the current destination connection.
// A Get timeout produces a silence keepalive so a quiet source does not
// starve the destination stream. A send failure is treated as a destination
// disruption.
func (r *Relay) deliveryLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, ok := r.buf.Get(r.cfg.GetTimeout)
		if !ok {
			if r.buf.Stopped() {
				return
			}
			if !r.cfg.DisableKeepalive {
				r.sendKeepalive(ctx)
			}
			continue
		}

		r.send(ctx, frame)
	}
}

// send delivers one frame to the destination. The frame is not re-queued on
// failure.
func (r *Relay) send(ctx context.Context, frame audio.Frame) {
	conn := r.dest.Connection()
	if conn == nil {
		// Destination is reconnecting; the frame is dropped, not re-queued.
		return
	}

	start := time.Now()
	err := conn.Send(frame)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		r.metrics.RecordSend(ctx, elapsed, "error")
		r.log.Warn("destination send failed", "error", err)
		r.dest.NotifyDisconnect()
		return
	}
	r.metrics.RecordSend(ctx, elapsed, "ok")
}

// sendKeepalive emits one silence frame to hold the destination stream open.
func (r *Relay) sendKeepalive(ctx context.Context) {
	conn := r.dest.Connection()
	if conn == nil {
		return
	}
	silence := audio.Silence(keepaliveSampleRate, keepaliveChannels, keepaliveDuration)
	if err := conn.Send(silence); err != nil {
		r.log.Warn("keepalive send failed", "error", err)
		r.dest.NotifyDisconnect()
		return
	}
	r.metrics.KeepaliveFrames.Add(ctx, 1)
}

// syncMetrics mirrors the buffer's counters into the OTel instruments once
// per second, recording deltas since the previous sample.
func (r *Relay) syncMetrics(ctx context.Context) error {
	ticker := time.NewTicker(metricsSyncInterval)
	defer ticker.Stop()

	var last buffer.Stats
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s := r.buf.Stats()
			r.metrics.FramesReceived.Add(ctx, s.Received-last.Received)
			r.metrics.FramesSent.Add(ctx, s.Sent-last.Sent)
			r.metrics.FramesDropped.Add(ctx, s.Dropped-last.Dropped)
			r.metrics.BufferedFrames.Add(ctx, int64(s.Size-last.Size))
			last = s
		}
	}
}
