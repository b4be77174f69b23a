// Package health provides the relay's liveness monitoring: a periodic
// monitor that samples buffer statistics and logs threshold warnings, plus
// HTTP health and readiness handlers for the ops endpoint.
//
// Health is derived, never stored: [Monitor.State] and [Monitor.IsHealthy]
// recompute from the current buffer counters and wall-clock time on every
// call, so they are safe to query from any goroutine without side effects.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/audiorelay/internal/buffer"
)

// Default monitoring parameters.
const (
	defaultInterval = 10 * time.Second
	defaultIdleWarn = 30 * time.Second
	defaultIdleMax  = 60 * time.Second
	defaultDropWarn = 0.10
	defaultDropMax  = 0.20
)

// State classifies the relay's current health, derived from buffer stats.
type State int

const (
	// Healthy means frames are flowing and drops are within bounds.
	Healthy State = iota

	// Idle means no buffer activity for longer than the idle-warning
	// threshold. Advisory: an idle source is logged but never fatal.
	Idle

	// Degraded means the drop rate exceeds the warning threshold.
	Degraded
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Idle:
		return "idle"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// StatsSource yields buffer statistics snapshots. *buffer.FrameBuffer
// implements it; tests substitute fixed snapshots.
type StatsSource interface {
	Stats() buffer.Stats
}

// MonitorConfig configures a [Monitor]. Zero values fall back to the
// defaults (10s interval, 30s/60s idle thresholds, 0.10/0.20 drop rates).
type MonitorConfig struct {
	// Interval between periodic stats samples.
	Interval time.Duration

	// IdleWarn is the idle duration after which the monitor logs a warning.
	IdleWarn time.Duration

	// IdleMax is the idle duration beyond which the relay is unhealthy.
	IdleMax time.Duration

	// DropWarn is the drop-rate fraction above which the monitor warns.
	DropWarn float64

	// DropMax is the drop-rate fraction beyond which the relay is unhealthy.
	DropMax float64
}

// Monitor periodically samples a [StatsSource] and logs stats and
// threshold warnings. It carries no mutable state of its own; all queries
// are pure functions of the source snapshot.
type Monitor struct {
	src      StatsSource
	interval time.Duration
	idleWarn time.Duration
	idleMax  time.Duration
	dropWarn float64
	dropMax  float64
}

// NewMonitor creates a [Monitor] over src with the given configuration.
func NewMonitor(src StatsSource, cfg MonitorConfig) *Monitor {
	m := &Monitor{
		src:      src,
		interval: cfg.Interval,
		idleWarn: cfg.IdleWarn,
		idleMax:  cfg.IdleMax,
		dropWarn: cfg.DropWarn,
		dropMax:  cfg.DropMax,
	}
	if m.interval <= 0 {
		m.interval = defaultInterval
	}
	if m.idleWarn <= 0 {
		m.idleWarn = defaultIdleWarn
	}
	if m.idleMax <= 0 {
		m.idleMax = defaultIdleMax
	}
	if m.dropWarn <= 0 {
		m.dropWarn = defaultDropWarn
	}
	if m.dropMax <= 0 {
		m.dropMax = defaultDropMax
	}
	return m
}

// Run executes the periodic monitoring loop until ctx is cancelled.
// Cancellation is observed at every sleep boundary; the loop never leaves
// a partially written log record behind.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample logs one stats line and any threshold warnings.
func (m *Monitor) sample() {
	s := m.src.Stats()
	idle := s.IdleTime()

	slog.Info("buffer stats",
		"size", s.Size,
		"capacity", s.Capacity,
		"received", s.Received,
		"sent", s.Sent,
		"dropped", s.Dropped,
		"idle", idle.Round(100*time.Millisecond),
	)

	if idle > m.idleWarn {
		slog.Warn("buffer idle", "idle", idle.Round(time.Second), "threshold", m.idleWarn)
	}
	if rate := s.DropRate(); s.Received > 0 && rate > m.dropWarn {
		slog.Warn("high frame drop rate",
			"dropped", s.Dropped,
			"received", s.Received,
			"rate", rate,
		)
	}
}

// State derives the current health classification from a fresh snapshot.
// Degraded (excess drops) takes precedence over Idle.
func (m *Monitor) State() State {
	s := m.src.Stats()
	if s.Received > 0 && s.DropRate() > m.dropWarn {
		return Degraded
	}
	if s.IdleTime() > m.idleWarn {
		return Idle
	}
	return Healthy
}

// IsHealthy reports whether the relay is within the hard thresholds:
// idle time at most IdleMax and drop rate at most DropMax. It has no side
// effects and may be called at any point, including before the first frame.
func (m *Monitor) IsHealthy() bool {
	s := m.src.Stats()
	if s.IdleTime() > m.idleMax {
		return false
	}
	if s.Received > 0 && s.DropRate() > m.dropMax {
		return false
	}
	return true
}
