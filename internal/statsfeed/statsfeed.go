// Package statsfeed exposes the relay's buffer statistics to operators over
// HTTP: a JSON snapshot endpoint, a websocket feed pushing snapshots once per
// second, and a counter reset hook.
package statsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/audiorelay/internal/buffer"
	"github.com/MrWong99/audiorelay/internal/health"
)

// defaultPushInterval is how often the live feed pushes a snapshot.
const defaultPushInterval = 1 * time.Second

// Snapshot is the JSON shape served to operators.
type Snapshot struct {
	Received    int64   `json:"received"`
	Sent        int64   `json:"sent"`
	Dropped     int64   `json:"dropped"`
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	DropRate    float64 `json:"drop_rate"`
	IdleSeconds float64 `json:"idle_seconds"`
	State       string  `json:"state"`
	Healthy     bool    `json:"healthy"`
}

// Feed serves buffer statistics over HTTP and websocket.
type Feed struct {
	buf     *buffer.FrameBuffer
	monitor *health.Monitor

	// PushInterval overrides the live feed cadence. Zero uses 1s.
	PushInterval time.Duration
}

// New creates a Feed reading from buf, with health state from monitor.
func New(buf *buffer.FrameBuffer, monitor *health.Monitor) *Feed {
	return &Feed{buf: buf, monitor: monitor}
}

// Register attaches the feed's routes to mux.
func (f *Feed) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stats", f.Stats)
	mux.HandleFunc("GET /stats/live", f.Live)
	mux.HandleFunc("POST /stats/reset", f.Reset)
}

// snapshot assembles the current Snapshot from the buffer and monitor.
func (f *Feed) snapshot() Snapshot {
	s := f.buf.Stats()
	return Snapshot{
		Received:    s.Received,
		Sent:        s.Sent,
		Dropped:     s.Dropped,
		Size:        s.Size,
		Capacity:    s.Capacity,
		DropRate:    s.DropRate(),
		IdleSeconds: s.IdleTime().Seconds(),
		State:       f.monitor.State().String(),
		Healthy:     f.monitor.IsHealthy(),
	}
}

// Stats serves a single JSON snapshot of the buffer counters.
func (f *Feed) Stats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(f.snapshot()); err != nil {
		slog.Warn("statsfeed: encode snapshot", "error", err)
	}
}

// Reset zeroes the buffer counters. Queued frames are untouched.
func (f *Feed) Reset(w http.ResponseWriter, _ *http.Request) {
	f.buf.ResetStats()
	w.WriteHeader(http.StatusNoContent)
}

// Live upgrades to a websocket and pushes one JSON snapshot per interval
// until the client disconnects or the request context ends.
func (f *Feed) Live(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("statsfeed: websocket accept", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "feed closed")

	interval := f.PushInterval
	if interval <= 0 {
		interval = defaultPushInterval
	}

	// CloseRead drains inbound frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Push an immediate snapshot so clients do not wait a full interval.
	if err := f.push(ctx, conn); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.push(ctx, conn); err != nil {
				return
			}
		}
	}
}

// push writes one snapshot as a text frame.
func (f *Feed) push(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal(f.snapshot())
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
