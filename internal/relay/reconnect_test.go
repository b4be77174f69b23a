package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/audiorelay/pkg/audio"
	audiomock "github.com/MrWong99/audiorelay/pkg/audio/mock"
)

func TestReconnector_Connect(t *testing.T) {
	t.Run("successful initial connection", func(t *testing.T) {
		conn := &audiomock.Connection{}
		platform := &audiomock.Platform{
			ConnectResult: conn,
		}

		r := NewReconnector(ReconnectorConfig{
			Platform:   platform,
			EndpointID: "voice-1",
		})

		got, err := r.Connect(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != conn {
			t.Error("expected returned connection to match mock")
		}
		if r.Connection() != conn {
			t.Error("expected stored connection to match mock")
		}
		if r.State() != StateConnected {
			t.Errorf("expected StateConnected, got %v", r.State())
		}

		if len(platform.ConnectCalls) != 1 {
			t.Errorf("expected 1 connect call, got %d", len(platform.ConnectCalls))
		}
		if platform.ConnectCalls[0].EndpointID != "voice-1" {
			t.Errorf("expected voice-1, got %s", platform.ConnectCalls[0].EndpointID)
		}
	})

	t.Run("connection failure", func(t *testing.T) {
		platform := &audiomock.Platform{
			ConnectError: errors.New("auth failed"),
		}

		r := NewReconnector(ReconnectorConfig{
			Platform:   platform,
			EndpointID: "voice-1",
		})

		_, err := r.Connect(context.Background())
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if r.Connection() != nil {
			t.Error("expected nil connection after failure")
		}
	})
}

func TestReconnector_Defaults(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{
		Platform:   &audiomock.Platform{},
		EndpointID: "ep",
	})

	if r.maxAttempts != 10 {
		t.Errorf("expected default maxAttempts=10, got %d", r.maxAttempts)
	}
	if r.delay != 5*time.Second {
		t.Errorf("expected default delay=5s, got %v", r.delay)
	}
	if r.label != "ep" {
		t.Errorf("expected label to default to endpoint ID, got %q", r.label)
	}
}

func TestReconnector_ReconnectOnDisconnect(t *testing.T) {
	conn1 := &audiomock.Connection{}
	conn2 := &audiomock.Connection{}

	var reconnected atomic.Pointer[audio.Connection]

	var calls atomic.Int32
	platform := &audiomock.Platform{
		ConnectFunc: func(_ context.Context, _ string) (audio.Connection, error) {
			if calls.Add(1) == 1 {
				return conn1, nil
			}
			return conn2, nil
		},
	}

	r := NewReconnector(ReconnectorConfig{
		Platform:    platform,
		EndpointID:  "voice-1",
		MaxAttempts: 3,
		Delay:       1 * time.Millisecond,
		OnReconnect: func(c audio.Connection) {
			reconnected.Store(&c)
		},
	})

	// Initial connect.
	_, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := t.Context()

	r.Monitor(ctx)

	// Simulate disconnect.
	r.NotifyDisconnect()

	// Wait for reconnection.
	time.Sleep(50 * time.Millisecond)

	gotPtr := reconnected.Load()
	if gotPtr == nil {
		t.Fatal("expected OnReconnect to be called")
	}
	if *gotPtr != conn2 {
		t.Error("expected OnReconnect to be called with conn2")
	}
	if r.State() != StateConnected {
		t.Errorf("expected StateConnected after reconnect, got %v", r.State())
	}

	// The old connection must be released.
	if conn1.CallCountDisconnect != 1 {
		t.Errorf("expected old connection to be disconnected, got %d calls", conn1.CallCountDisconnect)
	}

	_ = r.Stop()
}

func TestReconnector_FixedDelayRetries(t *testing.T) {
	var failCount atomic.Int32
	conn := &audiomock.Connection{}

	platform := &audiomock.Platform{
		ConnectFunc: func(_ context.Context, _ string) (audio.Connection, error) {
			if failCount.Add(1) <= 3 {
				return nil, errors.New("connection failed")
			}
			return conn, nil
		},
	}

	var reconnected atomic.Bool
	var mu sync.Mutex
	var attempts []int

	r := NewReconnector(ReconnectorConfig{
		Platform:    platform,
		EndpointID:  "voice-1",
		MaxAttempts: 5,
		Delay:       1 * time.Millisecond,
		OnReconnect: func(audio.Connection) {
			reconnected.Store(true)
		},
		OnAttempt: func(n int) {
			mu.Lock()
			attempts = append(attempts, n)
			mu.Unlock()
		},
	})

	r.mu.Lock()
	r.conn = &audiomock.Connection{}
	r.mu.Unlock()

	ctx := t.Context()

	r.Monitor(ctx)
	r.NotifyDisconnect()

	// Wait for retries to complete.
	time.Sleep(200 * time.Millisecond)

	if !reconnected.Load() {
		t.Error("expected successful reconnection after failures")
	}

	// 3 failures + 1 success = 4 attempts, numbered from 1.
	if got := failCount.Load(); got != 4 {
		t.Errorf("expected 4 connection attempts, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 3, 4}
	if len(attempts) != len(want) {
		t.Fatalf("expected attempt numbers %v, got %v", want, attempts)
	}
	for i := range want {
		if attempts[i] != want[i] {
			t.Fatalf("expected attempt numbers %v, got %v", want, attempts)
		}
	}

	_ = r.Stop()
}

func TestReconnector_DelayPrecedesFirstAttempt(t *testing.T) {
	conn := &audiomock.Connection{}
	platform := &audiomock.Platform{ConnectResult: conn}

	r := NewReconnector(ReconnectorConfig{
		Platform:    platform,
		EndpointID:  "voice-1",
		MaxAttempts: 3,
		Delay:       75 * time.Millisecond,
	})

	r.mu.Lock()
	r.conn = &audiomock.Connection{}
	r.mu.Unlock()

	ctx := t.Context()

	r.Monitor(ctx)
	r.NotifyDisconnect()

	// The first attempt must not happen before the delay has elapsed. A
	// disruption recurring right after a reconnect would otherwise produce
	// back-to-back join attempts.
	time.Sleep(20 * time.Millisecond)
	if got := platform.CallCount(); got != 0 {
		t.Fatalf("expected no connect attempts before the delay, got %d", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for platform.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the delayed attempt")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if r.State() != StateConnected {
		t.Errorf("expected StateConnected after reconnect, got %v", r.State())
	}

	_ = r.Stop()
}

func TestReconnector_StaleSignalAfterReconnectIgnored(t *testing.T) {
	conn2 := &audiomock.Connection{}

	var r *Reconnector
	var calls atomic.Int32
	platform := &audiomock.Platform{}
	platform.ConnectFunc = func(_ context.Context, _ string) (audio.Connection, error) {
		if calls.Add(1) == 1 {
			// A second disruption signal for the same event lands while
			// the reconnect sequence is already running, as happens when
			// both the stream-end callback and the frame-channel close
			// report one source drop.
			r.NotifyDisconnect()
			return nil, errors.New("connection failed")
		}
		return conn2, nil
	}

	var reconnected atomic.Bool
	var mu sync.Mutex
	var attempts []int

	r = NewReconnector(ReconnectorConfig{
		Platform:    platform,
		EndpointID:  "voice-1",
		MaxAttempts: 5,
		Delay:       1 * time.Millisecond,
		OnReconnect: func(audio.Connection) {
			reconnected.Store(true)
		},
		OnAttempt: func(n int) {
			mu.Lock()
			attempts = append(attempts, n)
			mu.Unlock()
		},
	})

	r.mu.Lock()
	r.conn = &audiomock.Connection{}
	r.mu.Unlock()

	ctx := t.Context()

	r.Monitor(ctx)
	r.NotifyDisconnect()

	deadline := time.Now().Add(2 * time.Second)
	for !reconnected.Load() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for reconnection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Give a queued signal ample time to (wrongly) start a second sequence.
	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 connect calls (one failure, one success), got %d", got)
	}
	mu.Lock()
	gotAttempts := append([]int(nil), attempts...)
	mu.Unlock()
	want := []int{1, 2}
	if len(gotAttempts) != len(want) || gotAttempts[0] != 1 || gotAttempts[1] != 2 {
		t.Errorf("expected a single sequence with attempts %v, got %v", want, gotAttempts)
	}
	if conn2.CallCountDisconnect != 0 {
		t.Errorf("healthy new connection was disconnected %d times", conn2.CallCountDisconnect)
	}
	if r.State() != StateConnected {
		t.Errorf("expected StateConnected, got %v", r.State())
	}

	_ = r.Stop()
}

func TestReconnector_MaxAttemptsExhausted(t *testing.T) {
	var connectAttempts atomic.Int32
	platform := &audiomock.Platform{
		ConnectFunc: func(_ context.Context, _ string) (audio.Connection, error) {
			connectAttempts.Add(1)
			return nil, errors.New("permanently down")
		},
	}

	var reconnected atomic.Bool
	var gaveUp atomic.Bool
	r := NewReconnector(ReconnectorConfig{
		Platform:    platform,
		EndpointID:  "voice-1",
		MaxAttempts: 2,
		Delay:       1 * time.Millisecond,
		OnReconnect: func(audio.Connection) {
			reconnected.Store(true)
		},
		OnGiveUp: func() {
			gaveUp.Store(true)
		},
	})

	r.mu.Lock()
	r.conn = &audiomock.Connection{}
	r.mu.Unlock()

	ctx := t.Context()

	r.Monitor(ctx)
	r.NotifyDisconnect()

	// Wait for retries to exhaust.
	time.Sleep(100 * time.Millisecond)

	if reconnected.Load() {
		t.Error("expected OnReconnect NOT to be called when all attempts fail")
	}
	if !gaveUp.Load() {
		t.Error("expected OnGiveUp to be called after exhausting attempts")
	}

	// Platform should have been called exactly MaxAttempts times.
	if got := connectAttempts.Load(); got != 2 {
		t.Errorf("expected 2 connect attempts, got %d", got)
	}
	if r.State() != StateFailed {
		t.Errorf("expected StateFailed, got %v", r.State())
	}
	if r.Connection() != nil {
		t.Error("expected nil connection after failure")
	}

	_ = r.Stop()
}

func TestReconnector_Stop(t *testing.T) {
	conn := &audiomock.Connection{}
	platform := &audiomock.Platform{ConnectResult: conn}

	r := NewReconnector(ReconnectorConfig{
		Platform:   platform,
		EndpointID: "voice-1",
	})

	_, _ = r.Connect(context.Background())

	err := r.Stop()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.Connection() != nil {
		t.Error("expected nil connection after Stop")
	}

	if conn.CallCountDisconnect != 1 {
		t.Errorf("expected 1 Disconnect call, got %d", conn.CallCountDisconnect)
	}

	// Double stop should not panic.
	err = r.Stop()
	if err != nil {
		t.Fatalf("unexpected error on double Stop: %v", err)
	}
}

func TestReconnector_NotifyDisconnectNonBlocking(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{
		Platform:   &audiomock.Platform{},
		EndpointID: "ep",
	})

	// Multiple calls should not block.
	r.NotifyDisconnect()
	r.NotifyDisconnect()
	r.NotifyDisconnect()
}

func TestConnState_String(t *testing.T) {
	cases := []struct {
		state ConnState
		want  string
	}{
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateFailed, "failed"},
		{ConnState(42), "ConnState(42)"},
	}
	for _, c := range cases {
		if got := c.state.String(); got != c.want {
			t.Errorf("ConnState(%d).String() = %q, want %q", int(c.state), got, c.want)
		}
	}
}
