package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// These tests exercise hub fan-out and slow-client eviction without a real
// websocket server. Clients are built with a nil websocket.Conn; the hub
// guards against nil when closing.

// newTestHub returns a hub with small buffers for deterministic tests.
func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(quietLogger(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     quietLogger(),
	}
}

func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerAndWait(t, hub, c1)
	registerAndWait(t, hub, c2)

	if n := hub.ClientCount(); n != 2 {
		t.Fatalf("client count = %d, want 2", n)
	}

	msg := []byte(`{"type":"state_changed","data":{"speed":0.5}}`)

	// Send directly; BroadcastBytes may drop under scheduling pressure.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}

	// Shutdown closes every client's send channel.
	if _, ok := <-c1.send; ok {
		t.Fatalf("expected c1 send channel to be closed")
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)
	go hub.Run(ctx)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerAndWait(t, hub, slow)
	registerAndWait(t, hub, fast)

	// Pre-fill the slow client's buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"state_changed","data":{"vinyl_locked":true}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if n := hub.ClientCount(); n != 1 {
		t.Fatalf("client count = %d, want 1", n)
	}
}

func TestHub_UnregisterTwiceIsSafe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)
	go hub.Run(ctx)

	c := newTestClient(hub, "c", 4)
	registerAndWait(t, hub, c)

	hub.unregister <- c
	hub.unregister <- c

	waitUntil(t, 500*time.Millisecond, func() bool {
		return hub.ClientCount() == 0
	}, "client not removed")
}

// nextFrame reads one broadcast frame from the hub queue.
func nextFrame(t *testing.T, hub *Hub, timeout time.Duration) (envelopeIn, bool) {
	t.Helper()
	select {
	case b := <-hub.broadcast:
		var env envelopeIn
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return env, true
	case <-time.After(timeout):
		return envelopeIn{}, false
	}
}

type envelopeIn struct {
	Type string         `json:"type"`
	Data TurntableState `json:"data"`
}

func TestRunBroadcaster_CoalescesSpeedDrift(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 16)
	src := make(chan TurntableState, 8)
	go RunBroadcaster(ctx, hub, src, quietLogger())

	src <- TurntableState{Speed: 1.0, Playing: true}
	env, ok := nextFrame(t, hub, 500*time.Millisecond)
	if !ok || env.Type != "state_changed" || env.Data.Speed != 1.0 {
		t.Fatalf("first frame = %+v (ok=%v)", env, ok)
	}

	// A burst of speed-only updates becomes one frame carrying the latest.
	src <- TurntableState{Speed: 0.7, Playing: true}
	src <- TurntableState{Speed: 0.49, Playing: true}
	src <- TurntableState{Speed: 0.343, Playing: true}

	env, ok = nextFrame(t, hub, 500*time.Millisecond)
	if !ok || env.Data.Speed != 0.343 {
		t.Fatalf("coalesced frame = %+v (ok=%v), want speed 0.343", env, ok)
	}
	if _, ok := nextFrame(t, hub, 2*wsStateCoalesceWindow); ok {
		t.Fatalf("expected exactly one coalesced frame")
	}
}

func TestRunBroadcaster_DiscreteChangesAreImmediate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 16)
	src := make(chan TurntableState, 8)
	go RunBroadcaster(ctx, hub, src, quietLogger())

	src <- TurntableState{Speed: 1.0, Playing: true}
	nextFrame(t, hub, 500*time.Millisecond)

	src <- TurntableState{Speed: 0.9, Playing: true}
	src <- TurntableState{Speed: 0, VinylLocked: true, Playing: true}

	// The lock change goes out at once and supersedes the pending drift.
	env, ok := nextFrame(t, hub, wsStateCoalesceWindow/2)
	if !ok || !env.Data.VinylLocked {
		t.Fatalf("frame = %+v (ok=%v), want immediate locked state", env, ok)
	}
	if _, ok := nextFrame(t, hub, 2*wsStateCoalesceWindow); ok {
		t.Fatalf("superseded drift frame was still sent")
	}
}

func TestRunBroadcaster_FlushesOnSourceClose(t *testing.T) {
	hub := newTestHub(t, 4, 16)
	src := make(chan TurntableState, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBroadcaster(context.Background(), hub, src, quietLogger())
	}()

	src <- TurntableState{Speed: 1.0}
	src <- TurntableState{Speed: 0.5}
	close(src)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcaster did not stop")
	}

	if env, ok := nextFrame(t, hub, 100*time.Millisecond); !ok || env.Data.Speed != 1.0 {
		t.Fatalf("first frame = %+v (ok=%v)", env, ok)
	}
	if env, ok := nextFrame(t, hub, 100*time.Millisecond); !ok || env.Data.Speed != 0.5 {
		t.Fatalf("flushed frame = %+v (ok=%v), want speed 0.5", env, ok)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
