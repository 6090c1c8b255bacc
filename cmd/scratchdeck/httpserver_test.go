package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHealthz(t *testing.T) {
	srv := NewServer(quietLogger(), nil, ServerConfig{})
	ts := httptest.NewServer(newHTTPMux(srv, defaultStatePath))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Version != version || body.WSClients != 0 {
		t.Fatalf("body = %+v", body)
	}

	post, err := http.Post(ts.URL+"/healthz", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d", post.StatusCode)
	}
}

func TestStateWS_InitThenBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tt, _, _ := newTestTurntable(t, TurntableConfig{})
	events := make(chan Event, 4)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				applyEvent(tt, ev, quietLogger())
			}
		}
	}()

	srv := NewServer(quietLogger(), events, ServerConfig{})
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(newHTTPMux(srv, defaultStatePath))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + defaultStatePath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() (string, TurntableState) {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var env struct {
			Type string         `json:"type"`
			Data TurntableState `json:"data"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		return env.Type, env.Data
	}

	typ, st := read()
	if typ != "state_init" || st.Tempo != 1.0 || st.Playing {
		t.Fatalf("init frame = %s %+v", typ, st)
	}

	waitUntil(t, time.Second, func() bool { return srv.Hub().ClientCount() == 1 }, "client not registered")

	tt.CatchVinyl()
	msg, err := marshalStateFrame("state_changed", tt.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	srv.Hub().BroadcastBytes(msg)

	typ, st = read()
	if typ != "state_changed" || !st.VinylLocked {
		t.Fatalf("broadcast frame = %s %+v", typ, st)
	}
}
