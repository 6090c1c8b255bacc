package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestApplyEvent_ControlEvents(t *testing.T) {
	tt, _, _ := newTestTurntable(t, TurntableConfig{})
	logger := quietLogger()

	applyEvent(tt, VinylCatch{}, logger)
	applyEvent(tt, VinylImpulse{Steps: 5}, logger)
	applyEvent(tt, VinylImpulse{Steps: -2}, logger)
	applyEvent(tt, TempoSet{Tempo: 1.05}, logger)
	applyEvent(tt, PlayToggle{}, logger)

	st := tt.Snapshot()
	if !st.VinylLocked || st.CumulativeImpulse != 3 || st.Tempo != 1.05 || st.Playing {
		t.Fatalf("unexpected state: %+v", st)
	}

	applyEvent(tt, VinylRelease{}, logger)
	if st := tt.Snapshot(); st.VinylLocked || st.VinylSpeed != 1.05 {
		t.Fatalf("after release: %+v", st)
	}
}

func TestApplyEvent_LargeImpulseIsApplied(t *testing.T) {
	tt, _, _ := newTestTurntable(t, TurntableConfig{})

	start := time.Now()
	applyEvent(tt, VinylImpulse{Steps: 200_000_000}, quietLogger())
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("impulse event held the daemon loop for %v", elapsed)
	}
	if got := tt.Snapshot().CumulativeImpulse; got != 200_000_000 {
		t.Fatalf("cumulative impulse = %v", got)
	}
}

func TestApplyEvent_CueReplies(t *testing.T) {
	tt, sink, _ := newTestTurntable(t, TurntableConfig{})
	sink.SetPosition(7.25)
	tt.CatchVinyl()

	reply := make(chan float64, 1)
	applyEvent(tt, CuePressed{reply: reply}, quietLogger())

	select {
	case got := <-reply:
		if got != 7.25 {
			t.Fatalf("cue reply = %v, want 7.25", got)
		}
	default:
		t.Fatalf("no cue reply")
	}

	// Without a reply channel the cue still happens.
	tt.ReleaseVinyl()
	sink.SetPosition(30)
	applyEvent(tt, CuePressed{}, quietLogger())
	if sink.Position() != 7.25 {
		t.Fatalf("sink position = %v, want 7.25", sink.Position())
	}
}

func TestApplyEvent_StateSnapshot(t *testing.T) {
	tt, _, _ := newTestTurntable(t, TurntableConfig{})
	tt.SetTempo(0.97)

	reply := make(chan TurntableState, 1)
	applyEvent(tt, RequestStateSnapshot{Reply: reply}, quietLogger())

	select {
	case st := <-reply:
		if st.Tempo != 0.97 {
			t.Fatalf("snapshot tempo = %v, want 0.97", st.Tempo)
		}
	default:
		t.Fatalf("no snapshot reply")
	}

	// Nil reply channels are tolerated.
	applyEvent(tt, RequestStateSnapshot{}, quietLogger())
}

func TestStateChanged(t *testing.T) {
	base := TurntableState{Tempo: 1, Speed: 1, Playing: true}

	tests := []struct {
		name   string
		mutate func(*TurntableState)
		want   bool
	}{
		{"identical", func(*TurntableState) {}, false},
		{"tiny speed drift", func(s *TurntableState) { s.Speed += stateChangeEpsilon / 10 }, false},
		{"speed change", func(s *TurntableState) { s.Speed = 0.5 }, true},
		{"tempo change", func(s *TurntableState) { s.Tempo = 1.02 }, true},
		{"lock", func(s *TurntableState) { s.VinylLocked = true }, true},
		{"pause", func(s *TurntableState) { s.Playing = false }, true},
		{"cue", func(s *TurntableState) { s.CuePoint = 3 }, true},
		{"timestamp only", func(s *TurntableState) { s.LastTick = time.Now() }, false},
	}

	for _, tc := range tests {
		next := base
		tc.mutate(&next)
		if got := stateChanged(base, next); got != tc.want {
			t.Errorf("%s: stateChanged = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRunDaemon_TicksAndPublishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{}
	tt := NewTurntable(TurntableConfig{}, sink)
	events := make(chan Event, 8)
	broadcasts := make(chan TurntableState, 64)

	done := make(chan error, 1)
	go func() {
		done <- runDaemon(ctx, events, tt, 200, broadcasts, quietLogger())
	}()

	// First tick always publishes.
	select {
	case <-broadcasts:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for initial state broadcast")
	}

	events <- PlayToggle{}

	waitUntil(t, time.Second, func() bool {
		for {
			select {
			case st := <-broadcasts:
				if !st.Playing {
					return true
				}
			default:
				return false
			}
		}
	}, "paused state was not published")

	if _, ok := sink.lastRate(); !ok {
		t.Fatalf("daemon never pushed a rate to the sink")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runDaemon returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for daemon to stop")
	}
}

func TestRunDaemon_StopsWhenEventsClosed(t *testing.T) {
	tt := NewTurntable(TurntableConfig{}, nil)
	events := make(chan Event)

	done := make(chan error, 1)
	go func() {
		done <- runDaemon(context.Background(), events, tt, 50, nil, quietLogger())
	}()

	close(events)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runDaemon returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for daemon to stop")
	}
}

func TestRunDaemon_SettledPlatterIsQuiet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tt := NewTurntable(TurntableConfig{}, nil)
	broadcasts := make(chan TurntableState, 64)

	go runDaemon(ctx, make(chan Event), tt, 200, broadcasts, quietLogger())

	// Speed starts at tempo, so only the initial snapshot is published.
	time.Sleep(100 * time.Millisecond)
	if n := len(broadcasts); n != 1 {
		t.Fatalf("got %d broadcasts for a settled platter, want 1", n)
	}
}
