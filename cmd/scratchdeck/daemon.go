package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// ============================================================================
// Driver Loop
// ============================================================================
//
// runDaemon is the fixed-rate driver of the turntable:
//   - Ticks the turntable at updateHz; Tick pushes the new speed to the sink
//   - Applies control Events arriving from IPC between ticks
//   - Publishes a state snapshot whenever the visible state changed
//
// MIDI input does not pass through here: the dispatcher calls the turntable
// directly from the listener goroutine, and the turntable lock orders it
// against Tick.
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
// ============================================================================

func runDaemon(
	ctx context.Context,
	events <-chan Event,
	tt *Turntable,
	updateHz int,
	broadcasts chan<- TurntableState,
	logger *slog.Logger,
) error {
	if updateHz <= 0 {
		updateHz = defaultUpdateHz
	}
	ticker := time.NewTicker(time.Second / time.Duration(updateHz))
	defer ticker.Stop()

	var last TurntableState
	published := false

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return nil

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return nil
			}
			applyEvent(tt, ev, logger)

		case <-ticker.C:
			tt.Tick()
			snap := tt.Snapshot()
			if published && !stateChanged(last, snap) {
				continue
			}
			last, published = snap, true

			if broadcasts == nil {
				continue
			}
			select {
			case broadcasts <- snap:
			default:
				logger.Debug("state broadcast queue full, dropping snapshot")
			}
		}
	}
}

// applyEvent performs one control request against the turntable.
func applyEvent(tt *Turntable, ev Event, logger *slog.Logger) {
	switch e := ev.(type) {
	case VinylCatch:
		tt.CatchVinyl()
	case VinylRelease:
		tt.ReleaseVinyl()
	case VinylImpulse:
		tt.impulse(e.Steps)
	case PlayToggle:
		tt.TogglePlay()
	case TempoSet:
		tt.SetTempo(e.Tempo)

	case CuePressed:
		pos := tt.Cue()
		logger.Debug("cue", "cue_point", pos)
		if e.reply != nil {
			select {
			case e.reply <- pos:
			default:
				logger.Warn("cue reply channel not ready; dropping reply")
			}
		}

	case RequestStateSnapshot:
		if e.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		select {
		case e.Reply <- tt.Snapshot():
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown event type", "type", typeName(ev))
	}
}

// stateChanged reports whether next differs visibly from prev. Speed and
// tempo changes below stateChangeEpsilon are ignored so a settled platter
// does not flood clients.
func stateChanged(prev, next TurntableState) bool {
	if prev.VinylLocked != next.VinylLocked || prev.Playing != next.Playing {
		return true
	}
	if prev.CuePoint != next.CuePoint {
		return true
	}
	return math.Abs(prev.Speed-next.Speed) >= stateChangeEpsilon ||
		math.Abs(prev.Tempo-next.Tempo) >= stateChangeEpsilon
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v)
}
