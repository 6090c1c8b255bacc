package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Events - Deck Control Requests
// ============================================================================
// Events are control requests from sources other than the MIDI controller
// (IPC clients, scripts). The daemon loop applies them to the turntable.
// ============================================================================

// Event is a marker interface for everything the daemon loop consumes.
type Event interface {
	eventMarker()
}

// VinylCatch puts a hand on the platter.
type VinylCatch struct{}

// VinylRelease lifts the hand off the platter.
type VinylRelease struct{}

// maxImpulseSteps bounds one impulse event, the largest turn a single jog
// message can report.
const maxImpulseSteps = midiValueMax

// VinylImpulse turns the platter by Steps jog impulses (negative = backwards).
// |Steps| is at most maxImpulseSteps.
type VinylImpulse struct {
	Steps int `json:"steps"`
}

// PlayToggle toggles the motor.
type PlayToggle struct{}

// TempoSet sets the motor target speed.
type TempoSet struct {
	Tempo float64 `json:"tempo"`
}

// CuePressed presses the cue button. If reply is set, the resulting cue
// point is delivered on it.
type CuePressed struct {
	reply chan float64
}

// RequestStateSnapshot asks the daemon for the current turntable state.
type RequestStateSnapshot struct {
	Reply chan TurntableState
}

func (VinylCatch) eventMarker()           {}
func (VinylRelease) eventMarker()         {}
func (VinylImpulse) eventMarker()         {}
func (PlayToggle) eventMarker()           {}
func (TempoSet) eventMarker()             {}
func (CuePressed) eventMarker()           {}
func (RequestStateSnapshot) eventMarker() {}

// EventEnvelope is the JSON wire format: {"type": "...", "data": {...}}.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent parses a JSON envelope into an Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "catch_vinyl":
		return VinylCatch{}, nil
	case "release_vinyl":
		return VinylRelease{}, nil
	case "toggle_play":
		return PlayToggle{}, nil
	case "cue":
		return CuePressed{}, nil
	case "get_state":
		return RequestStateSnapshot{}, nil

	case "impulse":
		var e VinylImpulse
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal VinylImpulse: %w", err)
		}
		if e.Steps > maxImpulseSteps || e.Steps < -maxImpulseSteps {
			return nil, fmt.Errorf("impulse steps %d out of range [-%d, %d]", e.Steps, maxImpulseSteps, maxImpulseSteps)
		}
		return e, nil

	case "set_tempo":
		var e TempoSet
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("unmarshal TempoSet: %w", err)
		}
		return e, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into its JSON envelope.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case VinylCatch:
		env.Type = "catch_vinyl"
	case VinylRelease:
		env.Type = "release_vinyl"
	case PlayToggle:
		env.Type = "toggle_play"
	case CuePressed:
		env.Type = "cue"
	case RequestStateSnapshot:
		env.Type = "get_state"

	case VinylImpulse:
		env.Type = "impulse"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal VinylImpulse: %w", err)
		}
		env.Data = data

	case TempoSet:
		env.Type = "set_tempo"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal TempoSet: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
