package main

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestUnmarshalEvent_Payloads(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`{"type":"impulse","data":{"steps":-12}}`))
	if err != nil {
		t.Fatalf("impulse: %v", err)
	}
	if imp, ok := ev.(VinylImpulse); !ok || imp.Steps != -12 {
		t.Fatalf("impulse = %#v", ev)
	}

	ev, err = UnmarshalEvent([]byte(`{"type":"set_tempo","data":{"tempo":1.04}}`))
	if err != nil {
		t.Fatalf("set_tempo: %v", err)
	}
	if ts, ok := ev.(TempoSet); !ok || ts.Tempo != 1.04 {
		t.Fatalf("set_tempo = %#v", ev)
	}
}

func TestUnmarshalEvent_ImpulseBounds(t *testing.T) {
	for _, steps := range []string{"127", "-127", "0"} {
		if _, err := UnmarshalEvent([]byte(`{"type":"impulse","data":{"steps":` + steps + `}}`)); err != nil {
			t.Errorf("steps %s rejected: %v", steps, err)
		}
	}
}

func TestUnmarshalEvent_ReplyChannelsStartNil(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`{"type":"cue"}`))
	if err != nil {
		t.Fatal(err)
	}
	if c, ok := ev.(CuePressed); !ok || c.reply != nil {
		t.Fatalf("cue = %#v", ev)
	}

	ev, err = UnmarshalEvent([]byte(`{"type":"get_state"}`))
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := ev.(RequestStateSnapshot); !ok || r.Reply != nil {
		t.Fatalf("get_state = %#v", ev)
	}
}

func TestUnmarshalEvent_Errors(t *testing.T) {
	tests := []struct {
		in      string
		wantErr string
	}{
		{`not json`, "unmarshal envelope"},
		{`{"type":"scratch"}`, "unknown event type"},
		{`{"type":"impulse"}`, "VinylImpulse"},
		{`{"type":"set_tempo","data":{"tempo":"fast"}}`, "TempoSet"},
		{`{"type":"impulse","data":{"steps":200000000}}`, "out of range"},
		{`{"type":"impulse","data":{"steps":-128}}`, "out of range"},
	}
	for _, tc := range tests {
		_, err := UnmarshalEvent([]byte(tc.in))
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Errorf("UnmarshalEvent(%s) err = %v, want %q", tc.in, err, tc.wantErr)
		}
	}
}

func TestMarshalEvent_RoundTripsThroughIPCFormat(t *testing.T) {
	events := []Event{
		VinylCatch{},
		VinylRelease{},
		VinylImpulse{Steps: 3},
		PlayToggle{},
		TempoSet{Tempo: 0.96},
		CuePressed{},
		RequestStateSnapshot{},
	}
	for _, want := range events {
		b, err := MarshalEvent(want)
		if err != nil {
			t.Fatalf("MarshalEvent(%T): %v", want, err)
		}
		got, err := UnmarshalEvent(b)
		if err != nil {
			t.Fatalf("UnmarshalEvent(%s): %v", b, err)
		}
		if got != want {
			t.Errorf("round trip %T: got %#v, want %#v", want, got, want)
		}
	}
}

func TestMarshalEvent_OmitsEmptyData(t *testing.T) {
	b, err := MarshalEvent(PlayToggle{})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["data"]; ok {
		t.Fatalf("toggle_play carried data: %s", b)
	}
}

type unknownEvent struct{}

func (unknownEvent) eventMarker() {}

func TestMarshalEvent_RejectsUnknownTypes(t *testing.T) {
	if _, err := MarshalEvent(unknownEvent{}); err == nil {
		t.Fatalf("expected error")
	}
}
