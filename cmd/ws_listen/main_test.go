package main

import (
	"reflect"
	"testing"
)

func TestTracker_PrintsOnlyChanges(t *testing.T) {
	tr := &tracker{threshold: 0.01}

	first := tr.handle([]byte(`{"type":"state_init","data":{"tempo":1,"speed":0,"playing":false,"cue_point":0}}`))
	if len(first) != 5 {
		t.Fatalf("first frame printed %v, want every field", first)
	}

	// Drift below the threshold is ignored.
	if got := tr.handle([]byte(`{"type":"state_changed","data":{"tempo":1,"speed":0.005}}`)); len(got) != 0 {
		t.Fatalf("small drift printed %v", got)
	}

	got := tr.handle([]byte(`{"type":"state_changed","data":{"tempo":1,"speed":0.3,"vinyl_locked":true}}`))
	want := []string{"[SPEED] 0.300", "[VINYL] CAUGHT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestTracker_NonStateText(t *testing.T) {
	tr := &tracker{threshold: 0.01}
	got := tr.handle([]byte(`hello`))
	if len(got) != 1 || got[0] != "[TEXT] hello" {
		t.Fatalf("got %v", got)
	}
}
