package main

import (
	"errors"
	"sync"
)

// AudioSink is the playback side the turntable drives.
//
// SetPlaybackRate is called on every tick and must take effect without a
// transition ramp; the turntable does its own smoothing.
type AudioSink interface {
	SetPlaybackRate(rate float64)
	Position() float64 // seconds
	SetPosition(pos float64)
}

// Startup and per-event failure kinds of the collaborators around the engine.
var (
	// ErrSinkUnavailable indicates the audio output could not be initialized.
	ErrSinkUnavailable = errors.New("audio sink unavailable")

	// ErrNoInputPort indicates no MIDI input port was found.
	ErrNoInputPort = errors.New("no MIDI input port found")

	// ErrAmbiguousInputPort indicates several ports matched and none could be chosen.
	ErrAmbiguousInputPort = errors.New("ambiguous MIDI input port")

	// ErrMalformedMessage indicates bytes that do not form a MIDI message.
	// These are dropped per event and never stop the input reader.
	ErrMalformedMessage = errors.New("malformed MIDI message")
)

// nullSink is an AudioSink without audio output, used by -no-audio runs.
// Seeks are remembered so cue works without a track.
type nullSink struct {
	mu       sync.Mutex
	rate     float64
	position float64
}

func (s *nullSink) SetPlaybackRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
}

func (s *nullSink) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *nullSink) SetPosition(pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = pos
}
