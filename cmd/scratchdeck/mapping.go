package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"
)

// Deck controls driven by the controller. *Turntable implements it.
//
// A jog message and a fine tempo nudge each apply under one lock, so a tick
// never sees half a jog and a concurrent SetTempo is never overwritten.
type DeckControls interface {
	CatchVinyl()
	ReleaseVinyl()
	impulse(steps int)
	TogglePlay()
	SetTempo(tempo float64)
	nudgeTempo(delta float64)
	Cue() float64
}

// Mapping describes which controller messages drive which deck controls.
// Defaults follow the Pioneer DDJ-400 left deck.
type Mapping struct {
	Channel uint8 `yaml:"channel"` // 0-based MIDI channel

	TouchNote uint8 `yaml:"touch_note"` // jog platter touch: press catches, release lets go
	PlayNote  uint8 `yaml:"play_note"`
	CueNote   uint8 `yaml:"cue_note"`

	TempoCC     uint8 `yaml:"tempo_cc"`      // absolute fader value
	TempoFineCC uint8 `yaml:"tempo_fine_cc"` // added on top of the current tempo
	JogCC       uint8 `yaml:"jog_cc"`        // relative: value-center impulses
	JogCenter   uint8 `yaml:"jog_center"`

	TempoMin     float64 `yaml:"tempo_min"`
	TempoMax     float64 `yaml:"tempo_max"`
	TempoFineMax float64 `yaml:"tempo_fine_max"`
}

// DefaultMapping returns the reference controller mapping.
func DefaultMapping() Mapping {
	return Mapping{
		Channel:      defaultMIDIChannel,
		TouchNote:    defaultTouchNote,
		PlayNote:     defaultPlayNote,
		CueNote:      defaultCueNote,
		TempoCC:      defaultTempoCC,
		TempoFineCC:  defaultTempoFineCC,
		JogCC:        defaultJogCC,
		JogCenter:    defaultJogCenter,
		TempoMin:     defaultTempoMin,
		TempoMax:     defaultTempoMax,
		TempoFineMax: defaultTempoFineMax,
	}
}

// Validate checks that the mapping addresses real MIDI channels, notes and
// controllers, and that the tempo fader range is usable.
func (m Mapping) Validate() error {
	if m.Channel > 15 {
		return errors.New("mapping.channel must be between 0 and 15")
	}
	for name, v := range map[string]uint8{
		"touch_note":    m.TouchNote,
		"play_note":     m.PlayNote,
		"cue_note":      m.CueNote,
		"tempo_cc":      m.TempoCC,
		"tempo_fine_cc": m.TempoFineCC,
		"jog_cc":        m.JogCC,
		"jog_center":    m.JogCenter,
	} {
		if v > midiValueMax {
			return fmt.Errorf("mapping.%s must be <= %d", name, midiValueMax)
		}
	}
	if m.TempoMin >= m.TempoMax {
		return errors.New("mapping.tempo_min must be < mapping.tempo_max")
	}
	if m.TempoFineMax < 0 {
		return errors.New("mapping.tempo_fine_max must be >= 0")
	}
	return nil
}

// mapRange linearly maps value from [fromLow, fromHigh] onto [toLow, toHigh].
func mapRange(value, fromLow, fromHigh, toLow, toHigh float64) float64 {
	return (value-fromLow)*(toHigh-toLow)/(fromHigh-fromLow) + toLow
}

// Dispatcher translates decoded MIDI messages into deck control calls.
//
// Handle is called from the MIDI listener goroutine. The mapping can be
// replaced at runtime (config reload) without stopping the listener.
type Dispatcher struct {
	deck    DeckControls
	mapping atomic.Pointer[Mapping]
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher driving deck with mapping m.
func NewDispatcher(deck DeckControls, m Mapping, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{deck: deck, logger: logger}
	d.SetMapping(m)
	return d
}

// SetMapping replaces the active mapping.
func (d *Dispatcher) SetMapping(m Mapping) {
	d.mapping.Store(&m)
}

// Mapping returns the active mapping.
func (d *Dispatcher) Mapping() Mapping {
	return *d.mapping.Load()
}

// Handle applies one message. It reports whether the message was mapped;
// unmapped messages are dropped.
func (d *Dispatcher) Handle(msg midi.Message) bool {
	m := d.mapping.Load()

	var ch, key, vel, cc, val uint8

	switch {
	case msg.GetNoteStart(&ch, &key, &vel):
		// Buttons and jog touch send full velocity on press.
		if ch != m.Channel || vel != pressVelocity {
			break
		}
		switch key {
		case m.TouchNote:
			d.deck.CatchVinyl()
			return true
		case m.PlayNote:
			d.deck.TogglePlay()
			return true
		case m.CueNote:
			pos := d.deck.Cue()
			d.logger.Debug("cue", "cue_point", pos)
			return true
		}

	case msg.GetNoteEnd(&ch, &key):
		if ch == m.Channel && key == m.TouchNote {
			d.deck.ReleaseVinyl()
			return true
		}

	case msg.GetControlChange(&ch, &cc, &val):
		if ch != m.Channel {
			break
		}
		switch cc {
		case m.TempoCC:
			d.deck.SetTempo(mapRange(float64(val), 0, midiValueMax, m.TempoMin, m.TempoMax))
			return true
		case m.TempoFineCC:
			d.deck.nudgeTempo(mapRange(float64(val), 0, midiValueMax, 0, m.TempoFineMax))
			return true
		case m.JogCC:
			if steps := int(val) - int(m.JogCenter); steps != 0 {
				d.deck.impulse(steps)
			}
			return true
		}
	}

	d.logger.Debug("unmapped MIDI message dropped", "msg", msg.String())
	return false
}
