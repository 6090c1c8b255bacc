package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
)

// Deck is an AudioSink that plays a fully decoded track through the speaker.
//
// The read head moves by a signed fractional step per output sample, so the
// track can be played backwards (scratching) and held still (rate 0), which a
// plain beep.Resampler cannot do. Position is reported in seconds.
type Deck struct {
	mu      sync.Mutex
	samples [][2]float64
	srcRate beep.SampleRate
	outRate beep.SampleRate

	pos  float64 // read head, in source samples
	rate float64
}

// OpenDeck decodes the track at path, initializes the speaker at outRate and
// starts streaming the deck. Failures are reported as ErrSinkUnavailable.
func OpenDeck(path string, outRate beep.SampleRate, buffer time.Duration) (*Deck, error) {
	samples, format, err := loadTrack(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}

	if err := speaker.Init(outRate, outRate.N(buffer)); err != nil {
		return nil, fmt.Errorf("%w: speaker init: %v", ErrSinkUnavailable, err)
	}

	d := newDeck(samples, format.SampleRate, outRate)
	speaker.Play(d)
	return d, nil
}

func newDeck(samples [][2]float64, srcRate, outRate beep.SampleRate) *Deck {
	return &Deck{
		samples: samples,
		srcRate: srcRate,
		outRate: outRate,
		rate:    1.0,
	}
}

// loadTrack decodes a WAV or MP3 file into memory.
func loadTrack(path string) ([][2]float64, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("open track: %w", err)
	}
	defer f.Close()

	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		s, format, err = wav.Decode(f)
	case ".mp3":
		s, format, err = mp3.Decode(f)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported track format %q (want .wav or .mp3)", filepath.Ext(path))
	}
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode track: %w", err)
	}
	defer s.Close()

	samples := make([][2]float64, 0, s.Len())
	buf := make([][2]float64, 4096)
	for {
		n, ok := s.Stream(buf)
		samples = append(samples, buf[:n]...)
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, beep.Format{}, fmt.Errorf("decode track: %w", err)
	}

	return samples, format, nil
}

// Stream implements beep.Streamer. The deck never drains: past either end of
// the track it produces silence until the head is moved back.
func (d *Deck) Stream(out [][2]float64) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	step := d.rate * float64(d.srcRate) / float64(d.outRate)
	end := float64(len(d.samples))

	for i := range out {
		out[i] = d.sampleAt(d.pos)
		d.pos += step
		if d.pos < 0 {
			d.pos = 0
		} else if d.pos > end {
			d.pos = end
		}
	}
	return len(out), true
}

// Err implements beep.Streamer.
func (d *Deck) Err() error { return nil }

// sampleAt linearly interpolates between the two source frames around p.
func (d *Deck) sampleAt(p float64) [2]float64 {
	n := len(d.samples)
	if n == 0 || p < 0 || p >= float64(n) {
		return [2]float64{}
	}
	i := int(p)
	a := d.samples[i]
	if i+1 >= n {
		return a
	}
	b := d.samples[i+1]
	frac := p - float64(i)
	return [2]float64{
		a[0] + (b[0]-a[0])*frac,
		a[1] + (b[1]-a[1])*frac,
	}
}

// SetPlaybackRate sets the signed playback rate (1.0 is nominal speed).
func (d *Deck) SetPlaybackRate(rate float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rate = rate
}

// Position returns the read head position in seconds.
func (d *Deck) Position() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos / float64(d.srcRate)
}

// SetPosition moves the read head to pos seconds, clamped to the track.
func (d *Deck) SetPosition(pos float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := pos * float64(d.srcRate)
	if p < 0 {
		p = 0
	}
	if end := float64(len(d.samples)); p > end {
		p = end
	}
	d.pos = p
}

// Duration returns the length of the loaded track.
func (d *Deck) Duration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.srcRate.D(len(d.samples))
}

// Close stops playback and releases the speaker.
func (d *Deck) Close() {
	speaker.Clear()
	speaker.Close()
}
