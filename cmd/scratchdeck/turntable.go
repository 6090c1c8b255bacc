package main

import (
	"math"
	"sync"
	"time"
)

// ============================================================================
// Turntable - Platter Physics
// ============================================================================
// The turntable owns every piece of simulated platter state. It is written from
// two places: the MIDI callback (hand contact, jog impulses, tempo, transport)
// and the driver loop (Tick). A single mutex guards the whole state; the
// mutators and Tick are the only ways in.
//
// Each Tick converts the jog impulses gathered since the previous tick into a
// platter speed. While a hand holds the vinyl that speed is played directly;
// otherwise the output speed eases toward tempo (playing) or 0 (paused).
// ============================================================================

// TorqueMode selects how the per-tick smoothing factor is applied.
type TorqueMode string

const (
	// TorqueModePerTick applies torque once per Tick call, so convergence
	// speed depends on the tick cadence.
	TorqueModePerTick TorqueMode = "per_tick"

	// TorqueModePerSecond scales torque by elapsed time so that the result
	// matches per_tick behavior at ReferenceHz regardless of cadence.
	TorqueModePerSecond TorqueMode = "per_second"
)

// TurntableConfig contains the tunable parameters of the platter model.
type TurntableConfig struct {
	Tempo               float64
	Torque              float64 // (0, 1]
	ImpulsesPerRotation int     // > 0

	TorqueMode  TorqueMode
	ReferenceHz float64 // per_second mode only

	// MinDt is the smallest elapsed time a tick integrates over.
	// Ticks that arrive faster are treated as if MinDt had passed.
	MinDt time.Duration
}

// TurntableState is a point-in-time copy of the platter state.
type TurntableState struct {
	Tempo               float64   `json:"tempo"`
	VinylSpeed          float64   `json:"vinyl_speed"`
	VinylLocked         bool      `json:"vinyl_locked"`
	Speed               float64   `json:"speed"`
	Torque              float64   `json:"torque"`
	ImpulsesPerRotation int       `json:"impulses_per_rotation"`
	CumulativeImpulse   float64   `json:"cumulative_impulse"`
	LastTick            time.Time `json:"last_tick"`
	Playing             bool      `json:"playing"`
	CuePoint            float64   `json:"cue_point"`
}

// Turntable is the platter state machine.
type Turntable struct {
	mu sync.Mutex

	tempo               float64
	vinylSpeed          float64
	vinylLocked         bool
	speed               float64
	torque              float64
	impulsesPerRotation int
	cumulativeImpulse   float64
	lastTick            time.Time
	playing             bool
	cuePoint            float64

	torqueMode  TorqueMode
	referenceHz float64
	minDt       float64 // seconds

	sink AudioSink
	now  func() time.Time
}

// NewTurntable creates a playing turntable with the given configuration.
// Zero-valued config fields fall back to the defaults.
func NewTurntable(cfg TurntableConfig, sink AudioSink) *Turntable {
	return newTurntableWithClock(cfg, sink, time.Now)
}

func newTurntableWithClock(cfg TurntableConfig, sink AudioSink, now func() time.Time) *Turntable {
	if cfg.Tempo == 0 {
		cfg.Tempo = defaultTempo
	}
	if cfg.Torque <= 0 || cfg.Torque > 1 {
		cfg.Torque = defaultTorque
	}
	if cfg.ImpulsesPerRotation <= 0 {
		cfg.ImpulsesPerRotation = defaultImpulsesPerRotation
	}
	if cfg.TorqueMode == "" {
		cfg.TorqueMode = TorqueModePerTick
	}
	if cfg.ReferenceHz <= 0 {
		cfg.ReferenceHz = defaultReferenceHz
	}
	if cfg.MinDt <= 0 {
		cfg.MinDt = time.Duration(defaultMinDtMS * float64(time.Millisecond))
	}
	if sink == nil {
		sink = &nullSink{}
	}

	return &Turntable{
		tempo:               cfg.Tempo,
		vinylSpeed:          1.0,
		speed:               1.0,
		torque:              cfg.Torque,
		impulsesPerRotation: cfg.ImpulsesPerRotation,
		lastTick:            now(),
		playing:             true,
		torqueMode:          cfg.TorqueMode,
		referenceHz:         cfg.ReferenceHz,
		minDt:               cfg.MinDt.Seconds(),
		sink:                sink,
		now:                 now,
	}
}

// CatchVinyl puts a hand on the platter: the vinyl stops and follows the jog.
func (t *Turntable) CatchVinyl() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vinylSpeed = 0
	t.vinylLocked = true
}

// ReleaseVinyl lifts the hand; the platter is handed back to the motor.
func (t *Turntable) ReleaseVinyl() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vinylSpeed = t.tempo
	t.vinylLocked = false
}

// ImpulseClockwise records one forward jog step.
func (t *Turntable) ImpulseClockwise() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cumulativeImpulse++
}

// ImpulseCounterClockwise records one backward jog step.
func (t *Turntable) ImpulseCounterClockwise() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cumulativeImpulse--
}

// impulse records steps jog impulses at once (negative = backwards).
func (t *Turntable) impulse(steps int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cumulativeImpulse += float64(steps)
}

// TogglePlay flips the motor target between tempo and standstill.
func (t *Turntable) TogglePlay() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = !t.playing
}

// SetTempo sets the motor target speed. The value is not clamped;
// callers map raw controller ranges themselves.
func (t *Turntable) SetTempo(tempo float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tempo = tempo
}

// nudgeTempo adds delta to the motor target speed.
func (t *Turntable) nudgeTempo(delta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tempo += delta
}

// Tempo returns the current motor target speed.
func (t *Turntable) Tempo() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tempo
}

// Cue stores the current sink position while the vinyl is held, and jumps
// back to the stored position while it is free. It returns the cue point.
func (t *Turntable) Cue() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.vinylLocked {
		return t.captureCueLocked()
	}
	return t.restoreCueLocked()
}

// CaptureCue stores the current sink position as the cue point.
func (t *Turntable) CaptureCue() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.captureCueLocked()
}

// RestoreCue seeks the sink to the stored cue point.
func (t *Turntable) RestoreCue() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restoreCueLocked()
}

func (t *Turntable) captureCueLocked() float64 {
	t.cuePoint = t.sink.Position()
	return t.cuePoint
}

func (t *Turntable) restoreCueLocked() float64 {
	t.sink.SetPosition(t.cuePoint)
	return t.cuePoint
}

// Tick advances the simulation by the wall-clock time elapsed since the
// previous tick, pushes the resulting speed to the sink and returns it.
func (t *Turntable) Tick() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	dt := now.Sub(t.lastTick).Seconds()
	if dt < t.minDt {
		dt = t.minDt
	}

	// Jog impulses -> fraction of a rotation -> rotations per second.
	dist := t.cumulativeImpulse / float64(t.impulsesPerRotation)
	t.vinylSpeed = dist / dt

	if t.vinylLocked {
		t.speed = t.vinylSpeed
	} else {
		target := 0.0
		if t.playing {
			target = t.tempo
		}
		t.speed = lerp(t.speed, target, t.smoothing(dt))
	}

	t.cumulativeImpulse = 0
	if now.After(t.lastTick) {
		t.lastTick = now
	}

	t.sink.SetPlaybackRate(t.speed)
	return t.speed
}

// smoothing returns the interpolation factor for a tick spanning dt seconds.
func (t *Turntable) smoothing(dt float64) float64 {
	if t.torqueMode != TorqueModePerSecond {
		return t.torque
	}
	return 1 - math.Pow(1-t.torque, dt*t.referenceHz)
}

// Snapshot returns a copy of the current state.
func (t *Turntable) Snapshot() TurntableState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TurntableState{
		Tempo:               t.tempo,
		VinylSpeed:          t.vinylSpeed,
		VinylLocked:         t.vinylLocked,
		Speed:               t.speed,
		Torque:              t.torque,
		ImpulsesPerRotation: t.impulsesPerRotation,
		CumulativeImpulse:   t.cumulativeImpulse,
		LastTick:            t.lastTick,
		Playing:             t.playing,
		CuePoint:            t.cuePoint,
	}
}

func lerp(a, b, f float64) float64 {
	return a + (b-a)*f
}
