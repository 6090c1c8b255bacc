package main

// Turntable physics defaults
const (
	defaultTempo               = 1.0
	defaultTorque              = 0.3 // fraction of the remaining distance to target covered per tick
	defaultImpulsesPerRotation = 500 // jog impulses that make one full platter rotation
	defaultUpdateHz            = 20  // driver loop frequency (Hz)
	defaultReferenceHz         = 20  // cadence at which per_second smoothing matches per_tick smoothing
	defaultMinDtMS             = 1.0 // lower clamp for the elapsed time between ticks (ms)
)

// Reference controller layout (Pioneer DDJ-400, deck 1)
const (
	defaultMIDIChannel  = 0
	defaultTouchNote    = 54
	defaultPlayNote     = 11
	defaultCueNote      = 12
	defaultTempoCC      = 0
	defaultTempoFineCC  = 32
	defaultJogCC        = 34
	defaultJogCenter    = 64
	defaultTempoMin     = 0.92
	defaultTempoMax     = 1.08
	defaultTempoFineMax = 0.001
	midiValueMax        = 127
	pressVelocity       = midiValueMax // note-on velocity of a button press or jog touch
)

// Audio defaults
const (
	defaultSampleRate = 44100
	defaultBufferMS   = 20
)

// Daemon wiring defaults
const (
	defaultIPCSocket = "/tmp/scratchdeck.sock"
	defaultHTTPPort  = 3011
	defaultStatePath = "/ws/state"

	// Broadcast threshold for speed/tempo changes
	stateChangeEpsilon = 0.001
)
