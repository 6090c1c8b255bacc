package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the scratchdeck daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config.
type Config struct {
	// MIDI input configuration
	MIDI MIDIConfig `yaml:"midi"`

	// Controller note/CC mapping
	Mapping Mapping `yaml:"mapping"`

	// Turntable physics
	Turntable TurntableFileConfig `yaml:"turntable"`

	// Audio output
	Audio AudioConfig `yaml:"audio"`

	// IPC configuration (used by scratchctl)
	IPC IPCConfig `yaml:"ipc"`

	// State websocket and health endpoint
	HTTP HTTPConfig `yaml:"http"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type MIDIConfig struct {
	// Port is a case-insensitive substring of the rtmidi input port name.
	// Empty means "pick the only port, or ask".
	Port string `yaml:"port"`

	// Devices lists raw MIDI device nodes (e.g. /dev/snd/midiC1D0). When set,
	// they are read directly and Port is ignored.
	Devices []string `yaml:"devices,omitempty"`
}

// TurntableFileConfig is the user-facing turntable configuration as
// represented in YAML. It maps to TurntableConfig via ToTurntableConfig.
type TurntableFileConfig struct {
	Tempo               float64 `yaml:"tempo"`
	Torque              float64 `yaml:"torque"`
	ImpulsesPerRotation int     `yaml:"impulses_per_rotation"`
	UpdateHz            int     `yaml:"update_hz"`

	// "per_tick" or "per_second"
	TorqueMode  string  `yaml:"torque_mode"`
	ReferenceHz float64 `yaml:"reference_hz,omitempty"`

	MinDtMS float64 `yaml:"min_dt_ms"`
}

type AudioConfig struct {
	Enabled    bool   `yaml:"enabled"`
	File       string `yaml:"file"`
	SampleRate int    `yaml:"sample_rate"`
	BufferMS   int    `yaml:"buffer_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Port      int    `yaml:"port"`
	StatePath string `yaml:"state_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		MIDI:    MIDIConfig{},
		Mapping: DefaultMapping(),
		Turntable: TurntableFileConfig{
			Tempo:               defaultTempo,
			Torque:              defaultTorque,
			ImpulsesPerRotation: defaultImpulsesPerRotation,
			UpdateHz:            defaultUpdateHz,
			TorqueMode:          string(TorqueModePerTick),
			ReferenceHz:         defaultReferenceHz,
			MinDtMS:             defaultMinDtMS,
		},
		Audio: AudioConfig{
			Enabled:    true,
			SampleRate: defaultSampleRate,
			BufferMS:   defaultBufferMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		HTTP: HTTPConfig{
			Port:      defaultHTTPPort,
			StatePath: defaultStatePath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	// An empty file (or one with only comments) leaves the defaults.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies flag values on top of a loaded config. Each pointer
// is applied only when non-nil, even if it points to a zero value; main.go
// decides which flags were actually set.
type FlagOverrides struct {
	MIDIPort   *string
	MIDIDevice *string

	AudioFile *string
	NoAudio   *bool

	UpdateHz *int

	IPCSocketPath *string
	HTTPPort      *int

	LogLevel *string
}

// Apply merges the overrides into cfg. Nil pointers are ignored.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.MIDIPort != nil {
		cfg.MIDI.Port = *o.MIDIPort
	}
	if o.MIDIDevice != nil {
		cfg.MIDI.Devices = []string{*o.MIDIDevice}
	}

	if o.AudioFile != nil {
		cfg.Audio.File = *o.AudioFile
		cfg.Audio.Enabled = true
	}
	if o.NoAudio != nil && *o.NoAudio {
		cfg.Audio.Enabled = false
	}

	if o.UpdateHz != nil {
		cfg.Turntable.UpdateHz = *o.UpdateHz
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	// MIDI
	for i, dev := range c.MIDI.Devices {
		if dev == "" {
			return fmt.Errorf("midi.devices[%d] is empty", i)
		}
	}

	// Mapping
	if err := c.Mapping.Validate(); err != nil {
		return err
	}

	// Turntable
	t := c.Turntable
	if t.Tempo <= 0 {
		return errors.New("turntable.tempo must be > 0")
	}
	if t.Torque <= 0 || t.Torque > 1 {
		return errors.New("turntable.torque must be in (0, 1]")
	}
	if t.ImpulsesPerRotation <= 0 {
		return errors.New("turntable.impulses_per_rotation must be > 0")
	}
	if t.UpdateHz <= 0 || t.UpdateHz > 1000 {
		return errors.New("turntable.update_hz must be between 1 and 1000")
	}
	switch TorqueMode(t.TorqueMode) {
	case TorqueModePerTick:
	case TorqueModePerSecond:
		if t.ReferenceHz <= 0 {
			return errors.New("turntable.reference_hz must be > 0 in per_second mode")
		}
	default:
		return fmt.Errorf("turntable.torque_mode must be %q or %q", TorqueModePerTick, TorqueModePerSecond)
	}
	if t.MinDtMS <= 0 {
		return errors.New("turntable.min_dt_ms must be > 0")
	}

	// Audio
	if c.Audio.Enabled {
		if c.Audio.File == "" {
			return errors.New("audio.enabled is true but audio.file is empty")
		}
		if c.Audio.SampleRate <= 0 {
			return errors.New("audio.sample_rate must be > 0")
		}
		if c.Audio.BufferMS <= 0 {
			return errors.New("audio.buffer_ms must be > 0")
		}
	}

	// IPC / HTTP
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535 (0 disables)")
	}
	if !strings.HasPrefix(c.HTTP.StatePath, "/") {
		return errors.New("http.state_path must start with /")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToTurntableConfig converts the file config into the engine config.
func (c *Config) ToTurntableConfig() TurntableConfig {
	return TurntableConfig{
		Tempo:               c.Turntable.Tempo,
		Torque:              c.Turntable.Torque,
		ImpulsesPerRotation: c.Turntable.ImpulsesPerRotation,
		TorqueMode:          TorqueMode(c.Turntable.TorqueMode),
		ReferenceHz:         c.Turntable.ReferenceHz,
		MinDt:               time.Duration(c.Turntable.MinDtMS * float64(time.Millisecond)),
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
