package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gopxl/beep/v2"
	"gitlab.com/gomidi/midi/v2"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("ScratchDeck v%s\n", version)
	fmt.Println("MIDI turntable emulator: scratch, brake and pitch-bend a track from a DJ controller")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  scratchdeck [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Plays an audio file through a simulated turntable platter. Jog wheel")
	fmt.Println("  touch, rotation, tempo fader, play and cue from a MIDI controller drive")
	fmt.Println("  the platter speed, which sets the playback rate of the track.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional; reloaded on change)")
	fmt.Println()
	fmt.Println("  -audio-file string")
	fmt.Println("        WAV or MP3 file to play")
	fmt.Println()
	fmt.Println("  -no-audio")
	fmt.Println("        Run without audio output (state is still simulated and published)")
	fmt.Println()
	fmt.Println("  -midi-port string")
	fmt.Println("        Case-insensitive substring of the MIDI input port name")
	fmt.Println()
	fmt.Println("  -midi-device string")
	fmt.Println("        Raw MIDI device node to read instead of a port (e.g. /dev/snd/midiC1D0)")
	fmt.Println()
	fmt.Println("  -update-hz int")
	fmt.Printf("        Turntable tick frequency in Hz (default %d)\n", defaultUpdateHz)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocket)
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Printf("        HTTP port for %s and /healthz; 0 disables (default %d)\n", defaultStatePath, defaultHTTPPort)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("KEYS:")
	fmt.Println("  q, Esc   quit")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Play a track with the only connected controller")
	fmt.Println("  scratchdeck -audio-file ~/music/break.wav")
	fmt.Println()
	fmt.Println("  # Pick the controller by name")
	fmt.Println("  scratchdeck -audio-file break.mp3 -midi-port ddj")
	fmt.Println()
	fmt.Println("  # Drive the deck from scripts only")
	fmt.Println("  scratchdeck -no-audio -midi-device /dev/snd/midiC1D0")
	fmt.Println("  scratchctl cue")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		midiPort    = flag.String("midi-port", "", "Case-insensitive substring of the MIDI input port name")
		midiDevice  = flag.String("midi-device", "", "Raw MIDI device node (e.g. /dev/snd/midiC1D0)")
		audioFile   = flag.String("audio-file", "", "WAV or MP3 file to play")
		noAudio     = flag.Bool("no-audio", false, "Run without audio output")
		updateHz    = flag.Int("update-hz", defaultUpdateHz, "Turntable tick frequency in Hz")
		ipcSocket   = flag.String("ipc-socket", defaultIPCSocket, "Unix domain socket path for IPC")
		httpPort    = flag.Int("http-port", defaultHTTPPort, "HTTP port for the state websocket; 0 disables")
		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Config: defaults, then file, then explicitly set flags.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "midi-port":
			o.MIDIPort = midiPort
		case "midi-device":
			o.MIDIDevice = midiDevice
		case "audio-file":
			o.AudioFile = audioFile
		case "no-audio":
			o.NoAudio = noAudio
		case "update-hz":
			o.UpdateHz = updateHz
		case "ipc-socket":
			o.IPCSocketPath = ipcSocket
		case "http-port":
			o.HTTPPort = httpPort
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if cfg.Audio.Enabled && cfg.Audio.File == "" {
			fmt.Fprintln(os.Stderr, "hint: pass -audio-file FILE, or -no-audio to run without sound")
		}
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger, levelVar := setupLogger(logLevel)

	logger.Debug("starting scratchdeck", "version", version)

	// Audio sink
	var (
		sink AudioSink = &nullSink{}
		deck *Deck
	)
	if cfg.Audio.Enabled {
		d, err := OpenDeck(ExpandPath(cfg.Audio.File), beep.SampleRate(cfg.Audio.SampleRate),
			time.Duration(cfg.Audio.BufferMS)*time.Millisecond)
		if err != nil {
			logger.Error("failed to open audio output", "file", cfg.Audio.File, "error", err)
			os.Exit(1)
		}
		deck, sink = d, d
		logger.Info("track loaded", "file", cfg.Audio.File, "duration", d.Duration().Round(time.Millisecond))
	} else {
		logger.Info("audio output disabled")
	}

	tt := NewTurntable(cfg.ToTurntableConfig(), sink)
	dispatcher := NewDispatcher(tt, cfg.Mapping, logger)

	handleMIDI := func(msg midi.Message) { dispatcher.Handle(msg) }
	dropMalformed := func(err error) { logger.Debug("dropping MIDI bytes", "error", err) }

	// Shutdown on SIGINT/SIGTERM or on a quit key.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, quit := context.WithCancel(sigCtx)
	defer quit()

	g, gctx := errgroup.WithContext(ctx)

	// MIDI input. Port selection may prompt on stdin, so it happens before the
	// keyboard watcher takes the terminal.
	var (
		portIn   *midiInput
		rawFiles []*os.File
	)
	closeInputs := func() {
		if portIn != nil {
			portIn.Close()
		}
		for _, f := range rawFiles {
			_ = f.Close()
		}
	}

	if len(cfg.MIDI.Devices) > 0 {
		for _, path := range cfg.MIDI.Devices {
			f, err := os.Open(path)
			if err != nil {
				logger.Error("failed to open MIDI device", "device", path, "error", err, "tip", "run as root or add user to 'audio' group")
				closeInputs()
				os.Exit(1)
			}
			rawFiles = append(rawFiles, f)
		}
		g.Go(func() error {
			return readRawMIDI(gctx, rawFiles, handleMIDI, dropMalformed)
		})
	} else {
		var prompt portPrompter
		if isTerminal(os.Stdin) {
			prompt = newStdioPrompter(os.Stdin, os.Stdout)
		}
		in, err := openMIDIInput(cfg.MIDI.Port, prompt, handleMIDI, logger)
		if err != nil {
			logger.Error("failed to open MIDI input", "pattern", cfg.MIDI.Port, "error", err)
			if deck != nil {
				deck.Close()
			}
			os.Exit(1)
		}
		portIn = in
	}

	// Daemon loop, IPC and state streaming
	events := make(chan Event, 64)

	var broadcasts chan TurntableState
	if cfg.HTTP.Port > 0 {
		broadcasts = make(chan TurntableState, 16)
	}

	g.Go(func() error {
		return runDaemon(gctx, events, tt, cfg.Turntable.UpdateHz, broadcasts, logger)
	})
	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})

	if cfg.HTTP.Port > 0 {
		stateServer := NewServer(logger, events, ServerConfig{})
		g.Go(func() error {
			stateServer.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, stateServer.Hub(), broadcasts, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Port, newHTTPMux(stateServer, cfg.HTTP.StatePath), logger)
		})
	}

	if *configPath != "" {
		g.Go(func() error {
			return watchConfig(gctx, *configPath, o, func(next Config) {
				dispatcher.SetMapping(next.Mapping)
				if lvl, err := parseLogLevel(next.Logging.Level); err == nil {
					levelVar.Set(lvl.slogLevel())
				}
			}, logger)
		})
	}

	g.Go(func() error {
		return watchKeyboard(gctx, os.Stdin, quit, logger)
	})

	listenInfo := []any{"ipc", cfg.IPC.SocketPath, "update_rate_hz", cfg.Turntable.UpdateHz, "torque_mode", cfg.Turntable.TorqueMode}
	if portIn != nil {
		listenInfo = append(listenInfo, "midi_port", portIn.name)
	} else {
		listenInfo = append(listenInfo, "midi_devices", cfg.MIDI.Devices)
	}
	if cfg.HTTP.Port > 0 {
		listenInfo = append(listenInfo, "http_port", cfg.HTTP.Port)
	}
	logger.Info("listening", listenInfo...)

	err := g.Wait()

	logger.Info("shutting down")
	closeInputs()
	if deck != nil {
		deck.Close()
	}

	if err != nil {
		logger.Error("stopped with error", "error", err)
		os.Exit(1)
	}
	logFinalState(logger, tt.Snapshot())
}

func logFinalState(logger *slog.Logger, st TurntableState) {
	logger.Debug("final turntable state",
		"tempo", st.Tempo,
		"speed", st.Speed,
		"playing", st.Playing,
		"cue_point", st.CuePoint)
}
