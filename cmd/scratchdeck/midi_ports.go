package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/term/termios"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// portPrompter asks the user to pick one of several port names.
type portPrompter func(names []string) (int, error)

// choosePort selects the input port to open.
//
//   - pattern non-empty: only names containing it (case-insensitive) are candidates
//   - no candidates: ErrNoInputPort
//   - one candidate: it is chosen
//   - several candidates: prompt decides, or ErrAmbiguousInputPort without one
func choosePort(names []string, pattern string, prompt portPrompter) (int, error) {
	var candidates []int
	for i, name := range names {
		if pattern == "" || containsFold(name, pattern) {
			candidates = append(candidates, i)
		}
	}

	switch len(candidates) {
	case 0:
		if pattern != "" {
			return -1, fmt.Errorf("%w matching %q (available: %s)", ErrNoInputPort, pattern, strings.Join(names, ", "))
		}
		return -1, ErrNoInputPort
	case 1:
		return candidates[0], nil
	}

	if prompt == nil {
		matched := make([]string, 0, len(candidates))
		for _, i := range candidates {
			matched = append(matched, names[i])
		}
		return -1, fmt.Errorf("%w: %s", ErrAmbiguousInputPort, strings.Join(matched, ", "))
	}

	subset := make([]string, 0, len(candidates))
	for _, i := range candidates {
		subset = append(subset, names[i])
	}
	choice, err := prompt(subset)
	if err != nil {
		return -1, err
	}
	if choice < 0 || choice >= len(candidates) {
		return -1, fmt.Errorf("%w: invalid selection %d", ErrAmbiguousInputPort, choice)
	}
	return candidates[choice], nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// newStdioPrompter lists the names on out and reads an index from in.
func newStdioPrompter(in io.Reader, out io.Writer) portPrompter {
	return func(names []string) (int, error) {
		fmt.Fprintln(out, "\nAvailable input ports:")
		for i, name := range names {
			fmt.Fprintf(out, "%d: %s\n", i, name)
		}
		fmt.Fprint(out, "Please select input port: ")

		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return -1, fmt.Errorf("read port selection: %w", err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			return -1, fmt.Errorf("%w: %v", ErrAmbiguousInputPort, err)
		}
		return n, nil
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	var attr syscall.Termios
	return termios.Tcgetattr(f.Fd(), &attr) == nil
}

// midiInput is an open MIDI input port with a running listener.
type midiInput struct {
	name string
	drv  drivers.Driver
	in   drivers.In
	stop func()
}

// openMIDIInput opens the input port selected by pattern and feeds every
// message to handle. Listener errors are logged; they never stop the daemon.
func openMIDIInput(pattern string, prompt portPrompter, handle func(midi.Message), logger *slog.Logger) (*midiInput, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("init rtmidi driver: %w", err)
	}

	ins, err := drv.Ins()
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("list MIDI inputs: %w", err)
	}

	names := make([]string, len(ins))
	for i, in := range ins {
		names[i] = in.String()
	}
	logger.Debug("MIDI inputs", "ports", names)

	idx, err := choosePort(names, pattern, prompt)
	if err != nil {
		drv.Close()
		return nil, err
	}
	in := ins[idx]

	if err := in.Open(); err != nil {
		drv.Close()
		return nil, fmt.Errorf("open MIDI port %q: %w", in.String(), err)
	}

	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		handle(msg)
	}, midi.HandleError(func(listenErr error) {
		logger.Warn("MIDI listener error", "port", in.String(), "error", listenErr)
	}))
	if err != nil {
		in.Close()
		drv.Close()
		return nil, fmt.Errorf("listen on MIDI port %q: %w", in.String(), err)
	}

	logger.Info("MIDI input connected", "port", in.String())
	return &midiInput{name: in.String(), drv: drv, in: in, stop: stop}, nil
}

// Close stops the listener and releases the port and driver.
func (m *midiInput) Close() {
	if m.stop != nil {
		m.stop()
	}
	_ = m.in.Close()
	_ = m.drv.Close()
}
