//go:build !linux

package main

import (
	"context"
	"errors"
	"os"

	"gitlab.com/gomidi/midi/v2"
)

func readRawMIDI(ctx context.Context, files []*os.File, handle func(midi.Message), malformed func(error)) error {
	return errors.New("raw MIDI devices are only supported on linux")
}
