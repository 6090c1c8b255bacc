package main

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
)

// midiFramer splits a raw MIDI byte stream (as read from /dev/snd/midiC*D*)
// into complete messages. It understands running status, passes realtime
// bytes through as single-byte messages and skips SysEx payloads.
//
// One framer per device; it is not safe for concurrent use.
type midiFramer struct {
	status  byte // running status, 0 if none
	need    int  // data bytes required by status
	buf     []byte
	inSysEx bool
}

// Feed consumes data, calling emit for every complete message and malformed
// for every byte that cannot be placed in one.
func (f *midiFramer) Feed(data []byte, emit func(midi.Message), malformed func(error)) {
	for _, b := range data {
		switch {
		case b >= 0xF8:
			// Realtime bytes may appear anywhere, even inside other messages.
			emit(midi.Message{b})

		case b == 0xF0:
			f.dropPartial(malformed)
			f.inSysEx = true
			f.status = 0

		case b == 0xF7:
			f.inSysEx = false

		case b >= 0x80:
			f.inSysEx = false
			f.dropPartial(malformed)
			f.startStatus(b, emit, malformed)

		case f.inSysEx:
			// SysEx payload, ignored

		case f.status == 0:
			malformed(fmt.Errorf("%w: data byte 0x%02X without status", ErrMalformedMessage, b))

		default:
			if len(f.buf) == 0 {
				f.buf = append(f.buf, f.status)
			}
			f.buf = append(f.buf, b)
			if len(f.buf) == f.need+1 {
				emit(midi.Message(append([]byte(nil), f.buf...)))
				f.buf = f.buf[:0]
				if f.status >= 0xF0 {
					// System common messages do not establish running status.
					f.status = 0
				}
			}
		}
	}
}

func (f *midiFramer) startStatus(b byte, emit func(midi.Message), malformed func(error)) {
	f.buf = f.buf[:0]

	if b < 0xF0 {
		f.status = b
		f.need = channelDataLen(b)
		return
	}

	switch b {
	case 0xF1, 0xF3: // MTC quarter frame, song select
		f.status, f.need = b, 1
	case 0xF2: // song position
		f.status, f.need = b, 2
	case 0xF6: // tune request
		f.status = 0
		emit(midi.Message{b})
	default:
		f.status = 0
		malformed(fmt.Errorf("%w: undefined status 0x%02X", ErrMalformedMessage, b))
	}
}

// dropPartial reports an incomplete message interrupted by a new status byte.
func (f *midiFramer) dropPartial(malformed func(error)) {
	if len(f.buf) > 0 {
		malformed(fmt.Errorf("%w: incomplete message % X", ErrMalformedMessage, f.buf))
		f.buf = f.buf[:0]
	}
}

// channelDataLen returns the number of data bytes for a channel voice status.
func channelDataLen(status byte) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0: // program change, channel pressure
		return 1
	default:
		return 2
	}
}
