//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"gitlab.com/gomidi/midi/v2"
	"golang.org/x/sys/unix"
)

// readRawMIDI reads MIDI bytes from raw device nodes using epoll and feeds
// framed messages to handle. Each device gets its own framer so running
// status never leaks between controllers.
//
// It returns nil when ctx is canceled and an error when a device fails.
// Malformed bytes are reported through malformed and skipped.
func readRawMIDI(ctx context.Context, files []*os.File, handle func(midi.Message), malformed func(error)) error {
	if len(files) == 0 {
		return errors.New("no raw MIDI devices provided")
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	type device struct {
		f      *os.File
		framer midiFramer
	}
	devices := make(map[int]*device, len(files))

	for _, f := range files {
		fd := int(f.Fd())
		devices[fd] = &device{f: f}

		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err)
		}
	}

	const (
		maxEvents = 16
		waitMS    = 200 // bounded wait so ctx cancellation is noticed
	)
	events := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, 256)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(epfd, events, waitMS)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			dev := devices[int(events[i].Fd)]
			if dev == nil {
				continue
			}

			if events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return fmt.Errorf("device error/hangup: %s", dev.f.Name())
			}

			r, err := dev.f.Read(buf)
			if err != nil {
				return fmt.Errorf("read from %s: %w", dev.f.Name(), err)
			}
			dev.framer.Feed(buf[:r], handle, malformed)
		}
	}
}
