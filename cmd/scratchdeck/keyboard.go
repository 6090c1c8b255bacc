package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
)

const keyEsc = 0x1b

// watchKeyboard puts the terminal on in into cbreak mode and calls quit when
// q or a lone Esc is pressed. Echo and line buffering are switched off; signal
// keys keep working, so Ctrl-C still arrives as SIGINT.
//
// The saved terminal settings are restored before returning. When in is
// not a terminal, watchKeyboard returns immediately.
func watchKeyboard(ctx context.Context, in *os.File, quit func(), logger *slog.Logger) error {
	if !isTerminal(in) {
		logger.Debug("stdin is not a terminal, keyboard shortcuts disabled")
		return nil
	}

	fd := in.Fd()

	var saved syscall.Termios
	if err := termios.Tcgetattr(fd, &saved); err != nil {
		return fmt.Errorf("read terminal attributes: %w", err)
	}
	cbreak := saved
	termios.Cfmakecbreak(&cbreak)
	if err := termios.Tcsetattr(fd, termios.TCSANOW, &cbreak); err != nil {
		return fmt.Errorf("set cbreak mode: %w", err)
	}
	defer func() {
		if err := termios.Tcsetattr(fd, termios.TCSANOW, &saved); err != nil {
			logger.Warn("failed to restore terminal", "error", err)
		}
	}()

	logger.Info("press q or Esc to quit")

	const waitMS = 200 // bounded wait so ctx cancellation is noticed
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	buf := make([]byte, 16)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.Poll(fds, waitMS)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("poll stdin: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			logger.Debug("stdin closed, keyboard shortcuts disabled")
			return nil
		}

		r, err := in.Read(buf)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		if isQuitKey(buf[:r]) {
			logger.Info("quit requested from keyboard")
			quit()
			return nil
		}
	}
}

// isQuitKey reports whether one read from the terminal is a quit request.
// Escape sequences (arrow keys and the like) also start with Esc, so Esc only
// counts when it arrives alone.
func isQuitKey(b []byte) bool {
	if len(b) == 1 && b[0] == keyEsc {
		return true
	}
	for _, c := range b {
		if c == keyEsc {
			return false
		}
		if c == 'q' || c == 'Q' {
			return true
		}
	}
	return false
}
