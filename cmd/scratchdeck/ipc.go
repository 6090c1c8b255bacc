package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server lets external clients (scratchctl, scripts) drive the deck
// by sending JSON events to the daemon via a Unix domain socket.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "event_name", "data": {...}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//   - "cue" responses carry "cue_point"; "get_state" responses carry "state"
// ============================================================================

// ipcReplyTimeout bounds how long a connection waits for the daemon loop to
// answer a cue or state request.
const ipcReplyTimeout = 2 * time.Second

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status   string          `json:"status"`          // "ok" or "error"
	Error    string          `json:"error,omitempty"` // error message if status == "error"
	CuePoint *float64        `json:"cue_point,omitempty"`
	State    *TurntableState `json:"state,omitempty"`
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	respond := func(resp IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "status", resp.Status, "error", err)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		ev, err := UnmarshalEvent([]byte(line))
		if err != nil {
			respond(IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)})
			continue
		}

		respond(dispatchIPCEvent(ctx, ev, events))
	}

	logger.Debug("IPC connection closed")
}

// dispatchIPCEvent queues ev for the daemon loop. Cue and state requests wait
// for the daemon's answer.
func dispatchIPCEvent(ctx context.Context, ev Event, events chan<- Event) IPCResponse {
	var (
		cueReply   chan float64
		stateReply chan TurntableState
	)
	switch e := ev.(type) {
	case CuePressed:
		cueReply = make(chan float64, 1)
		e.reply = cueReply
		ev = e
	case RequestStateSnapshot:
		stateReply = make(chan TurntableState, 1)
		e.Reply = stateReply
		ev = e
	}

	select {
	case events <- ev:
	default:
		return IPCResponse{Status: "error", Error: "event queue full"}
	}

	if cueReply == nil && stateReply == nil {
		return IPCResponse{Status: "ok"}
	}

	timer := time.NewTimer(ipcReplyTimeout)
	defer timer.Stop()

	select {
	case pos := <-cueReply:
		return IPCResponse{Status: "ok", CuePoint: &pos}
	case st := <-stateReply:
		return IPCResponse{Status: "ok", State: &st}
	case <-timer.C:
		return IPCResponse{Status: "error", Error: "timed out waiting for daemon"}
	case <-ctx.Done():
		return IPCResponse{Status: "error", Error: "daemon shutting down"}
	}
}
