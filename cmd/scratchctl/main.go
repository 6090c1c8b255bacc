package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// ============================================================================
// scratchctl - Command-line IPC Client
// ============================================================================
// Sends deck control events to the scratchdeck daemon via IPC.
//
// Usage:
//   scratchctl catch
//   scratchctl nudge 25
//   scratchctl release
//   scratchctl tempo 1.04
//   scratchctl cue
//   scratchctl state
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/scratchdeck.sock)
// ============================================================================

const (
	defaultSocketPath = "/tmp/scratchdeck.sock"
	responseTimeout   = 5 * time.Second
)

// Event types (duplicated from the daemon for a standalone binary)
type Event interface{}

type VinylCatch struct{}

type VinylRelease struct{}

type VinylImpulse struct {
	Steps int `json:"steps"`
}

type PlayToggle struct{}

type TempoSet struct {
	Tempo float64 `json:"tempo"`
}

type CuePressed struct{}

type RequestState struct{}

// EventEnvelope wraps events for JSON
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response. State is kept raw so the
// client does not need to track every field the daemon reports.
type IPCResponse struct {
	Status   string          `json:"status"`
	Error    string          `json:"error,omitempty"`
	CuePoint *float64        `json:"cue_point,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
}

func main() {
	socketPath := defaultSocketPath

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		os.Exit(0)
	}

	ev, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	resp, err := sendEvent(socketPath, ev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	switch {
	case resp.CuePoint != nil:
		fmt.Printf("cue point: %.3f\n", *resp.CuePoint)
	case len(resp.State) > 0:
		fmt.Println(string(resp.State))
	default:
		fmt.Println("ok")
	}
}

// parseCommand maps command-line arguments to an event.
func parseCommand(args []string) (Event, error) {
	switch args[0] {
	case "catch", "touch":
		return VinylCatch{}, nil

	case "release":
		return VinylRelease{}, nil

	case "nudge", "impulse":
		if len(args) < 2 {
			return nil, fmt.Errorf("%s requires a step count", args[0])
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid step count: %v", err)
		}
		return VinylImpulse{Steps: steps}, nil

	case "play", "toggle-play":
		return PlayToggle{}, nil

	case "tempo", "set-tempo":
		if len(args) < 2 {
			return nil, fmt.Errorf("%s requires a value", args[0])
		}
		tempo, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tempo: %v", err)
		}
		return TempoSet{Tempo: tempo}, nil

	case "cue":
		return CuePressed{}, nil

	case "state", "status":
		return RequestState{}, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

func sendEvent(socketPath string, ev Event) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(responseTimeout))

	data, err := marshalEvent(ev)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal event: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send event: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func marshalEvent(ev Event) ([]byte, error) {
	var env EventEnvelope

	switch e := ev.(type) {
	case VinylCatch:
		env.Type = "catch_vinyl"

	case VinylRelease:
		env.Type = "release_vinyl"

	case VinylImpulse:
		env.Type = "impulse"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal VinylImpulse: %w", err)
		}
		env.Data = data

	case PlayToggle:
		env.Type = "toggle_play"

	case TempoSet:
		env.Type = "set_tempo"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal TempoSet: %w", err)
		}
		env.Data = data

	case CuePressed:
		env.Type = "cue"

	case RequestState:
		env.Type = "get_state"

	default:
		return nil, fmt.Errorf("unknown event type: %T", ev)
	}

	return json.Marshal(env)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `scratchctl - Control the scratchdeck daemon via IPC

Usage:
  scratchctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  catch, touch            Put a hand on the platter
  release                 Let go of the platter
  nudge, impulse <n>      Turn the platter by n jog impulses, -127..127 (negative = backwards)
  play, toggle-play       Toggle the motor
  tempo, set-tempo <x>    Set the motor speed (1.0 = nominal)
  cue                     Press cue; prints the cue point in seconds
  state, status           Print the current turntable state as JSON
  help, -h, --help        Show this help message

Examples:
  scratchctl tempo 1.04
  scratchctl catch && scratchctl nudge -100 && scratchctl release
  scratchctl -socket /run/scratchdeck.sock state
`, defaultSocketPath)
}
