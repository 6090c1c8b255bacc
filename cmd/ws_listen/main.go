package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// Watches the scratchdeck state websocket and prints turntable changes.

// stateFrame is the subset of the daemon's state frame this tool prints.
type stateFrame struct {
	Type string `json:"type"`
	Data struct {
		Tempo       float64 `json:"tempo"`
		Speed       float64 `json:"speed"`
		VinylLocked bool    `json:"vinyl_locked"`
		Playing     bool    `json:"playing"`
		CuePoint    float64 `json:"cue_point"`
	} `json:"data"`
}

// tracker remembers the last printed values for change detection.
type tracker struct {
	mu sync.Mutex

	seen     bool
	speed    float64
	tempo    float64
	locked   bool
	playing  bool
	cuePoint float64

	threshold float64
}

func main() {
	var (
		wsURL     = flag.String("ws", "ws://127.0.0.1:3011/ws/state", "scratchdeck state websocket URL")
		threshold = flag.Float64("threshold", 0.01, "Minimum speed/tempo change to print")
		raw       = flag.Bool("raw", false, "Print every frame as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	// The daemon pings every 20s; answering also extends our deadline.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	tr := &tracker{threshold: *threshold}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}

			switch messageType {
			case websocket.TextMessage:
				if *raw {
					fmt.Printf("%s\n", string(message))
					continue
				}
				for _, line := range tr.handle(message) {
					fmt.Println(line)
				}
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handle decodes one frame and returns the lines describing what changed.
func (t *tracker) handle(message []byte) []string {
	var f stateFrame
	if err := json.Unmarshal(message, &f); err != nil || f.Type == "" {
		return []string{fmt.Sprintf("[TEXT] %s", string(message))}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := f.Data
	var out []string

	if !t.seen || math.Abs(st.Speed-t.speed) >= t.threshold {
		out = append(out, fmt.Sprintf("[SPEED] %.3f", st.Speed))
		t.speed = st.Speed
	}
	if !t.seen || math.Abs(st.Tempo-t.tempo) >= t.threshold {
		out = append(out, fmt.Sprintf("[TEMPO] %.3f", st.Tempo))
		t.tempo = st.Tempo
	}
	if !t.seen || st.VinylLocked != t.locked {
		status := "RELEASED"
		if st.VinylLocked {
			status = "CAUGHT"
		}
		out = append(out, fmt.Sprintf("[VINYL] %s", status))
		t.locked = st.VinylLocked
	}
	if !t.seen || st.Playing != t.playing {
		status := "STOPPED"
		if st.Playing {
			status = "PLAYING"
		}
		out = append(out, fmt.Sprintf("[MOTOR] %s", status))
		t.playing = st.Playing
	}
	if !t.seen || st.CuePoint != t.cuePoint {
		out = append(out, fmt.Sprintf("[CUE] %.3fs", st.CuePoint))
		t.cuePoint = st.CuePoint
	}

	t.seen = true
	return out
}
