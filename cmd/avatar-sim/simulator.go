package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SimulatorConfig holds the simulator configuration
type SimulatorConfig struct {
	ListenAddr string
	Path       string
	SpeakRate  float64 // characters per second
	StartReady bool
}

// Simulator plays the avatar subsystem end of the orchestrator's websocket
// protocol: it receives speak and interrupt commands and emits ready,
// not_ready, speech_done and interrupted events.
type Simulator struct {
	config *SimulatorConfig
	log    *zap.Logger

	server *http.Server

	mu        sync.Mutex
	conn      *websocket.Conn
	speaking  bool
	speakStop chan struct{}
	session   string
	ready     bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

type command struct {
	Type     string `json:"type"`
	Session  string `json:"session"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

// NewSimulator creates a new avatar subsystem simulator
func NewSimulator(config *SimulatorConfig, log *zap.Logger) *Simulator {
	return &Simulator{
		config:   config,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start serves the websocket endpoint in the background
func (s *Simulator) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleConnection)

	s.server = &http.Server{Addr: s.config.ListenAddr, Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Simulator server failed", zap.Error(err))
		}
	}()

	s.log.Info("Avatar simulator listening",
		zap.String("addr", s.config.ListenAddr),
		zap.String("path", s.config.Path),
	)
	return nil
}

// Stop stops the simulator
func (s *Simulator) Stop() {
	close(s.stopChan)
	if s.server != nil {
		s.server.Close()
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Simulator) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		// Single orchestrator at a time; drop the stale connection.
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	s.log.Info("Orchestrator connected", zap.String("remote", r.RemoteAddr))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Info("Orchestrator disconnected", zap.Error(err))
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.ready = false
			}
			s.mu.Unlock()
			return
		}
		s.handleMessage(data)
	}
}

func (s *Simulator) handleMessage(data []byte) {
	// Setup frames arrive as {"setup": {...}}; commands as {"type": ...}.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		s.log.Error("Invalid message", zap.Error(err))
		return
	}

	if _, ok := probe["setup"]; ok {
		s.log.Info("Setup received")
		if s.config.StartReady {
			s.SetReady(true)
		}
		return
	}

	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.log.Error("Invalid command", zap.Error(err))
		return
	}

	switch cmd.Type {
	case "speak":
		s.handleSpeak(cmd)
	case "interrupt":
		s.handleInterrupt(cmd)
	default:
		s.log.Warn("Unknown command", zap.String("type", cmd.Type))
	}
}

func (s *Simulator) handleSpeak(cmd command) {
	s.mu.Lock()
	if s.speaking && s.speakStop != nil {
		close(s.speakStop)
	}
	stop := make(chan struct{})
	s.speakStop = stop
	s.speaking = true
	s.session = cmd.Session
	s.mu.Unlock()

	duration := time.Duration(float64(len(cmd.Text))/s.config.SpeakRate*1000) * time.Millisecond
	if duration < 200*time.Millisecond {
		duration = 200 * time.Millisecond
	}

	s.log.Info("Speaking",
		zap.String("session", cmd.Session),
		zap.Int("chars", len(cmd.Text)),
		zap.String("language", cmd.Language),
		zap.Duration("duration", duration),
	)

	go func() {
		select {
		case <-stop:
			return
		case <-s.stopChan:
			return
		case <-time.After(duration):
		}

		s.mu.Lock()
		if s.speakStop == stop {
			s.speaking = false
			s.speakStop = nil
		}
		s.mu.Unlock()

		s.sendEvent("speech_done", cmd.Session)
	}()
}

func (s *Simulator) handleInterrupt(cmd command) {
	s.mu.Lock()
	if s.speaking && s.speakStop != nil {
		close(s.speakStop)
		s.speakStop = nil
	}
	s.speaking = false
	s.mu.Unlock()

	s.log.Info("Interrupted", zap.String("session", cmd.Session))
	s.sendEvent("interrupted", cmd.Session)
}

// SetReady flips the readiness state and reports it to the orchestrator.
// Readiness covers the whole connection, so the event carries no session.
func (s *Simulator) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()

	if ready {
		s.sendEvent("ready", "")
	} else {
		s.sendEvent("not_ready", "")
	}
}

// FinishSpeech completes the current utterance immediately
func (s *Simulator) FinishSpeech() {
	s.mu.Lock()
	wasSpeaking := s.speaking
	session := s.session
	if s.speakStop != nil {
		close(s.speakStop)
		s.speakStop = nil
	}
	s.speaking = false
	s.mu.Unlock()

	if wasSpeaking {
		s.sendEvent("speech_done", session)
	}
}

func (s *Simulator) sendEvent(eventType, session string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	evt := map[string]string{"type": eventType}
	if session != "" {
		evt["session"] = session
	}
	data, _ := json.Marshal(evt)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Error("Failed to send event", zap.String("type", eventType), zap.Error(err))
	}
}

// RunInteractive runs the simulator in interactive mode
func (s *Simulator) RunInteractive() {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		parts := strings.Fields(line)

		if len(parts) == 0 {
			fmt.Print("> ")
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "ready":
			s.SetReady(true)
			fmt.Println("Reported ready")

		case "notready":
			s.SetReady(false)
			fmt.Println("Reported not ready")

		case "done":
			s.FinishSpeech()
			fmt.Println("Completed current utterance")

		case "rate":
			if len(args) < 1 {
				fmt.Println("Usage: rate <chars-per-sec>")
			} else {
				rate, err := strconv.ParseFloat(args[0], 64)
				if err != nil || rate <= 0 {
					fmt.Println("Invalid rate")
				} else {
					s.config.SpeakRate = rate
					fmt.Printf("Speech rate set to %.1f chars/s\n", rate)
				}
			}

		case "status":
			s.mu.Lock()
			connected := s.conn != nil
			speaking := s.speaking
			ready := s.ready
			s.mu.Unlock()
			fmt.Printf("Connected: %v, ready: %v, speaking: %v\n", connected, ready, speaking)

		case "quit", "exit":
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}

		fmt.Print("> ")
	}
}
