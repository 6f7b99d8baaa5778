package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimberlitedb/kimberlite-sub009/sim"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development
		return true
	},
}

// Client message types
type ClientMessage struct {
	Type       string `json:"type"`
	Scenario   string `json:"scenario,omitempty"`
	Seed       uint64 `json:"seed,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
}

// Server message types
type ServerMessage struct {
	Type      string               `json:"type"`
	Running   *bool                `json:"running,omitempty"`
	Scenarios []string             `json:"scenarios,omitempty"`
	Iteration *sim.IterationReport `json:"iteration,omitempty"`
	Report    *sim.Report          `json:"report,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// safeConn wraps a WebSocket connection with a mutex to prevent concurrent writes
type safeConn struct {
	*websocket.Conn
	writeMu sync.Mutex
}

func (sc *safeConn) WriteJSON(v interface{}) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.Conn.WriteJSON(v)
}

// runState serializes run requests per connection: one batch at a time.
type runState struct {
	mu      sync.Mutex
	running bool
	done    int
	failed  int
}

func (s *runState) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.done = 0
	s.failed = 0
	return true
}

func (s *runState) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *runState) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *runState) record(ir sim.IterationReport) (done, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done++
	if ir.Failed() {
		s.failed++
	}
	return s.done, s.failed
}

// runBatch executes one run and streams per-iteration progress to the
// client.
func runBatch(conn *safeConn, state *runState, msg ClientMessage) {
	defer state.finish()
	defer promMetrics.running.Set(0)
	promMetrics.running.Set(1)

	scenario, err := sim.ScenarioByName(msg.Scenario)
	if err != nil {
		conn.WriteJSON(ServerMessage{Type: "error", Error: err.Error()})
		return
	}
	iterations := msg.Iterations
	if iterations <= 0 {
		iterations = 1
	}

	config := sim.RunnerConfig{
		Scenario:    scenario,
		Seed:        msg.Seed,
		Iterations:  iterations,
		Parallelism: runtime.NumCPU(),
		Watchdog:    5 * time.Minute,
		OnIteration: func(ir sim.IterationReport) {
			done, failed := state.record(ir)
			updateIterationMetrics(ir, done, failed)
			if err := conn.WriteJSON(ServerMessage{Type: "iteration", Iteration: &ir}); err != nil {
				log.Printf("Error sending iteration update: %v", err)
			}
		},
	}
	runner, err := sim.NewRunner(config)
	if err != nil {
		conn.WriteJSON(ServerMessage{Type: "error", Error: err.Error()})
		return
	}

	log.Printf("Starting run: scenario=%s seed=%d iterations=%d", scenario.Name, msg.Seed, iterations)
	report := runner.Run()
	updateRunMetrics(report)

	if err := conn.WriteJSON(ServerMessage{Type: "report", Report: report}); err != nil {
		log.Printf("Error sending final report: %v", err)
	}
	log.Printf("Run finished: exit=%d failed=%d/%d", report.ExitCode, report.FailedIterations, report.Iterations)
}

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading connection: %v", err)
		return
	}
	defer conn.Close()

	// Wrap connection with mutex for safe concurrent writes
	safeConn := &safeConn{Conn: conn}
	state := &runState{}

	log.Println("Client connected")

	running := false
	statusMsg := ServerMessage{
		Type:      "status",
		Running:   &running,
		Scenarios: sim.ScenarioNames(),
	}
	if err := safeConn.WriteJSON(statusMsg); err != nil {
		log.Printf("Error sending status: %v", err)
		return
	}

	// Handle messages from client
	for {
		var msg ClientMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("Error reading message: %v", err)
			}
			break
		}

		log.Printf("Received command: %s", msg.Type)

		switch msg.Type {
		case "start":
			if !state.tryStart() {
				safeConn.WriteJSON(ServerMessage{Type: "error", Error: "a run is already in progress"})
				continue
			}
			go runBatch(safeConn, state, msg)
			running := true
			safeConn.WriteJSON(ServerMessage{Type: "status", Running: &running})

		case "status":
			running := state.isRunning()
			safeConn.WriteJSON(ServerMessage{
				Type:      "status",
				Running:   &running,
				Scenarios: sim.ScenarioNames(),
			})
		}
	}

	log.Println("Client disconnected")
}

func quitHandler(w http.ResponseWriter, r *http.Request) {
	log.Println("Shutdown requested via /quitquitquit")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "Server shutting down...")

	go func() {
		time.Sleep(100 * time.Millisecond)
		log.Println("Server stopped")
		os.Exit(0)
	}()
}

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	initPrometheusMetrics()
	http.HandleFunc("/ws", handleWebSocket)
	http.HandleFunc("/quitquitquit", quitHandler)

	log.Printf("Server starting on http://localhost%s", *addr)
	log.Printf("WebSocket endpoint: ws://localhost%s/ws", *addr)
	log.Printf("Metrics endpoint: http://localhost%s/metrics", *addr)
	log.Fatal(http.ListenAndServe(*addr, nil))
}
