package revithost

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// State is the host lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Host is a simulated Revit tool host: it exposes the session-oriented
// RPC endpoint the bridge dials and applies each tool call as an atomic
// mutation against its in-memory document. The real host lives inside
// Revit; this one backs local development and tests.
//
// The server runs on a background goroutine; Start and Stop are
// idempotent and drive an explicit state machine with a cooperative
// stop signal rather than process-exit teardown.
type Host struct {
	mu       sync.Mutex
	state    State
	addr     string
	bound    string
	server   *http.Server
	listener net.Listener
	stopped  chan struct{}

	doc      *Document
	sessions map[string]*session
}

type session struct {
	open       bool
	closeCount int
}

// NewHost creates a host that will listen on addr (":0" picks a free
// port). The document starts with the default level and wall type.
func NewHost(addr string) *Host {
	return &Host{
		state:    StateStopped,
		addr:     addr,
		doc:      NewDocument(),
		sessions: make(map[string]*session),
	}
}

// Start transitions stopped → starting → running. Calling Start on a
// host that is already running returns the current state unchanged.
func (h *Host) Start() (State, error) {
	h.mu.Lock()
	if h.state != StateStopped {
		state := h.state
		h.mu.Unlock()
		return state, nil
	}
	h.state = StateStarting
	h.mu.Unlock()

	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		h.mu.Lock()
		h.state = StateStopped
		h.mu.Unlock()
		return StateStopped, fmt.Errorf("failed to bind %s: %w", h.addr, err)
	}

	server := &http.Server{
		Handler:      h.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	stopped := make(chan struct{})

	h.mu.Lock()
	h.listener = listener
	h.server = server
	h.bound = listener.Addr().String()
	h.stopped = stopped
	h.state = StateRunning
	h.mu.Unlock()

	go func() {
		defer close(stopped)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf(`{"level":"error","message":"Tool host serve failed","error":"%v"}`, err)
		}
	}()

	log.Printf(`{"level":"info","message":"Tool host running","addr":"%s"}`, h.bound)
	return StateRunning, nil
}

// Stop transitions running → stopping → stopped, waiting for the serve
// loop to observe the stop signal. Stopping an already-stopped host is
// a no-op.
func (h *Host) Stop() (State, error) {
	h.mu.Lock()
	if h.state != StateRunning {
		state := h.state
		h.mu.Unlock()
		return state, nil
	}
	h.state = StateStopping
	server := h.server
	stopped := h.stopped
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf(`{"level":"warn","message":"Tool host shutdown forced","error":"%v"}`, err)
	}
	<-stopped

	h.mu.Lock()
	h.state = StateStopped
	h.server = nil
	h.listener = nil
	h.mu.Unlock()

	log.Printf(`{"level":"info","message":"Tool host stopped"}`)
	return StateStopped, nil
}

// CurrentState returns the lifecycle state.
func (h *Host) CurrentState() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// URL returns the base URL of the running host.
func (h *Host) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return "http://" + h.bound
}

// Doc exposes the document for assertions in tests.
func (h *Host) Doc() *Document {
	return h.doc
}

// SessionCloses reports how many times session/close was received for
// a session ID.
func (h *Host) SessionCloses(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[sessionID]; ok {
		return s.closeCount
	}
	return 0
}

// TotalSessionCloses sums session/close receipts across every session
// the host has seen.
func (h *Host) TotalSessionCloses() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.sessions {
		n += s.closeCount
	}
	return n
}

// OpenSessions counts sessions that were opened and never closed.
func (h *Host) OpenSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.sessions {
		if s.open {
			n++
		}
	}
	return n
}
