package server

import (
	"net"
	"sync"
	"time"
)

// SessionState is the Client Session state machine from spec.md 4.4.
type SessionState int

const (
	StateIdle SessionState = iota
	StateActive
	StateRoutingActivated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateRoutingActivated:
		return "routing_activated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one TCP client connection. It is created on accept, mutated
// only by its own handler goroutine, and destroyed when that goroutine
// exits. The write half of conn is exclusively owned by the handler: all
// writes for one request (ACK, then data response) happen sequentially
// before the next read.
type Session struct {
	conn net.Conn
	peer string

	mu               sync.Mutex
	state            SessionState
	routingSourceAddr uint16
	lastActivity     time.Time
}

func newSession(conn net.Conn) *Session {
	return &Session{
		conn:         conn,
		peer:         conn.RemoteAddr().String(),
		state:        StateActive,
		lastActivity: time.Now(),
	}
}

// Peer returns the remote endpoint string for this session.
func (s *Session) Peer() string { return s.peer }

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// markRoutingActivated transitions Active -> RoutingActivated and records
// the accepted tester source address. Per spec.md, the emulator accepts
// any first routing activation request. A later request on an already
// activated session is accepted too and records its source address in
// place of the earlier one (no NACK path for a second activation is
// modeled — the emulator is single-client-per-connection by construction).
func (s *Session) markRoutingActivated(sourceAddr uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateRoutingActivated
	s.routingSourceAddr = sourceAddr
}

// RoutingActivated reports whether routing activation has completed.
func (s *Session) RoutingActivated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRoutingActivated
}

// touch records handler activity for the monitor dashboard and status
// endpoint. It never feeds any protocol decision: the core has no
// per-request timeouts (spec.md 5).
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the timestamp of the most recent read on this
// session.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// Snapshot is a point-in-time read-only view of a session, used by the
// status endpoint and monitor dashboard.
type Snapshot struct {
	Peer              string
	State             SessionState
	RoutingSourceAddr uint16
	LastActivity      time.Time
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Peer:              s.peer,
		State:             s.state,
		RoutingSourceAddr: s.routingSourceAddr,
		LastActivity:      s.lastActivity,
	}
}
