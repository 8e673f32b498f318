// Package session tracks per-connection state: the Open/Bound/Closed state
// machine, the authenticated DN once bound, and the session-scoped backend
// connectors, which are never shared across connections.
package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eutampieri/ldap-merge-proxy/internal/backend"
	"github.com/eutampieri/ldap-merge-proxy/internal/directory"
)

// State is a session's position in the connection lifecycle.
type State int

const (
	Open State = iota
	Bound
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Bound:
		return "bound"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectorFactory builds a Connector for one backend server. Production
// code passes backend.NewLDAPConnectorFactory(); tests pass a factory returning
// backend.Fake instances.
type ConnectorFactory func(directory.ServerEntry) backend.Connector

// Session is the per-client-connection context.
type Session struct {
	ID uuid.UUID

	PerOpDeadline time.Duration

	newConnector ConnectorFactory

	mu         sync.Mutex
	state      State
	boundAs    string
	backends   []directory.ServerEntry
	connectors map[string]backend.Connector
}

// New creates a fresh, unbound Session.
func New(perOpDeadline time.Duration, factory ConnectorFactory) *Session {
	return &Session{
		ID:            uuid.New(),
		PerOpDeadline: perOpDeadline,
		newConnector:  factory,
		state:         Open,
		connectors:    make(map[string]backend.Connector),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BoundAs returns the authenticated DN, or "" if unbound.
func (s *Session) BoundAs() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAs
}

// MarkBound transitions the session to Bound as dn and records backends
// as the authorized backend set for this identity.
func (s *Session) MarkBound(dn string, backends []directory.ServerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Bound
	s.boundAs = dn
	s.backends = backends
}

// ResetBind discards any prior identity without closing existing
// connectors: a re-bind always starts the credential gate fresh, win or
// lose.
func (s *Session) ResetBind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Open
	s.boundAs = ""
	s.backends = nil
}

// Backends returns the backend set authorized for the current bind.
func (s *Session) Backends() []directory.ServerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backends
}

// Connector returns the memoized Connector for server, creating one on
// first use. Connectors persist for the life of the session, so the proxy
// bind made on a connector during a client Bind is reused by later Search
// calls. The bind itself is not memoized: every client Bind, including a
// re-bind, binds each backend connector again.
func (s *Session) Connector(server directory.ServerEntry) backend.Connector {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := server.Host + ":" + strconv.Itoa(int(server.Port))
	if c, ok := s.connectors[key]; ok {
		return c
	}

	c := s.newConnector(server)
	s.connectors[key] = c
	return c
}

// Close tears the session down: every memoized connector is closed and
// the session transitions to Closed. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return
	}
	for _, c := range s.connectors {
		c.Close()
	}
	s.connectors = map[string]backend.Connector{}
	s.state = Closed
}
