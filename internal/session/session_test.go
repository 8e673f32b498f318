package session

import (
	"testing"
	"time"

	"github.com/eutampieri/ldap-merge-proxy/internal/backend"
	"github.com/eutampieri/ldap-merge-proxy/internal/directory"
)

func TestSessionStateMachine(t *testing.T) {
	s := New(time.Second, func(directory.ServerEntry) backend.Connector { return backend.NewFakeAccepting() })

	if s.State() != Open {
		t.Fatalf("expected Open, got %v", s.State())
	}
	if s.BoundAs() != "" {
		t.Fatal("expected no bound identity")
	}

	backends := []directory.ServerEntry{{Host: "127.0.0.1", Port: 3890}}
	s.MarkBound("cn=client,dc=example,dc=org", backends)

	if s.State() != Bound {
		t.Fatalf("expected Bound, got %v", s.State())
	}
	if s.BoundAs() != "cn=client,dc=example,dc=org" {
		t.Fatalf("unexpected bound DN: %s", s.BoundAs())
	}

	s.ResetBind()
	if s.State() != Open || s.BoundAs() != "" {
		t.Fatal("ResetBind should clear identity and return to Open")
	}
}

func TestSessionConnectorMemoization(t *testing.T) {
	calls := 0
	s := New(time.Second, func(directory.ServerEntry) backend.Connector {
		calls++
		return backend.NewFakeAccepting()
	})

	server := directory.ServerEntry{Host: "127.0.0.1", Port: 3890}

	c1 := s.Connector(server)
	c2 := s.Connector(server)

	if c1 != c2 {
		t.Fatal("expected the same connector instance to be memoized")
	}
	if calls != 1 {
		t.Fatalf("expected factory called once, got %d", calls)
	}
}

func TestSessionCloseClosesConnectors(t *testing.T) {
	fake := backend.NewFakeAccepting()
	s := New(time.Second, func(directory.ServerEntry) backend.Connector { return fake })

	s.Connector(directory.ServerEntry{Host: "127.0.0.1", Port: 3890})
	s.Close()

	if !fake.Closed() {
		t.Fatal("expected connector to be closed")
	}
	if s.State() != Closed {
		t.Fatalf("expected Closed, got %v", s.State())
	}
}
