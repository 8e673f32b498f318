package proxy

import (
	"fmt"
	"net"
	"testing"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eutampieri/ldap-merge-proxy/internal/backend"
	"github.com/eutampieri/ldap-merge-proxy/internal/config"
	"github.com/eutampieri/ldap-merge-proxy/internal/directory"
	"github.com/eutampieri/ldap-merge-proxy/internal/session"
)

func startTestProxy(t *testing.T, dir directory.Directory, fakes map[string]*backend.Fake) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	cfg := &config.Config{
		PerOpDeadline: time.Second,
	}
	connectors := session.ConnectorFactory(func(s directory.ServerEntry) backend.Connector {
		return fakes[s.Host]
	})

	p := New(cfg, dir, connectors, zap.NewNop())
	t.Cleanup(p.Stop)

	go p.Listen(listener)
	// Give the accept loop a moment to start; Listen itself blocks.
	time.Sleep(20 * time.Millisecond)

	return listener.Addr().String()
}

func dialProxy(t *testing.T, addr string) *goldap.Conn {
	t.Helper()
	conn, err := goldap.DialURL(fmt.Sprintf("ldap://%s", addr))
	require.NoError(t, err, "dial proxy")
	t.Cleanup(func() { conn.Close() })
	return conn
}

// S1: registered bind succeeds against every backend.
func TestEndToEndBindSucceeds(t *testing.T) {
	dir := directory.NewMemory([]byte("test-key"))
	dir.Register("cn=client,dc=example,dc=org", "clientpassword", []directory.ServerEntry{
		{Host: "backend-a", Port: 3890},
		{Host: "backend-b", Port: 3891},
	})
	fakes := map[string]*backend.Fake{
		"backend-a": backend.NewFakeAccepting(),
		"backend-b": backend.NewFakeAccepting(),
	}

	addr := startTestProxy(t, dir, fakes)
	conn := dialProxy(t, addr)

	require.NoError(t, conn.Bind("cn=client,dc=example,dc=org", "clientpassword"))
}

// S2: wrong credentials are rejected with invalidCredentials. The DN is not
// registered, so the credential gate refuses before any backend is
// contacted; this test checks the result code only, not the fakes.
func TestEndToEndWrongCredentialsRejected(t *testing.T) {
	dir := directory.NewMemory([]byte("test-key"))
	dir.Register("cn=client,dc=example,dc=org", "clientpassword", []directory.ServerEntry{
		{Host: "backend-a", Port: 3890},
		{Host: "backend-b", Port: 3891},
	})
	fakes := map[string]*backend.Fake{
		"backend-a": backend.NewFakeAccepting(),
		"backend-b": backend.NewFakeAccepting(),
	}

	addr := startTestProxy(t, dir, fakes)
	conn := dialProxy(t, addr)

	err := conn.Bind("cn=worng,dc=example,dc=org", "wrongpassword")
	require.True(t, goldap.IsErrorWithCode(err, goldap.LDAPResultInvalidCredentials), "expected invalidCredentials, got %v", err)
}

// S3: one backend never answers; the merged bind fails with unavailable.
func TestEndToEndOneBackendUnresponsiveFailsBind(t *testing.T) {
	dir := directory.NewMemory([]byte("test-key"))
	dir.Register("cn=client,dc=example,dc=org", "clientpassword", []directory.ServerEntry{
		{Host: "backend-a", Port: 3890},
		{Host: "backend-b", Port: 3891},
	})
	fakes := map[string]*backend.Fake{
		"backend-a": backend.NewFakeAccepting(),
		"backend-b": backend.NewFakeUnresponsive(),
	}

	addr := startTestProxy(t, dir, fakes)
	conn := dialProxy(t, addr)

	start := time.Now()
	err := conn.Bind("cn=client,dc=example,dc=org", "clientpassword")
	elapsed := time.Since(start)

	require.True(t, goldap.IsErrorWithCode(err, goldap.LDAPResultUnavailable), "expected unavailable, got %v", err)
	require.LessOrEqual(t, elapsed, 5*time.Second, "expected failure within the 5s test bound")
}

// S4: search merges entries from both backends.
func TestEndToEndSearchMergesBackends(t *testing.T) {
	dir := directory.NewMemory([]byte("test-key"))
	dir.Register("cn=client,dc=example,dc=org", "clientpassword", []directory.ServerEntry{
		{Host: "backend-a", Port: 3890},
		{Host: "backend-b", Port: 3891},
	})
	bobEntry := backend.Entry{
		DN: "cn=Bob,dc=example,dc=org",
		Attributes: map[string][]string{
			"cn":   {"Bob"},
			"sn":   {"Bobby"},
			"mail": {"bob@example.com"},
		},
	}
	fakes := map[string]*backend.Fake{
		"backend-a": backend.NewFakeAccepting(bobEntry),
		"backend-b": backend.NewFakeAccepting(bobEntry),
	}

	addr := startTestProxy(t, dir, fakes)
	conn := dialProxy(t, addr)

	require.NoError(t, conn.Bind("cn=client,dc=example,dc=org", "clientpassword"))

	req := goldap.NewSearchRequest(
		"dc=example,dc=org", goldap.ScopeWholeSubtree, goldap.NeverDerefAliases,
		0, 0, false, "(objectClass=*)", []string{"cn", "sn", "mail"}, nil,
	)
	res, err := conn.Search(req)
	require.NoError(t, err)
	require.Len(t, res.Entries, 2, "expected 2 merged entries")
	for _, e := range res.Entries {
		require.Equal(t, "Bob", e.GetAttributeValue("cn"))
	}
}

// S6: mutations are refused without reaching a backend.
func TestEndToEndDeleteRefused(t *testing.T) {
	dir := directory.NewMemory([]byte("test-key"))
	dir.Register("cn=client,dc=example,dc=org", "clientpassword", []directory.ServerEntry{
		{Host: "backend-a", Port: 3890},
	})
	fakes := map[string]*backend.Fake{"backend-a": backend.NewFakeAccepting()}

	addr := startTestProxy(t, dir, fakes)
	conn := dialProxy(t, addr)

	require.NoError(t, conn.Bind("cn=client,dc=example,dc=org", "clientpassword"))

	err := conn.Del(goldap.NewDelRequest("cn=client,dc=example,dc=org", nil))
	require.True(t, goldap.IsErrorWithCode(err, goldap.LDAPResultUnwillingToPerform), "expected unwillingToPerform, got %v", err)
}
