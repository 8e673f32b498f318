package dispatcher

import (
	"net"
	"testing"
	"time"

	ldap "github.com/lor00x/goldap/message"
	"go.uber.org/zap"

	"github.com/eutampieri/ldap-merge-proxy/internal/backend"
	"github.com/eutampieri/ldap-merge-proxy/internal/directory"
	"github.com/eutampieri/ldap-merge-proxy/internal/ldapwire"
	"github.com/eutampieri/ldap-merge-proxy/internal/session"
)

// recordingWriter captures every ProtocolOp written by a handler.
type recordingWriter struct {
	written []ldap.ProtocolOp
}

func (w *recordingWriter) Write(po ldap.ProtocolOp) {
	w.written = append(w.written, po)
}

func newPipeConn(t *testing.T) net.Conn {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() { local.Close(); remote.Close() })
	return local
}

func newMessage(conn net.Conn, po ldap.ProtocolOp) *ldapwire.Message {
	return &ldapwire.Message{
		LDAPMessage: ldap.NewLDAPMessageWithProtocolOp(po),
		Done:        make(chan bool, 1),
		Conn:        conn,
	}
}

func newBindRequest(dn, password string) ldap.BindRequest {
	req := ldap.BindRequest{}
	req.SetName(ldap.LDAPDN(dn))
	req.SetAuthenticationSimple(ldap.AuthenticationSimple(password))
	return req
}

func newTestDispatcher(dir directory.Directory, fakes map[string]*backend.Fake) (*Dispatcher, *session.Registry) {
	registry := session.NewRegistry(200*time.Millisecond, func(s directory.ServerEntry) backend.Connector {
		return fakes[s.Host]
	})
	return New(dir, registry, zap.NewNop()), registry
}

func TestDispatcherBindSuccess(t *testing.T) {
	dir := directory.NewMemory([]byte("test-key"))
	dir.Register("cn=client,dc=example,dc=org", "clientpassword", []directory.ServerEntry{
		{Host: "backend-a", Port: 3890},
		{Host: "backend-b", Port: 3891},
	})
	fakes := map[string]*backend.Fake{
		"backend-a": backend.NewFakeAccepting(),
		"backend-b": backend.NewFakeAccepting(),
	}
	d, registry := newTestDispatcher(dir, fakes)

	conn := newPipeConn(t)
	registry.Open(conn)
	defer registry.Close(conn)

	mux := d.Mux()
	w := &recordingWriter{}
	m := newMessage(conn, newBindRequest("cn=client,dc=example,dc=org", "clientpassword"))

	mux.ServeLDAP(w, m)

	if len(w.written) != 1 {
		t.Fatalf("expected one response, got %d", len(w.written))
	}
	resp, ok := w.written[0].(ldap.BindResponse)
	if !ok {
		t.Fatalf("expected BindResponse, got %T", w.written[0])
	}
	if int(resp.ResultCode()) != ldapwire.LDAPResultSuccess {
		t.Fatalf("expected success, got code %d", resp.ResultCode())
	}
	if registry.Get(conn).State() != session.Bound {
		t.Fatal("expected session to transition to Bound")
	}
}

func TestDispatcherBindWrongPassword(t *testing.T) {
	dir := directory.NewMemory([]byte("test-key"))
	dir.Register("cn=client,dc=example,dc=org", "clientpassword", []directory.ServerEntry{
		{Host: "backend-a", Port: 3890},
	})
	fakes := map[string]*backend.Fake{"backend-a": backend.NewFakeAccepting()}
	d, registry := newTestDispatcher(dir, fakes)

	conn := newPipeConn(t)
	registry.Open(conn)
	defer registry.Close(conn)

	mux := d.Mux()
	w := &recordingWriter{}
	m := newMessage(conn, newBindRequest("cn=client,dc=example,dc=org", "wrongpassword"))

	mux.ServeLDAP(w, m)

	resp := w.written[0].(ldap.BindResponse)
	if int(resp.ResultCode()) != ldapwire.LDAPResultInvalidCredentials {
		t.Fatalf("expected invalidCredentials, got %d", resp.ResultCode())
	}
	if registry.Get(conn).State() == session.Bound {
		t.Fatal("a failed bind must not leave the session Bound")
	}
}

func TestDispatcherSearchBeforeBindRefused(t *testing.T) {
	dir := directory.NewMemory([]byte("test-key"))
	d, registry := newTestDispatcher(dir, nil)

	conn := newPipeConn(t)
	registry.Open(conn)
	defer registry.Close(conn)

	mux := d.Mux()
	w := &recordingWriter{}
	req := ldap.SearchRequest{}
	req.SetBaseObject(ldap.LDAPDN("dc=example,dc=org"))
	m := newMessage(conn, req)

	mux.ServeLDAP(w, m)

	resp, ok := w.written[0].(ldap.SearchResultDone)
	if !ok {
		t.Fatalf("expected SearchResultDone, got %T", w.written[0])
	}
	if int(resp.ResultCode()) != ldapwire.LDAPResultInsufficientAccessRights {
		t.Fatalf("expected insufficientAccessRights, got %d", resp.ResultCode())
	}
}

func TestDispatcherRefusesMutatingOperations(t *testing.T) {
	dir := directory.NewMemory([]byte("test-key"))
	d, registry := newTestDispatcher(dir, nil)

	conn := newPipeConn(t)
	registry.Open(conn)
	defer registry.Close(conn)

	mux := d.Mux()
	w := &recordingWriter{}
	m := newMessage(conn, ldap.DelRequest(""))

	mux.ServeLDAP(w, m)

	resp, ok := w.written[0].(ldap.DelResponse)
	if !ok {
		t.Fatalf("expected DelResponse, got %T", w.written[0])
	}
	if int(resp.ResultCode()) != ldapwire.LDAPResultUnwillingToPerform {
		t.Fatalf("expected unwillingToPerform, got %d", resp.ResultCode())
	}
}
