// Package dispatcher implements the read-only operation policy in front of
// the fan-out merger: it classifies each inbound LDAP request, refuses
// mutating operations before any backend I/O, and maps merger outcomes
// back to LDAP result codes.
package dispatcher

import (
	"context"
	"errors"
	"time"

	ldap "github.com/lor00x/goldap/message"
	"go.uber.org/zap"

	"github.com/eutampieri/ldap-merge-proxy/internal/directory"
	"github.com/eutampieri/ldap-merge-proxy/internal/ldapwire"
	"github.com/eutampieri/ldap-merge-proxy/internal/merger"
	"github.com/eutampieri/ldap-merge-proxy/internal/session"
)

// Dispatcher supplies the ldapwire.Handler returned by Mux. One Dispatcher
// is shared across every client connection; per-connection state lives in
// the Session each handler looks up in the session registry.
type Dispatcher struct {
	Directory directory.Directory
	Sessions  *session.Registry
	Logger    *zap.Logger
}

// New builds a Dispatcher; Mux wires its handlers into an ldapwire.Mux.
func New(dir directory.Directory, sessions *session.Registry, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{Directory: dir, Sessions: sessions, Logger: logger}
	return d
}

// Mux returns an ldapwire.Handler routing Bind/Search to d and refusing
// everything else with unwillingToPerform.
func (d *Dispatcher) Mux() ldapwire.Handler {
	mux := ldapwire.NewMux()
	mux.Bind(d.handleBind)
	mux.Search(d.handleSearch)
	mux.NotFound(d.refuse)
	return mux
}

func (d *Dispatcher) sessionFor(m *ldapwire.Message) *session.Session {
	return d.Sessions.Get(m.Conn)
}

// requestContext derives a context bounded by sess.PerOpDeadline that is
// also cancelled early if m is abandoned (an AbandonRequest or the
// connection tearing down), so a fan-out in progress stops waiting on
// backends no client is listening for anymore.
func requestContext(m *ldapwire.Message, deadline time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	go func() {
		select {
		case <-m.GetDoneSignal():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (d *Dispatcher) handleBind(w ldapwire.ResponseWriter, m *ldapwire.Message) {
	req, ok := m.ProtocolOp().(ldap.BindRequest)
	if !ok {
		d.refuse(w, m)
		return
	}

	sess := d.sessionFor(m)
	dn := string(req.Name())
	password := string(req.AuthenticationSimple())

	// A re-bind always starts the credential gate fresh: reset before
	// running Bind, win or lose.
	sess.ResetBind()

	ctx, cancel := requestContext(m, sess.PerOpDeadline)
	defer cancel()

	err := merger.Bind(ctx, d.Directory, sess, dn, password, d.Logger)
	code := resultCodeFor(err)
	if err != nil {
		d.Logger.Info("bind refused", zap.String("dn", dn), zap.Int("code", code))
	} else {
		d.Logger.Info("bind accepted", zap.String("dn", dn))
	}
	w.Write(ldapwire.NewBindResponse(code))
}

func (d *Dispatcher) handleSearch(w ldapwire.ResponseWriter, m *ldapwire.Message) {
	req, ok := m.ProtocolOp().(ldap.SearchRequest)
	if !ok {
		d.refuse(w, m)
		return
	}

	sess := d.sessionFor(m)
	if sess.State() != session.Bound {
		// Pre-bind Search is refused with insufficientAccessRights.
		w.Write(ldapwire.NewSearchResultDoneResponse(ldapwire.LDAPResultInsufficientAccessRights))
		return
	}

	filter, err := req.FilterString()
	if err != nil {
		w.Write(ldapwire.NewSearchResultDoneResponse(ldapwire.LDAPResultProtocolError))
		return
	}

	attrs := make([]string, 0, len(req.Attributes()))
	for _, a := range req.Attributes() {
		attrs = append(attrs, string(a))
	}

	args := merger.SearchArgs{
		BaseDN:     string(req.BaseObject()),
		Filter:     filter,
		Scope:      int(req.Scope()),
		SizeLimit:  int(req.SizeLimit()),
		TimeLimit:  int(req.TimeLimit()),
		Attributes: attrs,
	}

	ctx, cancel := requestContext(m, sess.PerOpDeadline)
	defer cancel()

	entries, err := merger.Search(ctx, sess, args, d.Logger)
	if err != nil {
		code := resultCodeFor(err)
		d.Logger.Info("search failed", zap.String("base_dn", args.BaseDN), zap.Int("code", code))
		w.Write(ldapwire.NewSearchResultDoneResponse(code))
		return
	}

	for _, e := range entries {
		entry := ldapwire.NewSearchResultEntry(e.DN)
		for attr, values := range e.Attributes {
			entry.AddAttribute(ldap.AttributeDescription(attr), toAttributeValues(values)...)
		}
		w.Write(entry)
	}
	w.Write(ldapwire.NewSearchResultDoneResponse(ldapwire.LDAPResultSuccess))
}

// refuse handles every mutating operation and anything unrecognized:
// unwillingToPerform, no backend traffic. The response carries
// the protocol op matching the request kind so a standard-conformant
// client can decode it (a DelRequest must draw a DelResponse, not an
// arbitrary one), per RFC 4511 §4.1.1's per-operation response pairing.
func (d *Dispatcher) refuse(w ldapwire.ResponseWriter, m *ldapwire.Message) {
	const refused = ldapwire.LDAPResultUnwillingToPerform

	switch m.ProtocolOp().(type) {
	case ldap.UnbindRequest:
		// Handled by the front-end's read loop; nothing to write.
		return
	case ldap.AddRequest:
		w.Write(ldapwire.NewAddResponse(refused))
	case ldap.DelRequest:
		w.Write(ldapwire.NewDelResponse(refused))
	case ldap.ModifyRequest:
		w.Write(ldapwire.NewModifyResponse(refused))
	case ldap.ModifyDNRequest:
		w.Write(ldapwire.NewModifyDNResponse(refused))
	case ldap.CompareRequest:
		w.Write(ldapwire.NewCompareResponse(refused))
	default:
		w.Write(ldapwire.NewExtendedResponse(refused))
	}
	d.Logger.Info("refusing mutating or unsupported operation", zap.String("op", m.ProtocolOpName()))
}

// resultCodeFor maps a merger error to the LDAP result code the client
// sees.
func resultCodeFor(err error) int {
	if err == nil {
		return ldapwire.LDAPResultSuccess
	}

	var rejected *merger.RejectedError
	if errors.As(err, &rejected) {
		return rejected.Code
	}
	if errors.Is(err, merger.ErrInvalidCredentials) {
		return ldapwire.LDAPResultInvalidCredentials
	}
	if errors.Is(err, merger.ErrBackendUnavailable) || errors.Is(err, merger.ErrDirectoryUnavailable) {
		return ldapwire.LDAPResultUnavailable
	}
	return ldapwire.LDAPResultOther
}

func toAttributeValues(values []string) []ldap.AttributeValue {
	out := make([]ldap.AttributeValue, len(values))
	for i, v := range values {
		out[i] = ldap.AttributeValue(v)
	}
	return out
}
