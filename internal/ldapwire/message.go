package ldapwire

import (
	"net"

	ldap "github.com/lor00x/goldap/message"
)

// Message wraps an inbound LDAPMessage with the bookkeeping the front-end
// and dispatcher need: a channel the client's close() sequence uses to
// signal abandonment, and the owning connection, which a Handler uses to
// look up session state keyed by connection (internal/session.Registry).
type Message struct {
	*ldap.LDAPMessage
	Done chan bool
	Conn net.Conn
}

// Abandon signals that this request's processing should stop. Handlers
// that run long operations (the fan-out merger included) select on
// GetDoneSignal and return early when it fires.
func (m *Message) Abandon() {
	select {
	case m.Done <- true:
	default:
	}
}

// GetDoneSignal returns the channel that fires when the request has been
// abandoned or the owning connection is closing.
func (m *Message) GetDoneSignal() chan bool {
	return m.Done
}
