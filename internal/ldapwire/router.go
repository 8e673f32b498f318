package ldapwire

import (
	ldap "github.com/lor00x/goldap/message"
)

// Mux dispatches a decoded request to a handler registered for its
// concrete protocol-op type, falling back to a catch-all handler for
// everything else. This mirrors the route-registration style of the
// small Go LDAP server frameworks in the ldapwire lineage: one handler per
// operation kind instead of a single ServeLDAP with a large switch.
type Mux struct {
	bind     Handler
	search   Handler
	notFound Handler
}

// NewMux returns an empty Mux; every operation falls through to NotFound
// until a handler is registered for it.
func NewMux() *Mux {
	return &Mux{}
}

// Bind registers the handler invoked for BindRequest messages.
func (mux *Mux) Bind(h HandlerFunc) { mux.bind = h }

// Search registers the handler invoked for SearchRequest messages.
func (mux *Mux) Search(h HandlerFunc) { mux.search = h }

// NotFound registers the handler invoked for every other request kind.
func (mux *Mux) NotFound(h HandlerFunc) { mux.notFound = h }

// ServeLDAP implements Handler.
func (mux *Mux) ServeLDAP(w ResponseWriter, m *Message) {
	switch m.ProtocolOp().(type) {
	case ldap.BindRequest:
		if mux.bind != nil {
			mux.bind.ServeLDAP(w, m)
			return
		}
	case ldap.SearchRequest:
		if mux.search != nil {
			mux.search.ServeLDAP(w, m)
			return
		}
	}
	if mux.notFound != nil {
		mux.notFound.ServeLDAP(w, m)
	}
}
