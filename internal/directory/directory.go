// Package directory defines the Client Directory capability: the lookup
// from an inbound bind DN to its credential record and the set of backend
// servers that DN is authorized to use. The proxy core depends only on
// the Directory interface; the persistent store behind it is an external
// collaborator outside this module's scope.
package directory

import "errors"

// ErrNotFound is returned by Directory.Lookup when dn is not registered.
var ErrNotFound = errors.New("directory: client not found")

// ServerEntry describes one backend LDAP server and the service account
// the proxy uses to talk to it.
type ServerEntry struct {
	Host           string
	Port           uint16
	BaseDN         string
	ProxyDN        string
	ProxyPassword  string
}

// ClientEntry is an identity allowed to use the proxy.
type ClientEntry struct {
	DN         string
	Credential Credential
}

// Directory resolves an inbound bind DN to its credential record and
// authorized backend set.
type Directory interface {
	// Lookup returns the ClientEntry and ordered backend set for dn, or
	// ErrNotFound if dn is not registered. Any other non-nil error is a
	// transient backing-store failure distinct from "not found".
	Lookup(dn string) (ClientEntry, []ServerEntry, error)
}
