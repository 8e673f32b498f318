package directory

import "errors"

// ErrBackingStore is returned by Failing.Lookup, standing in for a
// transient backing-store error (connection refused, timeout, ...). It is
// distinct from ErrNotFound: the merger maps it to a different LDAP
// result code, DirectoryUnavailable rather than AuthnDenied.
var ErrBackingStore = errors.New("directory: backing store unavailable")

// Failing is a Directory that always fails with ErrBackingStore. It
// exists for tests exercising the DirectoryUnavailable error path.
type Failing struct{}

// Lookup always returns ErrBackingStore.
func (Failing) Lookup(string) (ClientEntry, []ServerEntry, error) {
	return ClientEntry{}, nil, ErrBackingStore
}
