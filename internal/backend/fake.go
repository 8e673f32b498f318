package backend

import (
	"context"
	"time"
)

// Fake is an in-process Connector for tests, standing in for
// original_source/src/test/mocks.py's AcceptBind/RejectBind/
// UnresponsiveBind mock servers without opening real sockets.
type Fake struct {
	BindOutcome   Outcome
	SearchOutcome Outcome

	// BindDelay/SearchDelay simulate a slow or hanging backend; a delay
	// of 0 returns immediately. Use a delay longer than the caller's
	// context deadline to exercise the Unresponsive* scenarios.
	BindDelay   time.Duration
	SearchDelay time.Duration

	bound    bool
	poisoned bool
	closed   bool
}

// NewFakeAccepting returns a Fake that accepts any bind and returns
// entries on every search made after a successful bind.
func NewFakeAccepting(entries ...Entry) *Fake {
	return &Fake{SearchOutcome: Outcome{Entries: entries}}
}

// NewFakeRejecting returns a Fake whose Bind always fails with the given
// LDAP result code.
func NewFakeRejecting(ldapCode int) *Fake {
	return &Fake{BindOutcome: Outcome{LDAPCode: ldapCode}}
}

// NewFakeUnresponsive returns a Fake whose Bind never completes within
// any reasonable deadline.
func NewFakeUnresponsive() *Fake {
	return &Fake{BindDelay: time.Hour}
}

// Bind implements Connector.
func (f *Fake) Bind(ctx context.Context, dn, password string) Outcome {
	if f.poisoned {
		return f.BindOutcome
	}

	select {
	case <-time.After(f.BindDelay):
	case <-ctx.Done():
		return Outcome{Transport: TransportTimeout}
	}

	if !f.BindOutcome.OK() {
		f.poisoned = true
		return f.BindOutcome
	}
	f.bound = true
	return Outcome{}
}

// Search implements Connector.
func (f *Fake) Search(ctx context.Context, baseDN, filter string, scope, sizeLimit, timeLimit int, attributes []string) Outcome {
	if f.poisoned {
		return f.BindOutcome
	}
	if !f.bound {
		return Outcome{LDAPCode: 1, Diagnostic: "search attempted before bind"}
	}

	select {
	case <-time.After(f.SearchDelay):
	case <-ctx.Done():
		return Outcome{Transport: TransportTimeout}
	}

	return f.SearchOutcome
}

// Close implements Connector.
func (f *Fake) Close() error {
	f.closed = true
	return nil
}

// Closed reports whether Close was called, for test assertions.
func (f *Fake) Closed() bool { return f.closed }
