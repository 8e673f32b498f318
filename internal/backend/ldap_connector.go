package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"github.com/eutampieri/ldap-merge-proxy/internal/directory"
)

// LDAPConnector is the production Connector: one go-ldap/v3 connection to
// one backend. Dial/Bind/Search follow the same sequence as
// croessner-ldapbench's internal/ldapclient: DialURL, Bind,
// NewSearchRequest/Search. No go-ldap timeout is set; each call is bounded
// by its context instead.
type LDAPConnector struct {
	addr string // host:port

	mu       sync.Mutex
	conn     *ldap.Conn
	bound    bool
	poisoned *Outcome
}

// NewLDAPConnector returns a Connector for the backend at host:port. No
// network I/O happens until the first Bind.
func NewLDAPConnector(host string, port uint16) *LDAPConnector {
	return &LDAPConnector{addr: fmt.Sprintf("%s:%d", host, port)}
}

// NewLDAPConnectorFactory returns a factory building one LDAPConnector per
// directory.ServerEntry, matching session.ConnectorFactory's shape without
// this package depending on internal/session.
func NewLDAPConnectorFactory() func(directory.ServerEntry) Connector {
	return func(s directory.ServerEntry) Connector {
		return NewLDAPConnector(s.Host, s.Port)
	}
}

// Bind implements Connector.
func (c *LDAPConnector) Bind(ctx context.Context, dn, password string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poisoned != nil {
		return *c.poisoned
	}

	out := c.bindLocked(ctx, dn, password)
	if !out.OK() {
		recorded := out
		c.poisoned = &recorded
	} else {
		c.bound = true
	}
	return out
}

func (c *LDAPConnector) bindLocked(ctx context.Context, dn, password string) Outcome {
	if c.conn == nil {
		conn, out, ok := dialWithContext(ctx, c.addr)
		if !ok {
			return out
		}
		c.conn = conn
	}

	done := make(chan error, 1)
	go func() { done <- c.conn.Bind(dn, password) }()

	select {
	case <-ctx.Done():
		c.conn.Close()
		return Outcome{Transport: TransportTimeout}
	case err := <-done:
		if err == nil {
			return Outcome{}
		}
		return classifyError(err)
	}
}

// Search implements Connector.
func (c *LDAPConnector) Search(ctx context.Context, baseDN, filter string, scope, sizeLimit, timeLimit int, attributes []string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poisoned != nil {
		return *c.poisoned
	}
	if !c.bound {
		return Outcome{LDAPCode: ldap.LDAPResultOperationsError, Diagnostic: "search attempted before bind"}
	}

	req := ldap.NewSearchRequest(baseDN, scope, ldap.NeverDerefAliases, sizeLimit, timeLimit, false, filter, attributes, nil)

	done := make(chan struct {
		res *ldap.SearchResult
		err error
	}, 1)
	go func() {
		res, err := c.conn.Search(req)
		done <- struct {
			res *ldap.SearchResult
			err error
		}{res, err}
	}()

	select {
	case <-ctx.Done():
		c.conn.Close()
		return Outcome{Transport: TransportTimeout}
	case r := <-done:
		if r.err != nil {
			return classifyError(r.err)
		}
		return Outcome{Entries: convertEntries(r.res.Entries)}
	}
}

// Close implements Connector.
func (c *LDAPConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func dialWithContext(ctx context.Context, addr string) (*ldap.Conn, Outcome, bool) {
	type dialResult struct {
		conn *ldap.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := ldap.DialURL("ldap://" + addr)
		ch <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, Outcome{Transport: TransportTimeout}, false
	case r := <-ch:
		if r.err != nil {
			return nil, classifyDialError(r.err), false
		}
		return r.conn, Outcome{}, true
	}
}

func classifyDialError(err error) Outcome {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Outcome{Transport: TransportTimeout}
		}
		return Outcome{Transport: TransportConnectRefused}
	}
	return Outcome{Transport: TransportConnectRefused}
}

func classifyError(err error) Outcome {
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		switch ldapErr.ResultCode {
		case ldap.ErrorNetwork:
			return Outcome{Transport: TransportReset}
		default:
			return Outcome{LDAPCode: int(ldapErr.ResultCode), Diagnostic: ldapErr.Err.Error()}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Outcome{Transport: TransportTimeout}
		}
		return Outcome{Transport: TransportReset}
	}

	return Outcome{Transport: TransportDecodeError}
}

func convertEntries(entries []*ldap.Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		attrs := make(map[string][]string, len(e.Attributes))
		for _, a := range e.Attributes {
			attrs[a.Name] = a.Values
		}
		out = append(out, Entry{DN: e.DN, Attributes: attrs})
	}
	return out
}
