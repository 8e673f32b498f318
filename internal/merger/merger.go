// Package merger implements the fan-out/merge core: every client-facing
// operation becomes a parallel operation against every backend authorized
// for the bound identity, and the merge is consistency-over-availability —
// a single backend's failure fails the whole operation.
package merger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eutampieri/ldap-merge-proxy/internal/backend"
	"github.com/eutampieri/ldap-merge-proxy/internal/directory"
	"github.com/eutampieri/ldap-merge-proxy/internal/metrics"
	"github.com/eutampieri/ldap-merge-proxy/internal/session"
)

// SearchArgs bundles one Search operation's parameters. Scope, SizeLimit
// and TimeLimit are forwarded to every backend unchanged; the proxy does
// not reinterpret or clamp them.
type SearchArgs struct {
	BaseDN     string
	Filter     string
	Scope      int
	SizeLimit  int
	TimeLimit  int
	Attributes []string
}

// Bind authenticates dn against the Client Directory, then fans the
// proxy's own service-account bind out to every backend authorized for dn.
// On success sess transitions to Bound and one connector per backend is
// memoized for later Search calls.
func Bind(ctx context.Context, dir directory.Directory, sess *session.Session, dn, password string, logger *zap.Logger) error {
	client, servers, err := dir.Lookup(dn)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			metrics.IncRequest("bind", "authn_denied")
			return ErrInvalidCredentials
		}
		metrics.IncRequest("bind", "directory_unavailable")
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if !client.Credential.Matches(password) {
		metrics.IncRequest("bind", "authn_denied")
		return ErrInvalidCredentials
	}

	outcomes := fanOut(ctx, sess, servers, "bind", func(opCtx context.Context, c backend.Connector, server directory.ServerEntry) backend.Outcome {
		return c.Bind(opCtx, server.ProxyDN, server.ProxyPassword)
	})

	if err := consistency(outcomes, servers, logger, "bind"); err != nil {
		metrics.IncRequest("bind", outcomeLabel(err))
		return err
	}

	sess.MarkBound(dn, servers)
	metrics.IncRequest("bind", "success")
	return nil
}

// Search fans a search out to every backend of the session's bound
// identity and concatenates the results in backend-declaration order.
func Search(ctx context.Context, sess *session.Session, args SearchArgs, logger *zap.Logger) ([]backend.Entry, error) {
	servers := sess.Backends()

	outcomes := fanOut(ctx, sess, servers, "search", func(opCtx context.Context, c backend.Connector, server directory.ServerEntry) backend.Outcome {
		return c.Search(opCtx, args.BaseDN, args.Filter, args.Scope, args.SizeLimit, args.TimeLimit, args.Attributes)
	})

	if err := consistency(outcomes, servers, logger, "search"); err != nil {
		metrics.IncRequest("search", outcomeLabel(err))
		return nil, err
	}

	entries := mergeEntries(outcomes, servers, logger)
	metrics.IncRequest("search", "success")
	return entries, nil
}

type operation func(ctx context.Context, c backend.Connector, server directory.ServerEntry) backend.Outcome

// fanOut runs op against every server in parallel under a single deadline
// derived from sess.PerOpDeadline, and returns outcomes aligned by index
// to servers so the consistency/merge passes can preserve backend order.
func fanOut(ctx context.Context, sess *session.Session, servers []directory.ServerEntry, opName string, op operation) []backend.Outcome {
	outcomes := make([]backend.Outcome, len(servers))
	if len(servers) == 0 {
		return outcomes
	}

	opCtx, cancel := context.WithTimeout(ctx, sess.PerOpDeadline)
	defer cancel()

	g, gCtx := errgroup.WithContext(opCtx)
	for i, server := range servers {
		i, server := i, server
		g.Go(func() error {
			connector := sess.Connector(server)
			start := time.Now()
			outcomes[i] = op(gCtx, connector, server)
			metrics.ObserveBackendLatency(opName, server.Host, time.Since(start))
			return nil
		})
	}
	_ = g.Wait() // op never returns a Go error; failures are carried in outcomes
	return outcomes
}

// consistency requires every backend to succeed for the merged operation
// to succeed. On failure it picks the reported error by precedence — a
// transport failure outranks an LDAP protocol rejection — and within a
// tier, the first failure by backend-declaration order.
func consistency(outcomes []backend.Outcome, servers []directory.ServerEntry, logger *zap.Logger, opName string) error {
	allOK := true
	for _, o := range outcomes {
		if !o.OK() {
			allOK = false
			break
		}
	}
	if allOK {
		return nil
	}

	for i, o := range outcomes {
		if o.Transport != backend.TransportUnknown {
			logger.Warn("backend unavailable",
				zap.String("operation", opName),
				zap.String("backend", servers[i].Host),
				zap.String("transport", o.Transport.String()))
			return ErrBackendUnavailable
		}
	}
	for i, o := range outcomes {
		if o.LDAPCode != 0 {
			logger.Warn("backend rejected operation",
				zap.String("operation", opName),
				zap.String("backend", servers[i].Host),
				zap.Int("code", o.LDAPCode))
			return &RejectedError{Code: o.LDAPCode, Diagnostic: o.Diagnostic}
		}
	}
	// Every outcome was OK after all; unreachable in practice.
	return nil
}

// mergeEntries concatenates Search results in backend order. Duplicate
// DNs across backends are logged, not deduplicated: that's an operator
// misconfiguration, not the proxy's call to hide.
func mergeEntries(outcomes []backend.Outcome, servers []directory.ServerEntry, logger *zap.Logger) []backend.Entry {
	seen := make(map[string]bool)
	var merged []backend.Entry
	for i, o := range outcomes {
		for _, e := range o.Entries {
			if seen[e.DN] {
				logger.Warn("duplicate DN across backends",
					zap.String("dn", e.DN),
					zap.String("backend", servers[i].Host))
			}
			seen[e.DN] = true
			merged = append(merged, e)
		}
	}
	return merged
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "authn_denied"
	case errors.Is(err, ErrDirectoryUnavailable):
		return "directory_unavailable"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return "backend_rejected"
	}
	return "error"
}
