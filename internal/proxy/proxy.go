// Package proxy wires the Client Directory, Session Registry, Operation
// Dispatcher, and LDAP Front-end into one runnable service, plus the
// Prometheus metrics HTTP endpoint that sits alongside it.
package proxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/eutampieri/ldap-merge-proxy/internal/config"
	"github.com/eutampieri/ldap-merge-proxy/internal/directory"
	"github.com/eutampieri/ldap-merge-proxy/internal/dispatcher"
	"github.com/eutampieri/ldap-merge-proxy/internal/ldapwire"
	"github.com/eutampieri/ldap-merge-proxy/internal/metrics"
	"github.com/eutampieri/ldap-merge-proxy/internal/session"
)

// Proxy is the assembled service: an LDAP front-end listener and, if
// configured, a metrics HTTP listener.
type Proxy struct {
	cfg    *config.Config
	logger *zap.Logger

	server        *ldapwire.Server
	metricsServer *http.Server
	registry      *session.Registry
}

// New wires the Client Directory, Session Registry, Operation Dispatcher
// and LDAP front-end into a runnable Proxy.
// directoryImpl is the Client Directory backing the credential gate; the
// caller constructs it (directory.NewMemory or another Directory) per
// cfg.ClientDirectory, keeping backing-store selection out of this package.
// connectors builds the Backend Connector for one backend server; production
// callers pass backend.NewLDAPConnectorFactory(), tests pass a factory returning
// backend.Fake instances so the whole proxy can be driven over a loopback
// listener without real backend sockets.
func New(cfg *config.Config, directoryImpl directory.Directory, connectors session.ConnectorFactory, logger *zap.Logger) *Proxy {
	registry := session.NewRegistry(cfg.PerOpDeadline, connectors)

	d := dispatcher.New(directoryImpl, registry, logger)

	ldapServer := ldapwire.NewServer()
	ldapServer.Logger = logger
	ldapServer.ReadTimeout = cfg.ReadTimeout
	ldapServer.WriteTimeout = cfg.WriteTimeout
	ldapServer.Handle(d.Mux())
	ldapServer.OnNewConnection = func(c net.Conn) error {
		registry.Open(c)
		return nil
	}
	ldapServer.OnConnectionClosed = func(c net.Conn) {
		registry.Close(c)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	return &Proxy{
		cfg:           cfg,
		logger:        logger,
		server:        ldapServer,
		metricsServer: metricsServer,
		registry:      registry,
	}
}

// ListenAndServe starts the metrics listener (if configured) and then
// blocks serving LDAP client connections until the listener is closed or
// Stop is called.
func (p *Proxy) ListenAndServe() error {
	p.startMetrics()
	return p.server.ListenAndServe(p.cfg.ListenAddr)
}

// Listen starts the metrics listener (if configured) and then blocks
// serving LDAP client connections on the given listener. Tests use this
// with a listener bound to an ephemeral port instead of cfg.ListenAddr.
func (p *Proxy) Listen(listener net.Listener) error {
	p.startMetrics()
	return p.server.Listen(listener)
}

func (p *Proxy) startMetrics() {
	if p.metricsServer == nil {
		return
	}
	go func() {
		p.logger.Info("metrics listening", zap.String("addr", p.cfg.MetricsAddr))
		if err := p.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Error("metrics server", zap.Error(err))
		}
	}()
}

// Stop shuts the proxy down: every LDAP client connection is sent a
// Notice of Disconnection and the metrics listener is stopped.
func (p *Proxy) Stop() {
	p.server.Stop()

	if p.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.metricsServer.Shutdown(ctx); err != nil {
			p.logger.Error("metrics server shutdown", zap.Error(err))
		}
	}
}
