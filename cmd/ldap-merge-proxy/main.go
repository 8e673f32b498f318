// Command ldap-merge-proxy is the thin entrypoint: parse flags, build the
// configuration and directory, wire a proxy.Proxy, and run it until a
// termination signal arrives. It contains no business logic of its own.
package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eutampieri/ldap-merge-proxy/internal/backend"
	"github.com/eutampieri/ldap-merge-proxy/internal/config"
	"github.com/eutampieri/ldap-merge-proxy/internal/directory"
	"github.com/eutampieri/ldap-merge-proxy/internal/proxy"
	"github.com/eutampieri/ldap-merge-proxy/internal/proxylog"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	logger, err := proxylog.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	key, err := directoryKey(cfg.DirectoryKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "directory key error: %v\n", err)
		os.Exit(2)
	}

	// Registering clients and backends is an admin-facing surface out of
	// scope for this process; it starts with an empty directory and relies
	// on an external tool calling into the same directory.Memory instance
	// (or a future non-memory Directory) to populate it.
	dir := directory.NewMemory(key)

	p := proxy.New(cfg, dir, backend.NewLDAPConnectorFactory(), logger)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		p.Stop()
	}()

	if err := p.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "proxy exited: %v\n", err)
		os.Exit(1)
	}
}

func directoryKey(path string) ([]byte, error) {
	if path == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating ephemeral directory key: %w", err)
		}
		return key, nil
	}
	return os.ReadFile(path)
}
