// Package config provides CLI parsing and runtime configuration for the
// ldap-merge-proxy service.
package config

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

// Config holds every runtime setting parsed from CLI flags: the listen
// address, per-operation deadline, and client directory selector the proxy
// needs to run, plus the ambient options a long-running service needs to
// run at all (MetricsAddr, front-end timeouts, LogLevel).
type Config struct {
	ListenAddr      string
	PerOpDeadline   time.Duration
	ClientDirectory string // backing implementation selector; "memory" is the only built-in

	// ReadOnly must be true; the flag exists so the configuration surface
	// is self-documenting even though no other value is accepted.
	ReadOnly bool

	MetricsAddr  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string

	DirectoryKeyPath string
}

// Parse reads CLI flags into a Config and validates it.
func Parse() (*Config, error) {
	var cfg Config

	pflag.StringVar(&cfg.ListenAddr, "listen", ":3890", "TCP address the proxy accepts client connections on")
	pflag.DurationVar(&cfg.PerOpDeadline, "per-op-deadline", time.Second, "Wall-clock bound per merged operation")
	pflag.StringVar(&cfg.ClientDirectory, "client-directory", "memory", "Client Directory backing implementation selector")
	pflag.BoolVar(&cfg.ReadOnly, "read-only", true, "Must be true; reserved for future write support")
	pflag.StringVar(&cfg.MetricsAddr, "metrics-listen", ":9327", "TCP address the Prometheus metrics endpoint listens on")
	pflag.DurationVar(&cfg.ReadTimeout, "read-timeout", 0, "Optional per-read timeout on client connections (0 disables)")
	pflag.DurationVar(&cfg.WriteTimeout, "write-timeout", 0, "Optional per-write timeout on client connections (0 disables)")
	pflag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, or error")
	pflag.StringVar(&cfg.DirectoryKeyPath, "directory-key", "", "Path to the HMAC key file used to hash client passwords in the memory directory")
	pflag.Parse()

	if !cfg.ReadOnly {
		return nil, errors.New("read-only must be true; this build does not merge writes")
	}
	if cfg.PerOpDeadline <= 0 {
		return nil, errors.New("per-op-deadline must be positive")
	}
	switch cfg.ClientDirectory {
	case "memory":
	default:
		return nil, errors.New("client-directory: unknown selector " + cfg.ClientDirectory)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("log-level must be one of debug, info, warn, error")
	}

	return &cfg, nil
}
