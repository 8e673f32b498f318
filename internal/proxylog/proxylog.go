// Package proxylog builds the structured logger shared by every core
// package, selected by internal/config.Config.LogLevel.
package proxylog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger at the given level ("debug", "info", "warn", or
// "error"). Production encoding (JSON) is used throughout; this service has
// no interactive console use case the teacher's dev-mode config served.
func New(level string) (*zap.Logger, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("proxylog: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("proxylog: building logger: %w", err)
	}
	return logger, nil
}
