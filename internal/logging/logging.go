// Package logging builds the zap loggers used by every docsync binary
package logging

import (
	"go.uber.org/zap"

	"github.com/lecpa/docsync/internal/config"
)

// Config holds logging configuration
type Config struct {
	Level       string
	Format      string // "json" or "console"
	OutputPath  string
	Fields      map[string]string
	Development bool
}

// FromConfig converts the [logging] section into a Config tagged with the service name
func FromConfig(c config.LoggingConfig, service string) Config {
	return Config{
		Level:      c.Level,
		Format:     c.Format,
		OutputPath: c.OutputPath,
		Fields:     map[string]string{"service": service},
	}
}

// New creates a structured logger
func New(cfg Config) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	} else {
		zapConfig.Encoding = "json"
	}

	// MCP speaks JSON-RPC on stdout, so logs always go to stderr unless a file is set
	zapConfig.OutputPaths = []string{"stderr"}
	if cfg.OutputPath != "" {
		zapConfig.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	fields := make([]zap.Field, 0, len(cfg.Fields))
	for k, v := range cfg.Fields {
		fields = append(fields, zap.String(k, v))
	}
	return logger.With(fields...), nil
}

// NewDefault creates a json INFO logger, falling back to zap's production logger
func NewDefault(service string) *zap.Logger {
	logger, err := New(Config{
		Level:  "info",
		Format: "json",
		Fields: map[string]string{"service": service},
	})
	if err != nil {
		fallback, _ := zap.NewProduction()
		return fallback.With(zap.String("service", service))
	}
	return logger
}
