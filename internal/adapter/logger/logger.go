// Package logger builds the zap loggers used by the datastore and the
// in-memory client.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Levels accepted by [Config].
const (
	Debug   = "debug"
	Info    = "info"
	Warning = "warning"
	Error   = "error"
)

// Config selects how logs are written.
type Config struct {
	// Level defaults to info.
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warning error"`
	// Encoding is json or console. Defaults to json.
	Encoding string `mapstructure:"encoding" validate:"omitempty,oneof=json console"`
	// OutputPaths defaults to stderr.
	OutputPaths []string `mapstructure:"output_paths"`
	// Service is added to every entry.
	Service string `mapstructure:"service"`
}

// Level translates a configured level, defaulting to info.
func Level(level string) zapcore.Level {
	switch level {
	case Debug:
		return zap.DebugLevel
	case Warning:
		return zap.WarnLevel
	case Error:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// New returns a production logger configured by cfg.
func New(cfg Config) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	fields := map[string]any{"pid": os.Getpid()}
	if cfg.Service != "" {
		fields["service"] = cfg.Service
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(Level(cfg.Level)),
		Encoding:         encoding,
		EncoderConfig:    encoderCfg,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    fields,
	}
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
