// Package logging builds the structured zap logger shared by all routing
// core components.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the logging level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format represents the log output format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Config represents logging configuration.
type Config struct {
	Level       Level  `mapstructure:"level" yaml:"level" json:"level"`
	Format      Format `mapstructure:"format" yaml:"format" json:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:       LevelInfo,
		Format:      FormatJSON,
		ServiceName: "routing-core",
		Environment: "development",
	}
}

// NewLogger creates a zap logger with the service fields attached.
func NewLogger(config *Config) (*zap.Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	zapConfig := zap.Config{
		Level:       zapLevel(config.Level),
		Development: config.Environment == "development",
		Encoding:    string(config.Format),
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return logger.With(
		zap.String("service", config.ServiceName),
		zap.String("environment", config.Environment),
	), nil
}

func zapLevel(level Level) zap.AtomicLevel {
	switch level {
	case LevelDebug:
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case LevelInfo:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case LevelWarn:
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case LevelError:
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
