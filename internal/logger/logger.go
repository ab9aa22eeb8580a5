package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger for the given level and output format.
// Level names are case-insensitive. Format is either "json" or "console".
func New(level, format string) (*zap.Logger, error) {
	cfg, err := newConfig(level, format)
	if err != nil {
		return nil, err
	}
	return cfg.Build()
}

func newConfig(level, format string) (zap.Config, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zap.Config{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "json", "":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return zap.Config{}, fmt.Errorf("invalid log format %q", format)
	}

	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel

	// Sampling hides repeated conflict logs under load; keep every line.
	cfg.Sampling = nil

	return cfg, nil
}

// Nop returns a logger that discards everything, for callers that were not
// handed one.
func Nop() *zap.Logger {
	return zap.NewNop()
}
