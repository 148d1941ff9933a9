// Package rvlog provides structured logging for rvfuzz using zap.
package rvlog

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with rvfuzz-specific helpers.
type Logger struct {
	*zap.Logger
}

var (
	// L is the global logger instance, valid after Init.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger. Safe to call multiple times; only the
// first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New builds a Logger. debug selects a development config with colorized
// level names and caller info; otherwise a production config at Warn level
// is used, which drops Info and Debug lines, including the stats flush lines
// and the -f disassembly listing.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}
	return &Logger{Logger: logger}
}

// NewNop returns a logger that discards everything, used by tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}
