// Package observability holds the process-wide CLI logger.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands. It is a no-op logger until
// InitCLILogger runs, so packages and tests can log unconditionally.
var CLILogger = zap.NewNop()

// InitCLILogger replaces CLILogger with a console logger on stderr. Debug
// output is enabled when verbose is set.
func InitCLILogger(serviceName string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	CLILogger = NewConsoleLogger(serviceName, level)
}

// NewConsoleLogger builds a human-readable logger that writes to stderr.
func NewConsoleLogger(serviceName string, level zapcore.Level) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.CallerKey = ""
	encCfg.NameKey = ""

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(level),
	)
	return zap.New(core).Named(serviceName)
}

// ParseLevel maps a config level name onto a zap level, falling back to
// info for unknown names.
func ParseLevel(name string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
