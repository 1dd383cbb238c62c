// Package observability holds the process-wide CLI logger and the
// Prometheus collectors exported by the status server.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the operator-facing logger. It writes to stderr so stdout
// stays clean for reports and JSONL records. It is a no-op until
// InitCLILogger runs.
var CLILogger = zap.NewNop()

// cliLevel is shared so SetLevel can adjust a logger that is already in use.
var cliLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// InitCLILogger builds CLILogger. verbose enables debug output.
func InitCLILogger(name string, verbose bool) {
	if verbose {
		cliLevel.SetLevel(zapcore.DebugLevel)
	} else {
		cliLevel.SetLevel(zapcore.InfoLevel)
	}
	CLILogger = newConsoleLogger(name, zapcore.Lock(os.Stderr))
}

// SetLevel applies a level name such as "debug" or "warn". Unknown names
// leave the level unchanged and return false.
func SetLevel(level string) bool {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return false
	}
	cliLevel.SetLevel(lvl)
	return true
}

// Level reports the current CLI log level.
func Level() zapcore.Level {
	return cliLevel.Level()
}

func newConsoleLogger(name string, sink zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	enc.CallerKey = ""
	enc.NameKey = ""
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !isTerminal(os.Stderr) {
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), sink, cliLevel)
	return zap.New(core).Named(name)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
