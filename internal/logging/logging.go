// Package logging constructs the process-wide *zap.Logger used by every
// ambient warning (semantic-analyzer fallback, canonicalize-falls-back,
// missing-command-allowed, leaked sandbox process) instead of writing to
// os.Stderr directly. The logger is built once at startup and passed
// explicitly into constructors — there is no package-level global.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Mode selects the output encoding: JSON for non-interactive runs, a
// console-friendly encoding for the TUI so log lines don't clash with the
// rendered chat view.
type Mode string

const (
	ModeJSON    Mode = "json"
	ModeConsole Mode = "console"
)

// Config controls logger construction.
type Config struct {
	Mode       Mode
	Level      string // debug, info, warn, error; empty defaults to info
	OutputPath string // "stdout", "stderr", or a file path; empty defaults to stderr
}

// New builds a *zap.Logger per cfg. An unparseable level falls back to info
// rather than failing construction — logging setup must never be the reason
// the agent fails to start.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeJSON
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stderr"
	}

	var encoderConfig zapcore.EncoderConfig
	if mode == ModeConsole {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      mode == ModeConsole,
		Encoding:         string(mode),
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{outputPath},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// Nop returns a no-op logger, for tests and constructors where logging is
// not under test.
func Nop() *zap.Logger { return zap.NewNop() }
