// Package logging builds the service logger: JSON lines with RFC3339 time
// and caller, errors to stderr and everything else to stdout.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger at the named level ("debug", "info", "warn", "error").
func New(level string) (*zap.Logger, error) {
	return NewWithWriters(level, os.Stdout, os.Stderr)
}

// NewWithWriters is New with explicit destinations.
func NewWithWriters(level string, stdout, stderr io.Writer) (*zap.Logger, error) {
	var minLevel zapcore.Level
	if err := minLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	isErrorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel && lvl >= minLevel
	})
	isInfoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= minLevel
	})

	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.RFC3339TimeEncoder
	encoder := zapcore.NewJSONEncoder(config)

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(stderr)), isErrorLevel),
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(stdout)), isInfoLevel),
	)
	return zap.New(core, zap.AddCaller()), nil
}
