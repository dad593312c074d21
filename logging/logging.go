// Package logging builds the zap loggers used by the client and the relay.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the cores of a logger.
type Options struct {
	// Path is the JSON log file. Empty disables file output.
	Path string
	// Stderr tees a console core to stderr. The TUI leaves it off since
	// stderr shares the terminal with the program.
	Stderr    bool
	Debug     bool
	Component string
}

// New creates a zap logger that writes JSON to opts.Path and optionally to
// stderr. The component name and PID are included as initial fields.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level))
	}
	if opts.Stderr {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	fields := []zap.Field{zap.Int("pid", os.Getpid())}
	if opts.Component != "" {
		fields = append(fields, zap.String("component", opts.Component))
	}
	return zap.New(zapcore.NewTee(cores...), zap.Fields(fields...)), nil
}
