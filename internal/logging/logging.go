// Package logging builds the zap logger shared by one gitback invocation.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls where log entries go.
type Options struct {
	// Path is the JSON log file, appended to. Empty disables the file.
	Path string

	// Verbose adds a human-readable console sink at debug level.
	Verbose bool

	// Console receives verbose output; os.Stderr when nil.
	Console io.Writer
}

// New returns a logger tagged with a fresh operation id and a function that
// flushes and closes the file sink.
func New(opts Options) (*zap.Logger, func() error, error) {
	var cores []zapcore.Core
	closeFile := func() error { return nil }

	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closeFile = f.Close

		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zap.InfoLevel))
	}

	if opts.Verbose {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(console), zap.DebugLevel))
	}

	if len(cores) == 0 {
		return zap.NewNop(), closeFile, nil
	}

	logger := zap.New(zapcore.NewTee(cores...)).With(zap.String("op", uuid.NewString()))
	cleanup := func() error {
		_ = logger.Sync()
		return closeFile()
	}
	return logger, cleanup, nil
}
