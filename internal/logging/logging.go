// Package logging builds the zap logger shared by the CLI and the native
// storage service.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New
type Options struct {
	// Verbose lowers the console level to debug
	Verbose bool
	// File enables a rotated JSON log at this path
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Console receives human-readable output; defaults to stderr
	Console io.Writer
}

// Logger wraps the zap logger together with the rotated file it may own.
type Logger struct {
	*zap.Logger
	file *lumberjack.Logger
}

// New builds a logger writing warnings (or everything, when verbose) to the
// console and, when File is set, every level as JSON to a rotated file.
func New(opts Options) (*Logger, error) {
	consoleLevel := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if opts.Verbose {
		consoleLevel.SetLevel(zapcore.DebugLevel)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEncCfg := encCfg
	consoleEncCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncCfg), zapcore.AddSync(console), consoleLevel),
	}

	l := &Logger{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     orDefault(opts.MaxAgeDays, 7),
			Compress:   opts.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(l.file), zapcore.DebugLevel))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return l, nil
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Close flushes buffered entries and closes the log file.
func (l *Logger) Close() error {
	// Sync on a terminal stderr returns EINVAL on some platforms; ignore it.
	_ = l.Sync()
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
	}
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
