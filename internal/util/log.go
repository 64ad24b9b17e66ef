// Package util holds process plumbing shared by the binaries.
package util

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions configures a logger that mirrors output into a rotated file.
type LogOptions struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func NewLogger(level string) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

// NewFileLogger writes to stdout and, when File is set, to a lumberjack-rotated file.
// The returned closer releases the file handle.
func NewFileLogger(opts LogOptions) (zerolog.Logger, io.Closer, error) {
	if opts.File == "" {
		return NewLogger(opts.Level), nopCloser{}, nil
	}
	if dir := filepath.Dir(opts.File); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return zerolog.Nop(), nil, err
		}
	}
	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	return newLogger(zerolog.MultiLevelWriter(os.Stdout, file), opts.Level), file, nil
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
