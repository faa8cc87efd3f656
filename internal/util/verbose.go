// Package util holds the process-wide structured logger.
package util

import (
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
)

var (
	logger   *slog.Logger
	loggerMu sync.Mutex
)

// InitLogger installs the global logger writing to stderr, at debug level
// when verbose. Stdout is left to command output.
func InitLogger(verbose bool) {
	InitLoggerWithWriter(os.Stderr, verbose)
}

// InitLoggerWithWriter installs a text handler writing to w.
func InitLoggerWithWriter(w io.Writer, verbose bool) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	l := slog.New(slog.NewTextHandler(w, opts))
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	slog.SetDefault(l)
}

// GetLogger returns the global logger, initializing it from the command line
// on first use.
func GetLogger() *slog.Logger {
	loggerMu.Lock()
	l := logger
	loggerMu.Unlock()
	if l == nil {
		InitLogger(IsVerbose())
		return GetLogger()
	}
	return l
}

// IsVerbose reports whether --verbose was passed on the command line.
func IsVerbose() bool {
	return slices.Contains(os.Args[1:], "--verbose")
}

// Component returns the global logger tagged with a component name.
func Component(name string) *slog.Logger {
	return GetLogger().With("component", name)
}
