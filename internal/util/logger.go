package util

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
)

// Logger offers printf-style methods on top of slog for code written
// against the standard log package.
type Logger struct {
	slogLogger *slog.Logger
}

// GetCompatLogger returns a printf-style logger backed by the global logger.
func GetCompatLogger() *Logger {
	return &Logger{slogLogger: GetLogger()}
}

// Printf logs at info level.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.slogLogger.Info(fmt.Sprintf(format, v...))
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.slogLogger.Debug(fmt.Sprintf(format, v...))
}

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.slogLogger.Warn(fmt.Sprintf(format, v...))
}

// SetupGlobalLogger routes the standard log package, which third-party
// libraries such as the adb client write to, through the global logger.
func SetupGlobalLogger() {
	compat := GetCompatLogger()
	log.SetFlags(0)
	log.SetOutput(&logWriter{logger: compat.slogLogger.With("source", "stdlog")})
}

type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
