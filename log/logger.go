// Package log provides the gateway's structured logger, grounded on the
// teacher repo's zerolog wrapper: a package-level logger, pretty console
// output in development, JSON in production, and a runtime-adjustable level.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dock108/aicli-gateway/config"
)

var (
	logger     zerolog.Logger
	loggerLock sync.RWMutex
)

func init() {
	cfg := config.Get()

	var output io.Writer
	if cfg.IsDevelopment() {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.Kitchen,
		}
	} else {
		output = os.Stdout
	}

	logger = zerolog.New(output).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()
}

// SetLevel sets the global log level at runtime.
func SetLevel(levelStr string) {
	level := parseLogLevel(levelStr)
	loggerLock.Lock()
	logger = logger.Level(level)
	loggerLock.Unlock()
}

func parseLogLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func Debug() *zerolog.Event {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.Debug()
}

func Info() *zerolog.Event {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.Info()
}

func Warn() *zerolog.Event {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.Warn()
}

func Error() *zerolog.Event {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.Error()
}

func Fatal() *zerolog.Event {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.Fatal()
}

// Logger returns the underlying zerolog.Logger for integrations that need it
// directly (e.g. wiring http.Server.ErrorLog).
func Logger() zerolog.Logger {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger
}
