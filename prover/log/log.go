package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

var (
	mu      sync.RWMutex
	logger  = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMicro}).With().Timestamp().Logger()
	console io.Writer
	logFile *os.File
)

// InitLogger configures the process logger. Unknown levels fall back to info.
func InitLogger(level string, json bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if json {
		console = os.Stdout
	} else {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMicro}
	}

	mu.Lock()
	logger = zerolog.New(console).With().Timestamp().Logger()
	mu.Unlock()
}

// ResetLogger tees the log output into a per-process file under <home>/logs.
func ResetLogger(home string) error {
	if home == "" {
		osHome, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		home = filepath.Join(osHome, ".proverd")
	}

	dir := filepath.Join(home, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s.%d.log", filepath.Base(os.Args[0]), os.Getpid())
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	Infof("From now on, all logs will also be written to %s", path)

	out := console
	if out == nil {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMicro}
	}

	mu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = file
	logger = zerolog.New(zerolog.MultiLevelWriter(out, file)).With().Timestamp().Logger()
	mu.Unlock()

	return nil
}

// SetOutput redirects the logger, used by tests to capture lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	logger = zerolog.New(w).With().Timestamp().Logger()
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return logger
}

func Debugf(format string, v ...any) {
	l := current()
	l.Debug().Msgf(format, v...)
}

func Infof(format string, v ...any) {
	l := current()
	l.Info().Msgf(format, v...)
}

func Warnf(format string, v ...any) {
	l := current()
	l.Warn().Msgf(format, v...)
}

func Errorf(format string, v ...any) {
	l := current()
	l.Error().Msgf(format, v...)
}

// Fatalf logs at fatal level and exits the process.
func Fatalf(format string, v ...any) {
	l := current()
	l.Fatal().Msgf(format, v...)
}
