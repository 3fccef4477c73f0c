// Package logging configures the process-wide zerolog logger.
//
// Output always goes to stdout through a console writer; when a log path is
// configured the same events are also appended to that file as JSON lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Logger bundles the root logger with the file it may be writing to.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Init sets up dual logging to stdout and, when path is non-empty, a log file.
// A file that cannot be opened is reported and stdout-only logging continues.
func Init(app, level, path string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	var file *os.File
	var fileErr error
	if path != "" {
		file, fileErr = openLogFile(path)
		if fileErr == nil {
			out = zerolog.MultiLevelWriter(out, file)
		}
	}

	l := &Logger{
		Logger: zerolog.New(out).Level(lvl).With().Timestamp().Str("app", app).Logger(),
		file:   file,
	}
	if fileErr != nil {
		l.Warn().Err(fileErr).Str("path", path).Msg("cannot open log file, logging to stdout only")
	} else if file != nil {
		l.Info().Str("path", path).Msg("logging to file")
	}
	return l
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Component returns a child logger tagged with the given component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
