package log

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/lmittmann/tint"
	"github.com/rs/zerolog"
)

func New() *zerolog.Logger {
	var output io.Writer
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		output = os.Stderr
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02T15:04:05.999Z07:00"}
	}
	return NewWithWriter(output)
}

// NewWithWriter creates a zerolog logger writing to w.
func NewWithWriter(w io.Writer) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(w).With().Timestamp().Logger()
	return &logger
}

// Slog bridges zl to log/slog, discarding records below level.
func Slog(zl *zerolog.Logger, level slog.Level) *slog.Logger {
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"

	leveled := zl.Level(zerologLevel(level))
	return slog.New(logr.ToSlogHandler(zerologr.New(&leveled)))
}

// Console creates a colored, human readable slog logger writing to w.
func Console(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
		NoColor:    os.Getenv("NO_COLOR") != "",
	}))
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		// slog debug records arrive as logr V-levels below zerolog's
		// debug level.
		return zerolog.TraceLevel - 4
	}
}
