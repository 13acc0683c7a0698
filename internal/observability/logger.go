// Package observability builds the loggers of piton commands.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger returns a console logger tagged with app at the given level and
// installs it as the global logger.
func InitLogger(app string, level zerolog.Level) zerolog.Logger {
	logger := NewLogger(os.Stdout, app, level)
	log.Logger = logger
	return logger
}

// NewLogger writes human-readable lines with RFC 3339 timestamps to out.
func NewLogger(out io.Writer, app string, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", app).Logger()
}
