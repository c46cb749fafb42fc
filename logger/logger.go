package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger, replaced by Init at start-up
var Log = zerolog.New(os.Stdout).With().Timestamp().Logger()

// New builds a logger for the given environment. Development gets a human
// readable console writer, everything else structured JSON.
func New(environment string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if environment == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}

	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Init sets the global logger
func Init(environment string) zerolog.Logger {
	Log = New(environment)
	return Log
}

// Component returns a child logger tagged with a component name
func Component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}
