package shared

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Console output is the default for
// running the lottery server interactively; JSON output is for deployments
// where a collector ingests the log stream.
func NewLogger(debug, json bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if json {
		out = os.Stderr
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}
