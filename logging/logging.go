// Package logging builds the zerolog logger shared by the binary.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// TimeFormat is used by the console format.
const TimeFormat = "2006-01-02 15:04:05.000"

// New returns a timestamped logger writing to w. format is "console" for
// human readable lines or "json". The JSON time field follows the global
// zerolog.TimeFieldFormat, which New leaves untouched.
func New(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch strings.ToLower(format) {
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: TimeFormat, NoColor: true}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	return zerolog.New(w).With().Timestamp().Logger().Level(lvl), nil
}
