// Package nclog configures the library's zerolog-backed logging.
package nclog

import (
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// Verbosity is the library log verbosity.
type Verbosity int

const (
	// VerbosityError logs errors only.
	VerbosityError Verbosity = iota
	// VerbosityWarning adds warnings.
	VerbosityWarning
	// VerbosityVerbose adds informational messages.
	VerbosityVerbose
	// VerbosityDebug adds per-message debugging.
	VerbosityDebug
)

// ParseVerbosity maps a configuration string to a Verbosity,
// defaulting to VerbosityError.
func ParseVerbosity(s string) Verbosity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning":
		return VerbosityWarning
	case "verbose":
		return VerbosityVerbose
	case "debug":
		return VerbosityDebug
	default:
		return VerbosityError
	}
}

// Level maps the verbosity onto a zerolog level.
func (v Verbosity) Level() zerolog.Level {
	switch v {
	case VerbosityWarning:
		return zerolog.WarnLevel
	case VerbosityVerbose:
		return zerolog.InfoLevel
	case VerbosityDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.ErrorLevel
	}
}

// New returns a logger writing to w at verbosity v.
func New(w io.Writer, v Verbosity) zerolog.Logger {
	return zerolog.New(w).Level(v.Level()).With().Timestamp().Logger()
}

// Nop returns a logger discarding all output. Library types default
// to it until the embedder installs a real logger.
func Nop() zerolog.Logger { return zerolog.Nop() }
