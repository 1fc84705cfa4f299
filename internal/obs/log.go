// Package obs holds the gateway's observability surface: the shared
// structured logger and the Prometheus metrics.
package obs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.Mutex
	logger   *zerolog.Logger
)

// Logger returns the shared structured logger. Main is expected to call Init
// first; without it a default info-level stdout logger is used.
func Logger() zerolog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		l := newLogger(os.Stdout, zerolog.InfoLevel)
		logger = &l
	}
	return *logger
}

// InitLogger configures the shared logger. level accepts zerolog level
// names ("debug", "info", ...); unknown values fall back to info.
func InitLogger(out io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	l := newLogger(out, lvl)
	logger = &l
	return *logger
}

func newLogger(out io.Writer, lvl zerolog.Level) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "mealdesk-gateway").Logger()
}
