package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// SetupLogger builds the process logger. Unknown levels fall back to info.
func SetupLogger(level string, pretty bool) zerolog.Logger {
	return newLogger(os.Stderr, level, pretty)
}

func newLogger(w io.Writer, level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// AccessLog wraps the metrics endpoint. Every request gets a req_id and the
// request-scoped logger; scrapes are logged at debug, failures at warn.
func AccessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = hlog.RequestIDHandler("req_id", "X-Request-ID")(next)
		next = hlog.UserAgentHandler("ua")(next)
		next = hlog.AccessHandler(logAccess)(next)
		return hlog.NewHandler(logger)(next)
	}
}

func logAccess(r *http.Request, status, size int, took time.Duration) {
	l := hlog.FromRequest(r)
	ev := l.Debug()
	if status >= http.StatusBadRequest {
		ev = l.Warn()
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("took", took).
		Msg("metrics request")
}
