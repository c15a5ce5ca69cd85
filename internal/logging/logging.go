// Package logging builds the run logger: colored console or JSON output on
// stderr, with error records forwarded to Sentry when a DSN is configured.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/masq"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Config struct {
	Level     string
	Format    string
	SentryDSN string
	NoColor   bool
	Version   string
}

// Logger carries the configured slog logger and whether Sentry needs a flush.
type Logger struct {
	*slog.Logger
	RunID         string
	sentryEnabled bool
}

// ParseLevel accepts debug, info, warn and error in any case. An empty
// string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, goerr.New("invalid log level", goerr.V("level", s))
	}
}

// Configure builds a logger writing to w. Every record carries the run_id.
func Configure(cfg Config, w io.Writer) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: masq.New(masq.WithTag("secret")),
		})
	case FormatConsole, "":
		handler = clog.New(
			clog.WithWriter(w),
			clog.WithLevel(level),
			clog.WithColor(!cfg.NoColor),
		)
	default:
		return nil, goerr.New("invalid log format", goerr.V("format", cfg.Format))
	}

	sentryEnabled := false
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: cfg.Version,
		}); err != nil {
			return nil, goerr.Wrap(err, "sentry init")
		}
		sentryEnabled = true
		handler = newSentryHandler(handler)
	}

	runID := uuid.NewString()
	return &Logger{
		Logger:        slog.New(handler).With("run_id", runID),
		RunID:         runID,
		sentryEnabled: sentryEnabled,
	}, nil
}

// Flush delivers buffered Sentry events. Call it before exit.
func (l *Logger) Flush(timeout time.Duration) {
	if l != nil && l.sentryEnabled {
		sentry.Flush(timeout)
	}
}

// sentryHandler forwards error records to Sentry after the wrapped handler
// has written them.
type sentryHandler struct {
	slog.Handler
	attrs   []slog.Attr
	capture func(*sentry.Event) *sentry.EventID
}

func newSentryHandler(inner slog.Handler) *sentryHandler {
	return &sentryHandler{Handler: inner, capture: sentry.CaptureEvent}
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level >= slog.LevelError {
		h.capture(h.event(r))
	}
	return nil
}

func (h *sentryHandler) event(r slog.Record) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Message = r.Message
	event.Timestamp = r.Time
	data := sentry.Context{}
	put := func(a slog.Attr) bool {
		if err, ok := a.Value.Any().(error); ok {
			data[a.Key] = err.Error()
			return true
		}
		data[a.Key] = a.Value.Any()
		return true
	}
	for _, a := range h.attrs {
		put(a)
	}
	r.Attrs(put)
	if len(data) > 0 {
		event.Contexts["slog"] = data
	}
	return event
}

func (h *sentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryHandler{
		Handler: h.Handler.WithAttrs(attrs),
		attrs:   append(append([]slog.Attr{}, h.attrs...), attrs...),
		capture: h.capture,
	}
}

func (h *sentryHandler) WithGroup(name string) slog.Handler {
	return &sentryHandler{Handler: h.Handler.WithGroup(name), attrs: h.attrs, capture: h.capture}
}
