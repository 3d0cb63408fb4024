package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

type SentryConfig struct {
	Logger      *slog.Logger
	DSN         string
	Environment string
	Release     string
	// Transport replaces the HTTP transport, mainly for tests.
	Transport sentry.Transport
}

func (cfg *SentryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DSN == "" {
		return errors.New("sentry dsn is required")
	}
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	return nil
}

// Sentry reports warning and error events to Sentry.
type Sentry struct {
	log *slog.Logger
	hub *sentry.Hub
}

func NewSentry(cfg SentryConfig) (*Sentry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		Transport:   cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return &Sentry{
		log: cfg.Logger.With("component", "notify.sentry"),
		hub: sentry.NewHub(client, sentry.NewScope()),
	}, nil
}

func (s *Sentry) Notify(_ context.Context, event Event) error {
	if event.Severity.rank() < SeverityWarning.rank() {
		return nil
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(event.Severity))
		scope.SetTag("title", event.Title)
		fields := sentry.Context{}
		for k, v := range event.Fields {
			fields[k] = v
		}
		if event.Message != "" {
			fields["message"] = event.Message
		}
		scope.SetContext("feeward", fields)
		if event.Err != nil {
			s.hub.CaptureException(fmt.Errorf("%s: %w", event.Title, event.Err))
			return
		}
		s.hub.CaptureMessage(event.Text())
	})
	return nil
}

// Flush waits for queued events to be delivered.
func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

func sentryLevel(sev Severity) sentry.Level {
	switch sev {
	case SeverityError:
		return sentry.LevelError
	case SeverityWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
