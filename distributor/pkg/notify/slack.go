package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

type SlackConfig struct {
	Logger  *slog.Logger
	Token   string
	Channel string
	// APIURL overrides the Slack API base URL; it must end with a slash.
	APIURL      string
	MinSeverity Severity
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Token == "" {
		return errors.New("slack token is required")
	}
	if cfg.Channel == "" {
		return errors.New("slack channel is required")
	}
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = SeverityWarning
	}
	return nil
}

// Slack posts events to a channel.
type Slack struct {
	log     *slog.Logger
	api     *slack.Client
	channel string
	min     Severity
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var api *slack.Client
	if cfg.APIURL != "" {
		api = slack.New(cfg.Token, slack.OptionAPIURL(cfg.APIURL))
	} else {
		api = slack.New(cfg.Token)
	}
	return &Slack{
		log:     cfg.Logger.With("component", "notify.slack"),
		api:     api,
		channel: cfg.Channel,
		min:     cfg.MinSeverity,
	}, nil
}

func (s *Slack) Notify(ctx context.Context, event Event) error {
	if event.Severity.rank() < s.min.rank() {
		return nil
	}
	_, ts, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(event.Text(), false))
	if err != nil {
		s.log.Warn("slack: failed to post alert", "title", event.Title, "error", err)
		return fmt.Errorf("failed to post slack alert: %w", err)
	}
	s.log.Debug("slack: posted alert", "title", event.Title, "ts", ts)
	return nil
}
