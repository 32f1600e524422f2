// Package slackbox adapts a Slack channel into the mailbox interfaces.
// Top-level messages open conversations; thread replies join them. The
// adapter polls conversation history rather than using Socket Mode so the
// engine keeps control of the fetch cadence.
package slackbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/opsdesk-io/opsdesk/internal/mailbox"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Config holds Slack adapter configuration.
type Config struct {
	BotToken string // xoxb-... Bot User OAuth Token
	Channel  string // channel ID to watch for support requests
}

// Adapter implements mailbox.Reader and mailbox.Replier over the Slack Web
// API.
type Adapter struct {
	api    *slack.Client
	config Config
	logger *slog.Logger
	botID  string

	mu     sync.Mutex
	oldest string // newest timestamp already fetched (exclusive cursor)
}

// New creates a Slack adapter and verifies the token.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken)
	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Adapter{
		api:    api,
		config: cfg,
		logger: logger,
		botID:  authResp.UserID,
		oldest: fmt.Sprintf("%d.000000", time.Now().Unix()),
	}, nil
}

// FetchNew returns channel messages newer than the adapter's cursor. The
// cursor only advances after a successful fetch, so failed polls redeliver.
func (a *Adapter) FetchNew(ctx context.Context, limit int) ([]protocol.InboundEvent, error) {
	a.mu.Lock()
	oldest := a.oldest
	a.mu.Unlock()

	resp, err := a.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: a.config.Channel,
		Oldest:    oldest,
		Limit:     limit,
		Inclusive: false,
	})
	if err != nil {
		return nil, fmt.Errorf("slack: conversation history: %w", err)
	}

	// History is returned newest first; process in arrival order.
	var events []protocol.InboundEvent
	newest := oldest
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		msg := resp.Messages[i]
		if msg.Timestamp > newest {
			newest = msg.Timestamp
		}
		if msg.User == "" || msg.User == a.botID || msg.SubType != "" {
			continue
		}
		thread := msg.ThreadTimestamp
		if thread == "" {
			thread = msg.Timestamp
		}
		events = append(events, protocol.InboundEvent{
			EventID:         fmt.Sprintf("slack:%s:%s", a.config.Channel, msg.Timestamp),
			ConversationKey: fmt.Sprintf("slack:%s:%s", a.config.Channel, thread),
			Sender:          msg.User,
			Subject:         firstLine(msg.Text),
			Body:            msg.Text,
			ReceivedAt:      tsTime(msg.Timestamp),
		})
	}

	a.mu.Lock()
	a.oldest = newest
	a.mu.Unlock()
	return events, nil
}

// Send posts a threaded reply into the conversation.
func (a *Adapter) Send(ctx context.Context, req mailbox.SendRequest) (string, error) {
	channel, thread, err := splitKey(req.ConversationKey)
	if err != nil {
		return "", err
	}

	_, ts, err := a.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(req.Body, false),
		slack.MsgOptionTS(thread),
	)
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	return fmt.Sprintf("slack:%s:%s", channel, ts), nil
}

// splitKey parses "slack:<channel>:<thread_ts>".
func splitKey(key string) (channel, thread string, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "slack" {
		return "", "", fmt.Errorf("slack: malformed conversation key %q", key)
	}
	return parts[1], parts[2], nil
}

// tsTime converts a Slack "seconds.fraction" timestamp to time.Time.
func tsTime(ts string) time.Time {
	var sec, frac int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &frac); err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
