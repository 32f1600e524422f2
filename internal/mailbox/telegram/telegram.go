// Package telegram adapts a Telegram bot chat into the mailbox interfaces.
// Each chat is one conversation; message IDs become event IDs, so
// redelivered updates are absorbed idempotently downstream.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/opsdesk-io/opsdesk/internal/mailbox"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Config holds Telegram adapter configuration.
type Config struct {
	Token     string  // Bot token from @BotFather
	AllowFrom []int64 // Allowed Telegram user IDs (empty = allow all)
}

// Adapter implements mailbox.Reader and mailbox.Replier over the Telegram
// Bot API using long polling.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	offset int // next update offset, marks earlier updates consumed
}

// New creates a Telegram adapter.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Adapter{bot: bot, config: cfg, logger: logger}, nil
}

// FetchNew polls for updates past the adapter's offset. Advancing the
// offset is what marks updates consumed on Telegram's side.
func (a *Adapter) FetchNew(ctx context.Context, limit int) ([]protocol.InboundEvent, error) {
	a.mu.Lock()
	offset := a.offset
	a.mu.Unlock()

	u := tgbotapi.NewUpdate(offset)
	u.Limit = limit
	u.Timeout = 0 // non-blocking poll; the engine owns the cadence

	updates, err := a.bot.GetUpdates(u)
	if err != nil {
		return nil, fmt.Errorf("telegram: get updates: %w", err)
	}

	var events []protocol.InboundEvent
	for _, update := range updates {
		if update.UpdateID >= offset {
			offset = update.UpdateID + 1
		}
		msg := update.Message
		if msg == nil || msg.Text == "" {
			continue
		}
		if !a.allowed(msg.From) {
			a.logger.Warn("message from disallowed user dropped",
				"user_id", msg.From.ID, "username", msg.From.UserName)
			continue
		}
		events = append(events, protocol.InboundEvent{
			EventID:         fmt.Sprintf("tg:%d:%d", msg.Chat.ID, msg.MessageID),
			ConversationKey: fmt.Sprintf("tg:%d", msg.Chat.ID),
			Sender:          senderName(msg.From),
			Subject:         firstLine(msg.Text),
			Body:            msg.Text,
			ReceivedAt:      msg.Time(),
		})
	}

	a.mu.Lock()
	a.offset = offset
	a.mu.Unlock()
	return events, nil
}

// Send posts a reply into the conversation's chat, quoting the message it
// answers when the in-reply-to ID parses.
func (a *Adapter) Send(_ context.Context, req mailbox.SendRequest) (string, error) {
	chatID, err := chatFromKey(req.ConversationKey)
	if err != nil {
		return "", err
	}

	msg := tgbotapi.NewMessage(chatID, req.Body)
	if replyTo, ok := messageFromEventID(req.InReplyTo); ok {
		msg.ReplyToMessageID = replyTo
	}

	sent, err := a.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram: send: %w", err)
	}
	return fmt.Sprintf("tg:%d:%d", chatID, sent.MessageID), nil
}

func (a *Adapter) allowed(from *tgbotapi.User) bool {
	if from == nil {
		return false
	}
	if len(a.config.AllowFrom) == 0 {
		return true
	}
	for _, id := range a.config.AllowFrom {
		if from.ID == id {
			return true
		}
	}
	return false
}

func senderName(from *tgbotapi.User) string {
	if from.UserName != "" {
		return from.UserName
	}
	return strconv.FormatInt(from.ID, 10)
}

// chatFromKey parses "tg:<chat_id>".
func chatFromKey(key string) (int64, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 2 || parts[0] != "tg" {
		return 0, fmt.Errorf("telegram: malformed conversation key %q", key)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: malformed conversation key %q: %w", key, err)
	}
	return id, nil
}

// messageFromEventID parses "tg:<chat_id>:<message_id>"; foreign or
// synthetic event IDs are simply not quoted.
func messageFromEventID(eventID string) (int, bool) {
	parts := strings.Split(eventID, ":")
	if len(parts) != 3 || parts[0] != "tg" {
		return 0, false
	}
	id, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, false
	}
	return id, true
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
