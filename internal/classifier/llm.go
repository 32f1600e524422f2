package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"

	"github.com/opsdesk-io/opsdesk/internal/provider"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

const (
	maxAttempts  = 3
	retryBackoff = 500 * time.Millisecond
)

// LLM implements Classifier on top of a chat provider.
type LLM struct {
	provider provider.Provider
	logger   *slog.Logger
}

// NewLLM creates an LLM-backed classifier.
func NewLLM(p provider.Provider, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{provider: p, logger: logger}
}

func (c *LLM) ClassifyIntent(ctx context.Context, subject, body string, attachments []protocol.Attachment) (*protocol.Verdict, error) {
	var names []string
	for _, a := range attachments {
		names = append(names, a.Filename)
	}

	user := fmt.Sprintf("Subject: %s\n\nBody:\n%s", subject, body)
	if len(names) > 0 {
		user += "\n\nAttachments: " + strings.Join(names, ", ")
	}

	out, err := c.chat(ctx, intentPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("classifier: intent: %w", err)
	}

	verdict := ParseVerdict(out)
	if verdict.Intent == protocol.IntentError {
		c.logger.Warn("unparseable classifier output", "output_len", len(out))
	}
	return verdict, nil
}

func (c *LLM) SummarizeTicket(ctx context.Context, rec *protocol.TicketRecord) (string, error) {
	out, err := c.chat(ctx, summaryPrompt, ticketContext(rec))
	if err != nil {
		return "", fmt.Errorf("classifier: summary: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (c *LLM) SummarizeRevisions(ctx context.Context, rec *protocol.TicketRecord, revs []protocol.Revision) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket #%d: %s\n\nNew updates:\n", rec.RemoteTicketID, rec.Title)
	for _, r := range revs {
		comment := r.Comment
		if comment == "" {
			comment = "No comment provided"
		}
		fmt.Fprintf(&b, "- revision %d, status %q: %s\n", r.ID, r.Status, comment)
	}

	out, err := c.chat(ctx, revisionPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("classifier: revisions: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (c *LLM) ActionReply(ctx context.Context, rec *protocol.TicketRecord, action protocol.ActionRecord) (string, error) {
	user := fmt.Sprintf("Ticket #%d: %s\n\nAction %q on %q finished with status %q.\nDetail: %s",
		rec.RemoteTicketID, rec.Title, action.ActionType, action.Target, action.Status, action.Message)

	out, err := c.chat(ctx, actionReplyPrompt, user)
	if err != nil {
		return "", fmt.Errorf("classifier: action reply: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// chat sends one system+user exchange with bounded retry. The retried calls
// are read-only against our state, so at-least-once execution is safe.
func (c *LLM) chat(ctx context.Context, system, user string) (string, error) {
	var content string
	err := retry.Retry(func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := c.provider.Chat(ctx, provider.ChatRequest{
			Messages: []provider.ChatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
		})
		if err != nil {
			c.logger.Warn("provider call failed", "attempt", attempt+1, "error", err)
			return err
		}
		content = resp.Content
		return nil
	}, strategy.Limit(maxAttempts), strategy.Backoff(backoff.Linear(retryBackoff)))
	if err != nil {
		return "", err
	}
	return content, nil
}

// ParseVerdict converts raw classifier output into a closed verdict.
// Anything that does not parse as a known intent becomes IntentError.
func ParseVerdict(raw string) *protocol.Verdict {
	payload := extractJSON(raw)
	if payload == "" {
		return errorVerdict()
	}

	var rv struct {
		Intent            string `json:"intent"`
		TicketTitle       string `json:"ticket_title"`
		TicketDescription string `json:"ticket_description"`
		Repository        string `json:"repository"`
		Username          string `json:"username"`
		AccessType        string `json:"access_type"`
		PendingActions    bool   `json:"pending_actions"`
	}
	if err := json.Unmarshal([]byte(payload), &rv); err != nil {
		return errorVerdict()
	}

	intent := protocol.Intent(rv.Intent)
	if !intent.Valid() {
		return errorVerdict()
	}

	v := &protocol.Verdict{
		Intent:         intent,
		Title:          strings.TrimSpace(rv.TicketTitle),
		Description:    strings.TrimSpace(rv.TicketDescription),
		PendingActions: rv.PendingActions,
	}

	if intent == protocol.IntentAccessRequest || intent == protocol.IntentAccessRevoke {
		access := &protocol.AccessFields{
			Repository: normalizeField(rv.Repository),
			Principal:  normalizeField(rv.Username),
		}
		if intent == protocol.IntentAccessRequest {
			access.Level = normalizeField(rv.AccessType)
			if access.Level == "" {
				access.Level = "read"
			}
		}
		v.Access = access
	}
	return v
}

func errorVerdict() *protocol.Verdict {
	return &protocol.Verdict{
		Intent:      protocol.IntentError,
		Description: "Unable to determine intent",
	}
}

// normalizeField maps the model's "unspecified" placeholder to empty.
func normalizeField(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "unspecified") {
		return ""
	}
	return s
}

// extractJSON pulls the first JSON object out of raw model output, which may
// wrap it in a markdown code fence or surrounding prose.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "```"); idx >= 0 {
		rest := raw[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			raw = rest[:end]
		} else {
			raw = rest
		}
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// ticketContext renders a record's chain and ledger for summarization.
func ticketContext(rec *protocol.TicketRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket #%d: %s\nRequest type: %s\nDescription: %s\n",
		rec.RemoteTicketID, rec.Title, rec.RequestType, rec.Description)

	if len(rec.Chain) > 0 {
		b.WriteString("\nConversation:\n")
		for _, e := range rec.Chain {
			direction := "from"
			if e.Outbound {
				direction = "reply by"
			}
			fmt.Fprintf(&b, "- %s %s: %s\n", direction, e.Sender, firstLine(e.Body))
		}
	}
	if len(rec.Ledger) > 0 {
		b.WriteString("\nUpdates:\n")
		for _, u := range rec.Ledger {
			fmt.Fprintf(&b, "- [%s] %s\n", u.Status, u.Comment)
		}
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
