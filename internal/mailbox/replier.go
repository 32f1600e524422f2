package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultDedupWindow is how long a (conversation, in-reply-to) pair blocks
// further replies.
const DefaultDedupWindow = 5 * time.Minute

// DedupReplier wraps a Replier and suppresses repeated replies to the same
// (ConversationKey, InReplyTo) pair within a time window. This protects the
// requester from duplicate mail when upstream redelivers an event faster
// than the store-level idempotency checks can absorb it.
type DedupReplier struct {
	inner  Replier
	window time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewDedupReplier wraps inner with a deduplication window. A window of 0
// uses DefaultDedupWindow.
func NewDedupReplier(inner Replier, window time.Duration, logger *slog.Logger) *DedupReplier {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DedupReplier{
		inner:    inner,
		window:   window,
		logger:   logger,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

func (r *DedupReplier) Send(ctx context.Context, req SendRequest) (string, error) {
	key := req.ConversationKey + ":" + req.InReplyTo
	now := r.now()

	r.mu.Lock()
	if sent, ok := r.lastSent[key]; ok && now.Sub(sent) < r.window {
		r.mu.Unlock()
		r.logger.Info("reply suppressed by dedup window",
			"conversation", req.ConversationKey,
			"in_reply_to", req.InReplyTo,
			"age", now.Sub(sent),
		)
		return "", ErrDuplicateReply
	}
	r.mu.Unlock()

	if req.Remediation != "" {
		req.Body += "\n\nWhile I get back to you, you can try these steps:\n" + req.Remediation
	}
	if !strings.HasPrefix(strings.ToLower(req.Subject), "re:") {
		req.Subject = "Re: " + req.Subject
	}

	id, err := r.inner.Send(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mailbox: send: %w", err)
	}

	r.mu.Lock()
	r.lastSent[key] = now
	// Drop expired entries so the map stays bounded.
	for k, sent := range r.lastSent {
		if now.Sub(sent) > r.window {
			delete(r.lastSent, k)
		}
	}
	r.mu.Unlock()
	return id, nil
}
