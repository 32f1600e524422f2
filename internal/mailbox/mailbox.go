// Package mailbox defines the message-channel boundary: fetching inbound
// support requests and sending replies. Adapters for concrete platforms
// live in subpackages.
package mailbox

import (
	"context"
	"errors"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// ErrDuplicateReply is returned when a reply is suppressed by the
// deduplication window. It is a loggable no-op, not a failure.
var ErrDuplicateReply = errors.New("mailbox: duplicate reply suppressed")

// Reader fetches new inbound events from the message channel. Marking
// fetched items consumed is the adapter's responsibility; the engine only
// guarantees idempotent absorption of whatever arrives, at least once.
type Reader interface {
	FetchNew(ctx context.Context, limit int) ([]protocol.InboundEvent, error)
}

// SendRequest describes one outbound reply.
type SendRequest struct {
	To              string
	Subject         string
	Body            string
	ConversationKey string
	InReplyTo       string
	Attachments     []protocol.Attachment
	Remediation     string // optional self-help steps appended to the body
}

// Replier delivers outbound replies. Send returns the platform's outgoing
// message ID, or ErrDuplicateReply when the reply was suppressed.
type Replier interface {
	Send(ctx context.Context, req SendRequest) (string, error)
}
