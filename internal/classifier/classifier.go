// Package classifier adapts an LLM provider into the structured verdicts and
// generated replies the workflow engine consumes. The classifier is treated
// as a pure but unreliable function: any malformed or unexpected output maps
// to IntentError rather than propagating raw text.
package classifier

import (
	"context"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Classifier is the verdict and reply-generation interface used by the
// engine. Implementations must be safe for concurrent use by both loops.
type Classifier interface {
	// ClassifyIntent analyzes an inbound request and returns a structured
	// verdict. An error (or a verdict with IntentError) means the event
	// should be left for redelivery; no side effect has occurred yet.
	ClassifyIntent(ctx context.Context, subject, body string, attachments []protocol.Attachment) (*protocol.Verdict, error)

	// SummarizeTicket produces a human-readable status summary from the
	// record's conversation chain and update ledger.
	SummarizeTicket(ctx context.Context, rec *protocol.TicketRecord) (string, error)

	// SummarizeRevisions turns a batch of new tracker revisions into one
	// reply body for the requester.
	SummarizeRevisions(ctx context.Context, rec *protocol.TicketRecord, revs []protocol.Revision) (string, error)

	// ActionReply writes the reply sent after executing a side-effecting
	// action, describing its outcome.
	ActionReply(ctx context.Context, rec *protocol.TicketRecord, action protocol.ActionRecord) (string, error)
}
