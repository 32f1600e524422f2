package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opsdesk-io/opsdesk/internal/mailbox"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// outboundSender labels chain entries written by the engine itself.
const outboundSender = "opsdesk"

// sendReply answers the inbound event that triggered the current workflow
// step. Reply failures are logged, never propagated: the ledger records
// whether the reply went out.
func (e *Engine) sendReply(ctx context.Context, rec *protocol.TicketRecord, ev protocol.InboundEvent, body, remediation string) (string, bool) {
	return e.send(ctx, rec, ev.Sender, ev.Subject, ev.EventID, body, remediation)
}

// send delivers one outbound reply and appends it to the conversation chain.
// Returns the chain event id of the reply and whether it was actually sent.
func (e *Engine) send(ctx context.Context, rec *protocol.TicketRecord, to, subject, inReplyTo, body, remediation string) (string, bool) {
	outgoingID, err := e.replier.Send(ctx, mailbox.SendRequest{
		To:              to,
		Subject:         subject,
		Body:            body,
		ConversationKey: rec.CorrelationID,
		InReplyTo:       inReplyTo,
		Remediation:     remediation,
	})
	if errors.Is(err, mailbox.ErrDuplicateReply) {
		e.logger.Info("reply suppressed",
			"conversation", rec.CorrelationID, "in_reply_to", inReplyTo)
		return "", false
	}
	if err != nil {
		e.logger.Error("reply delivery failed",
			"conversation", rec.CorrelationID, "error", err)
		return "", false
	}
	if outgoingID == "" {
		// The chain's no-duplicate-event-id invariant needs some id.
		outgoingID = "out:" + uuid.NewString()
	}

	if _, err := e.store.AppendChain(rec.CorrelationID, protocol.ChainEntry{
		EventID:   outgoingID,
		Sender:    outboundSender,
		Subject:   subject,
		Body:      body,
		Outbound:  true,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		e.logger.Error("outbound chain append failed",
			"conversation", rec.CorrelationID, "error", err)
	}

	e.sink.Publish(protocol.LifecycleEvent{
		Type:           protocol.EventReplySent,
		EventID:        outgoingID,
		CorrelationID:  rec.CorrelationID,
		RemoteTicketID: rec.RemoteTicketID,
		Timestamp:      time.Now().UTC(),
	})
	return outgoingID, true
}
