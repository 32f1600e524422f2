package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsdesk-io/opsdesk/internal/ticket"
	"github.com/opsdesk-io/opsdesk/internal/tracker"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// ProcessEvent runs one inbound event through the workflow state machine.
// Processing is idempotent: redelivery of an already-filed event is a no-op.
func (e *Engine) ProcessEvent(ctx context.Context, ev protocol.InboundEvent) error {
	if !e.guard.Admit(ev.EventID) {
		e.publishDuplicate(ev)
		return nil
	}

	// The guard is a process-local pre-filter; the store is authoritative.
	filed, err := e.store.HasEvent(ev.EventID)
	if err != nil {
		e.guard.Forget(ev.EventID)
		return fmt.Errorf("engine: dedup lookup %s: %w", ev.EventID, err)
	}
	if filed {
		e.publishDuplicate(ev)
		return nil
	}

	e.sink.Publish(protocol.LifecycleEvent{
		Type:          protocol.EventDetected,
		EventID:       ev.EventID,
		CorrelationID: ev.ConversationKey,
		Timestamp:     time.Now().UTC(),
	})

	verdict, err := e.classifier.ClassifyIntent(ctx, ev.Subject, ev.Body, ev.Attachments)
	if err == nil && verdict.Intent == protocol.IntentError {
		err = fmt.Errorf("engine: classifier returned error verdict")
	}
	if err != nil {
		// No side effect has happened yet; release the event for redelivery.
		e.guard.Forget(ev.EventID)
		e.sink.Publish(protocol.LifecycleEvent{
			Type:          protocol.EventProcessingError,
			EventID:       ev.EventID,
			CorrelationID: ev.ConversationKey,
			Message:       err.Error(),
			Timestamp:     time.Now().UTC(),
		})
		return fmt.Errorf("engine: classify %s: %w", ev.EventID, err)
	}

	rec, err := e.store.Get(ev.ConversationKey)
	switch {
	case err == nil:
		return e.processFollowUp(ctx, rec, ev, verdict)
	case errors.Is(err, ticket.ErrNotFound):
		return e.processFirstContact(ctx, ev, verdict)
	default:
		return fmt.Errorf("engine: load record %s: %w", ev.ConversationKey, err)
	}
}

// processFirstContact handles an event for a conversation with no record yet.
func (e *Engine) processFirstContact(ctx context.Context, ev protocol.InboundEvent, verdict *protocol.Verdict) error {
	rec := newRecord(ev, verdict)

	// Actionable intents get a tracker ticket before the record is persisted,
	// so the record is born knowing its remote id.
	actionable := verdict.Intent == protocol.IntentGeneral ||
		verdict.Intent == protocol.IntentAccessRequest ||
		verdict.Intent == protocol.IntentAccessRevoke
	var createErr error
	if actionable {
		remote, err := e.tracker.Create(ctx, rec.Title, rec.Description, ev.Attachments)
		if err != nil {
			createErr = err
			e.logger.Error("remote ticket creation failed",
				"conversation", ev.ConversationKey, "error", err)
		} else {
			rec.RemoteTicketID = remote.ID
		}
	}

	inserted, err := e.store.InsertIfAbsent(rec)
	if err != nil {
		return fmt.Errorf("engine: insert record %s: %w", rec.CorrelationID, err)
	}
	if !inserted {
		// Lost a race with a concurrent delivery of the same conversation.
		existing, err := e.store.Get(rec.CorrelationID)
		if err != nil {
			return fmt.Errorf("engine: reload record %s: %w", rec.CorrelationID, err)
		}
		return e.processFollowUp(ctx, existing, ev, verdict)
	}
	e.sink.Publish(protocol.LifecycleEvent{
		Type:           protocol.EventTicketCreated,
		EventID:        ev.EventID,
		CorrelationID:  rec.CorrelationID,
		RemoteTicketID: rec.RemoteTicketID,
		RequestType:    rec.RequestType,
		Timestamp:      time.Now().UTC(),
	})

	// Inbound chain entry precedes any outbound reply and doubles as the
	// final idempotency barrier before side effects.
	appended, err := e.appendInbound(rec.CorrelationID, ev)
	if err != nil {
		return err
	}
	if !appended {
		e.publishDuplicate(ev)
		return nil
	}

	switch verdict.Intent {
	case protocol.IntentNone:
		// Chain only: no reply, no remote ticket.
		return nil
	case protocol.IntentSummary:
		// First contact asking for a summary has nothing to summarize.
		body := "I could not find an existing ticket for this conversation. " +
			"Please describe your request and I will open one for you."
		e.sendReply(ctx, rec, ev, body, "")
		return nil
	case protocol.IntentGeneral:
		return e.fileGeneralRequest(ctx, rec, ev, createErr)
	case protocol.IntentAccessRequest, protocol.IntentAccessRevoke:
		return e.executeAccessIntent(ctx, rec, ev, verdict, createErr)
	}
	return fmt.Errorf("engine: unhandled intent %q", verdict.Intent)
}

// processFollowUp handles an event for a conversation that already has a
// record.
func (e *Engine) processFollowUp(ctx context.Context, rec *protocol.TicketRecord, ev protocol.InboundEvent, verdict *protocol.Verdict) error {
	appended, err := e.appendInbound(rec.CorrelationID, ev)
	if err != nil {
		return err
	}
	if !appended {
		e.publishDuplicate(ev)
		return nil
	}

	switch verdict.Intent {
	case protocol.IntentNone:
		return nil
	case protocol.IntentSummary:
		return e.replySummary(ctx, rec, ev)
	case protocol.IntentGeneral:
		return e.appendGeneralFollowUp(ctx, rec, ev)
	case protocol.IntentAccessRequest, protocol.IntentAccessRevoke:
		if !rec.HasRemote() {
			// The conversation started non-actionable; open the ticket now.
			remote, err := e.tracker.Create(ctx, titleOr(verdict.Title, ev.Subject), bodyOr(verdict.Description, ev.Body), ev.Attachments)
			if err != nil {
				e.logger.Error("remote ticket creation failed",
					"conversation", rec.CorrelationID, "error", err)
			} else {
				rec.RemoteTicketID = remote.ID
				if err := e.store.SetRemoteID(rec.CorrelationID, remote.ID); err != nil {
					return fmt.Errorf("engine: set remote id %s: %w", rec.CorrelationID, err)
				}
				if err := e.store.SetSummary(rec.CorrelationID, titleOr(verdict.Title, ev.Subject), bodyOr(verdict.Description, ev.Body)); err != nil {
					return fmt.Errorf("engine: set summary %s: %w", rec.CorrelationID, err)
				}
			}
		}
		return e.executeAccessIntent(ctx, rec, ev, verdict, nil)
	}
	return fmt.Errorf("engine: unhandled intent %q", verdict.Intent)
}

// replySummary answers a status inquiry from the chain and ledger. No ledger
// or action state changes.
func (e *Engine) replySummary(ctx context.Context, rec *protocol.TicketRecord, ev protocol.InboundEvent) error {
	fresh, err := e.store.Get(rec.CorrelationID)
	if err != nil {
		return fmt.Errorf("engine: load record %s: %w", rec.CorrelationID, err)
	}
	body, err := e.classifier.SummarizeTicket(ctx, fresh)
	if err != nil {
		e.logger.Warn("summary generation failed",
			"conversation", rec.CorrelationID, "error", err)
		body = fallbackSummary(fresh)
	}
	e.sendReply(ctx, fresh, ev, body, "")
	return nil
}

// fileGeneralRequest finishes first contact for a general IT request: a
// ledger entry, no pending actions, and a confirmation reply. The tracker
// ticket itself is the only remote side effect.
func (e *Engine) fileGeneralRequest(ctx context.Context, rec *protocol.TicketRecord, ev protocol.InboundEvent, createErr error) error {
	if err := e.store.SetSummary(rec.CorrelationID, rec.Title, rec.Description+"\n\nRequester: "+ev.Sender); err != nil {
		return fmt.Errorf("engine: set summary %s: %w", rec.CorrelationID, err)
	}

	status := "To Do"
	comment := "Ticket filed with the IT team"
	if createErr != nil {
		status = "Error"
		comment = "Ticket could not be filed: " + createErr.Error()
	}
	if err := e.appendLocalUpdate(rec, "general", "file", status, comment, false, ""); err != nil {
		return err
	}

	var body string
	if createErr != nil {
		body = "I could not file your request with the IT team just now. " +
			"It has been recorded and will be retried by an operator."
	} else {
		body = fmt.Sprintf("Your request has been filed with the IT team (ticket #%d): %s. "+
			"I will keep you posted on its progress.", rec.RemoteTicketID, rec.Title)
	}
	e.sendReply(ctx, rec, ev, body, "")
	e.projectSearch(ctx, rec.CorrelationID)
	return nil
}

// appendGeneralFollowUp relays additional requester context onto an existing
// ticket as a tracker comment and a ledger entry.
func (e *Engine) appendGeneralFollowUp(ctx context.Context, rec *protocol.TicketRecord, ev protocol.InboundEvent) error {
	if rec.HasRemote() {
		status := tracker.StatusDone
		if rec.PendingActions {
			status = tracker.StatusDoing
		}
		if err := e.tracker.Update(ctx, rec.RemoteTicketID, status, "Requester follow-up: "+ev.Body); err != nil {
			e.logger.Error("remote comment failed",
				"remote_id", rec.RemoteTicketID, "error", err)
		}
	}
	if err := e.appendLocalUpdate(rec, "general", "follow-up", "Updated", "Requester follow-up recorded", false, ""); err != nil {
		return err
	}
	e.sendReply(ctx, rec, ev,
		"Thanks, I have added your update to the ticket. The team will take it into account.", "")
	e.projectSearch(ctx, rec.CorrelationID)
	return nil
}

// appendInbound appends the inbound message to the conversation chain.
// Returns false when the event id is already filed anywhere in the store.
func (e *Engine) appendInbound(correlationID string, ev protocol.InboundEvent) (bool, error) {
	appended, err := e.store.AppendChain(correlationID, protocol.ChainEntry{
		EventID:     ev.EventID,
		Sender:      ev.Sender,
		Subject:     ev.Subject,
		Body:        ev.Body,
		Attachments: ev.Attachments,
		Timestamp:   ev.ReceivedAt,
	})
	if err != nil {
		return false, fmt.Errorf("engine: append chain %s: %w", correlationID, err)
	}
	return appended, nil
}

func (e *Engine) publishDuplicate(ev protocol.InboundEvent) {
	e.logger.Info("duplicate event suppressed",
		"event_id", ev.EventID, "conversation", ev.ConversationKey)
	e.sink.Publish(protocol.LifecycleEvent{
		Type:          protocol.EventDuplicateSuppressed,
		EventID:       ev.EventID,
		CorrelationID: ev.ConversationKey,
		Timestamp:     time.Now().UTC(),
	})
}

func newRecord(ev protocol.InboundEvent, verdict *protocol.Verdict) *protocol.TicketRecord {
	return &protocol.TicketRecord{
		CorrelationID: ev.ConversationKey,
		Title:         titleOr(verdict.Title, ev.Subject),
		Description:   bodyOr(verdict.Description, ev.Body),
		RequestType:   protocol.RequestType(verdict.Intent),
		Sender:        ev.Sender,
		Subject:       ev.Subject,
		CreatedAt:     time.Now().UTC(),
	}
}

func titleOr(title, fallback string) string {
	if title != "" {
		return title
	}
	return fallback
}

func bodyOr(body, fallback string) string {
	if body != "" {
		return body
	}
	return fallback
}

func fallbackSummary(rec *protocol.TicketRecord) string {
	status := "in progress"
	if !rec.PendingActions && len(rec.Ledger) > 0 {
		status = rec.Ledger[len(rec.Ledger)-1].Status
	}
	if rec.HasRemote() {
		return fmt.Sprintf("Your ticket #%d (%s) is currently %s with %d update(s) on record.",
			rec.RemoteTicketID, rec.Title, status, len(rec.Ledger))
	}
	return fmt.Sprintf("Your request %q is on record with %d update(s); no tracker ticket has been opened yet.",
		rec.Title, len(rec.Ledger))
}
