package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/opsdesk-io/opsdesk/internal/tracker"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// accessDomain keys access-control actions in a record's action details.
const accessDomain = "access"

// AllActionsTerminal reports whether every recorded action has reached a
// terminal status and no pending-actions flag remains. Pure function of the
// record; used to decide the Doing/Done remote transition and for reporting.
func AllActionsTerminal(rec *protocol.TicketRecord) bool {
	for _, actions := range rec.Actions {
		for _, a := range actions {
			if !a.Status.Terminal() {
				return false
			}
		}
	}
	return !rec.PendingActions
}

// executeAccessIntent runs the grant/revoke workflow for one inbound event.
// Execution failures are recorded as failed actions and explained to the
// requester; they are never retried automatically and never propagate.
func (e *Engine) executeAccessIntent(ctx context.Context, rec *protocol.TicketRecord, ev protocol.InboundEvent, verdict *protocol.Verdict, createErr error) error {
	actionType := "grant"
	if verdict.Intent == protocol.IntentAccessRevoke {
		actionType = "revoke"
	}

	if verdict.Access == nil || verdict.Access.Repository == "" || verdict.Access.Principal == "" {
		if err := e.store.AppendAction(rec.CorrelationID, accessDomain, protocol.ActionRecord{
			ActionType: actionType,
			Status:     protocol.ActionFailed,
			Message:    "repository or user missing from the request",
		}); err != nil {
			return fmt.Errorf("engine: append action %s: %w", rec.CorrelationID, err)
		}
		e.sendReply(ctx, rec, ev,
			"I could not work out which repository and user this request concerns. "+
				"Please restate it with both named explicitly.", "")
		return nil
	}
	fields := verdict.Access

	// A pending entry goes in before execution so a crash mid-action is
	// still visible in the record.
	pending := protocol.ActionRecord{
		ActionType: actionType,
		Target:     fields.Repository,
		Parameter:  fields.Principal,
		Status:     protocol.ActionPending,
	}
	if err := e.store.AppendAction(rec.CorrelationID, accessDomain, pending); err != nil {
		return fmt.Errorf("engine: append action %s: %w", rec.CorrelationID, err)
	}

	var (
		message string
		execErr error
	)
	if actionType == "grant" {
		message, execErr = e.access.Grant(ctx, fields.Repository, fields.Principal, fields.Level)
	} else {
		message, execErr = e.access.Revoke(ctx, fields.Repository, fields.Principal)
	}

	outcome := pending
	switch {
	case execErr != nil:
		outcome.Status = protocol.ActionFailed
		outcome.Message = execErr.Error()
	case actionType == "revoke":
		// Revokes are always terminal regardless of outcome.
		outcome.Status = protocol.ActionRevoked
		outcome.Message = message
	case verdict.PendingActions:
		// The grant needs follow-up (approval, expiry) before it can close.
		outcome.Status = protocol.ActionPending
		outcome.Message = message
	default:
		outcome.Status = protocol.ActionCompleted
		outcome.Message = message
	}

	if outcome.Status.Terminal() {
		if _, err := e.store.ResolveAction(rec.CorrelationID, accessDomain, actionType,
			fields.Repository, outcome.Status, outcome.Message); err != nil {
			return fmt.Errorf("engine: resolve action %s: %w", rec.CorrelationID, err)
		}
	}
	if actionType == "revoke" {
		// A revoke also closes any still-pending grant for the same target.
		if _, err := e.store.ResolveAction(rec.CorrelationID, accessDomain, "grant",
			fields.Repository, protocol.ActionRevoked, "superseded by revoke"); err != nil {
			return fmt.Errorf("engine: resolve grant %s: %w", rec.CorrelationID, err)
		}
	}

	fresh, err := e.store.Get(rec.CorrelationID)
	if err != nil {
		return fmt.Errorf("engine: reload record %s: %w", rec.CorrelationID, err)
	}
	stillPending := anyNonTerminal(fresh)
	if err := e.store.SetPendingActions(rec.CorrelationID, stillPending); err != nil {
		return fmt.Errorf("engine: set pending %s: %w", rec.CorrelationID, err)
	}
	fresh.PendingActions = stillPending

	remoteStatus := tracker.StatusDone
	if stillPending {
		remoteStatus = tracker.StatusDoing
	}
	if fresh.HasRemote() {
		comment := outcome.Message
		if comment == "" {
			comment = fmt.Sprintf("%s %s for %s", actionType, fields.Repository, fields.Principal)
		}
		if err := e.tracker.Update(ctx, fresh.RemoteTicketID, remoteStatus, comment); err != nil {
			e.logger.Error("remote status update failed",
				"remote_id", fresh.RemoteTicketID, "status", remoteStatus, "error", err)
		}
	}

	body, err := e.classifier.ActionReply(ctx, fresh, outcome)
	if err != nil {
		e.logger.Warn("action reply generation failed",
			"conversation", rec.CorrelationID, "error", err)
		body = fallbackActionReply(outcome, fields)
	}
	if createErr != nil {
		body += "\n\nNote: the tracker ticket for this request could not be opened; " +
			"an operator will file it manually."
	}
	replyEventID, sent := e.sendReply(ctx, fresh, ev, body, "")

	if err := e.appendLocalUpdate(fresh, accessDomain, actionType, remoteStatus,
		outcome.Message, sent, replyEventID); err != nil {
		return err
	}
	e.projectSearch(ctx, rec.CorrelationID)
	return nil
}

// appendLocalUpdate appends a locally generated ledger entry. The revision
// identifier {domain}-{action}-{remoteID}-{n} is deterministic and strictly
// increasing per record, so locally minted entries never collide with each
// other or with remote revision numbers.
func (e *Engine) appendLocalUpdate(rec *protocol.TicketRecord, domain, action, status, comment string, replySent bool, replyEventID string) error {
	n, err := e.store.CountUpdates(rec.CorrelationID)
	if err != nil {
		return fmt.Errorf("engine: count updates %s: %w", rec.CorrelationID, err)
	}
	entry := protocol.UpdateEntry{
		Status:       status,
		Comment:      comment,
		RevisionID:   fmt.Sprintf("%s-%s-%d-%d", domain, action, rec.RemoteTicketID, n+1),
		ReplySent:    replySent,
		ReplyEventID: replyEventID,
		Timestamp:    time.Now().UTC(),
	}
	if err := e.store.AppendUpdate(rec.CorrelationID, entry); err != nil {
		return fmt.Errorf("engine: append update %s: %w", rec.CorrelationID, err)
	}
	e.sink.Publish(protocol.LifecycleEvent{
		Type:           protocol.EventTicketUpdated,
		CorrelationID:  rec.CorrelationID,
		RemoteTicketID: rec.RemoteTicketID,
		RequestType:    rec.RequestType,
		Status:         status,
		Message:        comment,
		Timestamp:      time.Now().UTC(),
	})
	return nil
}

// projectSearch refreshes the record's search projection. Failures only mark
// the record unindexed; the periodic resync retries later.
func (e *Engine) projectSearch(ctx context.Context, correlationID string) {
	if e.index == nil {
		return
	}
	rec, err := e.store.Get(correlationID)
	if err != nil || !rec.HasRemote() {
		return
	}
	if err := e.store.SetIndexed(correlationID, false); err != nil {
		e.logger.Warn("mark unindexed failed", "correlation_id", correlationID, "error", err)
		return
	}
	if err := e.index.Upsert(ctx, rec); err != nil {
		e.logger.Warn("search projection failed", "correlation_id", correlationID, "error", err)
		return
	}
	if err := e.store.SetIndexed(correlationID, true); err != nil {
		e.logger.Warn("mark indexed failed", "correlation_id", correlationID, "error", err)
	}
}

func anyNonTerminal(rec *protocol.TicketRecord) bool {
	for _, actions := range rec.Actions {
		for _, a := range actions {
			if !a.Status.Terminal() {
				return true
			}
		}
	}
	return false
}

func fallbackActionReply(outcome protocol.ActionRecord, fields *protocol.AccessFields) string {
	switch outcome.Status {
	case protocol.ActionCompleted:
		return fmt.Sprintf("Done: %s now has %s access to %s.",
			fields.Principal, fields.Level, fields.Repository)
	case protocol.ActionRevoked:
		return fmt.Sprintf("Done: access to %s has been revoked for %s.",
			fields.Repository, fields.Principal)
	case protocol.ActionPending:
		return fmt.Sprintf("Your access request for %s on %s has been filed and is awaiting completion. "+
			"I will confirm once it is done.", fields.Principal, fields.Repository)
	default:
		return fmt.Sprintf("I could not complete the access change for %s on %s: %s. "+
			"The failure has been recorded on your ticket.",
			fields.Principal, fields.Repository, outcome.Message)
	}
}
