package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/opsdesk-io/opsdesk/internal/ticket"
	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// reconcileOnce runs one reconciliation cycle over every record with a
// tracker ticket. A failure on one ticket never stops the cycle.
func (e *Engine) reconcileOnce(ctx context.Context) error {
	records, err := e.store.List(ticket.Filter{RemoteOnly: true})
	if err != nil {
		return fmt.Errorf("engine: list records: %w", err)
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.reconcileTicket(ctx, rec); err != nil {
			e.logger.Error("ticket reconciliation failed",
				"correlation_id", rec.CorrelationID,
				"remote_id", rec.RemoteTicketID, "error", err)
		}
	}
	return nil
}

// reconcileTicket absorbs tracker revisions above the record's high-water
// mark: one summarized reply for the whole batch, one ledger entry per
// revision, and a watermark advance to the highest revision observed. The
// watermark moves even when summarization fails, so redelivery terminates.
func (e *Engine) reconcileTicket(ctx context.Context, rec *protocol.TicketRecord) error {
	revs, err := e.tracker.Revisions(ctx, rec.RemoteTicketID)
	if err != nil {
		return fmt.Errorf("engine: fetch revisions %d: %w", rec.RemoteTicketID, err)
	}

	var fresh []protocol.Revision
	for _, r := range revs {
		if r.ID > rec.HighWaterMark {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })
	maxID := fresh[len(fresh)-1].ID

	var (
		replySent    bool
		replyEventID string
	)
	body, err := e.classifier.SummarizeRevisions(ctx, rec, fresh)
	if err != nil {
		e.logger.Warn("revision summary failed",
			"correlation_id", rec.CorrelationID, "error", err)
	} else {
		// One reply per batch, keyed by the batch's top revision so a
		// redelivered batch cannot produce a second reply inside the window.
		replyEventID, replySent = e.send(ctx, rec, rec.Sender, rec.Subject,
			fmt.Sprintf("rev-%d", maxID), body, "")
	}

	for _, r := range fresh {
		entry := protocol.UpdateEntry{
			Status:       r.Status,
			Comment:      r.Comment,
			RevisionID:   strconv.Itoa(r.ID),
			Revision:     r.ID,
			ReplySent:    replySent,
			ReplyEventID: replyEventID,
			Timestamp:    time.Now().UTC(),
		}
		if err := e.store.AppendUpdate(rec.CorrelationID, entry); err != nil {
			return fmt.Errorf("engine: append revision %d: %w", r.ID, err)
		}
	}

	if err := e.store.AdvanceWatermark(rec.CorrelationID, maxID); err != nil {
		return fmt.Errorf("engine: advance watermark %s: %w", rec.CorrelationID, err)
	}

	e.sink.Publish(protocol.LifecycleEvent{
		Type:           protocol.EventTicketUpdated,
		CorrelationID:  rec.CorrelationID,
		RemoteTicketID: rec.RemoteTicketID,
		RequestType:    rec.RequestType,
		Message:        fmt.Sprintf("%d new revision(s), watermark %d", len(fresh), maxID),
		Timestamp:      time.Now().UTC(),
	})

	e.projectSearch(ctx, rec.CorrelationID)
	return nil
}
