package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opsdesk-io/opsdesk/internal/ticket"
)

// Resyncer periodically re-indexes ticket records whose search projection is
// stale. Records are marked unindexed whenever their summary or ledger
// changes; the resync picks them up on the next tick.
type Resyncer struct {
	cron   *cron.Cron
	store  ticket.Store
	index  Index
	logger *slog.Logger
}

// NewResyncer creates a resyncer on the given schedule. The schedule is a
// standard cron expression (5 fields) or a predefined one like @every 5m.
func NewResyncer(store ticket.Store, index Index, schedule string, logger *slog.Logger) (*Resyncer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resyncer{
		cron:   cron.New(),
		store:  store,
		index:  index,
		logger: logger,
	}
	if _, err := r.cron.AddFunc(schedule, r.tick); err != nil {
		return nil, fmt.Errorf("search: invalid resync schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the resync scheduler. Blocks until the context is cancelled.
func (r *Resyncer) Start(ctx context.Context) error {
	r.cron.Start()
	r.logger.Info("search resync started")

	<-ctx.Done()
	r.cron.Stop()
	r.logger.Info("search resync stopped")
	return ctx.Err()
}

func (r *Resyncer) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.Run(ctx); err != nil {
		r.logger.Error("search resync failed", "error", err)
	}
}

// Run indexes every record currently marked unindexed.
func (r *Resyncer) Run(ctx context.Context) error {
	records, err := r.store.Unindexed()
	if err != nil {
		return fmt.Errorf("search: list unindexed: %w", err)
	}
	for _, rec := range records {
		if err := r.index.Upsert(ctx, rec); err != nil {
			r.logger.Warn("resync upsert failed",
				"correlation_id", rec.CorrelationID, "error", err)
			continue
		}
		if err := r.store.SetIndexed(rec.CorrelationID, true); err != nil {
			return fmt.Errorf("search: mark indexed %s: %w", rec.CorrelationID, err)
		}
		r.logger.Info("ticket reindexed",
			"correlation_id", rec.CorrelationID, "remote_id", rec.RemoteTicketID)
	}
	return nil
}
