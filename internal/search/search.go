// Package search projects ticket records into an external similarity-search
// service. Indexing is best-effort: failures are logged and retried by the
// periodic resync, never surfaced to the ingest path.
package search

import (
	"context"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Hit is one similarity-search result.
type Hit struct {
	RemoteTicketID int64   `json:"remote_ticket_id"`
	Title          string  `json:"title"`
	Text           string  `json:"text"`
	TextType       string  `json:"text_type"`
	Distance       float64 `json:"distance"`
}

// Index stores ticket projections and answers similarity queries.
type Index interface {
	// Upsert replaces all documents for the record's remote ticket id with a
	// fresh projection of title, description and ledger comments.
	Upsert(ctx context.Context, rec *protocol.TicketRecord) error
	// Query returns tickets similar to the free-text query.
	Query(ctx context.Context, query string, limit int) ([]Hit, error)
}
