package ticket

import (
	"errors"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// ErrNotFound is returned when no record exists for a lookup key.
var ErrNotFound = errors.New("ticket: record not found")

// Store is the persistence interface for ticket records. Every mutation is a
// single atomic statement (upsert, conditional update, or append), so the
// ingestion and reconciliation loops can touch the same record concurrently
// without read-modify-write races.
type Store interface {
	// InsertIfAbsent creates the record unless one already exists for its
	// correlation ID. Returns true when the record was inserted.
	InsertIfAbsent(rec *protocol.TicketRecord) (bool, error)
	// Get retrieves a record with its chain, ledger, and actions.
	Get(correlationID string) (*protocol.TicketRecord, error)
	// GetByRemoteID retrieves a record by its tracker ticket ID.
	GetByRemoteID(remoteID int64) (*protocol.TicketRecord, error)
	// List returns records matching the filter, newest first.
	List(filter Filter) ([]*protocol.TicketRecord, error)
	// RequestTypes returns the distinct request types present in the store.
	RequestTypes() ([]string, error)

	// AppendChain appends a conversation entry. Returns false without error
	// when an entry with the same event ID already exists anywhere in the
	// store; this is the authoritative dedup check.
	AppendChain(correlationID string, e protocol.ChainEntry) (bool, error)
	// HasEvent reports whether any chain entry carries the given event ID.
	HasEvent(eventID string) (bool, error)
	// EventIDs returns every known chain event ID, for priming the dedup
	// guard after a restart.
	EventIDs() ([]string, error)

	// AppendUpdate appends a ledger entry.
	AppendUpdate(correlationID string, u protocol.UpdateEntry) error
	// CountUpdates returns the ledger length, used to mint deterministic
	// local revision identifiers.
	CountUpdates(correlationID string) (int, error)

	// AppendAction records a new action under the given domain.
	AppendAction(correlationID, domain string, a protocol.ActionRecord) error
	// ResolveAction transitions the oldest matching action from "pending" to
	// a terminal status. Returns false when no pending action matched.
	ResolveAction(correlationID, domain, actionType, target string, to protocol.ActionStatus, message string) (bool, error)

	// SetSummary updates the mutable title/description fields.
	SetSummary(correlationID, title, description string) error
	// SetRemoteID fills the tracker ticket ID on a record that has none.
	SetRemoteID(correlationID string, remoteID int64) error
	// SetPendingActions flips the pending-actions flag.
	SetPendingActions(correlationID string, pending bool) error
	// SetIndexed marks whether the record is projected into search.
	SetIndexed(correlationID string, indexed bool) error
	// Unindexed returns records not yet projected into the search store.
	Unindexed() ([]*protocol.TicketRecord, error)

	// AdvanceWatermark raises the high-water mark to revision if it is
	// higher than the stored value; it never moves backward.
	AdvanceWatermark(correlationID string, revision int) error
}

// Filter constrains ticket list queries.
type Filter struct {
	RequestType string // exact match on request_type
	RemoteOnly  bool   // only records with a tracker ticket
	Limit       int    // 0 = no limit
}
