package protocol

import "time"

// RequestType classifies what a support conversation is asking for.
type RequestType string

const (
	RequestNonIntent    RequestType = "non_intent"
	RequestSummary      RequestType = "request_summary"
	RequestGeneral      RequestType = "general_it_request"
	RequestAccessGrant  RequestType = "access_request"
	RequestAccessRevoke RequestType = "access_revoke"
)

// ActionStatus is the state of a single side-effecting action on a ticket.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionRevoked   ActionStatus = "revoked"
	ActionFailed    ActionStatus = "failed"
)

// Terminal reports whether no further automated transition occurs from s.
func (s ActionStatus) Terminal() bool {
	return s == ActionCompleted || s == ActionRevoked || s == ActionFailed
}

// Attachment describes a file carried by an inbound or outbound message.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Path     string `json:"path,omitempty"`
}

// ChainEntry is one message in a ticket's conversation chain. The chain is
// append-only and no two entries share an EventID.
type ChainEntry struct {
	EventID     string       `json:"event_id"`
	Sender      string       `json:"sender"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Outbound    bool         `json:"outbound,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// UpdateEntry is one entry in a ticket's append-only update ledger.
// Revision carries the numeric revision number for entries mirrored from the
// remote tracker; locally generated entries leave it 0 and identify
// themselves through RevisionID alone.
type UpdateEntry struct {
	Status       string    `json:"status"`
	Comment      string    `json:"comment"`
	RevisionID   string    `json:"revision_id"`
	Revision     int       `json:"revision,omitempty"`
	ReplySent    bool      `json:"reply_sent"`
	ReplyEventID string    `json:"reply_event_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ActionRecord is one side-effecting action taken (or attempted) for a
// ticket, grouped under an action domain such as "access".
type ActionRecord struct {
	ActionType string       `json:"action_type"`
	Target     string       `json:"target"`
	Parameter  string       `json:"parameter,omitempty"`
	Status     ActionStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
}

// TicketRecord is the durable record of one support conversation, keyed by
// its correlation ID. RemoteTicketID is 0 until a ticket has actually been
// created in the external tracker (non-actionable conversations never get
// one).
type TicketRecord struct {
	CorrelationID   string                    `json:"correlation_id"`
	RemoteTicketID  int64                     `json:"remote_ticket_id,omitempty"`
	Title           string                    `json:"title"`
	Description     string                    `json:"description"`
	RequestType     RequestType               `json:"request_type"`
	Sender          string                    `json:"sender"`
	Subject         string                    `json:"subject"`
	Chain           []ChainEntry              `json:"conversation_chain"`
	Ledger          []UpdateEntry             `json:"update_ledger"`
	Actions         map[string][]ActionRecord `json:"action_details,omitempty"`
	PendingActions  bool                      `json:"pending_actions"`
	IndexedInSearch bool                      `json:"indexed_in_search"`
	HighWaterMark   int                       `json:"high_water_mark"`
	CreatedAt       time.Time                 `json:"created_at"`
}

// HasRemote reports whether a tracker ticket exists for this record.
func (t *TicketRecord) HasRemote() bool { return t.RemoteTicketID != 0 }
