package protocol

import "time"

// LifecycleEventType tags events published on the observability feed.
type LifecycleEventType string

const (
	EventDetected            LifecycleEventType = "event_detected"
	EventTicketCreated       LifecycleEventType = "ticket_created"
	EventTicketUpdated       LifecycleEventType = "ticket_updated"
	EventReplySent           LifecycleEventType = "reply_sent"
	EventDuplicateSuppressed LifecycleEventType = "duplicate_suppressed"
	EventProcessingError     LifecycleEventType = "error"
	EventSession             LifecycleEventType = "session"
)

// LifecycleEvent is published to the broadcast sink for observability and
// the dashboard. Delivery is fire-and-forget; consumers must tolerate loss.
type LifecycleEvent struct {
	Type           LifecycleEventType `json:"type"`
	EventID        string             `json:"event_id,omitempty"`
	CorrelationID  string             `json:"correlation_id,omitempty"`
	RemoteTicketID int64              `json:"remote_ticket_id,omitempty"`
	RequestType    RequestType        `json:"request_type,omitempty"`
	SessionID      string             `json:"session_id,omitempty"`
	Status         string             `json:"status,omitempty"`
	Message        string             `json:"message,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}
