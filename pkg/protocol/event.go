package protocol

import "time"

// InboundEvent is a support request fetched from the message channel.
// ConversationKey is the stable thread key that groups all messages of one
// logical request; EventID is unique per message, even across redeliveries.
type InboundEvent struct {
	EventID         string       `json:"event_id"`
	ConversationKey string       `json:"conversation_key"`
	Sender          string       `json:"sender"`
	Subject         string       `json:"subject"`
	Body            string       `json:"body"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	ReceivedAt      time.Time    `json:"received_at"`
}

// Revision is one entry in a remote ticket's revision history.
type Revision struct {
	ID      int    `json:"revision_id"`
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

// RemoteTicket describes a work item in the external issue tracker.
type RemoteTicket struct {
	ID        int64     `json:"remote_id"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
