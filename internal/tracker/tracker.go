// Package tracker is the boundary to the external issue tracker, the
// system-of-record whose revision history the engine reconciles against.
package tracker

import (
	"context"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Client is the issue-tracker interface the engine depends on.
type Client interface {
	// Create opens a new work item and returns its ID and URL.
	Create(ctx context.Context, title, description string, attachments []protocol.Attachment) (*protocol.RemoteTicket, error)
	// Update transitions a work item's status and appends a comment.
	Update(ctx context.Context, remoteID int64, status, comment string) error
	// Revisions returns the full revision history of a work item, oldest
	// first. Revision IDs are strictly increasing on the tracker side.
	Revisions(ctx context.Context, remoteID int64) ([]protocol.Revision, error)
	// ListAll returns every work item visible to the integration.
	ListAll(ctx context.Context) ([]protocol.RemoteTicket, error)
}

// Status values the engine requests on the remote tracker.
const (
	StatusDoing = "Doing"
	StatusDone  = "Done"
)
