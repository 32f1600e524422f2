// Package access is the boundary to the repository access-control system.
package access

import "context"

// Controller grants and revokes repository permissions. Both calls return a
// human-readable message suitable for the ticket ledger; failures come back
// as errors and are recorded, never retried automatically.
type Controller interface {
	Grant(ctx context.Context, repository, principal, level string) (string, error)
	Revoke(ctx context.Context, repository, principal string) (string, error)
}
