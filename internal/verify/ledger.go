package verify

import (
	"context"

	"gamelink.org/internal/identity"
)

// Ledger describes persistence operations for verification records and
// game session tokens.
//
// Complete must be linearizable per code: of any number of concurrent
// calls with the same code, at most one observes the Pending record and
// commits the link; the rest fail ErrInvalidOrExpired. When the identity
// commit fails, the status flip must not be observably persisted.
type Ledger interface {
	// Open issues a fresh Pending record with a new code and TTL. Any
	// prior Pending record for the same owner is eagerly expired so a
	// requester never has two live codes.
	Open(ctx context.Context, ownerID, gameID, gameName string) (*Verification, error)
	// FindByCode looks a record up by normalized code, or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Verification, error)
	// FindPendingByOwner returns the owner's live Pending record, or
	// ErrNotFound.
	FindPendingByOwner(ctx context.Context, ownerID string) (*Verification, error)
	// Complete flips the record to Completed and commits the link as one
	// logical transaction, returning the updated identity.
	Complete(ctx context.Context, code string) (*identity.Identity, error)
	// OpenToken issues a single-use game session token for the owner.
	OpenToken(ctx context.Context, ownerID string) (*GameToken, error)
	// ConsumeToken marks the token used; ErrTokenInvalid when absent,
	// already used, or expired.
	ConsumeToken(ctx context.Context, token string) (*GameToken, error)
	// SweepExpired bulk-transitions lapsed Pending records to Expired and
	// purges consumed or lapsed tokens, returning how many records were
	// expired. Never touches Completed records. Safe to run repeatedly
	// and concurrently with reads.
	SweepExpired(ctx context.Context) (int, error)
}
