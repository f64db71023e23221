package identity

import "context"

// Store describes persistence operations for linked identities.
//
// CommitLink is the single mutation path that can set Linked=true. It
// must execute atomically and re-check game-id uniqueness at commit time
// so concurrent linking attempts for the same game account cannot both
// succeed.
type Store interface {
	// FindByChatID returns the record for a chat account, or ErrNotFound.
	FindByChatID(ctx context.Context, chatID string) (*Identity, error)
	// FindByGameID returns the record holding a game account, or ErrNotFound.
	FindByGameID(ctx context.Context, gameID string) (*Identity, error)
	// Upsert creates the record if absent, else refreshes the display tag
	// only. It never touches link state and is idempotent.
	Upsert(ctx context.Context, chatID, chatTag string) (*Identity, error)
	// CommitLink sets GameID/GameName/Linked=true, failing with
	// ErrConflict if another record already holds gameID.
	CommitLink(ctx context.Context, chatID, gameID, gameName string) (*Identity, error)
	// Unlink clears the game fields. No-op-safe: returns the current
	// record unchanged when it is already unlinked.
	Unlink(ctx context.Context, chatID string) (*Identity, error)
	// Stats counts total and linked records.
	Stats(ctx context.Context) (Stats, error)
}
