package identity

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const identityColumns = `chat_id, chat_tag, coalesce(game_id,''), coalesce(game_name,''), linked, created_at, updated_at`

func scanIdentity(row interface{ Scan(...any) error }) (*Identity, error) {
	var rec Identity
	err := row.Scan(&rec.ChatID, &rec.ChatTag, &rec.GameID, &rec.GameName, &rec.Linked, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PGStore) FindByChatID(ctx context.Context, chatID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where chat_id=$1`, chatID)
	return scanIdentity(row)
}

func (s *PGStore) FindByGameID(ctx context.Context, gameID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+identityColumns+` from identities where game_id=$1`, gameID)
	return scanIdentity(row)
}

func (s *PGStore) Upsert(ctx context.Context, chatID, chatTag string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into identities(chat_id, chat_tag)
		values ($1,$2)
		on conflict (chat_id) do update
		set chat_tag = excluded.chat_tag, updated_at = now()
		returning `+identityColumns, chatID, chatTag)
	return scanIdentity(row)
}

func (s *PGStore) CommitLink(ctx context.Context, chatID, gameID, gameName string) (*Identity, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Re-check the uniqueness invariant inside the transaction; the
	// proposal-time check in the orchestrator can be stale by now.
	var holder string
	err = tx.QueryRowContext(ctx,
		`select chat_id from identities where game_id=$1 for update`, gameID).Scan(&holder)
	switch {
	case err == nil:
		if holder != chatID {
			return nil, ErrConflict
		}
	case errors.Is(err, sql.ErrNoRows):
		// game account unclaimed
	default:
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		update identities
		set game_id=$2, game_name=$3, linked=true, updated_at=now()
		where chat_id=$1
		returning `+identityColumns, chatID, gameID, gameName)
	rec, err := scanIdentity(row)
	if err != nil {
		return nil, mapConflict(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapConflict(err)
	}
	return rec, nil
}

func (s *PGStore) Unlink(ctx context.Context, chatID string) (*Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		update identities
		set game_id=null, game_name=null, linked=false,
		    updated_at = case when linked then now() else updated_at end
		where chat_id=$1
		returning `+identityColumns, chatID)
	return scanIdentity(row)
}

func (s *PGStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		select count(*), count(*) filter (where linked)
		from identities
	`).Scan(&st.Total, &st.Linked)
	if err != nil {
		return Stats{}, err
	}
	st.Unlinked = st.Total - st.Linked
	return st, nil
}

// mapConflict translates the unique-index violation on identities.game_id
// into ErrConflict; the partial index is the last line of defense when
// two serializable transactions race on an unclaimed game account.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrConflict
	}
	return err
}
