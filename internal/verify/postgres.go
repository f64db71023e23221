package verify

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"gamelink.org/internal/identity"
)

// PGStore implements Ledger using PostgreSQL. Complete runs the status
// flip and the identity commit in a single transaction, so a uniqueness
// conflict rolls both back and the record stays Pending.
type PGStore struct {
	db *sql.DB
}

var _ Ledger = (*PGStore)(nil)

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const verificationColumns = `code, owner_id, game_id, game_name, status, expires_at, created_at`

func scanVerification(row interface{ Scan(...any) error }) (*Verification, error) {
	var rec Verification
	err := row.Scan(&rec.Code, &rec.OwnerID, &rec.GameID, &rec.GameName, &rec.Status, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PGStore) Open(ctx context.Context, ownerID, gameID, gameName string) (*Verification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// One live code per owner: lapse any prior pending record eagerly.
	if _, err := tx.ExecContext(ctx, `
		update verifications set status='expired'
		where owner_id=$1 and status='pending'
	`, ownerID); err != nil {
		return nil, err
	}

	var rec *Verification
	for {
		code, err := NewCode()
		if err != nil {
			return nil, err
		}
		row := tx.QueryRowContext(ctx, `
			insert into verifications(code, owner_id, game_id, game_name, status, expires_at)
			values ($1,$2,$3,$4,'pending', now() + make_interval(secs => $5))
			on conflict (code) do nothing
			returning `+verificationColumns,
			code, ownerID, gameID, gameName, DefaultTTL.Seconds())
		rec, err = scanVerification(row)
		if errors.Is(err, ErrNotFound) {
			// code already issued once in history: draw again
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PGStore) FindByCode(ctx context.Context, code string) (*Verification, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+verificationColumns+` from verifications where code=$1`,
		NormalizeCode(code))
	return scanVerification(row)
}

func (s *PGStore) FindPendingByOwner(ctx context.Context, ownerID string) (*Verification, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+verificationColumns+` from verifications
		where owner_id=$1 and status='pending' and expires_at > now()
		order by created_at desc
		limit 1
	`, ownerID)
	return scanVerification(row)
}

func (s *PGStore) Complete(ctx context.Context, code string) (*identity.Identity, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Conditional flip keyed on current status: of two racing completions
	// only one sees the Pending row.
	var ownerID, gameID, gameName string
	err = tx.QueryRowContext(ctx, `
		update verifications set status='completed'
		where code=$1 and status='pending' and expires_at > now()
		returning owner_id, game_id, game_name
	`, NormalizeCode(code)).Scan(&ownerID, &gameID, &gameName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidOrExpired
	}
	if err != nil {
		return nil, err
	}

	var holder string
	err = tx.QueryRowContext(ctx,
		`select chat_id from identities where game_id=$1 for update`, gameID).Scan(&holder)
	switch {
	case err == nil:
		if holder != ownerID {
			return nil, identity.ErrConflict
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
		returning chat_id, chat_tag, coalesce(game_id,''), coalesce(game_name,''), linked, created_at, updated_at
	`, ownerID, gameID, gameName)
	var rec identity.Identity
	if err := row.Scan(&rec.ChatID, &rec.ChatTag, &rec.GameID, &rec.GameName, &rec.Linked, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PGStore) OpenToken(ctx context.Context, ownerID string) (*GameToken, error) {
	tok := uuid.NewString()
	row := s.db.QueryRowContext(ctx, `
		insert into game_tokens(token, owner_id, expires_at)
		values ($1,$2, now() + make_interval(secs => $3))
		returning token, owner_id, used, expires_at, created_at
	`, tok, ownerID, TokenTTL.Seconds())
	var rec GameToken
	if err := row.Scan(&rec.Token, &rec.OwnerID, &rec.Used, &rec.ExpiresAt, &rec.CreatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PGStore) ConsumeToken(ctx context.Context, token string) (*GameToken, error) {
	row := s.db.QueryRowContext(ctx, `
		update game_tokens set used=true
		where token=$1 and not used and expires_at > now()
		returning token, owner_id, used, expires_at, created_at
	`, token)
	var rec GameToken
	if err := row.Scan(&rec.Token, &rec.OwnerID, &rec.Used, &rec.ExpiresAt, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	return &rec, nil
}

func (s *PGStore) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update verifications set status='expired'
		where status='pending' and expires_at < now()
	`)
	if err != nil {
		return 0, err
	}
	expired, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `
		delete from game_tokens where used or expires_at < now()
	`); err != nil {
		return int(expired), err
	}
	return int(expired), nil
}
