package verify

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"gamelink.org/internal/identity"
)

func verificationRows(code, owner string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"code", "owner_id", "game_id", "game_name", "status", "expires_at", "created_at"}).
		AddRow(code, owner, "game-9", "Steve", "pending", now.Add(DefaultTTL), now)
}

func TestPGOpenSupersedesAndInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update verifications set status='expired'").
		WithArgs("chat-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into verifications").
		WithArgs(sqlmock.AnyArg(), "chat-1", "game-9", "Steve", sqlmock.AnyArg()).
		WillReturnRows(verificationRows("AB12CD", "chat-1"))
	mock.ExpectCommit()

	s := NewPGStore(db)
	rec, err := s.Open(context.Background(), "chat-1", "game-9", "Steve")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusPending {
		t.Fatalf("status %q, want pending", rec.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGOpenRetriesOnCodeCollision(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update verifications set status='expired'").
		WithArgs("chat-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// first draw collides (on conflict do nothing -> no row), second succeeds
	mock.ExpectQuery("insert into verifications").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("insert into verifications").
		WillReturnRows(verificationRows("ZZ99ZZ", "chat-1"))
	mock.ExpectCommit()

	s := NewPGStore(db)
	rec, err := s.Open(context.Background(), "chat-1", "game-9", "Steve")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Code != "ZZ99ZZ" {
		t.Fatalf("unexpected code %q", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGCompleteHappyPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("update verifications set status='completed'").
		WithArgs("AB12CD").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "game_id", "game_name"}).
			AddRow("chat-1", "game-9", "Steve"))
	mock.ExpectQuery("select chat_id from identities where game_id=.* for update").
		WithArgs("game-9").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("update identities").
		WithArgs("chat-1", "game-9", "Steve").
		WillReturnRows(sqlmock.NewRows([]string{"chat_id", "chat_tag", "game_id", "game_name", "linked", "created_at", "updated_at"}).
			AddRow("chat-1", "alice#0", "game-9", "Steve", true, now, now))
	mock.ExpectCommit()

	s := NewPGStore(db)
	rec, err := s.Complete(context.Background(), "ab12cd")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Linked || rec.GameID != "game-9" {
		t.Fatalf("unexpected identity: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGCompleteConflictRollsBackFlip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("update verifications set status='completed'").
		WithArgs("AB12CD").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id", "game_id", "game_name"}).
			AddRow("chat-1", "game-9", "Steve"))
	mock.ExpectQuery("select chat_id from identities where game_id=.* for update").
		WithArgs("game-9").
		WillReturnRows(sqlmock.NewRows([]string{"chat_id"}).AddRow("chat-other"))
	mock.ExpectRollback()

	s := NewPGStore(db)
	if _, err := s.Complete(context.Background(), "AB12CD"); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected identity.ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGCompleteStaleCode(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("update verifications set status='completed'").
		WithArgs("AB12CD").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	s := NewPGStore(db)
	if _, err := s.Complete(context.Background(), "AB12CD"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired, got %v", err)
	}
}

func TestPGSweepExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update verifications set status='expired'").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from game_tokens").
		WillReturnResult(sqlmock.NewResult(0, 2))

	s := NewPGStore(db)
	expired, err := s.SweepExpired(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if expired != 3 {
		t.Fatalf("expected 3 expired, got %d", expired)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
