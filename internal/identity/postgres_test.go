package identity

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func identityRows(chatID, chatTag, gameID, gameName string, linked bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"chat_id", "chat_tag", "game_id", "game_name", "linked", "created_at", "updated_at"}).
		AddRow(chatID, chatTag, gameID, gameName, linked, now, now)
}

func TestPGFindByChatID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select .* from identities where chat_id=").
		WithArgs("chat-1").
		WillReturnRows(identityRows("chat-1", "alice#0", "", "", false))

	s := NewPGStore(db)
	rec, err := s.FindByChatID(context.Background(), "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ChatID != "chat-1" || rec.Linked {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGFindByGameIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select .* from identities where game_id=").
		WithArgs("game-9").
		WillReturnError(sql.ErrNoRows)

	s := NewPGStore(db)
	if _, err := s.FindByGameID(context.Background(), "game-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGCommitLinkSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("select chat_id from identities where game_id=.* for update").
		WithArgs("game-9").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("update identities").
		WithArgs("chat-1", "game-9", "Steve").
		WillReturnRows(identityRows("chat-1", "alice#0", "game-9", "Steve", true))
	mock.ExpectCommit()

	s := NewPGStore(db)
	rec, err := s.CommitLink(context.Background(), "chat-1", "game-9", "Steve")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Linked || rec.GameName != "Steve" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGCommitLinkConflictRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("select chat_id from identities where game_id=.* for update").
		WithArgs("game-9").
		WillReturnRows(sqlmock.NewRows([]string{"chat_id"}).AddRow("chat-other"))
	mock.ExpectRollback()

	s := NewPGStore(db)
	if _, err := s.CommitLink(context.Background(), "chat-1", "game-9", "Steve"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select count").
		WillReturnRows(sqlmock.NewRows([]string{"count", "linked"}).AddRow(10, 4))

	s := NewPGStore(db)
	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 10 || st.Linked != 4 || st.Unlinked != 6 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
