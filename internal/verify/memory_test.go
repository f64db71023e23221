package verify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gamelink.org/internal/identity"
)

type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

func newFixture(t *testing.T) (*InMemory, *identity.InMemory, *fakeClock) {
	t.Helper()
	clock := &fakeClock{cur: time.Unix(1700000000, 0)}
	ids := identity.NewInMemory().WithClock(clock.Now)
	ledger := NewInMemory(ids, WithClock(clock.Now))
	return ledger, ids, clock
}

func TestOpenIssuesNormalizedCode(t *testing.T) {
	ledger, ids, _ := newFixture(t)
	ctx := context.Background()
	ids.Upsert(ctx, "chat-1", "alice#0")

	rec, err := ledger.Open(ctx, "chat-1", "game-9", "Steve")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Code) != CodeLength {
		t.Fatalf("code length %d, want %d", len(rec.Code), CodeLength)
	}
	if rec.Code != strings.ToUpper(rec.Code) {
		t.Fatalf("code not normalized: %q", rec.Code)
	}
	if rec.Status != StatusPending {
		t.Fatalf("status %q, want pending", rec.Status)
	}

	// case-insensitive lookup
	found, err := ledger.FindByCode(ctx, strings.ToLower(rec.Code))
	if err != nil {
		t.Fatal(err)
	}
	if found.Code != rec.Code {
		t.Fatalf("lookup mismatch: %q vs %q", found.Code, rec.Code)
	}
}

func TestOpenSupersedesPriorPending(t *testing.T) {
	ledger, ids, _ := newFixture(t)
	ctx := context.Background()
	ids.Upsert(ctx, "chat-1", "alice#0")

	first, _ := ledger.Open(ctx, "chat-1", "game-1", "Steve")
	second, _ := ledger.Open(ctx, "chat-1", "game-2", "Alex")

	old, err := ledger.FindByCode(ctx, first.Code)
	if err != nil {
		t.Fatal(err)
	}
	if old.Status != StatusExpired {
		t.Fatalf("prior record status %q, want expired", old.Status)
	}
	if _, err := ledger.Complete(ctx, first.Code); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("superseded code must not complete, got %v", err)
	}

	live, err := ledger.FindPendingByOwner(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if live.Code != second.Code {
		t.Fatalf("pending record is %q, want %q", live.Code, second.Code)
	}
}

func TestCompleteExactlyOnce(t *testing.T) {
	ledger, ids, _ := newFixture(t)
	ctx := context.Background()
	ids.Upsert(ctx, "chat-1", "alice#0")
	rec, _ := ledger.Open(ctx, "chat-1", "game-9", "Steve")

	linked, err := ledger.Complete(ctx, rec.Code)
	if err != nil {
		t.Fatal(err)
	}
	if !linked.Linked || linked.GameName != "Steve" {
		t.Fatalf("unexpected identity: %+v", linked)
	}

	if _, err := ledger.Complete(ctx, rec.Code); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("second completion must fail, got %v", err)
	}
}

func TestCompleteAfterExpiryFailsWithoutSweep(t *testing.T) {
	ledger, ids, clock := newFixture(t)
	ctx := context.Background()
	ids.Upsert(ctx, "chat-1", "alice#0")
	rec, _ := ledger.Open(ctx, "chat-1", "game-9", "Steve")

	clock.Advance(DefaultTTL + time.Second)

	if _, err := ledger.Complete(ctx, rec.Code); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired, got %v", err)
	}
}

func TestConflictLeavesRecordPending(t *testing.T) {
	ledger, ids, _ := newFixture(t)
	ctx := context.Background()
	ids.Upsert(ctx, "chat-1", "alice#0")
	ids.Upsert(ctx, "chat-2", "bob#0")

	// chat-1 claims the game account first
	r1, _ := ledger.Open(ctx, "chat-1", "game-9", "Steve")
	if _, err := ledger.Complete(ctx, r1.Code); err != nil {
		t.Fatal(err)
	}

	r2, _ := ledger.Open(ctx, "chat-2", "game-9", "Steve")
	if _, err := ledger.Complete(ctx, r2.Code); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected identity.ErrConflict, got %v", err)
	}

	rec, err := ledger.FindByCode(ctx, r2.Code)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != StatusPending {
		t.Fatalf("failed commit must leave record pending, got %q", rec.Status)
	}
}

func TestSweepNeverTouchesCompleted(t *testing.T) {
	ledger, ids, clock := newFixture(t)
	ctx := context.Background()
	ids.Upsert(ctx, "chat-1", "alice#0")
	ids.Upsert(ctx, "chat-2", "bob#0")

	done, _ := ledger.Open(ctx, "chat-1", "game-1", "Steve")
	ledger.Complete(ctx, done.Code)
	stale, _ := ledger.Open(ctx, "chat-2", "game-2", "Alex")

	clock.Advance(DefaultTTL + time.Minute)

	expired, err := ledger.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired record, got %d", expired)
	}

	completed, _ := ledger.FindByCode(ctx, done.Code)
	if completed.Status != StatusCompleted {
		t.Fatalf("completed record transitioned to %q", completed.Status)
	}
	lapsed, _ := ledger.FindByCode(ctx, stale.Code)
	if lapsed.Status != StatusExpired {
		t.Fatalf("stale record status %q, want expired", lapsed.Status)
	}

	// repeated sweep is a no-op
	again, err := ledger.SweepExpired(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second sweep: expired=%d err=%v", again, err)
	}
}

func TestGameTokenSingleUse(t *testing.T) {
	ledger, ids, clock := newFixture(t)
	ctx := context.Background()
	ids.Upsert(ctx, "chat-1", "alice#0")

	tok, err := ledger.OpenToken(ctx, "chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.ConsumeToken(ctx, tok.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.ConsumeToken(ctx, tok.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("second consume must fail, got %v", err)
	}

	fresh, _ := ledger.OpenToken(ctx, "chat-1")
	clock.Advance(TokenTTL + time.Second)
	if _, err := ledger.ConsumeToken(ctx, fresh.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expired token must fail, got %v", err)
	}
}

func TestConcurrentCompletionsSameGameAccount(t *testing.T) {
	ledger, ids, _ := newFixture(t)
	ctx := context.Background()

	const N = 16
	codes := make([]string, N)
	for i := 0; i < N; i++ {
		owner := owners(i)
		ids.Upsert(ctx, owner, "tag#0")
		rec, err := ledger.Open(ctx, owner, "game-contested", "Steve")
		if err != nil {
			t.Fatal(err)
		}
		codes[i] = rec.Code
	}

	var wg sync.WaitGroup
	wins := make(chan struct{}, N)
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			if _, err := ledger.Complete(ctx, code); err == nil {
				wins <- struct{}{}
			}
		}(codes[i])
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winning completion, got %d", count)
	}

	holder, err := ids.FindByGameID(ctx, "game-contested")
	if err != nil {
		t.Fatal(err)
	}
	if !holder.Linked {
		t.Fatalf("winner not linked: %+v", holder)
	}
}

func owners(i int) string {
	return "chat-" + string(rune('a'+i))
}
