package verify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gamelink.org/internal/identity"
)

// InMemory implements Ledger with in-process concurrency safety. The
// single mutex makes Complete linearizable per code without store-level
// transactions.
type InMemory struct {
	mu         sync.Mutex
	records    map[string]*Verification // normalized code -> record
	tokens     map[string]*GameToken
	identities identity.Store
	ttl        time.Duration
	tokenTTL   time.Duration
	now        func() time.Time
}

var _ Ledger = (*InMemory)(nil)

// Option configures InMemory.
type Option func(*InMemory)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *InMemory) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithTTL overrides the verification code TTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *InMemory) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// NewInMemory creates a ledger committing links through ids.
func NewInMemory(ids identity.Store, opts ...Option) *InMemory {
	l := &InMemory{
		records:    make(map[string]*Verification),
		tokens:     make(map[string]*GameToken),
		identities: ids,
		ttl:        DefaultTTL,
		tokenTTL:   TokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *InMemory) Open(ctx context.Context, ownerID, gameID, gameName string) (*Verification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()

	// One live code per owner: lapse any prior pending record eagerly.
	for _, rec := range l.records {
		if rec.OwnerID == ownerID && rec.Status == StatusPending {
			rec.Status = StatusExpired
		}
	}

	var code string
	for {
		c, err := NewCode()
		if err != nil {
			return nil, err
		}
		existing, taken := l.records[c]
		if !taken || existing.Status != StatusPending || !existing.ExpiresAt.After(now) {
			code = c
			break
		}
		// collision with a live code: retry, never overwrite
	}

	rec := &Verification{
		Code:      code,
		OwnerID:   ownerID,
		GameID:    gameID,
		GameName:  gameName,
		Status:    StatusPending,
		ExpiresAt: now.Add(l.ttl),
		CreatedAt: now,
	}
	l.records[code] = rec
	out := *rec
	return &out, nil
}

func (l *InMemory) FindByCode(ctx context.Context, code string) (*Verification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[NormalizeCode(code)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (l *InMemory) FindPendingByOwner(ctx context.Context, ownerID string) (*Verification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for _, rec := range l.records {
		if rec.OwnerID == ownerID && rec.Status == StatusPending && rec.ExpiresAt.After(now) {
			out := *rec
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (l *InMemory) Complete(ctx context.Context, code string) (*identity.Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[NormalizeCode(code)]
	if !ok || rec.Status != StatusPending || !rec.ExpiresAt.After(l.now()) {
		return nil, ErrInvalidOrExpired
	}

	// Commit first, flip after: a uniqueness conflict must leave the
	// record Pending. The ledger mutex is held across both, so no second
	// completion of the same code can interleave.
	linked, err := l.identities.CommitLink(ctx, rec.OwnerID, rec.GameID, rec.GameName)
	if err != nil {
		return nil, err
	}
	rec.Status = StatusCompleted
	return linked, nil
}

func (l *InMemory) OpenToken(ctx context.Context, ownerID string) (*GameToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	tok := &GameToken{
		Token:     uuid.NewString(),
		OwnerID:   ownerID,
		ExpiresAt: now.Add(l.tokenTTL),
		CreatedAt: now,
	}
	l.tokens[tok.Token] = tok
	out := *tok
	return &out, nil
}

func (l *InMemory) ConsumeToken(ctx context.Context, token string) (*GameToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok, ok := l.tokens[token]
	if !ok || tok.Used || !tok.ExpiresAt.After(l.now()) {
		return nil, ErrTokenInvalid
	}
	tok.Used = true
	out := *tok
	return &out, nil
}

func (l *InMemory) SweepExpired(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	expired := 0
	for _, rec := range l.records {
		if rec.Status == StatusPending && !rec.ExpiresAt.After(now) {
			rec.Status = StatusExpired
			expired++
		}
	}
	for key, tok := range l.tokens {
		if tok.Used || !tok.ExpiresAt.After(now) {
			delete(l.tokens, key)
		}
	}
	return expired, nil
}
