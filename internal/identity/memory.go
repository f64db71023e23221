package identity

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used in
// tests and single-node development setups.
type InMemory struct {
	mu     sync.RWMutex
	byChat map[string]*Identity
	byGame map[string]string // gameID -> chatID
	now    func() time.Time
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		byChat: make(map[string]*Identity),
		byGame: make(map[string]string),
		now:    time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *InMemory) WithClock(fn func() time.Time) *InMemory {
	if fn != nil {
		s.now = fn
	}
	return s
}

func (s *InMemory) FindByChatID(ctx context.Context, chatID string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byChat[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *InMemory) FindByGameID(ctx context.Context, gameID string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chatID, ok := s.byGame[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.byChat[chatID]
	return &out, nil
}

func (s *InMemory) Upsert(ctx context.Context, chatID, chatTag string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	rec, ok := s.byChat[chatID]
	if !ok {
		rec = &Identity{
			ChatID:    chatID,
			ChatTag:   chatTag,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.byChat[chatID] = rec
	} else if rec.ChatTag != chatTag {
		rec.ChatTag = chatTag
		rec.UpdatedAt = now
	}
	out := *rec
	return &out, nil
}

func (s *InMemory) CommitLink(ctx context.Context, chatID, gameID, gameName string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byChat[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	if holder, taken := s.byGame[gameID]; taken && holder != chatID {
		return nil, ErrConflict
	}
	if rec.GameID != "" {
		delete(s.byGame, rec.GameID)
	}
	rec.GameID = gameID
	rec.GameName = gameName
	rec.Linked = true
	rec.UpdatedAt = s.now().UTC()
	s.byGame[gameID] = chatID
	out := *rec
	return &out, nil
}

func (s *InMemory) Unlink(ctx context.Context, chatID string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byChat[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Linked {
		delete(s.byGame, rec.GameID)
		rec.GameID = ""
		rec.GameName = ""
		rec.Linked = false
		rec.UpdatedAt = s.now().UTC()
	}
	out := *rec
	return &out, nil
}

func (s *InMemory) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Total: len(s.byChat)}
	for _, rec := range s.byChat {
		if rec.Linked {
			st.Linked++
		}
	}
	st.Unlinked = st.Total - st.Linked
	return st, nil
}
