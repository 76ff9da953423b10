package session

import (
	"context"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process memory. State is lost on restart,
// which the interaction tolerates: a "show more" after a restart gets the
// no-recent-query reply instead of stale data.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore returns an empty in-memory store. Sessions never expire;
// a conversation's state is only replaced by newer state.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, 0)}
}

func (m *MemoryStore) Get(_ context.Context, conversationID string) (Session, error) {
	v, found := m.c.Get(conversationID)
	if !found {
		return Session{}, nil
	}
	s := v.(Session)
	// Copy the mutable parts so a caller editing the returned session cannot
	// corrupt the stored one before Put.
	if s.LastResult != nil {
		lr := *s.LastResult
		s.LastResult = &lr
	}
	if len(s.History) > 0 {
		hist := make([]HistoryEntry, len(s.History))
		copy(hist, s.History)
		s.History = hist
	}
	return s, nil
}

func (m *MemoryStore) Put(_ context.Context, conversationID string, s Session) error {
	m.c.Set(conversationID, s, cache.NoExpiration)
	return nil
}

func (m *MemoryStore) SessionCount(_ context.Context) (int, error) {
	return m.c.ItemCount(), nil
}
