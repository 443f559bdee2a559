package acceptance

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps redeemed nonces in process memory. Entries are dropped
// once their ticket has expired.
type MemoryStore struct {
	mu   sync.Mutex
	used map[string]time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{used: make(map[string]time.Time)}
}

// Redeem implements NonceStore. Expired entries are pruned relative to the
// redemption time.
func (s *MemoryStore) Redeem(_ context.Context, r Redemption) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune(r.RedeemedAt)
	key := strings.ToLower(r.ArbiterPubKey) + "/" + r.Nonce
	if _, ok := s.used[key]; ok {
		return false, nil
	}
	s.used[key] = r.ExpiresAt
	return true, nil
}

// Len reports how many nonces are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}

func (s *MemoryStore) prune(now time.Time) {
	for k, exp := range s.used {
		if !now.Before(exp) {
			delete(s.used, k)
		}
	}
}

// Close implements NonceStore.
func (s *MemoryStore) Close() error { return nil }
