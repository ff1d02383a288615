package listing

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tsntt/footballdash/internal/domain"
)

// MemoryStore keeps the last listing in process. It is used when no Redis
// URL is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	ttl     time.Duration
	listing *domain.Listing
	savedAt time.Time
}

func NewMemoryStore(clock clockwork.Clock, ttl time.Duration) *MemoryStore {
	return &MemoryStore{clock: clock, ttl: ttl}
}

func (s *MemoryStore) Load(_ context.Context) (*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.listing == nil {
		return nil, nil
	}
	if s.ttl > 0 && s.clock.Since(s.savedAt) >= s.ttl {
		return nil, nil
	}
	cp := *s.listing
	cp.Matches = slices.Clone(cp.Matches)
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, listing domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing.Matches = slices.Clone(listing.Matches)
	s.listing = &listing
	s.savedAt = s.clock.Now()
	return nil
}
