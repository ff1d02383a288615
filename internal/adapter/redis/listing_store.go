package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tsntt/footballdash/internal/domain"
)

const listingKey = "footballdash:listing:admin"

// ListingStore keeps the last admin listing as a JSON value with a TTL, so a
// restarted console (or a second replica) can serve it before its first fetch.
type ListingStore struct {
	rdb goredis.Cmdable
	ttl time.Duration
}

var _ domain.ListingStore = (*ListingStore)(nil)

func NewListingStore(rdb goredis.Cmdable, ttl time.Duration) *ListingStore {
	return &ListingStore{rdb: rdb, ttl: ttl}
}

func (s *ListingStore) Load(ctx context.Context) (*domain.Listing, error) {
	data, err := s.rdb.Get(ctx, listingKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}

	var listing domain.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return &listing, nil
}

func (s *ListingStore) Save(ctx context.Context, listing domain.Listing) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("encode listing: %w", err)
	}
	if err := s.rdb.Set(ctx, listingKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save listing: %w", err)
	}
	return nil
}
