package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AvailabilityStore holds the cached per-(provider, day) availability view.
// Entries expire after a short TTL, but every local mutation deletes the
// affected entry synchronously so the next read observes the change.
type AvailabilityStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityStore(client *redis.Client, ttl time.Duration) *AvailabilityStore {
	return &AvailabilityStore{client: client, ttl: ttl}
}

func availabilityKey(providerID uuid.UUID, day string) string {
	return fmt.Sprintf("avail:%s:%s", providerID.String(), day)
}

// Get returns the cached view for one provider-day, or found=false on a miss.
func (s *AvailabilityStore) Get(ctx context.Context, providerID uuid.UUID, day string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, availabilityKey(providerID, day)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get availability cache: %w", err)
	}
	return data, true, nil
}

func (s *AvailabilityStore) Set(ctx context.Context, providerID uuid.UUID, day string, view []byte) error {
	if err := s.client.Set(ctx, availabilityKey(providerID, day), view, s.ttl).Err(); err != nil {
		return fmt.Errorf("set availability cache: %w", err)
	}
	return nil
}

// Invalidate removes the entry outright rather than waiting for the TTL.
func (s *AvailabilityStore) Invalidate(ctx context.Context, providerID uuid.UUID, day string) error {
	if err := s.client.Del(ctx, availabilityKey(providerID, day)).Err(); err != nil {
		return fmt.Errorf("invalidate availability cache: %w", err)
	}
	return nil
}
