package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/subscription"
)

const subscriptionsKey = "push:subscriptions"

// SubscriptionStore keeps push subscriptions in a single Redis hash keyed by
// subscription id, so a restart does not force every device to re-subscribe.
type SubscriptionStore struct {
	client *Client
	logger *zap.Logger
}

// NewSubscriptionStore creates a Redis-backed subscription store.
func NewSubscriptionStore(client *Client, logger *zap.Logger) *SubscriptionStore {
	return &SubscriptionStore{client: client, logger: logger}
}

// Save upserts a subscription.
func (s *SubscriptionStore) Save(ctx context.Context, sub subscription.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}

	if err := s.client.rdb.HSet(ctx, s.client.key(subscriptionsKey), sub.ID, data).Err(); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}

	return nil
}

// Delete removes a subscription. Deleting a missing id is not an error.
func (s *SubscriptionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.rdb.HDel(ctx, s.client.key(subscriptionsKey), id).Err(); err != nil {
		return fmt.Errorf("redis hdel failed: %w", err)
	}
	return nil
}

// LoadAll returns every stored subscription. Entries that fail to decode are
// dropped from the hash and skipped.
func (s *SubscriptionStore) LoadAll(ctx context.Context) ([]subscription.Subscription, error) {
	entries, err := s.client.rdb.HGetAll(ctx, s.client.key(subscriptionsKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	subs := make([]subscription.Subscription, 0, len(entries))
	for id, raw := range entries {
		var sub subscription.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			s.logger.Warn("dropping corrupt subscription entry",
				zap.String("subscription_id", id),
				zap.Error(err),
			)
			_ = s.client.rdb.HDel(ctx, s.client.key(subscriptionsKey), id).Err()
			continue
		}
		subs = append(subs, sub)
	}

	return subs, nil
}
