package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "referral:outbox:delivered"

// DeliveryGuard records which outbox messages were already handed to their
// handlers so a redelivered row is not sent twice.
type DeliveryGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewDeliveryGuard builds a guard storing keys for ttl.
func NewDeliveryGuard(client redis.UniversalClient, ttl time.Duration) (*DeliveryGuard, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &DeliveryGuard{client: client, ttl: ttl}, nil
}

// Claim marks the message as delivered. It returns false when another attempt
// already claimed it.
func (g *DeliveryGuard) Claim(ctx context.Context, kind, messageID string) (bool, error) {
	key, err := deliveryKey(kind, messageID)
	if err != nil {
		return false, err
	}
	set, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return set, nil
}

// Release removes a claim after a failed delivery so the retry can run.
func (g *DeliveryGuard) Release(ctx context.Context, kind, messageID string) error {
	key, err := deliveryKey(kind, messageID)
	if err != nil {
		return err
	}
	return g.client.Del(ctx, key).Err()
}

func deliveryKey(kind, messageID string) (string, error) {
	if kind == "" {
		return "", errors.New("kind is required")
	}
	if messageID == "" {
		return "", errors.New("message id is required")
	}
	return fmt.Sprintf("%s:%s:%s", idempotencyPrefix, kind, messageID), nil
}
