package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// WebhookDeduper suppresses duplicate webhook deliveries across service
// instances using a short-lived SETNX marker per delivery. A nil deduper, or
// one whose Redis is unreachable, fails open: HandleWebhook is idempotent on
// its own, the marker only saves the database round trip.
type WebhookDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewWebhookDeduper wraps an existing Redis client. ttl bounds how long a
// delivery marker suppresses replays.
func NewWebhookDeduper(client *redis.Client, ttl time.Duration) *WebhookDeduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &WebhookDeduper{client: client, ttl: ttl}
}

// FirstDelivery reports whether this delivery key has not been seen within the
// TTL window, atomically marking it seen.
func (d *WebhookDeduper) FirstDelivery(ctx context.Context, providerCode, deliveryKey string) bool {
	if d == nil || d.client == nil || deliveryKey == "" {
		return true
	}
	ok, err := d.client.SetNX(ctx, "payout:webhook:"+providerCode+":"+deliveryKey, 1, d.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}
