package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DedupTTL is how long processed event ids are remembered. SQS standard
// queues deliver at-least-once; anything redelivered after this window is
// treated as new, which at worst duplicates one notification.
const DedupTTL = 24 * time.Hour

// Deduper suppresses duplicate application events by id. The dispatcher
// itself is at-most-once per invocation, so de-duplication has to happen
// before the dispatch call, at the queue boundary.
type Deduper struct {
	client *Client
	logger *zap.Logger
}

// NewDeduper creates an event de-duplicator backed by Redis.
func NewDeduper(client *Client, logger *zap.Logger) *Deduper {
	return &Deduper{
		client: client,
		logger: logger,
	}
}

func (d *Deduper) buildKey(eventID string) string {
	return fmt.Sprintf("events:seen:%s", eventID)
}

// Seen atomically records the event id and reports whether it was already
// present. A true return means the event was handled before and must be
// dropped without dispatching.
func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	set, err := d.client.rdb.SetNX(ctx, d.buildKey(eventID), time.Now().Unix(), DedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if !set {
		d.logger.Info("duplicate event suppressed", zap.String("event_id", eventID))
		return true, nil
	}

	return false, nil
}

// Forget removes the seen marker so a failed handling attempt can be
// redelivered by the queue and processed again.
func (d *Deduper) Forget(ctx context.Context, eventID string) error {
	if err := d.client.rdb.Del(ctx, d.buildKey(eventID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
