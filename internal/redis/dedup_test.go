package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestDeduper(t *testing.T) (*Deduper, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return NewDeduper(client, zap.NewNop()), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestDeduper_FirstSightIsNotSeen(t *testing.T) {
	d, _, cleanup := setupTestDeduper(t)
	defer cleanup()

	ctx := context.Background()

	seen, err := d.Seen(ctx, "evt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatal("first sighting must not be seen")
	}

	seen, err = d.Seen(ctx, "evt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !seen {
		t.Fatal("second sighting must be seen")
	}
}

func TestDeduper_SeparateEventIDs(t *testing.T) {
	d, _, cleanup := setupTestDeduper(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := d.Seen(ctx, "evt-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen, err := d.Seen(ctx, "evt-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatal("a different event id must not be seen")
	}
}

func TestDeduper_ForgetAllowsReprocessing(t *testing.T) {
	d, _, cleanup := setupTestDeduper(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := d.Seen(ctx, "evt-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Forget(ctx, "evt-2"); err != nil {
		t.Fatalf("forget failed: %v", err)
	}

	seen, err := d.Seen(ctx, "evt-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatal("forgotten event must be processable again")
	}
}

func TestDeduper_MarkerExpires(t *testing.T) {
	d, mr, cleanup := setupTestDeduper(t)
	defer cleanup()

	ctx := context.Background()

	if _, err := d.Seen(ctx, "evt-3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mr.FastForward(DedupTTL + 1)

	seen, err := d.Seen(ctx, "evt-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen {
		t.Fatal("expired marker must not suppress the event")
	}
}
