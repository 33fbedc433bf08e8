package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hmu/medventory/inventory"
)

func getRedisClient(t *testing.T) *goredis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client, err := Connect(context.Background(), addr)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestAcquire_SecondCallerIsLocked(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	locker := NewLocker(client)
	client.Del(ctx, lockKeyPrefix+"issue:101")

	release, err := locker.Acquire(ctx, "issue:101")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = locker.Acquire(ctx, "issue:101")
	if !errors.Is(err, inventory.ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	release, err = locker.Acquire(ctx, "issue:101")
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	release(ctx)
}

func TestRelease_DoesNotDropAnotherHoldersLock(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	locker := NewLocker(client)
	locker.TTL = 50 * time.Millisecond
	client.Del(ctx, lockKeyPrefix+"issue:102")

	staleRelease, err := locker.Acquire(ctx, "issue:102")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	locker.TTL = DefaultLockTTL
	release, err := locker.Acquire(ctx, "issue:102")
	if err != nil {
		t.Fatalf("expected expired lock to be free, got %v", err)
	}
	defer release(ctx)

	staleRelease(ctx)

	if _, err := locker.Acquire(ctx, "issue:102"); !errors.Is(err, inventory.ErrLocked) {
		t.Errorf("stale release freed the new holder's lock: %v", err)
	}
}
