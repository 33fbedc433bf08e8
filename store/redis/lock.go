// Package redis serializes document creation across backend instances.
//
// Two storekeepers pressing "save" on the same request at once must not
// both draw stock for it. The SQLite transaction protects one process; the
// lock here protects a deployment with several.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hmu/medventory/inventory"
)

const (
	lockKeyPrefix  = "medventory:lock:"
	DefaultLockTTL = 30 * time.Second
)

// releaseScript deletes the lock only when it still holds our token, so an
// expired lock taken over by another caller is left alone.
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Connect opens a client and checks the server answers.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return client, nil
}

// Locker hands out short-lived named locks.
type Locker struct {
	client *goredis.Client
	TTL    time.Duration
}

func NewLocker(client *goredis.Client) *Locker {
	return &Locker{client: client, TTL: DefaultLockTTL}
}

// Acquire takes the lock named key. It returns inventory.ErrLocked when
// someone else holds it. The returned release func is safe to call once
// the lock has already expired.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	redisKey := lockKeyPrefix + key

	ok, err := l.client.SetNX(ctx, redisKey, token, l.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, inventory.ErrLocked)
	}

	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
	}, nil
}
