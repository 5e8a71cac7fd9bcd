package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Compare-and-set scripts: only the current holder may extend or release.
var (
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis is a lock shared by every instance connected to the same Redis.
type Redis struct {
	client redis.UniversalClient
	key    string
	holder string
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, key, holder string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, holder: holder, ttl: ttl}
}

// TryLock takes the lock with SET NX, or extends it when this holder
// already owns it.
func (r *Redis) TryLock(ctx context.Context) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key, r.holder, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", r.key, err)
	}
	if ok {
		return true, nil
	}

	n, err := extendScript.Run(ctx, r.client, []string{r.key}, r.holder, r.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis extend %s: %w", r.key, err)
	}
	return n == 1, nil
}

// Unlock releases the lock if this holder still owns it.
func (r *Redis) Unlock(ctx context.Context) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.holder).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis release %s: %w", r.key, err)
	}
	return nil
}
