package purchase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wavecrate/wavecrate/internal/pkg/cache"
)

// LeaseTTL bounds how long a spend sequence may hold the per-user lease.
// A crashed process frees the user after at most this long.
const LeaseTTL = 30 * time.Second

const leaseKeyPrefix = "purchase:lease:"

// Locker serializes spend sequences per user. Different users' purchases
// proceed fully in parallel; two sequences for the same user never overlap.
type Locker interface {
	Acquire(ctx context.Context, userID string) (release func(), acquired bool, err error)
}

// compare-and-delete so an expired lease taken over by another request is
// never released by the original holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a Locker backed by the shared Redis cache.
func NewRedisLocker() Locker {
	return &redisLocker{client: cache.GetClient()}
}

func (l *redisLocker) Acquire(ctx context.Context, userID string) (func(), bool, error) {
	key := leaseKeyPrefix + userID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, LeaseTTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		releaseScript.Run(context.Background(), l.client, []string{key}, token)
	}
	return release, true, nil
}
