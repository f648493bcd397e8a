package reconcile

import (
	"context"
	"errors"
	"time"

	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/rediskey"

	"github.com/bwmarrin/snowflake"
	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("reconcile: lock held by another instance")

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	rdb  *redis.Client
	node *snowflake.Node
	ttl  time.Duration
}

// NewLocker returns a gocron.Locker backed by a Redis SET NX key, so only one
// replica runs a given sweep at a time. The key expires after one interval if
// its holder dies mid-run.
func NewLocker(cfg *config.Config, rdb *redis.Client, node *snowflake.Node) gocron.Locker {
	return &redisLocker{
		rdb:  rdb,
		node: node,
		ttl:  sweepInterval(cfg),
	}
}

func (l *redisLocker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	lockKey := rediskey.BuildLockKey(key)
	token := l.node.Generate().String()

	ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLock{rdb: l.rdb, key: lockKey, token: token}, nil
}

type redisLock struct {
	rdb   *redis.Client
	key   string
	token string
}

func (l *redisLock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
