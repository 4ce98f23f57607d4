package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SessionLocker shared by every process pointing at the same
// Redis. A lock expires after ttl if its holder dies.
type RedisLocker struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	prefix string
	logger *log.Logger
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, logger *log.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RedisLocker{rdb: rdb, ttl: ttl, poll: 50 * time.Millisecond, prefix: "chatbase:session-lock:", logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire session lock %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{k}, token).Err(); err != nil {
			l.logger.Printf("[SessionLock] release failed key=%s err=%v", key, err)
		}
	}, nil
}
