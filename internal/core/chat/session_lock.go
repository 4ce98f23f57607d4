package chat

import (
	"context"
	"hash/fnv"
	"log"
)

// SessionLocker serializes turns of one (chatbot, session) pair.
type SessionLocker interface {
	// Lock blocks until the key is held or ctx ends. The returned func releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// SessionKey is the lock key of a chat session.
func SessionKey(chatbotID, sessionID string) string {
	return chatbotID + ":" + sessionID
}

// ShardedLocker is the in-process SessionLocker. Keys hash onto a fixed set of
// shards, so two sessions may share a shard and wait on each other.
type ShardedLocker struct {
	shards []chan struct{}
	logger *log.Logger
}

func NewShardedLocker(shards int, logger *log.Logger) *ShardedLocker {
	if shards <= 0 {
		shards = 64
	}
	if logger == nil {
		logger = log.Default()
	}
	l := &ShardedLocker{shards: make([]chan struct{}, shards), logger: logger}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

func (l *ShardedLocker) shard(key string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

func (l *ShardedLocker) Lock(ctx context.Context, key string) (func(), error) {
	sem := l.shard(key)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		l.logger.Printf("[SessionLock] context ended while waiting key=%s", key)
		return nil, ctx.Err()
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-sem
	}, nil
}
