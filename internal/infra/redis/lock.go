package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredis "github.com/redis/go-redis/v9"
)

const defaultLockTTL = 30 * time.Second

// PollerLock is a Redis mutex that keeps the outbox poller single across
// worker replicas. A cycle that cannot take the lock is skipped.
type PollerLock struct {
	redsync *redsync.Redsync
	name    string
	ttl     time.Duration
}

func NewPollerLock(client *goredis.Client, name string, ttl time.Duration) (*PollerLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	return &PollerLock{
		redsync: redsync.New(redsyncgoredis.NewPool(client)),
		name:    name,
		ttl:     ttl,
	}, nil
}

// TryAcquire makes a single attempt at the lock. ok is false when another
// holder has it. The returned release must be called once the cycle ends.
func (l *PollerLock) TryAcquire(ctx context.Context) (release func(context.Context) error, ok bool, err error) {
	mutex := l.redsync.NewMutex(l.name, redsync.WithExpiry(l.ttl))

	if err := mutex.TryLockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if lockHeldElsewhere(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", l.name, err)
	}

	release = func(ctx context.Context) error {
		unlocked, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", l.name, err)
		}
		if !unlocked {
			return fmt.Errorf("failed to release lock %s: not held", l.name)
		}
		return nil
	}

	return release, true, nil
}

// lockHeldElsewhere reports whether err means another holder owns the lock,
// as opposed to Redis being unreachable.
func lockHeldElsewhere(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return true
	}
	var nodeTaken *redsync.ErrNodeTaken
	return errors.As(err, &nodeTaken)
}
