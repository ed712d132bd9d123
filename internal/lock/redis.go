// Package lock provides a Redis-backed distributed lock for serializing
// read-modify-write cycles on one payment mandate across API processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrBusy is returned when the lock could not be acquired within the
// configured tries.
var ErrBusy = errors.New("lock is held by another process")

const (
	defaultTries      = 8
	defaultRetryDelay = 50 * time.Millisecond
)

type Redis struct {
	rs     *redsync.Redsync
	expiry time.Duration
	logger *zap.Logger
}

// NewRedis builds a locker on top of client. expiry bounds how long a
// crashed holder can keep the lock.
func NewRedis(client redis.UniversalClient, expiry time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		logger: logger,
	}
}

// WithLock runs fn while holding key. The lock is released when fn returns,
// even on panic. fn's error is returned unchanged.
func (l *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(defaultTries),
		redsync.WithRetryDelay(defaultRetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var (
			taken    *redsync.ErrTaken
			takenVal redsync.ErrTaken
		)
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) || errors.As(err, &takenVal) {
			return fmt.Errorf("%w: %s", ErrBusy, key)
		}
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}

	defer func() {
		// Release even if the request context is already done.
		ok, err := mutex.UnlockContext(context.WithoutCancel(ctx))
		if !ok || err != nil {
			l.logger.Warn("failed to release lock",
				zap.String("lock_key", key),
				zap.Bool("unlock_ok", ok),
				zap.Error(err),
			)
		}
	}()

	return fn(ctx)
}
