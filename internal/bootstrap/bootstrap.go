// Package bootstrap turns a config.Config into the stores, locker and logger
// the binaries share.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/punchamoorthee/mandates/internal/config"
	"github.com/punchamoorthee/mandates/internal/lock"
	"github.com/punchamoorthee/mandates/internal/service"
	"github.com/punchamoorthee/mandates/internal/store"
)

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type Backend struct {
	Mandates service.MandateRepository
	Captures service.CaptureRepository
	// Locker is nil unless REDIS_ADDR is set.
	Locker service.Locker
	Ping   func(ctx context.Context) error

	closers []func() error
}

func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// Open connects the configured store and, when configured, Redis.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	b := &Backend{}

	switch cfg.Backend {
	case config.BackendPostgres:
		pg, err := store.NewPostgres(cfg.DBSource)
		if err != nil {
			return nil, err
		}
		b.Mandates, b.Captures, b.Ping = pg, pg, pg.Ping
		b.closers = append(b.closers, func() error { pg.Close(); return nil })
	case config.BackendBolt:
		bs, err := store.NewBolt(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt store %s: %w", cfg.BoltPath, err)
		}
		b.Mandates, b.Captures = bs, bs
		b.Ping = func(context.Context) error { return nil }
		b.closers = append(b.closers, bs.Close)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			b.Close()
			return nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		b.Locker = lock.NewRedis(client, cfg.LockTTL, logger)
		b.closers = append(b.closers, client.Close)
	}

	logger.Info("store opened",
		zap.String("backend", cfg.Backend),
		zap.Bool("distributed_lock", b.Locker != nil),
	)
	return b, nil
}

// MandateService builds the mandate service on top of b.
func (b *Backend) MandateService(logger *zap.Logger) *service.MandateService {
	opts := []service.Option{service.WithLogger(logger)}
	if b.Locker != nil {
		opts = append(opts, service.WithLocker(b.Locker))
	}
	return service.NewMandateService(b.Mandates, opts...)
}
