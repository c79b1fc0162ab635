package repository

import (
	"context"
	"sync/atomic"
	"time"

	"atelier/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverIdempotencyStore prefers the Redis store and drops to the
// in-memory one when Redis is unreachable, probing for recovery once a
// minute.
type FailoverIdempotencyStore struct {
	primary   domain.IdempotencyStore
	fallback  domain.IdempotencyStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverIdempotencyStore(primary, fallback domain.IdempotencyStore, logger *zerolog.Logger) *FailoverIdempotencyStore {
	return &FailoverIdempotencyStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverIdempotencyStore) Acquire(ctx context.Context, key string) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.Acquire(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.Acquire(ctx, key)
}

func (r *FailoverIdempotencyStore) Release(ctx context.Context, key string) error {
	if r.usePrimary() {
		err := r.primary.Release(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Release(ctx, key)
}

func (r *FailoverIdempotencyStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	// Retry the primary after a minute of silence.
	return time.Since(time.Unix(r.lastCheck.Load(), 0)) > time.Minute
}

func (r *FailoverIdempotencyStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary idempotency store failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().Unix())
}
