/*
Package locker provides a per-account lock shared by every process that
writes to the same ledger database.

PURPOSE:
  ledger.KeyedMutex serializes Apply calls inside one process. When several
  service instances share one database, the lock has to live outside the
  process. Redis holds it here.

LEASES:
  A Redis lock is a lease with a TTL. If a holder stalls past the TTL,
  another process may take the lock while the first is still running. The
  ledger's version check in Store.Commit catches that case: the late writer
  gets ErrConcurrentModification and retries on fresh state. The lock keeps
  contention low; the version check keeps the balance correct.
*/
package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/pos-ledger/ledger"
)

const (
	defaultTTL     = 10 * time.Second
	defaultWait    = 5 * time.Second
	defaultBackoff = 25 * time.Millisecond
)

// Redis is a ledger.Locker backed by redislock.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
	logger  zerolog.Logger
}

type Option func(*Redis)

// WithTTL sets the lease length.
func WithTTL(d time.Duration) Option { return func(r *Redis) { r.ttl = d } }

// WithWait bounds how long Lock retries before giving up.
func WithWait(d time.Duration) Option { return func(r *Redis) { r.wait = d } }

func WithBackoff(d time.Duration) Option  { return func(r *Redis) { r.backoff = d } }
func WithLogger(lg zerolog.Logger) Option { return func(r *Redis) { r.logger = lg } }

func NewRedis(rdb redis.Scripter, opts ...Option) *Redis {
	r := &Redis{
		client:  redislock.New(rdb),
		ttl:     defaultTTL,
		wait:    defaultWait,
		backoff: defaultBackoff,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ ledger.Locker = (*Redis)(nil)

// Lock obtains the lease for key, retrying with a linear backoff until the
// wait budget or ctx runs out.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	retries := 0
	if r.backoff > 0 {
		retries = int(r.wait / r.backoff)
	}
	lock, err := r.client.Obtain(ctx, key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.backoff), retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrLockNotObtained, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ledger.ErrLockNotObtained, key, err)
	}

	return func() {
		// Release must run even when the caller's context is already done.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn().Err(err).Str("key", key).Msg("lock release failed")
		} else if errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("lock lease expired before release")
		}
	}, nil
}
