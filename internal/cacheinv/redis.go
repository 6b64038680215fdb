// Package cacheinv invalidates cached dashboard views keyed in Redis.
// Invalidation is fire-and-forget by contract: callers enqueue a key
// pattern and a single background worker applies them in order, so a
// slow Redis round-trip never stalls event dispatch.
package cacheinv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hotelops/livesync/internal/logger"
	"github.com/hotelops/livesync/internal/metrics"
)

const allPattern = "*"

type Redis struct {
	rc     *redis.Client
	prefix string // tenant key namespace, e.g. "cache:T1:"
	jobs   chan string
	br     *breaker
	done   chan struct{}
}

// NewRedis builds the invalidator. prefix namespaces every pattern so
// one tenant session never touches another tenant's keys.
func NewRedis(rc *redis.Client, prefix string, buffer int) *Redis {
	if buffer <= 0 {
		buffer = 512
	}
	return &Redis{
		rc:     rc,
		prefix: prefix,
		jobs:   make(chan string, buffer),
		br:     newBreaker(3, 15*time.Second),
		done:   make(chan struct{}),
	}
}

// Start runs the worker until ctx is cancelled. Pending jobs at
// cancellation are abandoned; the authoritative store is still correct
// and the UI re-fetches on next load.
func (r *Redis) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case pattern := <-r.jobs:
				r.apply(ctx, pattern)
			}
		}
	}()
}

// Done is closed once the worker has exited.
func (r *Redis) Done() <-chan struct{} { return r.done }

// Invalidate enqueues one key pattern. Never blocks: a full queue
// drops the request with a warning.
func (r *Redis) Invalidate(pattern string) {
	if pattern == "" {
		return
	}
	select {
	case r.jobs <- pattern:
		metrics.InvalidationsTotal.Inc()
	default:
		logger.Log.Warn("cacheinv: queue full, dropping pattern", zap.String("pattern", pattern))
	}
}

// InvalidateAll wipes every key under the tenant prefix. Used as the
// full refresh after connectivity recovery.
func (r *Redis) InvalidateAll() {
	select {
	case r.jobs <- allPattern:
		metrics.InvalidationsTotal.Inc()
	default:
		logger.Log.Warn("cacheinv: queue full, dropping full invalidation")
	}
}

func (r *Redis) apply(ctx context.Context, pattern string) {
	if !r.br.Allow() {
		logger.Log.Debug("cacheinv: breaker open, skipping", zap.String("pattern", pattern))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := r.deleteMatching(opCtx, r.prefix+pattern); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.br.OnFailure()
		logger.Log.Warn("cacheinv: invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	r.br.OnSuccess()
}

func (r *Redis) deleteMatching(ctx context.Context, match string) error {
	// Plain keys (e.g. "cache:T1:orders") are unlinked directly; only
	// glob patterns need a SCAN pass. UNLINK on a missing key is a
	// no-op, which keeps invalidation idempotent.
	if !hasGlob(match) {
		return r.rc.Unlink(ctx, match).Err()
	}

	iter := r.rc.Scan(ctx, 0, match, 100).Iterator()
	keys := make([]string, 0, 100)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 100 {
			if err := r.rc.Unlink(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return r.rc.Unlink(ctx, keys...).Err()
	}
	return nil
}

func hasGlob(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
