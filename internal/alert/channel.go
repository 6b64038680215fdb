package alert

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hotelops/livesync/internal/logger"
)

// RedisChannel publishes notifications as JSON on a per-tenant pub/sub
// channel the dashboard UI subscribes to for toasts and tones.
type RedisChannel struct {
	rc      *redis.Client
	channel string // e.g. "alerts:T1"
}

func NewRedisChannel(rc *redis.Client, channel string) *RedisChannel {
	return &RedisChannel{rc: rc, channel: channel}
}

func (c *RedisChannel) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return c.rc.Publish(ctx, c.channel, payload).Err()
}

// LogChannel writes notifications to the process log. Fallback when no
// visual surface is configured; also handy in development.
type LogChannel struct{}

func (LogChannel) Notify(_ context.Context, n Notification) error {
	logger.Log.Info("alert",
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.String("priority", n.Priority.String()),
		zap.Bool("audible", n.Audible),
		zap.Bool("persistent", n.Persistent),
	)
	return nil
}
