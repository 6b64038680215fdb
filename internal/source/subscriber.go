// Package source consumes per-category change streams and feeds them
// into the engine's intake. One subscription per configured category;
// delivery is at-least-once and possibly out of order, which intake
// tolerates by design.
package source

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/hotelops/livesync/internal/logger"
	"github.com/hotelops/livesync/internal/model"
)

// Intake is the engine-side sink for raw notifications.
type Intake interface {
	Ingest(category string, raw model.RawNotification) bool
	SetSourceDegraded(category string, degraded bool)
}

// Stream is the fetch/commit surface of one category subscription.
type Stream interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, m Message) error
}

// Subscriber pumps one category's stream into intake.
type Subscriber struct {
	Category      string
	Consumer      Stream
	Sink          Intake
	FailThreshold int // consecutive fetch failures before degraded (default 5)
}

func NewSubscriber(category string, consumer Stream, sink Intake) *Subscriber {
	return &Subscriber{
		Category:      category,
		Consumer:      consumer,
		Sink:          sink,
		FailThreshold: 5,
	}
}

// Run blocks until ctx is cancelled. Fetch failures back off and, past
// the threshold, flip the degraded flag for this category; the loop
// never gives up. Malformed payloads are committed and skipped.
func (s *Subscriber) Run(ctx context.Context) {
	if s.FailThreshold <= 0 {
		s.FailThreshold = 5
	}

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m, err := s.Consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutive++
			if consecutive == s.FailThreshold {
				s.Sink.SetSourceDegraded(s.Category, true)
				logger.Log.Warn("source: subscription degraded",
					zap.String("category", s.Category), zap.Error(err))
			}
			sleepBackoff(ctx, consecutive)
			continue
		}

		if consecutive >= s.FailThreshold {
			s.Sink.SetSourceDegraded(s.Category, false)
			logger.Log.Info("source: subscription recovered", zap.String("category", s.Category))
		}
		consecutive = 0

		var raw model.RawNotification
		if err := json.Unmarshal(m.Value, &raw); err != nil {
			// poison message: commit and skip
			logger.Log.Warn("source: bad notification json",
				zap.String("category", s.Category), zap.Error(err))
			_ = s.Consumer.Commit(ctx, m)
			continue
		}

		s.Sink.Ingest(s.Category, raw)

		if err := s.Consumer.Commit(ctx, m); err != nil && ctx.Err() == nil {
			logger.Log.Warn("source: commit failed",
				zap.String("category", s.Category), zap.Error(err))
		}
	}
}

func sleepBackoff(ctx context.Context, attempt int) {
	d := time.Duration(attempt) * 200 * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
