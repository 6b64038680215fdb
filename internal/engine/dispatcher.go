package engine

import (
	"go.uber.org/zap"

	"github.com/hotelops/livesync/internal/logger"
)

// dispatch fans one event out in order: cache invalidation, alerting,
// category handler. While offline everything is bypassed except the
// mirror. Failures never escape the event: a panic here is logged and
// the rest of the batch proceeds.
func (e *Engine) dispatch(it item) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("dispatch: event skipped",
				zap.String("category", it.ev.Category),
				zap.String("operation", it.ev.Operation.String()),
				zap.Any("panic", r))
		}
	}()

	if e.offline.Load() {
		if err := e.repl.Mirror(it.ev); err != nil {
			logger.Log.Warn("mirror: write failed",
				zap.String("category", it.ev.Category),
				zap.String("entity_id", it.ev.EntityID),
				zap.Error(err))
		}
		return
	}

	for _, pattern := range it.desc.Invalidates {
		e.inv.Invalidate(pattern)
	}

	if it.desc.Alert.Audible || it.desc.Alert.Visual {
		e.alerts.Deliver(e.ctx, it.ev, it.desc)
	}

	if it.desc.Handler != nil {
		e.runHandler(it)
	}
}

// runHandler isolates a category handler: errors and panics are logged
// with category and operation, never propagated.
func (e *Engine) runHandler(it item) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("handler panicked",
				zap.String("category", it.ev.Category),
				zap.String("operation", it.ev.Operation.String()),
				zap.Any("panic", r))
		}
	}()

	if err := it.desc.Handler(e.ctx, it.ev); err != nil {
		logger.Log.Error("handler failed",
			zap.String("category", it.ev.Category),
			zap.String("operation", it.ev.Operation.String()),
			zap.Error(err))
	}
}
