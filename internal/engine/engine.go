// Package engine merges per-category change streams into one ordered,
// batched dispatch pipeline: intake → priority queue → dispatcher →
// {cache invalidation, alerting, offline mirror}.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hotelops/livesync/internal/logger"
	"github.com/hotelops/livesync/internal/metrics"
	"github.com/hotelops/livesync/internal/model"
	"github.com/hotelops/livesync/internal/registry"
)

// Invalidator is the cache-invalidation consumer. Calls must not
// block; implementations apply patterns asynchronously in order.
type Invalidator interface {
	Invalidate(pattern string)
	InvalidateAll()
}

// Alerter decides whether an event surfaces as a notification.
type Alerter interface {
	Deliver(ctx context.Context, ev model.ChangeEvent, desc registry.Descriptor)
}

// Replicator mirrors events into durable local storage while offline.
type Replicator interface {
	Mirror(ev model.ChangeEvent) error
	MarkAllStale() error
}

type Config struct {
	TenantID      string
	QueueCapacity int           // default 256
	BatchSize     int           // default 5
	BatchWindow   time.Duration // default 100ms
}

// Engine owns one tenant session's pipeline: the bounded queue, the
// relaxation timer, and the fan-out targets. Constructed per session
// and torn down with Close; no process-wide state.
type Engine struct {
	cfg    Config
	reg    *registry.Registry
	inv    Invalidator
	alerts Alerter
	repl   Replicator

	mu    sync.Mutex
	q     *priorityQueue
	armed bool
	timer *time.Timer

	offline atomic.Bool

	degradedMu sync.Mutex
	degraded   map[string]struct{}

	reconnCh chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds an engine with sane defaults.
func New(cfg Config, reg *registry.Registry, inv Invalidator, alerts Alerter, repl Replicator) *Engine {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 100 * time.Millisecond
	}
	return &Engine{
		cfg:      cfg,
		reg:      reg,
		inv:      inv,
		alerts:   alerts,
		repl:     repl,
		q:        newPriorityQueue(cfg.QueueCapacity),
		degraded: make(map[string]struct{}),
		reconnCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the drain loop. Call Close to tear down.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Lock()
	e.timer = time.NewTimer(e.cfg.BatchWindow)
	if !e.timer.Stop() {
		<-e.timer.C
	}
	e.mu.Unlock()

	go e.run()
}

// Close cancels the drain loop and waits for any in-flight batch to
// finish. Events still queued at teardown are abandoned.
func (e *Engine) Close() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
}

// Ingest normalizes one raw change notification and enqueues it.
// Returns false when the event is discarded (wrong tenant, unknown
// category, uninteresting operation, or refused on overflow). Safe for
// concurrent callers; never blocks.
func (e *Engine) Ingest(category string, raw model.RawNotification) bool {
	desc, ok := e.reg.DescriptorFor(category)
	if !ok {
		metrics.DiscardedTotal.WithLabelValues("unknown_category").Inc()
		logger.Log.Debug("intake: unknown category, dropping", zap.String("category", category))
		return false
	}
	if raw.TenantID != e.cfg.TenantID {
		metrics.DiscardedTotal.WithLabelValues("tenant_mismatch").Inc()
		return false
	}
	if !raw.Operation.Valid() {
		metrics.DiscardedTotal.WithLabelValues("malformed").Inc()
		logger.Log.Warn("intake: malformed notification",
			zap.String("category", category), zap.String("operation", string(raw.Operation)))
		return false
	}
	if !desc.Wants(raw.Operation) {
		metrics.DiscardedTotal.WithLabelValues("operation").Inc()
		return false
	}

	entity := raw.NewRecord
	if raw.Operation == model.OpDeleted {
		entity = raw.OldRecord
	}
	ev := model.ChangeEvent{
		ID:         model.NewID(),
		Category:   category,
		Operation:  raw.Operation,
		Entity:     entity,
		EntityID:   model.EntityIDOf(entity),
		TenantID:   raw.TenantID,
		ReceivedAt: time.Now(),
	}

	e.mu.Lock()
	shed, accepted := e.q.push(item{ev: ev, desc: desc})
	if accepted && !e.armed && e.timer != nil {
		e.timer.Reset(e.cfg.BatchWindow)
		e.armed = true
	}
	e.mu.Unlock()

	if shed != nil {
		metrics.DiscardedTotal.WithLabelValues("shed").Inc()
		logger.Log.Warn("intake: queue full, shed lower-priority event",
			zap.String("shed_category", shed.ev.Category),
			zap.String("shed_priority", shed.desc.Priority.String()),
			zap.String("for_category", category))
	}
	if !accepted {
		metrics.DiscardedTotal.WithLabelValues("refused").Inc()
		logger.Log.Warn("intake: queue full, refusing event",
			zap.String("category", category),
			zap.String("priority", desc.Priority.String()))
		return false
	}

	metrics.EventsTotal.WithLabelValues(category, raw.Operation.String()).Inc()
	return true
}

// SetOnline applies a connectivity transition. Offline switches drain
// routing to the mirror; coming back online forces a drain of queued
// events followed by exactly one unconditional full cache
// invalidation. Idempotent under flapping.
func (e *Engine) SetOnline(online bool) {
	prevOffline := e.offline.Swap(!online)
	if prevOffline == !online {
		return // no transition
	}
	if online {
		select {
		case e.reconnCh <- struct{}{}:
		default: // a reconnect refresh is already pending
		}
	}
}

// SetSourceDegraded records whether a source subscription has failed
// past its retry threshold. Any degraded source flips the coarse
// "live updates degraded" status.
func (e *Engine) SetSourceDegraded(category string, degraded bool) {
	e.degradedMu.Lock()
	if degraded {
		e.degraded[category] = struct{}{}
	} else {
		delete(e.degraded, category)
	}
	e.degradedMu.Unlock()
}

type Status struct {
	Online     bool `json:"online"`
	Degraded   bool `json:"degraded"`
	QueueDepth int  `json:"queue_depth"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	depth := e.q.len()
	e.mu.Unlock()

	offline := e.offline.Load()
	e.degradedMu.Lock()
	failed := len(e.degraded)
	e.degradedMu.Unlock()

	return Status{
		Online:     !offline,
		Degraded:   offline || failed > 0,
		QueueDepth: depth,
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.timer.C:
			e.drain()
		case <-e.reconnCh:
			e.drain()
			e.inv.InvalidateAll()
			if err := e.repl.MarkAllStale(); err != nil {
				logger.Log.Warn("mirror: mark stale failed", zap.Error(err))
			}
			logger.Log.Info("reconnected: forced drain and full cache refresh")
		}
	}
}

// drain releases the events queued at entry in bounded batches. Events
// arriving mid-drain wait for the next timer cycle.
func (e *Engine) drain() {
	e.mu.Lock()
	e.armed = false
	remaining := e.q.len()
	e.mu.Unlock()

	for remaining > 0 {
		n := e.cfg.BatchSize
		if remaining < n {
			n = remaining
		}
		e.mu.Lock()
		batch := e.q.popBatch(n)
		e.mu.Unlock()
		if len(batch) == 0 {
			break
		}
		remaining -= len(batch)

		metrics.BatchesTotal.Inc()
		for _, it := range batch {
			e.dispatch(it)
		}
	}

	e.mu.Lock()
	if e.q.len() > 0 && !e.armed {
		e.timer.Reset(e.cfg.BatchWindow)
		e.armed = true
	}
	e.mu.Unlock()
}
