// Package connectivity tracks the online/offline state of the host
// environment and fans transitions out to the pipeline.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hotelops/livesync/internal/logger"
	"github.com/hotelops/livesync/internal/metrics"
)

// Source emits connectivity samples. Injected so tests (and headless
// deployments) can drive transitions directly.
type Source interface {
	Watch(ctx context.Context) <-chan bool
}

// Monitor is a two-state machine: online and offline. Transitions are
// idempotent, so rapid flapping notifies subscribers once per actual
// state change.
type Monitor struct {
	mu     sync.Mutex
	online bool
	subs   []func(online bool)
}

// NewMonitor starts in the online state.
func NewMonitor() *Monitor {
	metrics.Online.Set(1)
	return &Monitor{online: true}
}

// OnChange registers a transition callback. Callbacks run in
// registration order on the goroutine that observed the transition.
// Register everything before Run.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set applies a connectivity sample. Same-state samples are no-ops.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := m.subs
	m.mu.Unlock()

	if online {
		metrics.Online.Set(1)
		logger.Log.Info("connectivity: online")
	} else {
		metrics.Online.Set(0)
		logger.Log.Warn("connectivity: offline")
	}
	for _, fn := range subs {
		fn(online)
	}
}

// Run consumes samples from the source until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, src Source) {
	ch := src.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-ch:
			if !ok {
				return
			}
			m.Set(online)
		}
	}
}

// DialProbe samples connectivity by dialing a TCP endpoint (normally
// the change-source broker) on an interval.
type DialProbe struct {
	Addr     string
	Interval time.Duration
	Timeout  time.Duration
}

func NewDialProbe(addr string, interval, timeout time.Duration) *DialProbe {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DialProbe{Addr: addr, Interval: interval, Timeout: timeout}
}

func (p *DialProbe) Watch(ctx context.Context) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		defer close(out)
		tick := time.NewTicker(p.Interval)
		defer tick.Stop()
		for {
			conn, err := net.DialTimeout("tcp", p.Addr, p.Timeout)
			if err == nil {
				_ = conn.Close()
			} else {
				logger.Log.Debug("connectivity: probe failed", zap.String("addr", p.Addr), zap.Error(err))
			}
			select {
			case out <- err == nil:
			case <-ctx.Done():
				return
			}
			select {
			case <-tick.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
