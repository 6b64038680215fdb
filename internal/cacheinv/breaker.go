package cacheinv

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker trips after consecutive Redis failures so a dead cache does
// not burn a round-trip per invalidation. Invalidation is best-effort,
// so skipped work while open is acceptable.
type breaker struct {
	mu               sync.Mutex
	st               breakerState
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
}

func newBreaker(threshold int, openFor time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &breaker{failThreshold: threshold, openFor: openFor}
}

// Allow reports whether the next invalidation should be attempted.
// While open, a single probe is allowed once the cool-off elapses.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case breakerClosed, breakerHalfOpen:
		return true
	default: // open
		if time.Now().After(b.nextTryAt) {
			b.st = breakerHalfOpen
			return true
		}
		return false
	}
}

func (b *breaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = breakerClosed
	b.mu.Unlock()
}

func (b *breaker) OnFailure() {
	b.mu.Lock()
	if b.st == breakerHalfOpen {
		b.st = breakerOpen
		b.nextTryAt = time.Now().Add(b.openFor)
		b.mu.Unlock()
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = breakerOpen
		b.nextTryAt = time.Now().Add(b.openFor)
	}
	b.mu.Unlock()
}
