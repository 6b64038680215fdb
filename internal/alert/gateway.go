// Package alert decides whether a change event surfaces as a
// human-visible notification and what it says. Channels render;
// the gateway only picks whether and what.
package alert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hotelops/livesync/internal/logger"
	"github.com/hotelops/livesync/internal/metrics"
	"github.com/hotelops/livesync/internal/model"
	"github.com/hotelops/livesync/internal/registry"
)

// Notification is the payload handed to a channel.
type Notification struct {
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Priority   model.Priority `json:"priority"`
	Audible    bool           `json:"audible"`
	Visual     bool           `json:"visual"`
	Persistent bool           `json:"persistent"`
}

// Channel delivers a notification to the user-facing surface.
// Implementations must be safe for concurrent use; failures are
// swallowed by the gateway (alerting is best-effort).
type Channel interface {
	Notify(ctx context.Context, n Notification) error
}

// Formatter renders the title and message for one category's events.
type Formatter func(ev model.ChangeEvent) (title, message string)

type Gateway struct {
	channel    Channel
	cooldowns  CooldownStore
	window     time.Duration
	formatters map[string]Formatter
	now        func() time.Time
}

// NewGateway builds a gateway with the given cooldown window
// (default 5s when zero).
func NewGateway(ch Channel, store CooldownStore, window time.Duration) *Gateway {
	if window <= 0 {
		window = 5 * time.Second
	}
	if store == nil {
		store = NewMemoryCooldowns()
	}
	return &Gateway{
		channel:    ch,
		cooldowns:  store,
		window:     window,
		formatters: make(map[string]Formatter),
		now:        time.Now,
	}
}

// Format registers a per-category formatter. Not safe to call after
// the engine starts; wire formatters at startup like descriptors.
func (g *Gateway) Format(category string, f Formatter) {
	g.formatters[category] = f
}

// Deliver applies the cooldown and, if the alert survives, renders and
// emits it. Never returns an error: a broken channel degrades to
// cache-invalidation-only behavior.
func (g *Gateway) Deliver(ctx context.Context, ev model.ChangeEvent, desc registry.Descriptor) {
	key := ev.Category + ":" + ev.Operation.String()
	now := g.now()

	if last, ok := g.cooldowns.LastFired(key); ok && now.Sub(last) < g.window {
		metrics.AlertsTotal.WithLabelValues("suppressed").Inc()
		return
	}

	title, message := g.render(ev)
	n := Notification{
		Title:      title,
		Message:    message,
		Priority:   desc.Priority,
		Audible:    desc.Alert.Audible,
		Visual:     desc.Alert.Visual,
		Persistent: desc.Priority == model.PriorityCritical,
	}

	g.cooldowns.MarkFired(key, now)

	if g.channel == nil {
		return
	}
	if err := g.channel.Notify(ctx, n); err != nil {
		metrics.AlertsTotal.WithLabelValues("failed").Inc()
		logger.Log.Debug("alert: channel unavailable",
			zap.String("category", ev.Category), zap.Error(err))
		return
	}
	metrics.AlertsTotal.WithLabelValues("fired").Inc()
}

func (g *Gateway) render(ev model.ChangeEvent) (string, string) {
	if f, ok := g.formatters[ev.Category]; ok {
		return f(ev)
	}
	// default rendering: "Orders updated", "orders #31 updated"
	title := titleCase(ev.Category) + " " + ev.Operation.String()
	msg := ev.Category
	if ev.EntityID != "" {
		msg += " #" + ev.EntityID
	}
	return title, fmt.Sprintf("%s %s", msg, ev.Operation)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}
