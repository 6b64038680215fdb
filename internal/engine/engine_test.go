package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hotelops/livesync/internal/alert"
	"github.com/hotelops/livesync/internal/model"
	"github.com/hotelops/livesync/internal/registry"
)

// ---- stub collaborators ----

type recInvalidator struct {
	mu       sync.Mutex
	patterns []string
	full     int
}

func (r *recInvalidator) Invalidate(pattern string) {
	r.mu.Lock()
	r.patterns = append(r.patterns, pattern)
	r.mu.Unlock()
}

func (r *recInvalidator) InvalidateAll() {
	r.mu.Lock()
	r.full++
	r.mu.Unlock()
}

func (r *recInvalidator) count(pattern string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.patterns {
		if p == pattern {
			n++
		}
	}
	return n
}

func (r *recInvalidator) fullCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.full
}

type recAlerter struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (r *recAlerter) Deliver(_ context.Context, ev model.ChangeEvent, _ registry.Descriptor) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recAlerter) categories() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Category
	}
	return out
}

type recReplicator struct {
	mu       sync.Mutex
	mirrored []model.ChangeEvent
	stale    int
}

func (r *recReplicator) Mirror(ev model.ChangeEvent) error {
	r.mu.Lock()
	r.mirrored = append(r.mirrored, ev)
	r.mu.Unlock()
	return nil
}

func (r *recReplicator) MarkAllStale() error {
	r.mu.Lock()
	r.stale++
	r.mu.Unlock()
	return nil
}

func (r *recReplicator) mirroredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mirrored)
}

func (r *recReplicator) staleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale
}

// ---- helpers ----

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func created(tenant string, record string) model.RawNotification {
	return model.RawNotification{
		TenantID:  tenant,
		Operation: model.OpCreated,
		NewRecord: json.RawMessage(record),
	}
}

// dispatchRecorder wires a handler into every descriptor so tests can
// observe dispatch order.
type dispatchRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (d *dispatchRecorder) handler(_ context.Context, ev model.ChangeEvent) error {
	d.mu.Lock()
	d.ids = append(d.ids, ev.Category)
	d.mu.Unlock()
	return nil
}

func (d *dispatchRecorder) order() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

func testRegistry(t *testing.T, rec *dispatchRecorder, descs ...registry.Descriptor) *registry.Registry {
	t.Helper()
	if rec != nil {
		for i := range descs {
			if descs[i].Handler == nil {
				descs[i].Handler = rec.handler
			}
		}
	}
	r, err := registry.New(descs)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

// ---- tests ----

func TestDispatchOrderWithinDrain(t *testing.T) {
	rec := &dispatchRecorder{}
	reg := testRegistry(t, rec,
		registry.Descriptor{Category: "reservations", Priority: model.PriorityCritical},
		registry.Descriptor{Category: "payments", Priority: model.PriorityHigh},
		registry.Descriptor{Category: "rooms", Priority: model.PriorityMedium},
		registry.Descriptor{Category: "messages", Priority: model.PriorityLow},
	)

	eng := New(Config{TenantID: "T1", BatchSize: 2, BatchWindow: 50 * time.Millisecond},
		reg, &recInvalidator{}, &recAlerter{}, &recReplicator{})
	eng.Start(context.Background())
	defer eng.Close()

	for _, cat := range []string{"messages", "payments", "rooms", "reservations", "payments"} {
		if !eng.Ingest(cat, created("T1", `{"id":"1"}`)) {
			t.Fatalf("ingest %s refused", cat)
		}
	}

	eventually(t, func() bool { return len(rec.order()) == 5 }, "not all events dispatched")

	want := []string{"reservations", "payments", "payments", "rooms", "messages"}
	got := rec.order()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", got, want)
		}
	}
}

func TestPaymentsBurstCoalesces(t *testing.T) {
	inv := &recInvalidator{}
	ch := &alertChannelStub{}
	gw := alert.NewGateway(ch, alert.NewMemoryCooldowns(), 5*time.Second)

	reg := testRegistry(t, nil, registry.Descriptor{
		Category:    "payments",
		Priority:    model.PriorityHigh,
		Invalidates: []string{"payments"},
		Alert:       registry.Alert{Audible: true, Visual: true},
	})

	eng := New(Config{TenantID: "T1", BatchSize: 5, BatchWindow: 100 * time.Millisecond},
		reg, inv, gw, &recReplicator{})
	eng.Start(context.Background())
	defer eng.Close()

	eng.Ingest("payments", created("T1", `{"id":"p1","amount":5000}`))
	time.Sleep(10 * time.Millisecond)
	eng.Ingest("payments", created("T1", `{"id":"p2","amount":7000}`))

	eventually(t, func() bool { return inv.count("payments") == 2 },
		"expected two payments invalidations")

	// with a 5s cooldown, the second event's alert is suppressed
	time.Sleep(50 * time.Millisecond)
	if got := ch.countAudible(); got != 1 {
		t.Fatalf("audible alerts = %d, want exactly 1", got)
	}
}

func TestOverflowKeepsCriticalEvent(t *testing.T) {
	rec := &dispatchRecorder{}
	reg := testRegistry(t, rec,
		registry.Descriptor{Category: "reservations", Priority: model.PriorityCritical},
		registry.Descriptor{Category: "messages", Priority: model.PriorityLow},
	)

	eng := New(Config{TenantID: "T1", QueueCapacity: 3, BatchSize: 5, BatchWindow: 200 * time.Millisecond},
		reg, &recInvalidator{}, &recAlerter{}, &recReplicator{})
	eng.Start(context.Background())
	defer eng.Close()

	for i := 0; i < 3; i++ {
		if !eng.Ingest("messages", created("T1", `{"id":"m"}`)) {
			t.Fatal("fill ingest refused")
		}
	}
	if !eng.Ingest("reservations", created("T1", `{"id":"r"}`)) {
		t.Fatal("critical event must displace a low-priority one")
	}

	eventually(t, func() bool {
		for _, c := range rec.order() {
			if c == "reservations" {
				return true
			}
		}
		return false
	}, "critical event not dispatched after overflow")

	got := rec.order()
	low := 0
	for _, c := range got {
		if c == "messages" {
			low++
		}
	}
	if low > 2 {
		t.Fatalf("no low-priority event was shed: %v", got)
	}
}

func TestHandlerFaultIsolation(t *testing.T) {
	inv := &recInvalidator{}
	al := &recAlerter{}
	panicking := func(context.Context, model.ChangeEvent) error { panic("rooms handler broken") }

	reg := testRegistry(t, nil,
		registry.Descriptor{
			Category: "rooms",
			Priority: model.PriorityCritical, // dispatches before payments
			Handler:  panicking,
		},
		registry.Descriptor{
			Category:    "payments",
			Priority:    model.PriorityHigh,
			Invalidates: []string{"payments"},
			Alert:       registry.Alert{Audible: true},
		},
	)

	eng := New(Config{TenantID: "T1", BatchSize: 5, BatchWindow: 20 * time.Millisecond},
		reg, inv, al, &recReplicator{})
	eng.Start(context.Background())
	defer eng.Close()

	eng.Ingest("rooms", created("T1", `{"id":"101"}`))
	eng.Ingest("payments", created("T1", `{"id":"p1"}`))

	eventually(t, func() bool {
		return inv.count("payments") == 1 && len(al.categories()) == 1
	}, "payments event must dispatch despite rooms handler panic")
}

func TestOfflineRoutesOnlyToMirror(t *testing.T) {
	inv := &recInvalidator{}
	al := &recAlerter{}
	repl := &recReplicator{}

	reg := testRegistry(t, nil, registry.Descriptor{
		Category:    "orders",
		Priority:    model.PriorityHigh,
		Invalidates: []string{"orders"},
		Alert:       registry.Alert{Audible: true},
	})

	eng := New(Config{TenantID: "T1", BatchWindow: 20 * time.Millisecond},
		reg, inv, al, repl)
	eng.Start(context.Background())
	defer eng.Close()

	eng.SetOnline(false)
	eng.Ingest("orders", created("T1", `{"id":"o1"}`))

	eventually(t, func() bool { return repl.mirroredCount() == 1 }, "event not mirrored while offline")

	if inv.count("orders") != 0 {
		t.Error("cache invalidation must be bypassed while offline")
	}
	if len(al.categories()) != 0 {
		t.Error("alerting must be bypassed while offline")
	}
	if st := eng.Status(); st.Online || !st.Degraded {
		t.Errorf("status = %+v, want offline and degraded", st)
	}
}

func TestReconnectForcesDrainAndOneFullRefresh(t *testing.T) {
	inv := &recInvalidator{}
	repl := &recReplicator{}
	rec := &dispatchRecorder{}

	reg := testRegistry(t, rec, registry.Descriptor{
		Category:    "orders",
		Priority:    model.PriorityHigh,
		Invalidates: []string{"orders"},
	})

	// huge window: only the reconnect signal can trigger the drain
	eng := New(Config{TenantID: "T1", BatchWindow: time.Hour},
		reg, inv, &recAlerter{}, repl)
	eng.Start(context.Background())
	defer eng.Close()

	eng.SetOnline(false)
	eng.Ingest("orders", created("T1", `{"id":"o1"}`))
	eng.Ingest("orders", created("T1", `{"id":"o2"}`))

	eng.SetOnline(true)
	eng.SetOnline(true) // flapping duplicate must not double the refresh

	eventually(t, func() bool { return len(rec.order()) == 2 }, "queued events not drained on reconnect")
	eventually(t, func() bool { return inv.fullCount() == 1 }, "full invalidation not issued")

	// per-event invalidations still happen alongside the full refresh
	if inv.count("orders") != 2 {
		t.Errorf("per-event invalidations = %d, want 2", inv.count("orders"))
	}

	time.Sleep(50 * time.Millisecond)
	if inv.fullCount() != 1 {
		t.Errorf("full invalidations = %d, want exactly 1", inv.fullCount())
	}
	if repl.staleCount() != 1 {
		t.Errorf("mark-stale calls = %d, want 1", repl.staleCount())
	}
}

func TestIngestFilters(t *testing.T) {
	reg := testRegistry(t, nil, registry.Descriptor{
		Category:   "messages",
		Priority:   model.PriorityLow,
		Operations: []model.Operation{model.OpCreated},
	})
	eng := New(Config{TenantID: "T1"}, reg, &recInvalidator{}, &recAlerter{}, &recReplicator{})

	if eng.Ingest("housekeeping", created("T1", `{}`)) {
		t.Error("unknown category must be dropped")
	}
	if eng.Ingest("messages", created("T2", `{}`)) {
		t.Error("foreign tenant must be dropped")
	}
	if eng.Ingest("messages", model.RawNotification{TenantID: "T1", Operation: "upserted"}) {
		t.Error("malformed operation must be dropped")
	}
	if eng.Ingest("messages", model.RawNotification{TenantID: "T1", Operation: model.OpUpdated}) {
		t.Error("uninteresting operation must be dropped")
	}
	if !eng.Ingest("messages", created("T1", `{"id":"1"}`)) {
		t.Error("interesting event must be accepted")
	}
	if st := eng.Status(); st.QueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", st.QueueDepth)
	}
}

func TestConcurrentIntake(t *testing.T) {
	rec := &dispatchRecorder{}
	reg := testRegistry(t, rec,
		registry.Descriptor{Category: "orders", Priority: model.PriorityHigh},
		registry.Descriptor{Category: "rooms", Priority: model.PriorityMedium},
		registry.Descriptor{Category: "tasks", Priority: model.PriorityMedium},
		registry.Descriptor{Category: "messages", Priority: model.PriorityLow},
	)

	eng := New(Config{TenantID: "T1", BatchWindow: 20 * time.Millisecond},
		reg, &recInvalidator{}, &recAlerter{}, &recReplicator{})
	eng.Start(context.Background())
	defer eng.Close()

	cats := []string{"orders", "rooms", "tasks", "messages"}
	var wg sync.WaitGroup
	for _, cat := range cats {
		wg.Add(1)
		go func(cat string) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				eng.Ingest(cat, created("T1", `{"id":"x"}`))
			}
		}(cat)
	}
	wg.Wait()

	eventually(t, func() bool { return len(rec.order()) == 120 }, "concurrent intake lost events")
}

// alertChannelStub counts audible notifications through the real gateway.
type alertChannelStub struct {
	mu   sync.Mutex
	sent []alert.Notification
}

func (s *alertChannelStub) Notify(_ context.Context, n alert.Notification) error {
	s.mu.Lock()
	s.sent = append(s.sent, n)
	s.mu.Unlock()
	return nil
}

func (s *alertChannelStub) countAudible() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, x := range s.sent {
		if x.Audible {
			n++
		}
	}
	return n
}
