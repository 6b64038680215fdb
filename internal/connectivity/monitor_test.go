package connectivity

import (
	"context"
	"testing"
	"time"
)

func TestTransitionsNotifyOncePerChange(t *testing.T) {
	m := NewMonitor()
	var got []bool
	m.OnChange(func(online bool) { got = append(got, online) })

	if !m.Online() {
		t.Fatal("monitor must start online")
	}

	m.Set(true) // same state, no-op
	m.Set(false)
	m.Set(false) // flapping duplicate
	m.Set(true)
	m.Set(true)

	want := []bool{false, true}
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("notifications = %v, want %v", got, want)
		}
	}
}

func TestCallbacksRunInRegistrationOrder(t *testing.T) {
	m := NewMonitor()
	var order []string
	m.OnChange(func(bool) { order = append(order, "batcher") })
	m.OnChange(func(bool) { order = append(order, "dispatcher") })

	m.Set(false)
	if len(order) != 2 || order[0] != "batcher" || order[1] != "dispatcher" {
		t.Fatalf("callback order = %v", order)
	}
}

type stubSource struct{ samples []bool }

func (s *stubSource) Watch(ctx context.Context) <-chan bool {
	out := make(chan bool)
	go func() {
		defer close(out)
		for _, v := range s.samples {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func TestRunConsumesSource(t *testing.T) {
	m := NewMonitor()
	transitions := make(chan bool, 8)
	m.OnChange(func(online bool) { transitions <- online })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, &stubSource{samples: []bool{true, false, false, true}})
	}()
	<-done

	var got []bool
	for len(transitions) > 0 {
		got = append(got, <-transitions)
	}
	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Fatalf("transitions = %v, want [false true]", got)
	}
}
