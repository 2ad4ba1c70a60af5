package engine

import (
	"testing"
	"time"
)

func TestLinkRegistry_RegisterResolveUnregister(t *testing.T) {
	r := NewLinkRegistry()
	link := NewDynamicLinkId("click")
	if _, ok := r.Resolve(link); ok {
		t.Fatalf("expected an unregistered link to not resolve")
	}
	node := NodeId{}
	r.Register(link, node)
	if got, ok := r.Resolve(link); !ok || got != node {
		t.Fatalf("expected the registered node to resolve, got %v ok=%v", got, ok)
	}
	r.Unregister(link)
	if _, ok := r.Resolve(link); ok {
		t.Fatalf("expected resolve to fail after unregister")
	}
}

func TestScheduler_TickReturnsFalseWhenNothingPending(t *testing.T) {
	a := NewArena()
	ingress := NewIngress(4)
	links := NewLinkRegistry()
	s := NewScheduler(a, ingress, links, nil)

	if s.Tick() {
		t.Fatalf("expected Tick to report no work on an empty ingress queue")
	}
}

func TestScheduler_TickDispatchesRoutedEventToItsEndpoint(t *testing.T) {
	a := NewArena()
	scope := a.RootScope()
	ingress := NewIngress(4)
	links := NewLinkRegistry()
	s := NewScheduler(a, ingress, links, nil)

	link := NewDynamicLinkId("click")
	epID, ep, err := NewLinkEndpoint(a, scope, link)
	if err != nil {
		t.Fatalf("NewLinkEndpoint: %v", err)
	}
	links.Register(link, epID)

	var dispatched []Value
	s.OnDispatch(func(l LinkId, v Value) error {
		dispatched = append(dispatched, v)
		return nil
	})

	if err := ingress.InjectEvent(link, NumberPayload(42)); err != nil {
		t.Fatalf("InjectEvent: %v", err)
	}
	if !s.Tick() {
		t.Fatalf("expected Tick to report work after an injection")
	}
	if len(dispatched) != 1 || dispatched[0].AsNumber() != 42 {
		t.Fatalf("expected the dispatch callback to observe the injected value, got %+v", dispatched)
	}
	if ep.CurrentValue().AsNumber() != 42 {
		t.Fatalf("expected the endpoint node itself to have fired, got %v", ep.CurrentValue())
	}
}

func TestScheduler_TickReportsUnknownLinkWithoutPanicking(t *testing.T) {
	a := NewArena()
	ingress := NewIngress(4)
	links := NewLinkRegistry()
	s := NewScheduler(a, ingress, links, nil)

	link := NewDynamicLinkId("ghost")
	if err := ingress.InjectEvent(link, UnitPayload()); err != nil {
		t.Fatalf("InjectEvent: %v", err)
	}
	if !s.Tick() {
		t.Fatalf("expected Tick to report work even though dispatch will fail internally")
	}
}

func TestScheduler_RegisterAndUnregisterTimer(t *testing.T) {
	a := NewArena()
	ingress := NewIngress(4)
	links := NewLinkRegistry()
	s := NewScheduler(a, ingress, links, nil)

	id := TimerId(1)
	s.RegisterTimer(id, time.Millisecond, NodeId{})
	if len(s.timers) != 1 {
		t.Fatalf("expected one registered timer, got %d", len(s.timers))
	}
	s.UnregisterTimer(id)
	if len(s.timers) != 0 {
		t.Fatalf("expected the timer queue to be empty after unregister, got %d", len(s.timers))
	}
}

func TestScheduler_TickFiresDueTimerAndReschedules(t *testing.T) {
	a := NewArena()
	ingress := NewIngress(4)
	links := NewLinkRegistry()
	s := NewScheduler(a, ingress, links, nil)

	var fired []TimerId
	s.OnTimer(func(id TimerId, tick uint64) error {
		fired = append(fired, id)
		return nil
	})

	id := TimerId(7)
	s.RegisterTimer(id, time.Millisecond, NodeId{})
	time.Sleep(5 * time.Millisecond)

	if !s.Tick() {
		t.Fatalf("expected Tick to report work once the timer deadline has passed")
	}
	if len(s.timers) != 1 {
		t.Fatalf("expected a periodic timer to be rescheduled after firing, got %d entries", len(s.timers))
	}

	// The fired timer is re-enqueued onto ingress and observed on the next tick.
	time.Sleep(2 * time.Millisecond)
	for i := 0; i < 3 && len(fired) == 0; i++ {
		s.Tick()
	}
	if len(fired) == 0 {
		t.Fatalf("expected the OnTimer callback to eventually observe the fired timer")
	}
}
