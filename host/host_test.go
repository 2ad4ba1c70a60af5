package host

import (
	"testing"
	"time"

	engine "github.com/reactive-dataflow/engine"
)

func TestHost_InjectEventRoutesToRegisteredLink(t *testing.T) {
	h := NewHost(8, nil)
	scope := h.Arena().RootScope()

	link, err := engine.NewStaticLinkId("click")
	if err != nil {
		t.Fatalf("NewStaticLinkId: %v", err)
	}
	nodeId, ep, err := engine.NewLinkEndpoint(h.Arena(), scope, link)
	if err != nil {
		t.Fatalf("NewLinkEndpoint: %v", err)
	}
	h.RegisterLink(link, nodeId)

	if err := h.InjectEvent(link, engine.NumberPayload(5)); err != nil {
		t.Fatalf("InjectEvent: %v", err)
	}
	if !h.Scheduler().Tick() {
		t.Fatalf("expected a tick to find the injected event")
	}
	if ep.CurrentValue().AsNumber() != 5 {
		t.Fatalf("got %v want 5", ep.CurrentValue().AsNumber())
	}
}

func TestHost_TwoTimersBothDeliverIndependently(t *testing.T) {
	h := NewHost(8, nil)
	scope := h.Arena().RootScope()

	id1, node1, err := h.RegisterTimer(scope, time.Millisecond)
	if err != nil {
		t.Fatalf("RegisterTimer: %v", err)
	}
	id2, node2, err := h.RegisterTimer(scope, time.Millisecond)
	if err != nil {
		t.Fatalf("RegisterTimer: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected distinct timer ids")
	}

	time.Sleep(5 * time.Millisecond)
	for i := 0; i < 5; i++ {
		h.Scheduler().Tick()
	}
	time.Sleep(2 * time.Millisecond)
	for i := 0; i < 5; i++ {
		h.Scheduler().Tick()
	}

	ep1, err := h.Arena().Get(node1)
	if err != nil {
		t.Fatalf("Get(node1): %v", err)
	}
	ep2, err := h.Arena().Get(node2)
	if err != nil {
		t.Fatalf("Get(node2): %v", err)
	}
	if ep1.CurrentValue().Kind() == engine.KindUnit {
		t.Fatalf("expected the first timer to have delivered at least one firing")
	}
	if ep2.CurrentValue().Kind() == engine.KindUnit {
		t.Fatalf("expected the second timer to have delivered at least one firing, registering a second timer must not orphan it")
	}
}

func TestHost_UnregisterTimerStopsFutureDelivery(t *testing.T) {
	h := NewHost(8, nil)
	scope := h.Arena().RootScope()

	id, node, err := h.RegisterTimer(scope, time.Millisecond)
	if err != nil {
		t.Fatalf("RegisterTimer: %v", err)
	}
	h.UnregisterTimer(id)

	time.Sleep(5 * time.Millisecond)
	for i := 0; i < 5; i++ {
		h.Scheduler().Tick()
	}

	ep, err := h.Arena().Get(node)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ep.CurrentValue().Kind() != engine.KindUnit {
		t.Fatalf("expected an unregistered timer to never deliver, got %+v", ep.CurrentValue())
	}
}
