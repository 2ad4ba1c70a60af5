package engine

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestHold_AccumulatorConsistencyUnderBurst(t *testing.T) {
	a := NewArena()
	scope := a.RootScope()
	trigger, _, err := NewLinkEndpoint(a, scope, NewDynamicLinkId("press"))
	if err != nil {
		t.Fatalf("NewLinkEndpoint: %v", err)
	}
	_, hold, err := NewHold(a, scope, "count", trigger, Number(0),
		func(ctx *EvalCtx, event Value, prev Value) (Value, error) {
			return Number(prev.AsNumber() + 1), nil
		})
	if err != nil {
		t.Fatalf("NewHold: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go hold.Run(ctx)

	ep, _ := a.Get(trigger)
	endpoint := ep.(*LinkEndpointNode)

	// Fire three events concurrently inside a single burst; the accumulator
	// permit must serialize the transitions so none are lost.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			endpoint.Fire(Unit())
		}()
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for hold.CurrentValue().AsNumber() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got := hold.CurrentValue().AsNumber(); got != 3 {
		t.Fatalf("got final count %v, want 3", got)
	}
}

func TestHold_FlushedTransitionDoesNotAdvanceState(t *testing.T) {
	a := NewArena()
	scope := a.RootScope()
	trigger, _, err := NewLinkEndpoint(a, scope, NewDynamicLinkId("input"))
	if err != nil {
		t.Fatalf("NewLinkEndpoint: %v", err)
	}
	_, hold, err := NewHold(a, scope, "state", trigger, Number(10),
		func(ctx *EvalCtx, event Value, prev Value) (Value, error) {
			if event.AsNumber() < 0 {
				return Flushed(Tagged(InternReserved("__negative_error"), nil)), nil
			}
			return Number(prev.AsNumber() + event.AsNumber()), nil
		})
	if err != nil {
		t.Fatalf("NewHold: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go hold.Run(ctx)

	ep, _ := a.Get(trigger)
	endpoint := ep.(*LinkEndpointNode)
	startVersion := hold.CurrentVersion()

	endpoint.Fire(Number(-5))
	time.Sleep(20 * time.Millisecond)

	if hold.CurrentVersion() != startVersion {
		t.Fatalf("expected a Flushed transition to leave version unchanged, got %d want %d", hold.CurrentVersion(), startVersion)
	}
	if hold.CurrentValue().AsNumber() != 10 {
		t.Fatalf("expected state to remain 10 after a Flushed transition, got %v", hold.CurrentValue().AsNumber())
	}
	if _, ok := hold.LastFlushed(); !ok {
		t.Fatalf("expected LastFlushed to report the bypass value")
	}

	endpoint.Fire(Number(5))
	deadline := time.Now().Add(time.Second)
	for hold.CurrentValue().AsNumber() < 15 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := hold.CurrentValue().AsNumber(); got != 15 {
		t.Fatalf("got %v want 15", got)
	}
}
