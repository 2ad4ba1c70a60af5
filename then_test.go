package engine

import (
	"context"
	"testing"
	"time"
)

func TestThen_EdgeTriggeredRepeatsOnIdenticalEvents(t *testing.T) {
	a := NewArena()
	scope := a.RootScope()
	trigger, _, err := NewLinkEndpoint(a, scope, NewDynamicLinkId("tick"))
	if err != nil {
		t.Fatalf("NewLinkEndpoint: %v", err)
	}
	calls := 0
	_, then, err := NewThen(a, scope, trigger, Number(0),
		func(ctx *EvalCtx, trigger Value, snapshot func(NodeId) (Value, error)) (Value, error) {
			calls++
			return Number(float64(calls)), nil
		})
	if err != nil {
		t.Fatalf("NewThen: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go then.Run(ctx)

	ep, _ := a.Get(trigger)
	endpoint := ep.(*LinkEndpointNode)

	for i := 0; i < 3; i++ {
		endpoint.Fire(Unit())
	}

	deadline := time.Now().Add(time.Second)
	for then.CurrentValue().AsNumber() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := then.CurrentValue().AsNumber(); got != 3 {
		t.Fatalf("got %v want 3 identical-event firings to each produce a new evaluation", got)
	}
}

func TestThen_FreeVariablesReadAsSnapshot(t *testing.T) {
	a := NewArena()
	scope := a.RootScope()

	counter, err := NewConstant(a, scope, Number(100))
	if err != nil {
		t.Fatalf("NewConstant: %v", err)
	}

	trigger, _, err := NewLinkEndpoint(a, scope, NewDynamicLinkId("fire"))
	if err != nil {
		t.Fatalf("NewLinkEndpoint: %v", err)
	}

	_, then, err := NewThen(a, scope, trigger, Number(0),
		func(ctx *EvalCtx, trigger Value, snapshot func(NodeId) (Value, error)) (Value, error) {
			v, err := snapshot(counter)
			if err != nil {
				return Value{}, err
			}
			return Number(v.AsNumber() + 1), nil
		})
	if err != nil {
		t.Fatalf("NewThen: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go then.Run(ctx)

	ep, _ := a.Get(trigger)
	ep.(*LinkEndpointNode).Fire(Unit())

	deadline := time.Now().Add(time.Second)
	for then.CurrentVersion() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := then.CurrentValue().AsNumber(); got != 101 {
		t.Fatalf("got %v want 101", got)
	}
}
