package engine

import (
	"context"
	"sync"
	"time"
)

// HoldTransition is the body expression of an accumulator: given the
// triggering event's value and the previous state, produce the next state.
// Returning a Flushed value aborts the commit (§4.6 "Failure").
type HoldTransition func(ctx *EvalCtx, event Value, prev Value) (Value, error)

// HoldNode is the Accumulator (HOLD) combinator: it owns a state value,
// reads a body expression that may reference the previous state, and
// advances exactly once per trigger event. Concurrent triggers are
// serialized by a semaphore-of-one, the "accumulator permit" (§4.6).
type HoldNode struct {
	baseNode

	arena      *Arena
	scope      ScopeId
	name       string
	transition HoldTransition

	// permit is the semaphore-of-one serializing concurrent triggers (§4.6);
	// it is a real AwaitToDeliver Channel (§4.2/§5 "(d) accumulator body
	// evaluation awaiting its permit"), so a stuck transition trips the same
	// debug-timeout diagnostics as any other must-deliver send.
	permit *Channel[struct{}]

	triggerSub *Subscription
	flushedOut Value
	hasFlushed bool
	flushedMu  sync.Mutex

	persistenceId    PersistenceId
	hasPersistenceId bool
}

func (n *HoldNode) base() *baseNode { return &n.baseNode }

func (n *HoldNode) GetUpdateSince(since uint64) Update {
	if since >= n.CurrentVersion() {
		return Update{Kind: UpToDate}
	}
	return Update{Kind: Snapshot, Value: n.CurrentValue()}
}

// NewHold allocates a HOLD node with initial state, driven by one trigger
// source and a transition body. name is used only as a persistence-id style
// label for diagnostics; it is not validated against the reserved namespace
// here (callers should route user-facing names through Intern first).
func NewHold(arena *Arena, scope ScopeId, name string, trigger NodeId, initial Value, transition HoldTransition) (NodeId, *HoldNode, error) {
	permit := NewChannel[struct{}]("hold-permit:"+name, CapacityUnitSignal, AwaitToDeliver)
	if cfg := arena.Config(); cfg != nil && cfg.ChannelDebugTimeoutMs > 0 {
		permit.WithDebugTimeout(time.Duration(cfg.ChannelDebugTimeoutMs)*time.Millisecond, arena.Logger())
	}

	n := &HoldNode{
		baseNode:   newBaseNode(initial),
		arena:      arena,
		scope:      scope,
		name:       name,
		transition: transition,
		permit:     permit,
	}
	n.permit.Send(context.Background(), struct{}{}) // start unlocked

	id, err := arena.AllocNode(scope, n)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.nid = id

	sub, err := NewSubscription(arena, trigger)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.triggerSub = sub

	return id, n, nil
}

// NewPersistentHold allocates a HOLD node bound to a persistence_id (§4.11):
// a saved value overrides the literal initial at construction, and every
// successful Advance commit queues a write under id, coalesced and flushed
// per the arena's PersistenceFlushPolicy.
func NewPersistentHold(arena *Arena, scope ScopeId, name string, id PersistenceId, trigger NodeId, initial Value, transition HoldTransition) (NodeId, *HoldNode, error) {
	if err := arena.reservePersistenceId(id); err != nil {
		return NodeId{}, nil, err
	}

	state := initial
	if loaded, _, ok := arena.loadPersisted(id); ok {
		state = loaded
	} else {
		arena.queuePersist(id, initial)
	}

	nid, n, err := NewHold(arena, scope, name, trigger, state, transition)
	if err != nil {
		arena.releasePersistenceId(id)
		return NodeId{}, nil, err
	}
	n.persistenceId = id
	n.hasPersistenceId = true
	return nid, n, nil
}

func (n *HoldNode) destroy() {
	if n.hasPersistenceId {
		n.arena.releasePersistenceId(n.persistenceId)
	}
	if n.triggerSub != nil {
		n.triggerSub.Close()
	}
	n.permit.Close()
	n.baseNode.destroy()
}

// Run drives the HOLD node's trigger loop until ctx is cancelled or the
// trigger stream ends. A scheduler typically runs this in the propagate
// phase rather than as a free-running goroutine, but it is exposed as a
// blocking loop so tests can step it directly with a cancellable context.
func (n *HoldNode) Run(ctx context.Context) error {
	for {
		upd, err := n.triggerSub.Next(ctx)
		if err != nil {
			return err
		}
		if upd.Kind == EndOfStream {
			return nil
		}
		if upd.Kind == UpToDate {
			continue
		}
		if err := n.Advance(ctx, upd.Value); err != nil {
			return err
		}
	}
}

// Advance evaluates the transition for one trigger event, serialized by the
// accumulator permit: no new trigger is admitted until the current
// evaluation completes and state has been committed (§4.6).
func (n *HoldNode) Advance(ctx context.Context, event Value) error {
	if _, err := n.permit.Receive(ctx); err != nil {
		return err
	}
	defer func() { n.permit.Send(context.Background(), struct{}{}) }()

	prev := n.CurrentValue()
	next, err := wrapEvaluate(n.arena, n.nid, func() (Value, error) {
		ectx := newEvalCtx(n.arena, n.scope, n.nid)
		return n.transition(ectx, event, prev)
	})
	if err != nil {
		return newResolveError(n.nid, "hold-transition", err)
	}

	if next.IsFlushed() {
		// State and version are left unchanged; the Flushed value is
		// recorded for LastFlushed and emitted as a trace event.
		n.flushedMu.Lock()
		n.flushedOut = next
		n.hasFlushed = true
		n.flushedMu.Unlock()
		n.arena.emitTrace(TraceEvent{Kind: EventValueEmitted, Node: n.nid, Value: next})
		return nil
	}

	ver := n.commit(next)
	if n.hasPersistenceId {
		n.arena.queuePersist(n.persistenceId, next)
	}
	n.arena.emitTrace(TraceEvent{Kind: EventValueEmitted, Node: n.nid, Value: next, Version: ver})
	return nil
}

// LastFlushed returns the most recent Flushed bypass value produced by a
// failed transition, and whether one has occurred since creation.
func (n *HoldNode) LastFlushed() (Value, bool) {
	n.flushedMu.Lock()
	defer n.flushedMu.Unlock()
	return n.flushedOut, n.hasFlushed
}
