package engine

import "context"

// ThenBody evaluates once per trigger event. snapshot reads a free
// variable's *current* value without subscribing, per §4.10: "Free
// variables of the body are read as snapshots at fire time (not
// subscriptions), to prevent queue buildup if THEN itself is slow."
type ThenBody func(ctx *EvalCtx, trigger Value, snapshot func(NodeId) (Value, error)) (Value, error)

// ThenNode is the trigger-transform (THEN) combinator: on each trigger
// event it evaluates its body once, edge-triggered, with free variables
// read as snapshots rather than subscriptions (§4.10).
type ThenNode struct {
	baseNode

	arena *Arena
	scope ScopeId
	body  ThenBody

	triggerSub *Subscription
}

func (n *ThenNode) base() *baseNode { return &n.baseNode }

func (n *ThenNode) GetUpdateSince(since uint64) Update {
	if since >= n.CurrentVersion() {
		return Update{Kind: UpToDate}
	}
	return Update{Kind: Snapshot, Value: n.CurrentValue()}
}

// NewThen allocates a THEN node driven by trigger, running body once per
// trigger event.
func NewThen(arena *Arena, scope ScopeId, trigger NodeId, initial Value, body ThenBody) (NodeId, *ThenNode, error) {
	n := &ThenNode{baseNode: newBaseNode(initial), arena: arena, scope: scope, body: body}
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

func (n *ThenNode) snapshot(id NodeId) (Value, error) {
	node, err := n.arena.Get(id)
	if err != nil {
		return Value{}, err
	}
	return node.CurrentValue(), nil
}

// Fire evaluates the body once for the given trigger value. Repeated
// identical trigger events produce repeated evaluations (THEN is always
// edge-triggered, §4.10).
func (n *ThenNode) Fire(triggerVal Value) error {
	result, err := wrapEvaluate(n.arena, n.nid, func() (Value, error) {
		ectx := newEvalCtx(n.arena, n.scope, n.nid)
		return n.body(ectx, triggerVal, n.snapshot)
	})
	if err != nil {
		return newResolveError(n.nid, "then-body", err)
	}
	ver := n.commit(result)
	n.arena.emitTrace(TraceEvent{Kind: EventValueEmitted, Node: n.nid, Value: result, Version: ver})
	return nil
}

// Run drains the trigger subscription, calling Fire for every new value
// until ctx is cancelled or the trigger stream ends.
func (n *ThenNode) Run(ctx context.Context) error {
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
		if err := n.Fire(upd.Value); err != nil {
			return err
		}
	}
}
