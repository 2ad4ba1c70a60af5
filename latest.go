package engine

import "sync"

// IdempotencyKey identifies a source update for LATEST's dedup check (§4.8).
// Constants carry a stable key (their persistence id); events carry a fresh
// key per occurrence.
type IdempotencyKey string

// LatestSource pairs a node to merge with a key function deriving its
// per-update idempotency key from the value it just produced.
type LatestSource struct {
	Node NodeId
	// KeyFn derives the idempotency key for a value from this source. A nil
	// KeyFn means "always fresh" (typical for genuine user events); a
	// constant-style source should return a stable key (its persistence id).
	KeyFn func(Value) IdempotencyKey
}

// LatestNode is the event-merge (LATEST) combinator: N input streams,
// first-wins per tick, emitting the newest available value subject to
// per-source idempotency deduplication (§4.8).
type LatestNode struct {
	baseNode

	arena   *Arena
	sources []LatestSource
	subs    []*Subscription

	mu       sync.Mutex
	lastKeys map[int]IdempotencyKey
}

func (n *LatestNode) base() *baseNode { return &n.baseNode }

func (n *LatestNode) GetUpdateSince(since uint64) Update {
	if since >= n.CurrentVersion() {
		return Update{Kind: UpToDate}
	}
	return Update{Kind: Snapshot, Value: n.CurrentValue()}
}

// NewLatest allocates a LATEST node merging sources, seeded with initial.
func NewLatest(arena *Arena, scope ScopeId, sources []LatestSource, initial Value) (NodeId, *LatestNode, error) {
	n := &LatestNode{
		baseNode: newBaseNode(initial),
		arena:    arena,
		sources:  sources,
		lastKeys: make(map[int]IdempotencyKey),
	}
	id, err := arena.AllocNode(scope, n)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.nid = id

	for _, src := range sources {
		sub, err := NewSubscription(arena, src.Node)
		if err != nil {
			return NodeId{}, nil, err
		}
		n.subs = append(n.subs, sub)
	}
	return id, n, nil
}

// Poll checks every source once (non-blocking) in source order. Each source
// whose idempotency key differs from the last accepted key for that source
// has its new key recorded; the first such source's value is committed and
// later changed sources in the same call do not override it. Returns true
// if a commit happened. Poll is not driven by the Scheduler; the caller
// decides when to call it.
func (n *LatestNode) Poll() (bool, error) {
	committed := false
	for i, src := range n.sources {
		node, err := n.arena.Get(src.Node)
		if err != nil {
			continue // source torn down; treated as simply silent, not an error
		}
		val := node.CurrentValue()

		var key IdempotencyKey
		if src.KeyFn != nil {
			key = src.KeyFn(val)
		} else {
			key = IdempotencyKey(val.String())
		}

		n.mu.Lock()
		last, seen := n.lastKeys[i]
		if seen && last == key {
			n.mu.Unlock()
			continue
		}
		n.lastKeys[i] = key
		n.mu.Unlock()

		if !committed {
			n.commit(val)
			committed = true
		}
	}
	return committed, nil
}

// Sources exposes the per-source subscriptions for a scheduler to drain.
func (n *LatestNode) Sources() []*Subscription { return n.subs }
