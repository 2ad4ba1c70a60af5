package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// UpdateKind tags the Update variant returned by GetUpdateSince.
type UpdateKind uint8

const (
	UpToDate UpdateKind = iota
	Snapshot
	Diffs
	EndOfStream
)

// Update is the pull result of GetUpdateSince: the *optimal* form of the
// change since a given version (§4.3). Scalars and "gap too large" cases
// return Snapshot; list nodes may return Diffs when the gap is bounded and
// cheaper than a snapshot (§4.5.2). EndOfStream is returned once the node's
// owning scope has been destroyed.
type Update struct {
	Kind  UpdateKind
	Value Value
	Diffs []ListDiff
}

// cleanupEntry is a single LIFO-ordered teardown callback registered via
// EvalCtx.OnCleanup, grounded on the teacher's cleanup_test.go contract
// (LIFO order, run on reactive replacement and on scope dispose) though the
// supporting type itself was not present in the retrieved sources.
type cleanupEntry struct {
	fn func() error
}

// EvalCtx is passed to combinator body factories (HOLD transitions, WHEN/
// WHILE arm bodies, THEN bodies). It is the engine's analogue of the
// teacher's ResolveCtx, carrying the owning node's scope for downstream
// allocation and a cleanup registry for resources the body acquires.
type EvalCtx struct {
	arena    *Arena
	scope    ScopeId
	node     NodeId
	cleanups []cleanupEntry
}

func newEvalCtx(arena *Arena, scope ScopeId, node NodeId) *EvalCtx {
	return &EvalCtx{arena: arena, scope: scope, node: node}
}

func (c *EvalCtx) Arena() *Arena  { return c.arena }
func (c *EvalCtx) Scope() ScopeId { return c.scope }

// OnCleanup registers fn to run, LIFO, when this body's owner is
// re-evaluated (reactive replacement) or the scope is disposed.
func (c *EvalCtx) OnCleanup(fn func() error) {
	c.cleanups = append(c.cleanups, cleanupEntry{fn: fn})
}

func (c *EvalCtx) runCleanups(arena *Arena, node NodeId, context string) {
	if len(c.cleanups) == 0 {
		return
	}
	exts := arena.extensionsCopy()
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		if err := c.cleanups[i].fn(); err != nil {
			cerr := &CleanupError{Node: node, Err: err, Context: context}
			handled := false
			for _, ext := range exts {
				if ext.OnCleanupError(cerr) {
					handled = true
					break
				}
			}
			_ = handled // unhandled cleanup errors are swallowed by design, like the teacher
		}
	}
}

// subscriberSet fans out coalesced version-change notifications: each
// subscriber gets its own capacity-1 channel, and a non-blocking send means
// rapid successive updates collapse into a single pending wakeup (§4.4
// fairness: "notifications are coalesced").
type subscriberSet struct {
	mu     sync.Mutex
	chans  map[*Subscription]chan struct{}
	closed bool
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{chans: make(map[*Subscription]chan struct{})}
}

func (s *subscriberSet) add(sub *Subscription) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{}, 1)
	if s.closed {
		close(ch)
		return ch
	}
	s.chans[sub] = ch
	return ch
}

func (s *subscriberSet) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chans, sub)
}

func (s *subscriberSet) notifyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *subscriberSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, ch := range s.chans {
		close(ch)
	}
	s.chans = nil
}

// baseNode implements the common parts of the Node protocol: version
// counter, current value, and the subscriber fan-out. Concrete node kinds
// (constant, HOLD, LATEST, WHEN/WHILE, THEN, list root/transform, link
// endpoint) embed it and add their own GetUpdateSince and mutation logic.
type baseNode struct {
	nid     NodeId
	version atomic.Uint64
	mu      sync.RWMutex
	value   Value
	subs    *subscriberSet
}

func newBaseNode(initial Value) baseNode {
	return baseNode{value: initial, subs: newSubscriberSet()}
}

func (n *baseNode) id() NodeId { return n.nid }

func (n *baseNode) CurrentValue() Value {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.value
}

func (n *baseNode) CurrentVersion() uint64 { return n.version.Load() }

// commit stores a new value and bumps the version exactly once (§8
// "Monotonic versions"), then notifies subscribers. Pass the same value to
// re-emit without changing it (e.g. HOLD's Flushed re-emit keeps the
// version unchanged by not calling commit at all).
func (n *baseNode) commit(v Value) uint64 {
	n.mu.Lock()
	n.value = v
	n.mu.Unlock()
	ver := n.version.Add(1)
	n.subs.notifyAll()
	return ver
}

func (n *baseNode) destroy() {
	n.subs.closeAll()
}

// Subscription tracks a consumer's position in a node's version stream. It
// does not keep the node alive (§4.4): it holds only the NodeId and a
// notification channel, never a pointer that roots the node in the arena.
type Subscription struct {
	arena    *Arena
	target   NodeId
	lastSeen uint64
	notify   chan struct{}
	ended    bool
}

// NewSubscription allocates a listener on target's version-change stream.
func NewSubscription(arena *Arena, target NodeId) (*Subscription, error) {
	node, err := arena.Get(target)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{arena: arena, target: target}
	base := nodeBase(node)
	sub.notify = base.subs.add(sub)
	return sub, nil
}

// nodeBase extracts the embedded *baseNode from any concrete Node kind via
// the baseNodeHolder interface, so Subscription can reach the subscriber set
// without every node kind re-implementing Subscribe plumbing.
type baseNodeHolder interface {
	base() *baseNode
}

func nodeBase(n Node) *baseNode {
	if h, ok := n.(baseNodeHolder); ok {
		return h.base()
	}
	return nil
}

// Next waits until the target's version advances past lastSeen, then pulls
// the optimal update form and advances lastSeen. Returns EndOfStream once
// the node (or its scope) has been destroyed.
func (s *Subscription) Next(ctx context.Context) (Update, error) {
	if s.ended {
		return Update{Kind: EndOfStream}, nil
	}

	node, err := s.arena.Get(s.target)
	if err != nil {
		s.ended = true
		return Update{Kind: EndOfStream}, nil
	}

	for node.CurrentVersion() <= s.lastSeen {
		select {
		case _, ok := <-s.notify:
			if !ok {
				s.ended = true
				return Update{Kind: EndOfStream}, nil
			}
		case <-ctx.Done():
			return Update{}, ctx.Err()
		}
		// Re-fetch: the node may have been destroyed between notify and now.
		node, err = s.arena.Get(s.target)
		if err != nil {
			s.ended = true
			return Update{Kind: EndOfStream}, nil
		}
	}

	upd := node.GetUpdateSince(s.lastSeen)
	s.lastSeen = node.CurrentVersion()
	return upd, nil
}

// Current is a synchronous one-shot read of the current value, no wait.
func (s *Subscription) Current() (Value, error) {
	node, err := s.arena.Get(s.target)
	if err != nil {
		return Value{}, err
	}
	return node.CurrentValue(), nil
}

// Close releases the subscription's registration early. Idempotent.
func (s *Subscription) Close() {
	if node, err := s.arena.Get(s.target); err == nil {
		if base := nodeBase(node); base != nil {
			base.subs.remove(s)
		}
	}
}

func wrapEvaluate(arena *Arena, node NodeId, next func() (Value, error)) (Value, error) {
	exts := arena.extensionsCopy()
	op := &Operation{Kind: OpEvaluate, Node: node, Arena: arena}

	chain := next
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		prev := chain
		chain = func() (Value, error) {
			return ext.Wrap(context.Background(), prev, op)
		}
	}

	v, err := chain()
	if err != nil {
		for _, ext := range exts {
			ext.OnError(err, op, arena)
		}
	}
	return v, err
}
