package engine

import "context"

// PatternKind enumerates the shapes a Pattern can match (§4.9).
type PatternKind uint8

const (
	PatternWildcard PatternKind = iota
	PatternBool
	PatternNumber
	PatternText
	PatternTagged
	PatternObject
	PatternList
	PatternBind // binds the whole matched value to a name, always matches
)

// Pattern is a single match pattern. Bool/Number/Text compare by literal.
// Tagged matches by tag and optionally nested patterns on fields. Object
// matches a required-fields subset. List matches fixed length with
// per-position patterns; "__" is represented as PatternWildcard.
type Pattern struct {
	Kind PatternKind

	boolLit bool
	numLit  float64
	textLit string

	tag    TagId
	fields map[TagId]Pattern // Tagged: nested field patterns; Object: required fields

	items []Pattern // List: fixed-length per-position patterns

	bindName TagId
}

func WildcardPattern() Pattern { return Pattern{Kind: PatternWildcard} }

func BoolPattern(b bool) Pattern { return Pattern{Kind: PatternBool, boolLit: b} }

func NumberPattern(n float64) Pattern { return Pattern{Kind: PatternNumber, numLit: n} }

func TextPattern(s string) Pattern { return Pattern{Kind: PatternText, textLit: s} }

func TaggedPattern(tag TagId, fields map[TagId]Pattern) Pattern {
	return Pattern{Kind: PatternTagged, tag: tag, fields: fields}
}

func ObjectPattern(required map[TagId]Pattern) Pattern {
	return Pattern{Kind: PatternObject, fields: required}
}

func ListPattern(items []Pattern) Pattern {
	return Pattern{Kind: PatternList, items: items}
}

func BindPattern(name TagId) Pattern {
	return Pattern{Kind: PatternBind, bindName: name}
}

// Bindings captures names bound while matching (currently only PatternBind
// produces a binding; nested Tagged/Object patterns may also bind their
// sub-pattern matches into the same map).
type Bindings map[TagId]Value

// Match reports whether v matches p, returning any bindings produced.
func Match(p Pattern, v Value) (Bindings, bool) {
	b := Bindings{}
	if matchInto(p, v, b) {
		return b, true
	}
	return nil, false
}

func matchInto(p Pattern, v Value, out Bindings) bool {
	switch p.Kind {
	case PatternWildcard:
		return true
	case PatternBind:
		out[p.bindName] = v
		return true
	case PatternBool:
		return v.Kind() == KindBool && v.AsBool() == p.boolLit
	case PatternNumber:
		return v.Kind() == KindNumber && v.AsNumber() == p.numLit
	case PatternText:
		return v.Kind() == KindText && v.AsText() == p.textLit
	case PatternTagged:
		if v.Kind() != KindTagged || v.Tag() != p.tag {
			return false
		}
		obj := v.AsObject()
		for k, sub := range p.fields {
			fv, ok := obj.Get(k)
			if !ok || !matchInto(sub, fv, out) {
				return false
			}
		}
		return true
	case PatternObject:
		if v.Kind() != KindObject {
			return false
		}
		obj := v.AsObject()
		for k, sub := range p.fields {
			fv, ok := obj.Get(k)
			if !ok || !matchInto(sub, fv, out) {
				return false
			}
		}
		return true
	case PatternList:
		handle, ok := v.AsListHandle()
		if !ok {
			return false
		}
		_ = handle // fixed-length list-literal matching operates on materialized items;
		// engine-level list values are handles, so literal-list patterns are
		// resolved by the caller against a materialized []Value via MatchItems.
		return false
	default:
		return false
	}
}

// MatchItems matches a fixed-length-list pattern against already-
// materialized item values (list patterns can't be matched against an
// opaque ListHandle directly; the caller — typically a WHEN/WHILE arm
// evaluating over a snapshot — supplies the materialized slice).
func MatchItems(p Pattern, items []Value) (Bindings, bool) {
	if p.Kind != PatternList || len(p.items) != len(items) {
		return nil, false
	}
	out := Bindings{}
	for i, sub := range p.items {
		if !matchInto(sub, items[i], out) {
			return nil, false
		}
	}
	return out, true
}

// MatchArm pairs a pattern with a body. Arms are tried in program order;
// first match wins (§4.9).
type MatchArm struct {
	Pattern Pattern
	// WhenBody evaluates once per matched input event (WHEN).
	WhenBody func(ctx *EvalCtx, bindings Bindings) (Value, error)
	// WhileBody builds the sub-stream graph for the duration of the match
	// and returns the entry node to forward from (WHILE). It receives the
	// scope the sub-stream should live in.
	WhileBody func(ctx *EvalCtx, bindings Bindings, subScope ScopeId) (NodeId, error)
}

func selectArm(arms []MatchArm, v Value) (int, Bindings) {
	for i, arm := range arms {
		if b, ok := Match(arm.Pattern, v); ok {
			return i, b
		}
	}
	return -1, nil
}

// WhenNode evaluates the matched arm's body once per input event and emits
// the body's value (§4.9).
type WhenNode struct {
	baseNode
	arena    *Arena
	scope    ScopeId
	arms     []MatchArm
	sourceID NodeId
	sourceSub *Subscription
}

func (n *WhenNode) base() *baseNode { return &n.baseNode }

func (n *WhenNode) GetUpdateSince(since uint64) Update {
	if since >= n.CurrentVersion() {
		return Update{Kind: UpToDate}
	}
	return Update{Kind: Snapshot, Value: n.CurrentValue()}
}

func NewWhen(arena *Arena, scope ScopeId, source NodeId, arms []MatchArm, initial Value) (NodeId, *WhenNode, error) {
	n := &WhenNode{baseNode: newBaseNode(initial), arena: arena, scope: scope, arms: arms, sourceID: source}
	id, err := arena.AllocNode(scope, n)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.nid = id

	sub, err := NewSubscription(arena, source)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.sourceSub = sub
	return id, n, nil
}

// Handle evaluates arms against a single source event. The Scheduler does
// not call it; the caller passes each observed source value.
func (n *WhenNode) Handle(ev Value) error {
	idx, bindings := selectArm(n.arms, ev)
	if idx < 0 {
		return &ConstructionError{Kind: "no-match", Detail: "WHEN: no arm matched and no wildcard arm present"}
	}
	arm := n.arms[idx]
	result, err := wrapEvaluate(n.arena, n.nid, func() (Value, error) {
		ectx := newEvalCtx(n.arena, n.scope, n.nid)
		return arm.WhenBody(ectx, bindings)
	})
	if err != nil {
		return newResolveError(n.nid, "when-body", err)
	}
	n.commit(result)
	return nil
}

// WhileNode subscribes to the selected arm's body as a sub-stream and
// forwards all its values downstream until the pattern stops matching
// (§4.9). Switching arms tears down the old sub-stream's sub-scope.
type WhileNode struct {
	baseNode
	arena     *Arena
	scope     ScopeId
	arms      []MatchArm
	sourceSub *Subscription

	current      int
	currentSub   *Subscription
	currentScope ScopeId
	hasSub       bool
	forwardCancel context.CancelFunc
	forwardDone   chan struct{}
}

func (n *WhileNode) base() *baseNode { return &n.baseNode }

func (n *WhileNode) GetUpdateSince(since uint64) Update {
	if since >= n.CurrentVersion() {
		return Update{Kind: UpToDate}
	}
	return Update{Kind: Snapshot, Value: n.CurrentValue()}
}

func NewWhile(arena *Arena, scope ScopeId, source NodeId, arms []MatchArm, initial Value) (NodeId, *WhileNode, error) {
	n := &WhileNode{baseNode: newBaseNode(initial), arena: arena, scope: scope, arms: arms, current: -1}
	id, err := arena.AllocNode(scope, n)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.nid = id

	sub, err := NewSubscription(arena, source)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.sourceSub = sub
	return id, n, nil
}

// Handle re-evaluates which arm matches ev. If it differs from the
// currently active arm, the old sub-scope is destroyed (cancelling its
// forwarding loop) and the new arm's sub-stream is established.
func (n *WhileNode) Handle(ev Value) error {
	idx, bindings := selectArm(n.arms, ev)
	if idx < 0 {
		return &ConstructionError{Kind: "no-match", Detail: "WHILE: no arm matched and no wildcard arm present"}
	}
	if idx == n.current {
		return nil // still matching the same arm; sub-stream keeps running
	}

	n.teardownCurrent()

	subScope, err := n.arena.CreateScope(n.scope)
	if err != nil {
		return err
	}
	ectx := newEvalCtx(n.arena, subScope, n.nid)
	entry, err := n.arms[idx].WhileBody(ectx, bindings, subScope)
	if err != nil {
		_ = n.arena.DestroyScope(subScope)
		return newResolveError(n.nid, "while-body", err)
	}

	sub, err := NewSubscription(n.arena, entry)
	if err != nil {
		_ = n.arena.DestroyScope(subScope)
		return err
	}

	n.current = idx
	n.currentScope = subScope
	n.currentSub = sub
	n.hasSub = true

	if v, err := sub.Current(); err == nil {
		n.commit(v)
	}

	fctx, cancel := context.WithCancel(context.Background())
	n.forwardCancel = cancel
	n.forwardDone = make(chan struct{})
	go n.forwardLoop(fctx, sub, n.forwardDone)
	return nil
}

func (n *WhileNode) forwardLoop(ctx context.Context, sub *Subscription, done chan struct{}) {
	defer close(done)
	for {
		upd, err := sub.Next(ctx)
		if err != nil || upd.Kind == EndOfStream {
			return
		}
		if upd.Kind == UpToDate {
			continue
		}
		n.commit(upd.Value)
	}
}

func (n *WhileNode) teardownCurrent() {
	if !n.hasSub {
		return
	}
	n.forwardCancel()
	<-n.forwardDone
	n.currentSub.Close()
	_ = n.arena.DestroyScope(n.currentScope)
	n.hasSub = false
	n.current = -1
}

// destroy tears down the active sub-stream's sub-scope (cancelling its
// forwarding loop) before closing this node's own subscriber set, so a
// WHILE node's children are never left running past its own teardown.
func (n *WhileNode) destroy() {
	n.teardownCurrent()
	n.baseNode.destroy()
}
