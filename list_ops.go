package engine

// FilterPredicate evaluates a single item's value and reports whether it
// passes the filter.
type FilterPredicate func(ctx *EvalCtx, v Value) (bool, error)

// FilterNode maintains an included set translating upstream diffs 1:1
// without re-scanning the whole list (§4.5.3 filter).
type FilterNode struct {
	listNodeCore
	pred     FilterPredicate
	scope    ScopeId
	upstream *ListNode
	sourceSub *Subscription

	included map[ItemId]bool
	order    []ItemId // upstream order restricted to included members, for anchor translation
}

func NewFilter(arena *Arena, scope ScopeId, source NodeId, pred FilterPredicate) (NodeId, *FilterNode, error) {
	upNode, err := arena.Get(source)
	if err != nil {
		return NodeId{}, nil, err
	}
	up, ok := upNode.(*ListNode)
	if !ok {
		return NodeId{}, nil, &ConstructionError{Kind: "type-mismatch", Detail: "filter source is not a list"}
	}

	n := &FilterNode{pred: pred, scope: scope, upstream: up, included: make(map[ItemId]bool)}
	if err := n.initCore(arena, scope); err != nil {
		return NodeId{}, nil, err
	}

	sub, err := NewSubscription(arena, source)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.sourceSub = sub

	// Seed from upstream's current contents as a Replace checkpoint.
	ectx := newEvalCtx(arena, scope, n.nid)
	var seed []ListItem
	for _, it := range up.Snapshot() {
		pass, err := pred(ectx, it.Value)
		if err != nil {
			return NodeId{}, nil, err
		}
		if pass {
			n.included[it.ID] = true
			n.order = append(n.order, it.ID)
			seed = append(seed, it)
		}
	}
	if len(seed) > 0 {
		_ = n.ApplyBatch([]ListDiff{ReplaceDiff(seed)})
	}

	return n.nid, n, nil
}

// anchorAfter translates an upstream After anchor to the nearest preceding
// member of n.order (§4.5.1: "an insertion's after anchor is translated to
// the nearest included predecessor").
func (n *FilterNode) anchorAfter(upstreamAfter ItemId, hasAfter bool, upstreamOrder []ItemId) (ItemId, bool) {
	if !hasAfter {
		return ItemId(0), false
	}
	pos := -1
	for i, id := range upstreamOrder {
		if id == upstreamAfter {
			pos = i
			break
		}
	}
	if pos < 0 {
		return ItemId(0), false
	}
	for i := pos; i >= 0; i-- {
		if n.included[upstreamOrder[i]] {
			return upstreamOrder[i], true
		}
	}
	return ItemId(0), false
}

// HandleUpstream translates one upstream diff into zero-or-one downstream
// diffs and applies it. The Scheduler does not call it; the caller passes
// each upstream diff of a coalesced batch (§4.5.5) in order.
func (n *FilterNode) HandleUpstream(ctx *EvalCtx, d ListDiff, upstreamOrder []ItemId) error {
	switch d.Kind {
	case DiffInsert:
		pass, err := n.pred(ctx, d.Value)
		if err != nil {
			return err
		}
		if !pass {
			return nil
		}
		after, hasAfter := n.anchorAfter(d.After, d.AfterSet, upstreamOrder)
		n.included[d.ID] = true
		n.insertOrdered(d.ID, after, hasAfter)
		return n.ApplyBatch([]ListDiff{InsertDiff(d.ID, after, hasAfter, d.Value)})

	case DiffRemove:
		if !n.included[d.ID] {
			return nil
		}
		delete(n.included, d.ID)
		n.removeOrdered(d.ID)
		return n.ApplyBatch([]ListDiff{RemoveDiff(d.ID)})

	case DiffUpdate:
		wasIn := n.included[d.ID]
		nowIn, err := n.pred(ctx, d.Value)
		if err != nil {
			return err
		}
		switch {
		case wasIn && nowIn:
			return n.ApplyBatch([]ListDiff{UpdateDiff(d.ID, d.Value)})
		case wasIn && !nowIn:
			delete(n.included, d.ID)
			n.removeOrdered(d.ID)
			return n.ApplyBatch([]ListDiff{RemoveDiff(d.ID)})
		case !wasIn && nowIn:
			after, hasAfter := n.anchorAfter(d.After, d.AfterSet, upstreamOrder)
			n.included[d.ID] = true
			n.insertOrdered(d.ID, after, hasAfter)
			return n.ApplyBatch([]ListDiff{InsertDiff(d.ID, after, hasAfter, d.Value)})
		default:
			return nil // stays out: no-op
		}

	case DiffReplace:
		n.included = make(map[ItemId]bool)
		n.order = nil
		var seed []ListItem
		for _, it := range d.Items {
			pass, err := n.pred(ctx, it.Value)
			if err != nil {
				return err
			}
			if pass {
				n.included[it.ID] = true
				n.order = append(n.order, it.ID)
				seed = append(seed, it)
			}
		}
		return n.ApplyBatch([]ListDiff{ReplaceDiff(seed)})

	default:
		return &InvariantViolation{Kind: "bad-diff", Detail: "filter: unknown diff kind"}
	}
}

func (n *FilterNode) insertOrdered(id, after ItemId, hasAfter bool) {
	if !hasAfter {
		n.order = append([]ItemId{id}, n.order...)
		return
	}
	for i, existing := range n.order {
		if existing == after {
			n.order = append(n.order[:i+1], append([]ItemId{id}, n.order[i+1:]...)...)
			return
		}
	}
	n.order = append(n.order, id)
}

func (n *FilterNode) removeOrdered(id ItemId) {
	for i, existing := range n.order {
		if existing == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			return
		}
	}
}

// listNodeCore factors the parts of ListNode's behavior every derived list
// combinator needs (version, ring, subs) without re-deriving ListState
// management, since each combinator owns its own derivation logic but still
// needs to be a first-class Node in the arena with diff history.
type listNodeCore struct {
	ListNode
}

func (c *listNodeCore) initCore(arena *Arena, scope ScopeId) error {
	c.state = NewListState()
	c.subs = newSubscriberSet()
	c.arena = arena
	id, err := arena.AllocNode(scope, &c.ListNode)
	if err != nil {
		return err
	}
	c.nid = id
	c.handle = ListHandle{ID: NewCollectionId(), Owner: id}
	return nil
}

// TemplateFn instantiates one output item from a source item, inside subScope
// (§4.5.3 map: "creates a per-item sub-scope and a transformed item node").
// It returns the node whose CurrentValue becomes the mapped item's value.
type TemplateFn func(ctx *EvalCtx, subScope ScopeId, sourceItem Value) (NodeId, error)

// MapNode instantiates template per source item in its own sub-scope,
// destroying that sub-scope (cascading to any nested template children) on
// removal, and re-evaluating on update (§4.5.3 map).
type MapNode struct {
	listNodeCore
	template TemplateFn
	arena    *Arena
	scope    ScopeId
	upstream *ListNode

	itemScope map[ItemId]ScopeId
	itemNode  map[ItemId]NodeId
}

func NewMap(arena *Arena, scope ScopeId, source NodeId, template TemplateFn) (NodeId, *MapNode, error) {
	upNode, err := arena.Get(source)
	if err != nil {
		return NodeId{}, nil, err
	}
	up, ok := upNode.(*ListNode)
	if !ok {
		return NodeId{}, nil, &ConstructionError{Kind: "type-mismatch", Detail: "map source is not a list"}
	}

	n := &MapNode{
		template:  template,
		arena:     arena,
		scope:     scope,
		upstream:  up,
		itemScope: make(map[ItemId]ScopeId),
		itemNode:  make(map[ItemId]NodeId),
	}
	if err := n.initCore(arena, scope); err != nil {
		return NodeId{}, nil, err
	}

	ectx := newEvalCtx(arena, scope, n.nid)
	var seed []ListItem
	for _, it := range up.Snapshot() {
		val, err := n.instantiate(ectx, it)
		if err != nil {
			return NodeId{}, nil, err
		}
		seed = append(seed, ListItem{ID: it.ID, Value: val})
	}
	if len(seed) > 0 {
		_ = n.ApplyBatch([]ListDiff{ReplaceDiff(seed)})
	}

	return n.nid, n, nil
}

func (n *MapNode) instantiate(ctx *EvalCtx, source ListItem) (Value, error) {
	subScope, err := n.arena.CreateScope(n.scope)
	if err != nil {
		return Value{}, err
	}
	nodeId, err := n.template(ctx, subScope, source.Value)
	if err != nil {
		_ = n.arena.DestroyScope(subScope)
		return Value{}, err
	}
	node, err := n.arena.Get(nodeId)
	if err != nil {
		_ = n.arena.DestroyScope(subScope)
		return Value{}, err
	}
	n.itemScope[source.ID] = subScope
	n.itemNode[source.ID] = nodeId
	return node.CurrentValue(), nil
}

// HandleUpstream applies one upstream diff, instantiating/destroying/
// re-evaluating per-item sub-scopes as needed.
func (n *MapNode) HandleUpstream(ctx *EvalCtx, d ListDiff) error {
	switch d.Kind {
	case DiffInsert:
		val, err := n.instantiate(ctx, ListItem{ID: d.ID, Value: d.Value})
		if err != nil {
			return err
		}
		return n.ApplyBatch([]ListDiff{InsertDiff(d.ID, d.After, d.AfterSet, val)})

	case DiffRemove:
		if sc, ok := n.itemScope[d.ID]; ok {
			_ = n.arena.DestroyScope(sc)
			delete(n.itemScope, d.ID)
			delete(n.itemNode, d.ID)
		}
		return n.ApplyBatch([]ListDiff{RemoveDiff(d.ID)})

	case DiffUpdate:
		if sc, ok := n.itemScope[d.ID]; ok {
			_ = n.arena.DestroyScope(sc)
			delete(n.itemScope, d.ID)
			delete(n.itemNode, d.ID)
		}
		val, err := n.instantiate(ctx, ListItem{ID: d.ID, Value: d.Value})
		if err != nil {
			return err
		}
		return n.ApplyBatch([]ListDiff{UpdateDiff(d.ID, val)})

	case DiffReplace:
		for _, sc := range n.itemScope {
			_ = n.arena.DestroyScope(sc)
		}
		n.itemScope = make(map[ItemId]ScopeId)
		n.itemNode = make(map[ItemId]NodeId)
		var seed []ListItem
		for _, it := range d.Items {
			val, err := n.instantiate(ctx, it)
			if err != nil {
				return err
			}
			seed = append(seed, ListItem{ID: it.ID, Value: val})
		}
		return n.ApplyBatch([]ListDiff{ReplaceDiff(seed)})

	default:
		return &InvariantViolation{Kind: "bad-diff", Detail: "map: unknown diff kind"}
	}
}

// CountNode is a scalar node emitting the current list length (§4.5.3 count).
type CountNode struct {
	baseNode
	upstream *ListNode
}

func (n *CountNode) base() *baseNode { return &n.baseNode }

func (n *CountNode) GetUpdateSince(since uint64) Update {
	if since >= n.CurrentVersion() {
		return Update{Kind: UpToDate}
	}
	return Update{Kind: Snapshot, Value: n.CurrentValue()}
}

func NewCount(arena *Arena, scope ScopeId, source NodeId) (NodeId, *CountNode, error) {
	upNode, err := arena.Get(source)
	if err != nil {
		return NodeId{}, nil, err
	}
	up, ok := upNode.(*ListNode)
	if !ok {
		return NodeId{}, nil, &ConstructionError{Kind: "type-mismatch", Detail: "count source is not a list"}
	}
	n := &CountNode{baseNode: newBaseNode(Number(float64(up.Len()))), upstream: up}
	id, err := arena.AllocNode(scope, n)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.nid = id
	return id, n, nil
}

// HandleUpstream increments/decrements on Insert/Remove, recomputes length
// on Replace, and leaves Update a no-op.
func (n *CountNode) HandleUpstream(d ListDiff) {
	cur := n.CurrentValue().AsNumber()
	switch d.Kind {
	case DiffInsert:
		n.commit(Number(cur + 1))
	case DiffRemove:
		n.commit(Number(cur - 1))
	case DiffReplace:
		n.commit(Number(float64(len(d.Items))))
	}
}

// FoldPredicate evaluates a single item for any/all.
type FoldPredicate func(ctx *EvalCtx, v Value) (bool, error)

// FoldKind selects any() vs all() reduction.
type FoldKind uint8

const (
	FoldAny FoldKind = iota
	FoldAll
)

// AnyAllNode maintains a per-item predicate result (§4.5.3 any/all), so a
// diff re-evaluates the predicate only for the item it touches; the fold
// over that table is recomputed on every diff.
type AnyAllNode struct {
	baseNode
	kind   FoldKind
	pred   FoldPredicate
	scope  ScopeId
	values map[ItemId]bool
	order  []ItemId
}

func (n *AnyAllNode) base() *baseNode { return &n.baseNode }

func (n *AnyAllNode) GetUpdateSince(since uint64) Update {
	if since >= n.CurrentVersion() {
		return Update{Kind: UpToDate}
	}
	return Update{Kind: Snapshot, Value: n.CurrentValue()}
}

func newAnyAll(arena *Arena, scope ScopeId, source NodeId, kind FoldKind, pred FoldPredicate) (NodeId, *AnyAllNode, error) {
	upNode, err := arena.Get(source)
	if err != nil {
		return NodeId{}, nil, err
	}
	up, ok := upNode.(*ListNode)
	if !ok {
		return NodeId{}, nil, &ConstructionError{Kind: "type-mismatch", Detail: "any/all source is not a list"}
	}

	n := &AnyAllNode{kind: kind, pred: pred, scope: scope, values: make(map[ItemId]bool)}
	ectx := newEvalCtx(arena, scope, NodeId{})
	for _, it := range up.Snapshot() {
		r, err := pred(ectx, it.Value)
		if err != nil {
			return NodeId{}, nil, err
		}
		n.values[it.ID] = r
		n.order = append(n.order, it.ID)
	}
	n.baseNode = newBaseNode(Bool(n.fold()))

	id, err := arena.AllocNode(scope, n)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.nid = id
	return id, n, nil
}

func NewAny(arena *Arena, scope ScopeId, source NodeId, pred FoldPredicate) (NodeId, *AnyAllNode, error) {
	return newAnyAll(arena, scope, source, FoldAny, pred)
}

func NewAll(arena *Arena, scope ScopeId, source NodeId, pred FoldPredicate) (NodeId, *AnyAllNode, error) {
	return newAnyAll(arena, scope, source, FoldAll, pred)
}

func (n *AnyAllNode) fold() bool {
	if n.kind == FoldAll {
		for _, id := range n.order {
			if !n.values[id] {
				return false
			}
		}
		return true
	}
	for _, id := range n.order {
		if n.values[id] {
			return true
		}
	}
	return false
}

// HandleUpstream updates the per-item predicate table then recomputes the
// fold (still O(n) in the worst case for both any() and all(), but avoids
// re-evaluating the predicate on unchanged items).
func (n *AnyAllNode) HandleUpstream(ctx *EvalCtx, d ListDiff) error {
	switch d.Kind {
	case DiffInsert:
		r, err := n.pred(ctx, d.Value)
		if err != nil {
			return err
		}
		n.values[d.ID] = r
		n.order = append(n.order, d.ID)
	case DiffRemove:
		delete(n.values, d.ID)
		for i, id := range n.order {
			if id == d.ID {
				n.order = append(n.order[:i], n.order[i+1:]...)
				break
			}
		}
	case DiffUpdate:
		r, err := n.pred(ctx, d.Value)
		if err != nil {
			return err
		}
		n.values[d.ID] = r
	case DiffReplace:
		n.values = make(map[ItemId]bool)
		n.order = nil
		for _, it := range d.Items {
			r, err := n.pred(ctx, it.Value)
			if err != nil {
				return err
			}
			n.values[it.ID] = r
			n.order = append(n.order, it.ID)
		}
	default:
		return &InvariantViolation{Kind: "bad-diff", Detail: "any/all: unknown diff kind"}
	}
	n.commit(Bool(n.fold()))
	return nil
}

// ConcatNode identity-preservingly concatenates a then b, tracking the
// boundary as the last id of a so b's diffs anchor after it (§4.5.3 concat).
type ConcatNode struct {
	listNodeCore
	aLastID  ItemId
	aHasLast bool
}

func NewConcat(arena *Arena, scope ScopeId, a, b NodeId) (NodeId, *ConcatNode, error) {
	aNode, err := arena.Get(a)
	if err != nil {
		return NodeId{}, nil, err
	}
	bNode, err := arena.Get(b)
	if err != nil {
		return NodeId{}, nil, err
	}
	aList, ok := aNode.(*ListNode)
	if !ok {
		return NodeId{}, nil, &ConstructionError{Kind: "type-mismatch", Detail: "concat a is not a list"}
	}
	bList, ok := bNode.(*ListNode)
	if !ok {
		return NodeId{}, nil, &ConstructionError{Kind: "type-mismatch", Detail: "concat b is not a list"}
	}

	n := &ConcatNode{}
	if err := n.initCore(arena, scope); err != nil {
		return NodeId{}, nil, err
	}

	aItems := aList.Snapshot()
	bItems := bList.Snapshot()
	seed := append(append([]ListItem(nil), aItems...), bItems...)
	if len(aItems) > 0 {
		n.aLastID = aItems[len(aItems)-1].ID
		n.aHasLast = true
	}
	if len(seed) > 0 {
		_ = n.ApplyBatch([]ListDiff{ReplaceDiff(seed)})
	}
	return n.nid, n, nil
}

// HandleFromA forwards a diff originating from the a side unchanged (a's
// identities and anchors are valid in the concatenation as-is).
func (n *ConcatNode) HandleFromA(d ListDiff) error {
	if d.Kind == DiffInsert && !d.AfterSet {
		// still a prepend within a's own span
	}
	if d.Kind == DiffInsert && (!n.aHasLast || (d.AfterSet && d.After == n.aLastID)) {
		n.aLastID = d.ID
		n.aHasLast = true
	}
	if d.Kind == DiffRemove && n.aHasLast && d.ID == n.aLastID {
		if i, ok := n.state.index[d.ID]; ok && i > 0 {
			n.aLastID = n.state.items[i-1].ID
		} else {
			n.aHasLast = false
		}
	}
	return n.ApplyBatch([]ListDiff{d})
}

// HandleFromB forwards a diff from the b side, translating a nil After
// anchor (prepend within b) into "after a's last item" so it lands at the
// concatenation boundary rather than at the very front.
func (n *ConcatNode) HandleFromB(d ListDiff) error {
	if d.Kind == DiffInsert && !d.AfterSet && n.aHasLast {
		return n.ApplyBatch([]ListDiff{InsertDiff(d.ID, n.aLastID, true, d.Value)})
	}
	return n.ApplyBatch([]ListDiff{d})
}

// SubtractNode emits a's items not present (by identity) in b (§4.5.3
// subtract), maintaining only b's membership set.
type SubtractNode struct {
	listNodeCore
	bMembers map[ItemId]bool
}

func NewSubtract(arena *Arena, scope ScopeId, a, b NodeId) (NodeId, *SubtractNode, error) {
	aNode, err := arena.Get(a)
	if err != nil {
		return NodeId{}, nil, err
	}
	bNode, err := arena.Get(b)
	if err != nil {
		return NodeId{}, nil, err
	}
	aList, ok := aNode.(*ListNode)
	if !ok {
		return NodeId{}, nil, &ConstructionError{Kind: "type-mismatch", Detail: "subtract a is not a list"}
	}
	bList, ok := bNode.(*ListNode)
	if !ok {
		return NodeId{}, nil, &ConstructionError{Kind: "type-mismatch", Detail: "subtract b is not a list"}
	}

	n := &SubtractNode{bMembers: make(map[ItemId]bool)}
	if err := n.initCore(arena, scope); err != nil {
		return NodeId{}, nil, err
	}

	for _, it := range bList.Snapshot() {
		n.bMembers[it.ID] = true
	}
	var seed []ListItem
	for _, it := range aList.Snapshot() {
		if !n.bMembers[it.ID] {
			seed = append(seed, it)
		}
	}
	if len(seed) > 0 {
		_ = n.ApplyBatch([]ListDiff{ReplaceDiff(seed)})
	}
	return n.nid, n, nil
}

// HandleFromA forwards a's diff iff the item isn't currently a member of b.
func (n *SubtractNode) HandleFromA(d ListDiff) error {
	switch d.Kind {
	case DiffInsert:
		if n.bMembers[d.ID] {
			return nil
		}
		return n.ApplyBatch([]ListDiff{d})
	case DiffRemove, DiffUpdate:
		if n.bMembers[d.ID] {
			return nil
		}
		return n.ApplyBatch([]ListDiff{d})
	default:
		return n.ApplyBatch([]ListDiff{d})
	}
}

// HandleFromB updates b's membership set; a removal from b may newly expose
// an a-item, but surfacing that requires a's current value, which the
// caller supplies through currentAValue.
func (n *SubtractNode) HandleFromB(d ListDiff, currentAValue func(ItemId) (Value, bool)) error {
	switch d.Kind {
	case DiffInsert:
		n.bMembers[d.ID] = true
		return n.ApplyBatch([]ListDiff{RemoveDiff(d.ID)})
	case DiffRemove:
		delete(n.bMembers, d.ID)
		if v, ok := currentAValue(d.ID); ok {
			return n.ApplyBatch([]ListDiff{InsertDiff(d.ID, ItemId(0), false, v)})
		}
		return nil
	default:
		return nil
	}
}
