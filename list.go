package engine

// DiffKind tags a ListDiff variant (§4.5.1).
type DiffKind uint8

const (
	DiffInsert DiffKind = iota
	DiffRemove
	DiffUpdate
	DiffReplace
)

// ListDiff is an identity-keyed list mutation. Insert/Remove/Update refer to
// a single item by ItemId; Replace is a full checkpoint that supersedes any
// prior retained diff.
type ListDiff struct {
	Kind  DiffKind
	ID    ItemId
	After ItemId // Insert only; zero value means "prepend" when AfterSet is false
	AfterSet bool
	Value Value // Insert/Update

	Items []ListItem // Replace only
}

// ListItem pairs an item's stable identity with its current value, the unit
// of a Replace checkpoint and of a materialized snapshot.
type ListItem struct {
	ID    ItemId
	Value Value
}

func InsertDiff(id ItemId, after ItemId, hasAfter bool, v Value) ListDiff {
	return ListDiff{Kind: DiffInsert, ID: id, After: after, AfterSet: hasAfter, Value: v}
}

func RemoveDiff(id ItemId) ListDiff { return ListDiff{Kind: DiffRemove, ID: id} }

func UpdateDiff(id ItemId, v Value) ListDiff { return ListDiff{Kind: DiffUpdate, ID: id, Value: v} }

func ReplaceDiff(items []ListItem) ListDiff { return ListDiff{Kind: DiffReplace, Items: items} }

// ListState is the authoritative ordered collection owned by exactly one
// list node (§4.5.4). items is the order; index gives O(1) lookup by id.
type ListState struct {
	items []ListItem
	index map[ItemId]int
}

func NewListState() *ListState {
	return &ListState{index: make(map[ItemId]int)}
}

func NewListStateFrom(items []ListItem) *ListState {
	s := &ListState{
		items: append([]ListItem(nil), items...),
		index: make(map[ItemId]int, len(items)),
	}
	for i, it := range s.items {
		s.index[it.ID] = i
	}
	return s
}

func (s *ListState) Len() int { return len(s.items) }

func (s *ListState) Items() []ListItem {
	return append([]ListItem(nil), s.items...)
}

func (s *ListState) Get(id ItemId) (Value, bool) {
	i, ok := s.index[id]
	if !ok {
		return Value{}, false
	}
	return s.items[i].Value, true
}

// Apply mutates s in place per diff, returning an error for a malformed
// Insert whose After anchor is not a current member (§4.5.3: "rejected as a
// bug — combinators must translate anchors before forwarding").
func (s *ListState) Apply(d ListDiff) error {
	switch d.Kind {
	case DiffInsert:
		if s.indexOfExists(d.ID) {
			return &InvariantViolation{Kind: "duplicate-insert", Detail: "insert of already-present item id"}
		}
		pos := 0
		if d.AfterSet {
			ai, ok := s.index[d.After]
			if !ok {
				return &InvariantViolation{Kind: "dangling-anchor", Detail: "insert after unknown item id"}
			}
			pos = ai + 1
		}
		s.insertAt(pos, ListItem{ID: d.ID, Value: d.Value})
		return nil
	case DiffRemove:
		i, ok := s.index[d.ID]
		if !ok {
			return nil // already absent; tolerated, mirrors DestroyScope idempotence
		}
		s.removeAt(i)
		return nil
	case DiffUpdate:
		i, ok := s.index[d.ID]
		if !ok {
			return &InvariantViolation{Kind: "unknown-item", Detail: "update of unknown item id"}
		}
		s.items[i].Value = d.Value
		return nil
	case DiffReplace:
		s.items = append([]ListItem(nil), d.Items...)
		s.index = make(map[ItemId]int, len(s.items))
		for i, it := range s.items {
			s.index[it.ID] = i
		}
		return nil
	default:
		return &InvariantViolation{Kind: "bad-diff", Detail: "unknown diff kind"}
	}
}

func (s *ListState) indexOfExists(id ItemId) bool {
	_, ok := s.index[id]
	return ok
}

func (s *ListState) insertAt(pos int, item ListItem) {
	s.items = append(s.items, ListItem{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = item
	s.reindexFrom(pos)
}

func (s *ListState) removeAt(pos int) {
	id := s.items[pos].ID
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	delete(s.index, id)
	s.reindexFrom(pos)
}

func (s *ListState) reindexFrom(pos int) {
	for i := pos; i < len(s.items); i++ {
		s.index[s.items[i].ID] = i
	}
}

// diffRecord pairs a retained diff batch with the version it produced, for
// the ring used by replay selection (§4.5.2).
type diffRecord struct {
	version uint64
	batch   []ListDiff
}

// diffCostOverhead is the fixed per-diff bookkeeping cost used by the §4.5.2
// cost model; the tunable caps (ring capacity, replay count, cost factor)
// come from the owning arena's Config (§6.6), not from constants, so a host
// can tune diff retention without recompiling.
const diffCostOverhead = 8

// ListNode is the root of a list pipeline: a node holding a ListState plus a
// bounded ring of recent diff batches, implementing the replay-selection
// algorithm of §4.5.2 in GetUpdateSince.
type ListNode struct {
	nid     NodeId
	version uint64
	state   *ListState
	ring    []diffRecord
	subs    *subscriberSet
	handle  ListHandle
	arena   *Arena
}

// diffRingCapacity, replayCountCap and the diff-vs-snapshot cost factor are
// read from the owning arena's Config each time, falling back to
// DefaultConfig's values if the node predates any Config wiring (e.g. built
// directly against a zero-value ListNode in a test).
func (n *ListNode) diffRingCapacity() int {
	if n.arena != nil && n.arena.Config() != nil {
		return n.arena.Config().MaxDiffHistoryEntries
	}
	return DefaultMaxDiffHistoryEntries
}

func (n *ListNode) replayCountCap() int {
	if n.arena != nil && n.arena.Config() != nil {
		return n.arena.Config().DiffSnapshotThreshold
	}
	return DefaultDiffSnapshotThreshold
}

func (n *ListNode) diffVsSnapshotCostFactor() float64 {
	if n.arena != nil && n.arena.Config() != nil && n.arena.Config().DiffVsSnapshotCostFactor > 0 {
		return n.arena.Config().DiffVsSnapshotCostFactor
	}
	return DefaultDiffVsSnapshotCostFactor
}

// base satisfies baseNodeHolder so Subscription can register on ListNode's
// subscriber set the same way it does for scalar nodes. ListNode keeps its
// own version counter outside baseNode (a monotonically increasing int
// rather than an atomic, since all mutation goes through the single-
// threaded scheduler tick), so only the subs field is shared.
func (n *ListNode) base() *baseNode { return &baseNode{nid: n.nid, subs: n.subs} }

func (n *ListNode) id() NodeId            { return n.nid }
func (n *ListNode) CurrentVersion() uint64 { return n.version }

// CurrentValue exposes the list only as an opaque handle (§4.5.4): scalar
// readers never see list contents directly.
func (n *ListNode) CurrentValue() Value { return ListHandleValue(n.handle) }

func (n *ListNode) destroy() { n.subs.closeAll() }

// Snapshot materializes the current items, for combinators and tests that
// need the full contents rather than the opaque handle.
func (n *ListNode) Snapshot() []ListItem { return n.state.Items() }

// NewListNode allocates an empty list node owned by scope.
func NewListNode(arena *Arena, scope ScopeId) (NodeId, *ListNode, error) {
	n := &ListNode{state: NewListState(), subs: newSubscriberSet(), arena: arena}
	id, err := arena.AllocNode(scope, n)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.nid = id
	n.handle = ListHandle{ID: NewCollectionId(), Owner: id}
	return id, n, nil
}

// ApplyBatch applies a coalesced batch of diffs (§4.5.5: upstream bursts
// within one tick are merged before downstream forwarding) and retains it in
// the replay ring.
func (n *ListNode) ApplyBatch(batch []ListDiff) error {
	for _, d := range batch {
		if err := n.state.Apply(d); err != nil {
			return err
		}
	}
	n.version++
	n.retain(batch)
	n.subs.notifyAll()
	return nil
}

func (n *ListNode) retain(batch []ListDiff) {
	for _, d := range batch {
		if d.Kind == DiffReplace {
			n.ring = nil // a Replace supersedes all prior retained diffs
			break
		}
	}
	n.ring = append(n.ring, diffRecord{version: n.version, batch: batch})
	if limit := n.diffRingCapacity(); len(n.ring) > limit {
		n.ring = n.ring[len(n.ring)-limit:]
	}
}

func diffValueSize(d ListDiff) int {
	switch d.Kind {
	case DiffReplace:
		return len(d.Items) * diffCostOverhead
	default:
		return diffCostOverhead
	}
}

// GetUpdateSince implements §4.5.2's replay-selection algorithm.
func (n *ListNode) GetUpdateSince(since uint64) Update {
	if since >= n.version {
		return Update{Kind: UpToDate}
	}

	oldest := uint64(0)
	if len(n.ring) > 0 {
		oldest = n.ring[0].version - uint64(len(n.ring[0].batch))
	}
	if len(n.ring) > 0 && since >= oldest {
		var merged []ListDiff
		for _, rec := range n.ring {
			if rec.version > since {
				merged = append(merged, rec.batch...)
			}
		}
		diffCost := 0
		for _, d := range merged {
			diffCost += diffCostOverhead + diffValueSize(d)
		}
		snapshotCost := n.state.Len() * (diffCostOverhead + diffCostOverhead)
		// §4.5.2 "prefer diffs when cheap": diffs win whenever their cost is
		// within snapshotCost/costFactor, i.e. a diff batch costing up to
		// 1/costFactor times the snapshot is still considered "cheap" relative
		// to materializing the whole list fresh.
		threshold := float64(snapshotCost) / n.diffVsSnapshotCostFactor()
		if len(merged) <= n.replayCountCap() && float64(diffCost) <= threshold {
			return Update{Kind: Diffs, Diffs: merged}
		}
	}

	return Update{Kind: Snapshot, Value: n.snapshotValue()}
}

func (n *ListNode) snapshotValue() Value {
	return ListHandleValue(n.handle)
}
