package engine

// ConstantNode produces a fixed value; its version is 0 forever (§3). A
// constant created with a PersistenceId loads its last-saved value at
// construction (overriding the literal initial) and is not written again,
// since its value never changes after that (§4.11 "construction-time
// load-and-override").
type ConstantNode struct {
	baseNode

	arena            *Arena
	persistenceId    PersistenceId
	hasPersistenceId bool
}

func (n *ConstantNode) base() *baseNode { return &n.baseNode }

func (n *ConstantNode) GetUpdateSince(since uint64) Update {
	if since >= n.CurrentVersion() {
		return Update{Kind: UpToDate}
	}
	return Update{Kind: Snapshot, Value: n.CurrentValue()}
}

func (n *ConstantNode) destroy() {
	if n.hasPersistenceId {
		n.arena.releasePersistenceId(n.persistenceId)
	}
	n.baseNode.destroy()
}

// NewConstant allocates a Constant node under scope holding value forever.
func NewConstant(arena *Arena, scope ScopeId, value Value) (NodeId, error) {
	n := &ConstantNode{baseNode: newBaseNode(value), arena: arena}
	id, err := arena.AllocNode(scope, n)
	if err != nil {
		return NodeId{}, err
	}
	n.nid = id
	return id, nil
}

// NewPersistentConstant allocates a Constant node bound to a persistence_id
// (§4.11): if the backend holds a saved value for id, it overrides the
// literal initial; otherwise initial is used and queued as id's first write.
func NewPersistentConstant(arena *Arena, scope ScopeId, id PersistenceId, initial Value) (NodeId, error) {
	if err := arena.reservePersistenceId(id); err != nil {
		return NodeId{}, err
	}

	value := initial
	if loaded, _, ok := arena.loadPersisted(id); ok {
		value = loaded
	} else {
		arena.queuePersist(id, initial)
	}

	n := &ConstantNode{baseNode: newBaseNode(value), arena: arena, persistenceId: id, hasPersistenceId: true}
	nid, err := arena.AllocNode(scope, n)
	if err != nil {
		arena.releasePersistenceId(id)
		return NodeId{}, err
	}
	n.nid = nid
	return nid, nil
}

// LinkEndpointNode is an ingress point: it does not store a meaningful
// value of its own, only routes external payloads (via Fire) into its
// version stream for downstream mappings to read as a trigger (§3).
type LinkEndpointNode struct {
	baseNode
	link LinkId
}

func (n *LinkEndpointNode) base() *baseNode { return &n.baseNode }

func (n *LinkEndpointNode) GetUpdateSince(since uint64) Update {
	if since >= n.CurrentVersion() {
		return Update{Kind: UpToDate}
	}
	return Update{Kind: Snapshot, Value: n.CurrentValue()}
}

// Link returns the endpoint's LinkId.
func (n *LinkEndpointNode) Link() LinkId { return n.link }

// Fire delivers an external payload, bumping the version so subscribers wake.
func (n *LinkEndpointNode) Fire(payload Value) {
	n.commit(payload)
}

// NewLinkEndpoint allocates a link ingress node under scope.
func NewLinkEndpoint(arena *Arena, scope ScopeId, link LinkId) (NodeId, *LinkEndpointNode, error) {
	n := &LinkEndpointNode{baseNode: newBaseNode(Unit()), link: link}
	id, err := arena.AllocNode(scope, n)
	if err != nil {
		return NodeId{}, nil, err
	}
	n.nid = id
	return id, n, nil
}
