package engine

import (
	"log/slog"
	"sort"
	"sync"
)

// Node is the per-node contract every node kind implements (§4.3): a
// lock-free read of the current value, a monotonic version counter, a way
// to allocate a version-change subscription, and a pull of the optimal
// update form since a given version.
type Node interface {
	CurrentValue() Value
	CurrentVersion() uint64
	GetUpdateSince(since uint64) Update
	id() NodeId
	// destroy runs when the owning scope is torn down: the node must close
	// its version-notification channels so subscribers observe end-of-stream.
	destroy()
}

type nodeSlot struct {
	generation uint32
	scope      ScopeId
	node       Node
	alive      bool
}

type scopeSlot struct {
	generation uint32
	parent     ScopeId
	hasParent  bool
	children   []ScopeId
	nodes      []NodeId // insertion order, for reverse-order teardown
	tags       map[any]any
	alive      bool
}

// Arena is the single owner of all nodes, indexed by generational slot, and
// of the scope tree governing their lifetime. Grounded on the teacher's
// Scope (sync.Map cache + downstream map) generalized into an explicit
// generational slot-map per spec §4.1, with the free-slot reuse idea
// carried over from the teacher's PoolManager (acquire/release of pooled
// objects becomes acquire/release of arena slots, with a generation bump
// standing in for the pool's reset-on-reuse).
type Arena struct {
	mu sync.RWMutex

	nodes     []nodeSlot
	freeNodes []uint32

	scopes     []scopeSlot
	freeScopes []uint32

	root ScopeId

	extensions []Extension

	tracer *Tracer

	config *Config
	logger *slog.Logger

	backend      Backend
	persistMu    sync.Mutex
	persistIds   map[PersistenceId]bool
	persistQueue map[PersistenceId][]byte
}

// NewArena creates an arena with its implicit root scope already allocated,
// configured with DefaultConfig(). Use NewArenaWithConfig to wire a
// LoadConfig()-sourced Config (or an env-free one built for tests) instead.
func NewArena() *Arena {
	return NewArenaWithConfig(DefaultConfig())
}

// NewArenaWithConfig creates an arena governed by cfg, the §6.6
// configuration surface. A nil cfg falls back to DefaultConfig().
func NewArenaWithConfig(cfg *Config) *Arena {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	a := &Arena{
		tracer:       NewTracer(256),
		config:       cfg,
		persistIds:   make(map[PersistenceId]bool),
		persistQueue: make(map[PersistenceId][]byte),
	}
	a.root = a.allocScope(ScopeId{}, false)
	return a
}

func (a *Arena) RootScope() ScopeId { return a.root }

// Tracer returns the arena's bounded structured-event stream (§6.5).
func (a *Arena) Tracer() *Tracer { return a.tracer }

// Config returns the arena's §6.6 configuration surface.
func (a *Arena) Config() *Config { return a.config }

// SetLogger installs the logger extensions and persistence warnings use.
// A nil arena logger falls back to slog.Default() at each call site.
func (a *Arena) SetLogger(l *slog.Logger) { a.logger = l }

func (a *Arena) Logger() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

// SetBackend wires the §6.4 persistence bridge. Nodes created with a
// PersistenceId before a backend is set simply see no stored value to load
// (fall back to their literal initial) and queue writes; a flush without a
// backend leaves the queue in place, so those writes land at the first flush
// after a backend is attached.
func (a *Arena) SetBackend(b Backend) { a.backend = b }

func (a *Arena) Backend() Backend { return a.backend }

// reservePersistenceId enforces the §7 "persistence id collision" construction
// error: two nodes sharing one PersistenceId would silently overwrite each
// other's saved state.
func (a *Arena) reservePersistenceId(id PersistenceId) error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	if a.persistIds[id] {
		return &ConstructionError{Kind: "persistence-id-collision", Detail: string(id)}
	}
	a.persistIds[id] = true
	return nil
}

// releasePersistenceId frees id for reuse once its owning node is destroyed.
// It does not discard a pending queued write: the node's last committed
// value stays queued and lands on the backend at the next flush (per tick,
// at a checkpoint, or when DestroyScope tears down the root scope).
func (a *Arena) releasePersistenceId(id PersistenceId) {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	delete(a.persistIds, id)
}

// loadPersisted reads id from the backend and decodes it, degrading to
// (Value{}, nil, false) -- "use the literal initial" -- on a missing
// backend, a missing key, or a decode failure (§4.11/§7).
func (a *Arena) loadPersisted(id PersistenceId) (Value, []ListItem, bool) {
	if a.backend == nil {
		return Value{}, nil, false
	}
	blob, ok := a.backend.Load(id)
	if !ok {
		return Value{}, nil, false
	}
	return DecodeValue(blob, a.Logger())
}

// queuePersist encodes v and stages it for id, coalescing same-tick writes
// to the same id into the latest value (§4.11 "write coalescing").
func (a *Arena) queuePersist(id PersistenceId, v Value) {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	a.persistQueue[id] = EncodeValue(v, nil)
}

// FlushPersistence force-flushes every staged write to the backend,
// unconditionally of PersistenceFlushPolicy. Called at explicit checkpoints
// and on root-scope destruction (§4.11: "a flush is forced at explicit
// checkpoints and on scope-root destruction").
func (a *Arena) FlushPersistence() {
	if a.backend == nil {
		return
	}
	a.persistMu.Lock()
	pending := a.persistQueue
	a.persistQueue = make(map[PersistenceId][]byte)
	a.persistMu.Unlock()

	for id, blob := range pending {
		a.backend.Save(id, blob)
	}
}

// Checkpoint is the host-facing explicit checkpoint operation (§4.11): it
// always flushes, regardless of the configured PersistenceFlushPolicy.
func (a *Arena) Checkpoint() { a.FlushPersistence() }

// tickFlushPersistence is called once per scheduler tick; it only flushes
// when the configured policy says writes should land every tick.
func (a *Arena) tickFlushPersistence() {
	if a.config != nil && a.config.PersistenceFlushPolicy == FlushPerTick {
		a.FlushPersistence()
	}
}

// UseExtension registers an extension, ordered by Extension.Order like the
// teacher's Scope.UseExtension.
func (a *Arena) UseExtension(ext Extension) error {
	a.mu.Lock()
	a.extensions = append(a.extensions, ext)
	sort.Slice(a.extensions, func(i, j int) bool {
		return a.extensions[i].Order() < a.extensions[j].Order()
	})
	a.mu.Unlock()
	return ext.Init(a)
}

func (a *Arena) extensionsCopy() []Extension {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Extension, len(a.extensions))
	copy(out, a.extensions)
	return out
}

func (a *Arena) allocScope(parent ScopeId, hasParent bool) ScopeId {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.freeScopes) > 0 {
		idx := a.freeScopes[len(a.freeScopes)-1]
		a.freeScopes = a.freeScopes[:len(a.freeScopes)-1]
		slot := &a.scopes[idx]
		slot.generation++
		slot.parent = parent
		slot.hasParent = hasParent
		slot.children = nil
		slot.nodes = nil
		slot.tags = nil
		slot.alive = true
		return ScopeId{index: idx, generation: slot.generation}
	}

	idx := uint32(len(a.scopes))
	a.scopes = append(a.scopes, scopeSlot{generation: 1, parent: parent, hasParent: hasParent, alive: true})
	return ScopeId{index: idx, generation: 1}
}

// CreateScope appends a new scope as a child of parent (§4.1).
func (a *Arena) CreateScope(parent ScopeId) (ScopeId, error) {
	a.mu.RLock()
	if int(parent.index) >= len(a.scopes) || a.scopes[parent.index].generation != parent.generation || !a.scopes[parent.index].alive {
		a.mu.RUnlock()
		return ScopeId{}, &HandleError{Kind: "scope", Want: parent.generation, Got: a.scopeGenUnlocked(parent)}
	}
	a.mu.RUnlock()

	id := a.allocScope(parent, true)

	a.mu.Lock()
	a.scopes[parent.index].children = append(a.scopes[parent.index].children, id)
	a.mu.Unlock()

	a.emitTrace(TraceEvent{Kind: EventScopeCreated, Scope: id})
	return id, nil
}

func (a *Arena) scopeGenUnlocked(id ScopeId) uint32 {
	if int(id.index) < len(a.scopes) {
		return a.scopes[id.index].generation
	}
	return 0
}

// getScope returns the live slot for id, or a HandleError.
func (a *Arena) getScope(id ScopeId) (*scopeSlot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if int(id.index) >= len(a.scopes) {
		return nil, &HandleError{Kind: "scope", Want: id.generation, Got: 0}
	}
	slot := &a.scopes[id.index]
	if slot.generation != id.generation || !slot.alive {
		return nil, &HandleError{Kind: "scope", Want: id.generation, Got: slot.generation}
	}
	return slot, nil
}

// AllocNode reserves a slot for node and registers it under scope (§4.1).
func (a *Arena) AllocNode(scope ScopeId, node Node) (NodeId, error) {
	a.mu.Lock()
	if int(scope.index) >= len(a.scopes) {
		a.mu.Unlock()
		return NodeId{}, &HandleError{Kind: "scope", Want: scope.generation, Got: 0}
	}
	sslot := &a.scopes[scope.index]
	if sslot.generation != scope.generation || !sslot.alive {
		got := sslot.generation
		a.mu.Unlock()
		return NodeId{}, &HandleError{Kind: "scope", Want: scope.generation, Got: got}
	}

	var id NodeId
	if len(a.freeNodes) > 0 {
		idx := a.freeNodes[len(a.freeNodes)-1]
		a.freeNodes = a.freeNodes[:len(a.freeNodes)-1]
		slot := &a.nodes[idx]
		slot.generation++
		slot.scope = scope
		slot.node = node
		slot.alive = true
		id = NodeId{index: idx, generation: slot.generation}
	} else {
		idx := uint32(len(a.nodes))
		a.nodes = append(a.nodes, nodeSlot{generation: 1, scope: scope, node: node, alive: true})
		id = NodeId{index: idx, generation: 1}
	}

	sslot.nodes = append(sslot.nodes, id)
	a.mu.Unlock()

	a.emitTrace(TraceEvent{Kind: EventNodeCreated, Node: id, Scope: scope})
	return id, nil
}

// Get returns the live node for id, or a HandleError for a stale reference.
func (a *Arena) Get(id NodeId) (Node, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if int(id.index) >= len(a.nodes) {
		return nil, &HandleError{Kind: "node", Want: id.generation, Got: 0}
	}
	slot := &a.nodes[id.index]
	if slot.generation != id.generation || !slot.alive {
		return nil, &HandleError{Kind: "node", Want: id.generation, Got: slot.generation}
	}
	return slot.node, nil
}

// DestroyScope recursively destroys id's children (post-order), then
// removes each node it owns in reverse insertion order. Succeeds even if
// some nodes' downstream channels are already closed (§4.1).
func (a *Arena) DestroyScope(id ScopeId) error {
	slot, err := a.getScope(id)
	if err != nil {
		return err
	}

	children := append([]ScopeId(nil), slot.children...)
	for _, child := range children {
		// A child already torn down by an ancestor's earlier pass is fine.
		_ = a.DestroyScope(child)
	}

	nodes := append([]NodeId(nil), slot.nodes...)
	for i := len(nodes) - 1; i >= 0; i-- {
		a.destroyNode(nodes[i])
	}

	a.mu.Lock()
	slot.alive = false
	slot.nodes = nil
	slot.children = nil
	a.freeScopes = append(a.freeScopes, id.index)
	a.mu.Unlock()

	if id == a.root {
		a.FlushPersistence()
	}

	a.emitTrace(TraceEvent{Kind: EventScopeDestroyed, Scope: id})
	return nil
}

func (a *Arena) destroyNode(id NodeId) {
	a.mu.Lock()
	if int(id.index) >= len(a.nodes) {
		a.mu.Unlock()
		return
	}
	slot := &a.nodes[id.index]
	if !slot.alive || slot.generation != id.generation {
		a.mu.Unlock()
		return
	}
	node := slot.node
	slot.alive = false
	slot.node = nil
	a.freeNodes = append(a.freeNodes, id.index)
	a.mu.Unlock()

	if node != nil {
		node.destroy()
	}
	a.emitTrace(TraceEvent{Kind: EventNodeDestroyed, Node: id})
}

// GetTag retrieves a scope-scoped tag (used for options like the host's
// configured LinkId namespace, or test fixtures).
func (a *Arena) GetTag(scope ScopeId, tag any) (any, bool) {
	slot, err := a.getScope(scope)
	if err != nil {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if slot.tags == nil {
		return nil, false
	}
	v, ok := slot.tags[tag]
	return v, ok
}

// SetTag stores a scope-scoped tag.
func (a *Arena) SetTag(scope ScopeId, tag any, val any) {
	slot, err := a.getScope(scope)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot.tags == nil {
		slot.tags = make(map[any]any)
	}
	slot.tags[tag] = val
}

func (a *Arena) emitTrace(ev TraceEvent) {
	if a.tracer != nil {
		a.tracer.Emit(ev)
	}
}

// InUseCounts reports the arena's live node/scope counts, used by the
// no-leak-under-churn test (§8): after create->populate->destroy cycles,
// these must be bounded independent of how many cycles ran.
func (a *Arena) InUseCounts() (nodes, scopes int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.nodes {
		if s.alive {
			nodes++
		}
	}
	for _, s := range a.scopes {
		if s.alive {
			scopes++
		}
	}
	return
}
