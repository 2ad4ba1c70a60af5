package engine

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ReservedPrefix is the namespace the engine owns. Any tag or field name
// beginning with it is rejected at program-build time.
const ReservedPrefix = "__"

// IsReservedName reports whether name falls in the engine-owned namespace.
func IsReservedName(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// NodeId references an owned node in the arena. Copy type, small integers.
type NodeId struct {
	index      uint32
	generation uint32
}

func (id NodeId) String() string {
	return fmt.Sprintf("node#%d.%d", id.index, id.generation)
}

// IsZero reports whether id is the zero value (never a valid allocation).
func (id NodeId) IsZero() bool { return id.generation == 0 && id.index == 0 }

// ScopeId references a scope in the arena.
type ScopeId struct {
	index      uint32
	generation uint32
}

func (id ScopeId) String() string {
	return fmt.Sprintf("scope#%d.%d", id.index, id.generation)
}

// ItemId is a stable identity for a list element. Never reused within a run.
type ItemId uint64

// CollectionId identifies a list instance across transforms.
type CollectionId uint64

// TimerId identifies a registered timer.
type TimerId uint64

// TagId is an interned short string used for sum-variant (Tagged) labels.
type TagId uint32

// LinkId is an interned name for an external/internal event source. It is
// either a static path (a literal name known at build time) or a dynamic
// (counter, name) pair minted at runtime, e.g. once per list item.
type LinkId struct {
	static  bool
	name    TagId
	counter uint64
}

func (l LinkId) String() string {
	if l.static {
		return fmt.Sprintf("link:%s", internTable.nameOf(l.name))
	}
	return fmt.Sprintf("link:%s#%d", internTable.nameOf(l.name), l.counter)
}

// intern is a process-wide string<->TagId interning table, grounded on the
// teacher's Tag[T]-by-string-key idiom (tag.go): names compare as integers
// once interned instead of repeatedly as strings.
type intern struct {
	mu      sync.RWMutex
	byName  map[string]TagId
	byId    []string
	counter atomic.Uint64
}

var internTable = &intern{byName: make(map[string]TagId)}

func (t *intern) id(name string) TagId {
	t.mu.RLock()
	if id, ok := t.byName[name]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byName[name]; ok {
		return id
	}
	id := TagId(len(t.byId))
	t.byId = append(t.byId, name)
	t.byName[name] = id
	return id
}

func (t *intern) nameOf(id TagId) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) < len(t.byId) {
		return t.byId[id]
	}
	return "?"
}

// Intern returns the TagId for a field or tag name, rejecting names in the
// engine-reserved namespace so user programs cannot fabricate or collide
// with engine-owned identifiers.
func Intern(name string) (TagId, error) {
	if IsReservedName(name) {
		return 0, &ConstructionError{Kind: "reserved-identifier", Detail: name}
	}
	return internTable.id(name), nil
}

// InternReserved interns a name the engine itself owns (e.g. "__collection__").
// Use only from within the engine; user-facing paths must go through Intern.
func InternReserved(name string) TagId {
	return internTable.id(name)
}

// TagName returns the interned name for id.
func TagName(id TagId) string { return internTable.nameOf(id) }

// NewStaticLinkId interns a static, program-declared link name.
func NewStaticLinkId(name string) (LinkId, error) {
	id, err := Intern(name)
	if err != nil {
		return LinkId{}, err
	}
	return LinkId{static: true, name: id}, nil
}

// uuidUint64 folds a fresh random UUID's top 8 bytes into a uint64, the
// source of uniqueness for every dynamic (counter, name) pair minted below.
// A counter would do too, but the pack's own dynamic-id mints (e.g.
// pumped-go/examples/health-monitor's uuid.New() entity ids) reach for
// process-wide randomness instead of shared mutable counter state; folding
// into uint64 keeps ItemId/CollectionId/LinkId's wire-compact representation
// unchanged while dropping the atomic counters entirely.
func uuidUint64() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}

// NewDynamicLinkId mints a fresh (counter, name) link id, used when the
// pre-instantiation phase (scheduler §4.12 step 2) allocates a per-row event
// source for a freshly inserted list item.
func NewDynamicLinkId(name string) LinkId {
	id := internTable.id(name)
	return LinkId{static: false, name: id, counter: uuidUint64()}
}

// NewItemId mints a fresh, never-reused ItemId.
func NewItemId() ItemId {
	return ItemId(uuidUint64())
}

// NewCollectionId mints a fresh CollectionId for a list instance.
func NewCollectionId() CollectionId {
	return CollectionId(uuidUint64())
}
