package engine

import "fmt"

// ValueKind tags the Value sum variant.
type ValueKind uint8

const (
	KindUnit ValueKind = iota
	KindBool
	KindNumber
	KindText
	KindObject
	KindTagged
	KindListHandle
	KindCellRef
	KindLinkRef
	KindTimerRef
	KindPlaceholder
	KindPlaceholderField
	KindWhileConfig
	KindFlushed
)

// Value is the engine's tagged-variant value type. Values are immutable
// once constructed; list mutation is expressed as ListDiff messages, never
// as a Value mutation.
type Value struct {
	kind ValueKind

	boolean bool
	number  float64
	text    *string // ref-counted in spirit: shared, never mutated in place

	object *OrderedMap // Object and Tagged fields

	tag TagId // Tagged variant label

	listHandle ListHandle
	cellRef    NodeId
	linkRef    LinkId
	timerRef   TimerId
	interval   int64 // ms, for TimerRef

	path []TagId // PlaceholderField path

	whileConfig *WhileConfig

	flushed *Value // boxed inner value for Flushed
}

// ListHandle is opaque outside the owning node: it carries only identity.
type ListHandle struct {
	ID    CollectionId
	Owner NodeId
	set   bool // distinguishes a real (possibly zero-owner) handle from absence
}

// WhileConfig carries the compiled arm list a WHILE node evaluates against.
// Its contents are opaque to the value layer; the match combinator owns the
// concrete shape.
type WhileConfig struct {
	Arms []MatchArm
}

func Unit() Value                 { return Value{kind: KindUnit} }
func Bool(b bool) Value           { return Value{kind: KindBool, boolean: b} }
func Number(n float64) Value      { return Value{kind: KindNumber, number: n} }
func Text(s string) Value         { return Value{kind: KindText, text: &s} }
func CellRef(id NodeId) Value     { return Value{kind: KindCellRef, cellRef: id} }
func LinkRef(id LinkId) Value     { return Value{kind: KindLinkRef, linkRef: id} }
func Placeholder() Value          { return Value{kind: KindPlaceholder} }
func PlaceholderField(path []TagId) Value {
	return Value{kind: KindPlaceholderField, path: path}
}

func TimerRef(id TimerId, intervalMs int64) Value {
	return Value{kind: KindTimerRef, timerRef: id, interval: intervalMs}
}

func ListHandleValue(h ListHandle) Value {
	h.set = true
	return Value{kind: KindListHandle, listHandle: h}
}

func WhileConfigValue(cfg *WhileConfig) Value {
	return Value{kind: KindWhileConfig, whileConfig: cfg}
}

// Flushed wraps inner as a transparent bypass sentinel (§4.7).
func Flushed(inner Value) Value {
	return Value{kind: KindFlushed, flushed: &inner}
}

// Object constructs an Object value from an ordered map. The map is taken
// by reference; callers must not mutate it afterward (values are immutable
// once constructed).
func Object(fields *OrderedMap) Value {
	return Value{kind: KindObject, object: fields}
}

// Tagged constructs a sum-variant value: a tag plus an ordered field map.
func Tagged(tag TagId, fields *OrderedMap) Value {
	if fields == nil {
		fields = NewOrderedMap()
	}
	return Value{kind: KindTagged, tag: tag, object: fields}
}

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsFlushed() bool { return v.kind == KindFlushed }

// Unwrap returns the inner value of a Flushed sentinel and true, or the
// value itself and false if it isn't Flushed.
func (v Value) Unwrap() (Value, bool) {
	if v.kind != KindFlushed {
		return v, false
	}
	return *v.flushed, true
}

func (v Value) AsBool() bool { return v.boolean }

func (v Value) AsNumber() float64 { return v.number }

func (v Value) AsText() string {
	if v.text == nil {
		return ""
	}
	return *v.text
}

func (v Value) AsObject() *OrderedMap { return v.object }

func (v Value) Tag() TagId { return v.tag }

func (v Value) AsListHandle() (ListHandle, bool) {
	return v.listHandle, v.kind == KindListHandle && v.listHandle.set
}

func (v Value) AsCellRef() (NodeId, bool) {
	return v.cellRef, v.kind == KindCellRef
}

func (v Value) AsLinkRef() (LinkId, bool) {
	return v.linkRef, v.kind == KindLinkRef
}

func (v Value) AsTimerRef() (TimerId, int64, bool) {
	return v.timerRef, v.interval, v.kind == KindTimerRef
}

func (v Value) AsWhileConfig() (*WhileConfig, bool) {
	return v.whileConfig, v.kind == KindWhileConfig
}

func (v Value) String() string {
	switch v.kind {
	case KindUnit:
		return "()"
	case KindBool:
		return fmt.Sprintf("%t", v.boolean)
	case KindNumber:
		return fmt.Sprintf("%g", v.number)
	case KindText:
		return v.AsText()
	case KindObject:
		return fmt.Sprintf("Object%s", v.object)
	case KindTagged:
		return fmt.Sprintf("%s%s", TagName(v.tag), v.object)
	case KindListHandle:
		return fmt.Sprintf("List(%d)", v.listHandle.ID)
	case KindCellRef:
		return fmt.Sprintf("CellRef(%s)", v.cellRef)
	case KindLinkRef:
		return fmt.Sprintf("LinkRef(%s)", v.linkRef)
	case KindTimerRef:
		return fmt.Sprintf("TimerRef(%d,%dms)", v.timerRef, v.interval)
	case KindPlaceholder:
		return "_"
	case KindPlaceholderField:
		return "_.field"
	case KindWhileConfig:
		return "WhileConfig"
	case KindFlushed:
		return fmt.Sprintf("Flushed(%s)", v.flushed.String())
	default:
		return "?"
	}
}

// Equal performs a structural, shallow-recursive equality check, used by
// tests. LATEST (§4.8) does not use it: it compares idempotency keys.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindUnit:
		return true
	case KindBool:
		return v.boolean == other.boolean
	case KindNumber:
		return v.number == other.number
	case KindText:
		return v.AsText() == other.AsText()
	case KindObject:
		return v.object.Equal(other.object)
	case KindTagged:
		return v.tag == other.tag && v.object.Equal(other.object)
	case KindListHandle:
		return v.listHandle.ID == other.listHandle.ID
	case KindCellRef:
		return v.cellRef == other.cellRef
	case KindLinkRef:
		return v.linkRef == other.linkRef
	case KindTimerRef:
		return v.timerRef == other.timerRef
	case KindFlushed:
		return v.flushed.Equal(*other.flushed)
	default:
		return false
	}
}

// OrderedMap is an insertion-ordered map keyed by interned field names.
// Grounded on the teacher's generational-slot style (paired slice + index
// map) used throughout the arena: an append-only slice preserves order,
// a side index gives O(1) lookup.
type OrderedMap struct {
	order []TagId
	index map[TagId]int
	vals  []Value
}

func NewOrderedMap() *OrderedMap {
	return &OrderedMap{index: make(map[TagId]int)}
}

// Set inserts or replaces a field, preserving first-insertion order.
func (m *OrderedMap) Set(key TagId, val Value) {
	if i, ok := m.index[key]; ok {
		m.vals[i] = val
		return
	}
	m.index[key] = len(m.order)
	m.order = append(m.order, key)
	m.vals = append(m.vals, val)
}

func (m *OrderedMap) Get(key TagId) (Value, bool) {
	i, ok := m.index[key]
	if !ok {
		return Value{}, false
	}
	return m.vals[i], true
}

// Has reports required-fields-subset membership, used by Object pattern matching.
func (m *OrderedMap) Has(key TagId) bool {
	_, ok := m.index[key]
	return ok
}

func (m *OrderedMap) Len() int { return len(m.order) }

// Keys returns field names in insertion order.
func (m *OrderedMap) Keys() []TagId {
	out := make([]TagId, len(m.order))
	copy(out, m.order)
	return out
}

// Clone returns a shallow copy; Values inside are immutable so this is safe
// to hand to a new owner (e.g. map() template instantiation).
func (m *OrderedMap) Clone() *OrderedMap {
	c := &OrderedMap{
		order: append([]TagId(nil), m.order...),
		vals:  append([]Value(nil), m.vals...),
		index: make(map[TagId]int, len(m.index)),
	}
	for k, v := range m.index {
		c.index[k] = v
	}
	return c
}

func (m *OrderedMap) Equal(other *OrderedMap) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.order) != len(other.order) {
		return false
	}
	for _, k := range m.order {
		a, _ := m.Get(k)
		b, ok := other.Get(k)
		if !ok || !a.Equal(b) {
			return false
		}
	}
	return true
}

func (m *OrderedMap) String() string {
	s := "{"
	for i, k := range m.order {
		if i > 0 {
			s += ", "
		}
		s += TagName(k) + ": " + m.vals[i].String()
	}
	return s + "}"
}
