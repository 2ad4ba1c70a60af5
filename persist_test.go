package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
)

// fakeBackend is a minimal in-process Backend for exercising the node-level
// persistence bridge without reaching into engine/persist (which imports
// this package, so a real backend can't be imported here without a cycle).
type fakeBackend struct {
	mu    sync.Mutex
	blobs map[PersistenceId][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{blobs: make(map[PersistenceId][]byte)}
}

func (b *fakeBackend) Save(id PersistenceId, blob []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(blob))
	copy(cp, blob)
	b.blobs[id] = cp
}

func (b *fakeBackend) Load(id PersistenceId) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	blob, ok := b.blobs[id]
	return blob, ok
}

func TestPersistentConstant_FirstConstructionSavesLiteralInitial(t *testing.T) {
	backend := newFakeBackend()
	a := NewArenaWithConfig(nil)
	a.SetBackend(backend)
	scope := a.RootScope()

	nid, err := NewPersistentConstant(a, scope, "counter/seed", Number(7))
	if err != nil {
		t.Fatalf("NewPersistentConstant: %v", err)
	}
	node, err := a.Get(nid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.CurrentValue().AsNumber() != 7 {
		t.Fatalf("expected literal initial to apply when nothing is saved yet, got %v", node.CurrentValue())
	}

	a.FlushPersistence()
	if _, ok := backend.Load("counter/seed"); !ok {
		t.Fatalf("expected the literal initial to be queued and flushed to the backend")
	}
}

func TestPersistentConstant_LoadOverridesLiteralInitial(t *testing.T) {
	backend := newFakeBackend()
	backend.Save("counter/seed", EncodeValue(Number(99), nil))

	a := NewArenaWithConfig(nil)
	a.SetBackend(backend)
	scope := a.RootScope()

	nid, err := NewPersistentConstant(a, scope, "counter/seed", Number(7))
	if err != nil {
		t.Fatalf("NewPersistentConstant: %v", err)
	}
	node, err := a.Get(nid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.CurrentValue().AsNumber() != 99 {
		t.Fatalf("expected the saved value to override the literal initial, got %v", node.CurrentValue())
	}
}

func TestArena_ReservePersistenceId_CollisionIsConstructionError(t *testing.T) {
	a := NewArenaWithConfig(nil)
	scope := a.RootScope()

	if _, err := NewPersistentConstant(a, scope, "dup", Number(1)); err != nil {
		t.Fatalf("first NewPersistentConstant: %v", err)
	}
	_, err := NewPersistentConstant(a, scope, "dup", Number(2))
	if err == nil {
		t.Fatalf("expected a second node reusing the same persistence id to fail")
	}
	ce, ok := err.(*ConstructionError)
	if !ok || ce.Kind != "persistence-id-collision" {
		t.Fatalf("got %v, want ConstructionError{Kind: persistence-id-collision}", err)
	}
}

func TestPersistentHold_CommitsQueueWritesFlushedPerTick(t *testing.T) {
	backend := newFakeBackend()
	cfg := DefaultConfig()
	cfg.PersistenceFlushPolicy = FlushPerTick
	a := NewArenaWithConfig(cfg)
	a.SetBackend(backend)
	scope := a.RootScope()

	trigger, _, err := NewLinkEndpoint(a, scope, NewDynamicLinkId("bump"))
	if err != nil {
		t.Fatalf("NewLinkEndpoint: %v", err)
	}
	_, hold, err := NewPersistentHold(a, scope, "count", "count/state", trigger, Number(0),
		func(ctx *EvalCtx, event Value, prev Value) (Value, error) {
			return Number(prev.AsNumber() + 1), nil
		})
	if err != nil {
		t.Fatalf("NewPersistentHold: %v", err)
	}

	if err := hold.Advance(context.Background(), Unit()); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	a.tickFlushPersistence()
	blob, ok := backend.Load("count/state")
	if !ok {
		t.Fatalf("expected the committed value to be flushed under the persistence id")
	}
	v, _, ok := DecodeValue(blob, nil)
	if !ok || v.AsNumber() != 1 {
		t.Fatalf("expected the flushed blob to decode to 1, got %+v ok=%v", v, ok)
	}
}

func TestPersistentHold_ReloadAcrossArenasRestoresLastCommittedState(t *testing.T) {
	backend := newFakeBackend()

	a1 := NewArenaWithConfig(nil)
	a1.SetBackend(backend)
	scope1 := a1.RootScope()
	trigger1, _, err := NewLinkEndpoint(a1, scope1, NewDynamicLinkId("bump"))
	if err != nil {
		t.Fatalf("NewLinkEndpoint: %v", err)
	}
	_, hold1, err := NewPersistentHold(a1, scope1, "count", "count/state", trigger1, Number(0),
		func(ctx *EvalCtx, event Value, prev Value) (Value, error) {
			return Number(prev.AsNumber() + 1), nil
		})
	if err != nil {
		t.Fatalf("NewPersistentHold: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := hold1.Advance(context.Background(), Unit()); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	a1.Checkpoint()

	// A fresh arena over the same backend reloads the last checkpointed
	// state instead of starting from the literal initial (seed scenario 4,
	// "idempotent reload via a real save/reload round trip").
	a2 := NewArenaWithConfig(nil)
	a2.SetBackend(backend)
	scope2 := a2.RootScope()
	trigger2, _, err := NewLinkEndpoint(a2, scope2, NewDynamicLinkId("bump"))
	if err != nil {
		t.Fatalf("NewLinkEndpoint: %v", err)
	}
	_, hold2, err := NewPersistentHold(a2, scope2, "count", "count/state", trigger2, Number(0),
		func(ctx *EvalCtx, event Value, prev Value) (Value, error) {
			return Number(prev.AsNumber() + 1), nil
		})
	if err != nil {
		t.Fatalf("NewPersistentHold: %v", err)
	}
	if got := hold2.CurrentValue().AsNumber(); got != 3 {
		t.Fatalf("expected reload to restore the checkpointed state 3, got %v", got)
	}
}

func TestArena_FlushPersistence_ForcedOnRootScopeDestructionRegardlessOfPolicy(t *testing.T) {
	backend := newFakeBackend()
	cfg := DefaultConfig()
	cfg.PersistenceFlushPolicy = FlushOnShutdown
	a := NewArenaWithConfig(cfg)
	a.SetBackend(backend)
	scope := a.RootScope()

	if _, err := NewPersistentConstant(a, scope, "shutdown/flag", Bool(true)); err != nil {
		t.Fatalf("NewPersistentConstant: %v", err)
	}

	// Under FlushOnShutdown a per-tick flush must be a no-op...
	a.tickFlushPersistence()
	if _, ok := backend.Load("shutdown/flag"); ok {
		t.Fatalf("expected FlushOnShutdown to suppress the per-tick flush")
	}

	// ...but destroying the root scope forces a flush unconditionally.
	if err := a.DestroyScope(a.RootScope()); err != nil {
		t.Fatalf("DestroyScope: %v", err)
	}
	if _, ok := backend.Load("shutdown/flag"); !ok {
		t.Fatalf("expected root-scope destruction to force a persistence flush")
	}
}

func TestEncodeDecodeValue_ScalarRoundTrips(t *testing.T) {
	cases := []Value{Unit(), Bool(true), Bool(false), Number(3.5), Text("hello")}
	for _, v := range cases {
		blob := EncodeValue(v, nil)
		got, items, ok := DecodeValue(blob, nil)
		if !ok {
			t.Fatalf("DecodeValue failed to decode %+v", v)
		}
		if items != nil {
			t.Fatalf("expected a scalar round-trip to not produce list items")
		}
		if !got.Equal(v) {
			t.Fatalf("round-trip mismatch: got %+v want %+v", got, v)
		}
	}
}

func TestEncodeDecodeValue_CollectionRoundTrips(t *testing.T) {
	items := []ListItem{
		{ID: NewItemId(), Value: Number(1)},
		{ID: NewItemId(), Value: Text("two")},
		{ID: NewItemId(), Value: Bool(true)},
	}
	blob := EncodeValue(Value{}, items)
	_, got, ok := DecodeValue(blob, nil)
	if !ok {
		t.Fatalf("DecodeValue failed to decode a collection blob")
	}
	if len(got) != len(items) {
		t.Fatalf("got %d items, want %d", len(got), len(items))
	}
	for i, it := range items {
		if got[i].ID != it.ID || !got[i].Value.Equal(it.Value) {
			t.Fatalf("item %d: got %+v want %+v", i, got[i], it)
		}
	}
}

func TestEncodeValue_CompressesPayloadsAboveThreshold(t *testing.T) {
	big := strings.Repeat("x", snappyThreshold*2)
	blob := EncodeValue(Text(big), nil)
	if blob[2] != 1 {
		t.Fatalf("expected a large text payload to be snappy-compressed")
	}
	got, _, ok := DecodeValue(blob, nil)
	if !ok || got.AsText() != big {
		t.Fatalf("expected a compressed blob to still round-trip, ok=%v", ok)
	}
}

func TestEncodeValue_SmallPayloadIsNotCompressed(t *testing.T) {
	blob := EncodeValue(Number(1), nil)
	if blob[2] != 0 {
		t.Fatalf("expected a small scalar payload to skip compression")
	}
}

func TestDecodeValue_UnknownVersionDegradesGracefully(t *testing.T) {
	blob := EncodeValue(Number(9), nil)
	blob[1] = 0xFF // corrupt the low byte of the version header
	_, _, ok := DecodeValue(blob, nil)
	if ok {
		t.Fatalf("expected an unrecognized blob version to fail decode rather than misinterpret the payload")
	}
}

func TestDecodeValue_TruncatedBlobFailsCleanly(t *testing.T) {
	if _, _, ok := DecodeValue([]byte{0, 1}, nil); ok {
		t.Fatalf("expected a too-short blob to fail decode")
	}
}

func TestEncodeDecodeScalar_AllKinds(t *testing.T) {
	for _, v := range []Value{Unit(), Bool(true), Number(-2.25), Text("")} {
		got, ok := decodeScalar(encodeScalar(v))
		if !ok || !got.Equal(v) {
			t.Fatalf("scalar round-trip failed for %+v: got %+v ok=%v", v, got, ok)
		}
	}
}

func TestDecodeCollection_RejectsNonCollectionPayload(t *testing.T) {
	if _, ok := decodeCollection(encodeScalar(Number(1))); ok {
		t.Fatalf("expected a plain scalar payload to be rejected as a collection")
	}
}

func TestDecodeCollection_RejectsTruncatedPayload(t *testing.T) {
	full := encodeCollection([]ListItem{{ID: NewItemId(), Value: Number(1)}})
	if _, ok := decodeCollection(full[:len(full)-1]); ok {
		t.Fatalf("expected a truncated collection payload to fail decode")
	}
}
