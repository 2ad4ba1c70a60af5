package engine

import "testing"

func TestArena_StaleNodeHandleRejected(t *testing.T) {
	a := NewArena()
	rootId, err := NewConstant(a, a.RootScope(), Number(1))
	if err != nil {
		t.Fatalf("NewConstant: %v", err)
	}

	child, err := a.CreateScope(a.RootScope())
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	cid, err := NewConstant(a, child, Number(2))
	if err != nil {
		t.Fatalf("NewConstant in child: %v", err)
	}
	if err := a.DestroyScope(child); err != nil {
		t.Fatalf("DestroyScope: %v", err)
	}
	if _, err := a.Get(cid); err == nil {
		t.Fatalf("expected a stale handle error after the owning scope was destroyed")
	}

	// The original id from the root scope remains valid.
	if _, err := a.Get(rootId); err != nil {
		t.Fatalf("expected root-scope node to remain live: %v", err)
	}
}

func TestArena_SlotReuseBumpsGeneration(t *testing.T) {
	a := NewArena()
	scope, err := a.CreateScope(a.RootScope())
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}

	first, err := NewConstant(a, scope, Number(1))
	if err != nil {
		t.Fatalf("NewConstant: %v", err)
	}
	if err := a.DestroyScope(scope); err != nil {
		t.Fatalf("DestroyScope: %v", err)
	}

	scope2, err := a.CreateScope(a.RootScope())
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	second, err := NewConstant(a, scope2, Number(2))
	if err != nil {
		t.Fatalf("NewConstant: %v", err)
	}

	if _, err := a.Get(first); err == nil {
		t.Fatalf("expected the destroyed node's old id to be rejected")
	}
	v, err := a.Get(second)
	if err != nil {
		t.Fatalf("expected the new node to resolve: %v", err)
	}
	if v.CurrentValue().AsNumber() != 2 {
		t.Fatalf("got %v want 2", v.CurrentValue().AsNumber())
	}
}

func TestArena_ScopeCascadeDestroysDescendants(t *testing.T) {
	a := NewArena()
	parent, err := a.CreateScope(a.RootScope())
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	child, err := a.CreateScope(parent)
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}
	grandchild, err := a.CreateScope(child)
	if err != nil {
		t.Fatalf("CreateScope: %v", err)
	}

	nid, err := NewConstant(a, grandchild, Number(7))
	if err != nil {
		t.Fatalf("NewConstant: %v", err)
	}

	if err := a.DestroyScope(parent); err != nil {
		t.Fatalf("DestroyScope: %v", err)
	}

	if _, err := a.Get(nid); err == nil {
		t.Fatalf("expected node owned by a destroyed grandchild scope to be stale")
	}
	if _, err := a.CreateScope(child); err == nil {
		t.Fatalf("expected the destroyed child scope to reject new children")
	}
}

func TestArena_NoLeakUnderChurn(t *testing.T) {
	a := NewArena()
	for i := 0; i < 500; i++ {
		scope, err := a.CreateScope(a.RootScope())
		if err != nil {
			t.Fatalf("CreateScope: %v", err)
		}
		for j := 0; j < 5; j++ {
			if _, err := NewConstant(a, scope, Number(float64(j))); err != nil {
				t.Fatalf("NewConstant: %v", err)
			}
		}
		if err := a.DestroyScope(scope); err != nil {
			t.Fatalf("DestroyScope: %v", err)
		}
	}

	nodes, scopes := a.InUseCounts()
	if nodes != 0 {
		t.Errorf("expected 0 live nodes after churn, got %d", nodes)
	}
	if scopes != 1 { // the root scope
		t.Errorf("expected 1 live scope (root) after churn, got %d", scopes)
	}
}
