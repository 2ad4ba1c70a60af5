package engine

import "testing"

func TestEventPayload_ScalarRoundTrips(t *testing.T) {
	if UnitPayload().ToValue().Kind() != KindUnit {
		t.Fatalf("expected UnitPayload to lift to a unit value")
	}
	if TextPayload("hi").ToValue().AsText() != "hi" {
		t.Fatalf("expected TextPayload to lift to a text value")
	}
	if !BoolPayload(true).ToValue().AsBool() {
		t.Fatalf("expected BoolPayload(true) to lift to a true bool value")
	}
	if NumberPayload(7).ToValue().AsNumber() != 7 {
		t.Fatalf("expected NumberPayload to lift to a number value")
	}
}

func TestEventPayload_KeyDownLiftsToTaggedWithReservedFields(t *testing.T) {
	v := KeyDownPayload(KeyEnter, "x").ToValue()
	if v.Kind() != KindTagged || v.Tag() != InternReserved("__key_down") {
		t.Fatalf("expected a KeyDown payload to lift to a __key_down tagged value, got %+v", v)
	}
	obj := v.AsObject()
	keyVal, ok := obj.Get(InternReserved("__key"))
	if !ok || Key(keyVal.AsNumber()) != KeyEnter {
		t.Fatalf("expected the __key field to carry the pressed key")
	}
	textVal, ok := obj.Get(InternReserved("__key_text"))
	if !ok || textVal.AsText() != "x" {
		t.Fatalf("expected the __key_text field to carry the accompanying text")
	}
}

func TestEventPayload_KeyDownOmitsKeyTextWhenEmpty(t *testing.T) {
	v := KeyDownPayload(KeyEscape, "").ToValue()
	obj := v.AsObject()
	if _, ok := obj.Get(InternReserved("__key_text")); ok {
		t.Fatalf("expected __key_text to be omitted when there is no accompanying text")
	}
}

func TestIngress_InjectEventAndDrainAll(t *testing.T) {
	q := NewIngress(4)
	link := NewDynamicLinkId("button")
	if err := q.InjectEvent(link, UnitPayload()); err != nil {
		t.Fatalf("InjectEvent: %v", err)
	}
	if err := q.InjectEvent(link, TextPayload("y")); err != nil {
		t.Fatalf("InjectEvent: %v", err)
	}

	items := q.drainAll()
	if len(items) != 2 {
		t.Fatalf("expected both injected events to drain, got %d", len(items))
	}
	for _, it := range items {
		if it.kind != ingressEvent || it.link != link {
			t.Fatalf("got %+v, want an ingressEvent for %v", it, link)
		}
	}

	if more := q.drainAll(); len(more) != 0 {
		t.Fatalf("expected drainAll to be empty after everything was drained, got %d", len(more))
	}
}

func TestIngress_FireTimerEnqueuesTimerItem(t *testing.T) {
	q := NewIngress(4)
	id := TimerId(1)
	if err := q.FireTimer(id, 5); err != nil {
		t.Fatalf("FireTimer: %v", err)
	}
	items := q.drainAll()
	if len(items) != 1 || items[0].kind != ingressTimer || items[0].timer != id || items[0].tick != 5 {
		t.Fatalf("got %+v", items)
	}
}

func TestIngress_OverflowDropsRatherThanBlocks(t *testing.T) {
	q := NewIngress(1)
	link := NewDynamicLinkId("hover")
	if err := q.InjectEvent(link, UnitPayload()); err != nil {
		t.Fatalf("InjectEvent: %v", err)
	}
	// The queue discipline is TryOrDrop: a second injection while full must
	// not block or error, it just doesn't land.
	if err := q.InjectEvent(link, UnitPayload()); err != nil {
		t.Fatalf("expected overflow to be silently dropped, not errored: %v", err)
	}
	if q.Counters().Dropped == 0 {
		t.Fatalf("expected the overflow to be reflected in the dropped counter")
	}
}
