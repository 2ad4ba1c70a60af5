package engine

import (
	"context"
	"time"
)

// EventPayloadKind tags the §6.2 EventPayload sum variant.
type EventPayloadKind uint8

const (
	PayloadUnit EventPayloadKind = iota
	PayloadText
	PayloadBool
	PayloadNumber
	PayloadKeyDown
)

// Key is the enumerated special-key set for KeyDown payloads (§6.2: "Enter/
// Escape are typed enum values, not magic strings").
type Key uint8

const (
	KeyNone Key = iota
	KeyEnter
	KeyEscape
	KeyTab
	KeyBackspace
)

// EventPayload is the inbound wire shape for an injected event, before it is
// lifted into a graph Value at the link endpoint.
type EventPayload struct {
	Kind EventPayloadKind

	Text   string
	Bool   bool
	Number float64

	Key     Key
	KeyText string // KeyDown's optional accompanying text
}

func UnitPayload() EventPayload            { return EventPayload{Kind: PayloadUnit} }
func TextPayload(s string) EventPayload    { return EventPayload{Kind: PayloadText, Text: s} }
func BoolPayload(b bool) EventPayload      { return EventPayload{Kind: PayloadBool, Bool: b} }
func NumberPayload(n float64) EventPayload { return EventPayload{Kind: PayloadNumber, Number: n} }
func KeyDownPayload(k Key, text string) EventPayload {
	return EventPayload{Kind: PayloadKeyDown, Key: k, KeyText: text}
}

// ToValue lifts a wire payload into a graph Value for delivery to a link
// endpoint. KeyDown becomes a Tagged value so WHEN/WHILE programs can match
// on it structurally instead of the host reaching into engine internals.
func (p EventPayload) ToValue() Value {
	switch p.Kind {
	case PayloadText:
		return Text(p.Text)
	case PayloadBool:
		return Bool(p.Bool)
	case PayloadNumber:
		return Number(p.Number)
	case PayloadKeyDown:
		fields := NewOrderedMap()
		fields.Set(InternReserved("__key"), Number(float64(p.Key)))
		if p.KeyText != "" {
			fields.Set(InternReserved("__key_text"), Text(p.KeyText))
		}
		return Tagged(InternReserved("__key_down"), fields)
	default:
		return Unit()
	}
}

// ingressKind distinguishes the two things that can show up on the ingress
// queue: a host-injected event routed by LinkId, and a fired timer (§4.12
// step 1).
type ingressKind uint8

const (
	ingressEvent ingressKind = iota
	ingressTimer
)

// ingressItem is one entry drained in the scheduler's drain-ingress phase.
type ingressItem struct {
	kind    ingressKind
	link    LinkId
	payload EventPayload
	timer   TimerId
	tick    uint64
}

// Ingress is the bounded, multi-producer single-consumer queue a host
// writes to via inject_event/timer firings and the scheduler drains once
// per tick (§4.12 step 1, §5 "shared resources"). Overflow uses TryOrDrop:
// high-frequency UI input is expected to coalesce, matching the discipline
// named for "live text"/"hover" sources in §4.2.
type Ingress struct {
	ch *Channel[ingressItem]
}

// NewIngress allocates an ingress queue of the given capacity.
func NewIngress(capacity int) *Ingress {
	return &Ingress{ch: NewChannel[ingressItem]("ingress", capacity, TryOrDrop)}
}

// InjectEvent is the host-facing entry point named in §6.2.
func (q *Ingress) InjectEvent(link LinkId, payload EventPayload) error {
	return q.ch.Send(context.Background(), ingressItem{kind: ingressEvent, link: link, payload: payload})
}

// FireTimer enqueues a timer-fired event for the scheduler to dispatch.
func (q *Ingress) FireTimer(id TimerId, tick uint64) error {
	return q.ch.Send(context.Background(), ingressItem{kind: ingressTimer, timer: id, tick: tick})
}

// drainAll pulls every currently pending item without blocking, the §4.12
// step-1 "drain ingress" operation.
func (q *Ingress) drainAll() []ingressItem {
	var out []ingressItem
	for {
		item, ok := q.ch.TryReceive()
		if !ok {
			return out
		}
		out = append(out, item)
	}
}

// Counters exposes the ingress channel's §6.5 counters.
func (q *Ingress) Counters() ChannelCounters { return q.ch.Counters() }

// TimerEntry is a registered (interval, node) pair on the scheduler's
// priority queue (§4.12 "Timers").
type TimerEntry struct {
	ID       TimerId
	Interval time.Duration
	Deadline time.Time
	Target   NodeId // the LinkEndpointNode a firing delivers to
}
