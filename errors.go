package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is comparisons, wrapped into the typed errors
// below at their point of origin -- grounded on the teacher's
// ResolveError/CreateResolveError shape (errors.go): a typed struct carrying
// context, wrapping a sentinel via Unwrap.
var (
	ErrStaleHandle    = errors.New("stale handle: generation mismatch")
	ErrScopeCycle     = errors.New("scope cycle at creation")
	ErrQueueFull      = errors.New("channel queue full")
	ErrReceiverClosed = errors.New("receiver closed")
	ErrSenderClosed   = errors.New("sender closed")
	ErrEndOfStream    = errors.New("end of stream")
	ErrUnknownVersion = errors.New("unknown persistence payload version")
)

// HandleError reports a stale generational handle (NodeId or ScopeId) was
// used after its slot was recycled. Generations strictly prevent
// use-after-free observation: the caller sees this error, never a value
// from the reused slot.
type HandleError struct {
	Kind string // "node" or "scope"
	Want uint32
	Got  uint32
}

func (e *HandleError) Error() string {
	return fmt.Sprintf("stale %s handle: generation %d, have %d", e.Kind, e.Want, e.Got)
}

func (e *HandleError) Unwrap() error { return ErrStaleHandle }

// ConstructionError is raised at graph-build time: reserved identifier
// collisions, unbound variables, bad arity, persistence id collisions, and
// cycles through a non-delayed reference.
type ConstructionError struct {
	Kind   string
	Detail string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construction error (%s): %s", e.Kind, e.Detail)
}

// InvariantViolation is a bug-class error: duplicate ItemId on insert,
// unknown ItemId on remove/update, a dangling Insert.after anchor, Replace
// on a scalar cell, SetValue on a list cell, or a reserved-prefix name
// appearing at runtime. These abort the containing scope evaluation with a
// diagnostic; callers must not silently recover from them.
type InvariantViolation struct {
	Node   NodeId
	Kind   string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s (%s): %s", e.Node, e.Kind, e.Detail)
}

// ChannelError wraps a channel-discipline failure with the channel's name,
// so debug logs and the §6.5 counters can attribute it.
type ChannelError struct {
	Channel string
	Cause   error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %q: %v", e.Channel, e.Cause)
}

func (e *ChannelError) Unwrap() error { return e.Cause }

// ResolveError wraps a failure during combinator body evaluation with the
// originating node and a human context string, mirroring the teacher's
// ResolveError/CreateResolveError.
type ResolveError struct {
	Node    NodeId
	Context string
	Cause   error
}

func (e *ResolveError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("resolve error in %s during %s: %v", e.Node, e.Context, e.Cause)
	}
	return fmt.Sprintf("resolve error in %s: %v", e.Node, e.Cause)
}

func (e *ResolveError) Unwrap() error { return e.Cause }

func newResolveError(node NodeId, context string, cause error) *ResolveError {
	return &ResolveError{Node: node, Context: context, Cause: cause}
}
