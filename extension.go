package engine

import "context"

// OperationKind identifies what an Extension is wrapping.
type OperationKind string

const (
	// OpEvaluate wraps a combinator body evaluation (HOLD/WHEN/THEN).
	OpEvaluate OperationKind = "evaluate"
	// OpCommit wraps a node's version/value commit at the end of a tick.
	OpCommit OperationKind = "commit"
)

// Operation describes the node and kind of an intercepted step, mirroring
// the teacher's Operation (extension.go) generalized from DI-resolve/update
// to node-evaluate/commit.
type Operation struct {
	Kind  OperationKind
	Node  NodeId
	Arena *Arena
}

// Extension provides hooks into node evaluation and scope lifecycle,
// structurally identical to the teacher's Extension interface so that
// GraphDebugExtension-style tooling ports over unchanged in shape.
type Extension interface {
	Name() string
	Order() int

	Init(arena *Arena) error

	// Wrap intercepts an evaluate/commit operation (middleware pattern).
	Wrap(ctx context.Context, next func() (Value, error), op *Operation) (Value, error)

	OnError(err error, op *Operation, arena *Arena)

	// OnCleanupError handles a cleanup callback failure registered via
	// EvalCtx.OnCleanup. Returns true if the error was handled.
	OnCleanupError(err *CleanupError) bool

	Dispose(arena *Arena) error
}

// CleanupError contains information about a cleanup failure.
type CleanupError struct {
	Node    NodeId
	Err     error
	Context string // "reactive" or "dispose"
}

func (e *CleanupError) Error() string { return e.Err.Error() }
func (e *CleanupError) Unwrap() error { return e.Err }

// BaseExtension provides default no-op implementations, exactly like the
// teacher's BaseExtension, so concrete extensions only override what they need.
type BaseExtension struct {
	name string
}

func NewBaseExtension(name string) BaseExtension { return BaseExtension{name: name} }

func (e *BaseExtension) Name() string  { return e.name }
func (e *BaseExtension) Order() int    { return 100 }
func (e *BaseExtension) Init(*Arena) error { return nil }

func (e *BaseExtension) Wrap(ctx context.Context, next func() (Value, error), op *Operation) (Value, error) {
	return next()
}

func (e *BaseExtension) OnError(err error, op *Operation, arena *Arena) {}

func (e *BaseExtension) OnCleanupError(err *CleanupError) bool { return false }

func (e *BaseExtension) Dispose(*Arena) error { return nil }
