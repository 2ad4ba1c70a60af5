// Package astiface is the §6.1 parser contract: the set of AST node-kind
// interfaces a surface-syntax parser must produce for the core to build a
// graph from. The core never depends on concrete syntax, a lexer, or a
// parser implementation — only on these shapes. A parser lives entirely
// outside this module; astiface exists so one can be written against a
// stable target.
package astiface

// Pos is a source location a parser attaches to a node for diagnostics.
// The core only threads it through construction errors; it never
// interprets line/column itself.
type Pos struct {
	Line   int
	Column int
}

// Node is the common capability every AST node kind implements.
type Node interface {
	Pos() Pos
}

// Program is the root of a parsed unit: an ordered sequence of top-level
// bindings and link declarations.
type Program interface {
	Node
	Bindings() []Binding
	Links() []LinkDecl
}

// ConstantLit is a literal scalar value: unit, bool, number, or text.
type ConstantLit interface {
	Node
	Kind() ConstantKind
	BoolValue() bool
	NumberValue() float64
	TextValue() string
}

type ConstantKind int

const (
	ConstUnit ConstantKind = iota
	ConstBool
	ConstNumber
	ConstText
)

// Binding is a variable binding: `name = expr`.
type Binding interface {
	Node
	Name() string
	Expr() Expr
}

// Expr is any node kind that evaluates to a value or a node reference.
// Every node kind below except Binding, LinkDecl, PersistenceAnnotation,
// Pattern, and MatchArm satisfies Expr.
type Expr interface {
	Node
	exprMarker()
}

// FuncDef is a function definition: a parameter list and a body
// expression evaluated with those parameters bound.
type FuncDef interface {
	Expr
	Params() []string
	Body() Expr
}

// FuncCall applies a function-valued expression to argument expressions.
type FuncCall interface {
	Expr
	Callee() Expr
	Args() []Expr
}

// Pipe composes a source expression into a sequence of transform
// expressions, left to right (`src |> f |> g`).
type Pipe interface {
	Expr
	Source() Expr
	Stages() []Expr
}

// Pattern is the §4.9 pattern-match contract: a shape a MatchExpr arm
// tests an event's value against, optionally binding names.
type Pattern interface {
	Node
	Kind() PatternKind
	BoolValue() bool
	NumberValue() float64
	TextValue() string
	Tag() string
	Fields() map[string]Pattern
	Items() []Pattern
	BindName() string
}

type PatternKind int

const (
	PatternWildcard PatternKind = iota
	PatternBool
	PatternNumber
	PatternText
	PatternTagged
	PatternObject
	PatternList
	PatternBind
)

// MatchArm pairs a pattern with exactly one of a WHEN body (evaluated
// once per matching event) or a WHILE body (a sub-graph forwarded for as
// long as the pattern keeps matching).
type MatchArm interface {
	Node
	Pattern() Pattern
	IsWhile() bool
	Body() Expr
}

// MatchExpr is the WHEN/WHILE combinator: a source expression and an
// ordered list of arms, first-match-wins.
type MatchExpr interface {
	Expr
	Source() Expr
	Arms() []MatchArm
}

// ThenExpr is a trigger-transform: re-evaluates Body against the current
// snapshot of its free variables each time Trigger fires.
type ThenExpr interface {
	Expr
	Trigger() Expr
	Body() Expr
}

// HoldExpr is an accumulator: Initial seeds the cell, Label names it for
// the binding bound inside Body, Body is re-evaluated with Label bound to
// the current accumulated value each time Trigger fires.
type HoldExpr interface {
	Expr
	Initial() Expr
	Label() string
	Trigger() Expr
	Body() Expr
}

// LatestExpr is an event-merge combinator over Sources, deduplicated per
// source by idempotency key (the engine derives keys with
// LatestSource.KeyFn; EventPayload carries no key field).
type LatestExpr interface {
	Expr
	Sources() []Expr
}

// ListLit is a list literal: an ordered sequence of item expressions,
// each implicitly identity-keyed at construction time.
type ListLit interface {
	Expr
	Items() []Expr
}

// ListOpCall is a list operation invocation — filter/map/count/any/all/
// concat/subtract — naming the operation and its operand expressions.
type ListOpCall interface {
	Expr
	Op() string
	Args() []Expr
}

// LinkDecl declares an ingress trigger point programs can inject events
// into by name.
type LinkDecl interface {
	Node
	Name() string
}

// PersistenceAnnotation tags an expression's result for durable storage
// under a persistence id (§6.4).
type PersistenceAnnotation interface {
	Node
	Id() string
	Target() Expr
}
