// Package extensions collects debug and observability Extensions that plug
// into an Arena via UseExtension: a graph-dependency dumper on evaluation
// failure, a tracer bridge to structured logs, periodic channel-metrics
// snapshots, and a general-purpose evaluate/commit logger.
package extensions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/m1gwings/treedrawer/tree"

	engine "github.com/reactive-dataflow/engine"
)

// GraphDebugExtension logs the scope/node tree when an evaluation fails,
// adapted from the teacher's GraphDebugExtension (extensions/graph_debug.go):
// the teacher walked a DI dependency graph keyed by Executor; this walks the
// arena's scope tree keyed by NodeId/ScopeId, since the reactive graph has
// no equivalent "dependency" edges to export, only scope ownership.
type GraphDebugExtension struct {
	engine.BaseExtension

	mu       sync.Mutex
	resolved map[engine.NodeId]bool
	failed   map[engine.NodeId]error

	logger *slog.Logger
}

func NewGraphDebugExtension(handler slog.Handler) *GraphDebugExtension {
	return &GraphDebugExtension{
		BaseExtension: engine.NewBaseExtension("graph-debug"),
		resolved:      make(map[engine.NodeId]bool),
		failed:        make(map[engine.NodeId]error),
		logger:        slog.New(handler),
	}
}

func (e *GraphDebugExtension) Order() int { return 10 }

func (e *GraphDebugExtension) Wrap(ctx context.Context, next func() (engine.Value, error), op *engine.Operation) (engine.Value, error) {
	result, err := next()

	e.mu.Lock()
	if err == nil {
		e.resolved[op.Node] = true
	} else {
		e.failed[op.Node] = err
	}
	e.mu.Unlock()

	return result, err
}

func (e *GraphDebugExtension) OnError(err error, op *engine.Operation, arena *engine.Arena) {
	graphOutput := e.formatScopeTree(arena, op.Node)
	e.logger.Error("node evaluation error",
		"node", op.Node.String(),
		"operation", string(op.Kind),
		"error", err.Error(),
		"graph", graphOutput,
	)
}

// formatScopeTree renders a single treedrawer node for the arena's root
// scope, names the node that failed, and lists every evaluation this
// extension has recorded (ok or error), sorted. Child scopes and the nodes
// they own are not walked or drawn. Grounded on the teacher's
// tryFormatHorizontalTree/buildTree pair.
func (e *GraphDebugExtension) formatScopeTree(arena *engine.Arena, failed engine.NodeId) string {
	root := tree.NewTree(tree.NodeString(fmt.Sprintf("scope %s", arena.RootScope())))
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(root.String())
	sb.WriteString(fmt.Sprintf("\nfailed node: %s\n", failed))

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.resolved)+len(e.failed) == 0 {
		sb.WriteString("(no evaluations recorded yet)\n")
		return sb.String()
	}

	var names []string
	for n := range e.resolved {
		names = append(names, n.String()+" ok")
	}
	for n, ferr := range e.failed {
		names = append(names, fmt.Sprintf("%s error: %v", n, ferr))
	}
	sort.Strings(names)
	for _, n := range names {
		sb.WriteString("  " + n + "\n")
	}
	return sb.String()
}

// SilentHandler discards all log output, used in tests that exercise the
// extension hooks without wanting console noise.
type SilentHandler struct{}

func NewSilentHandler() *SilentHandler { return &SilentHandler{} }

func (h *SilentHandler) Enabled(context.Context, slog.Level) bool { return false }
func (h *SilentHandler) Handle(context.Context, slog.Record) error { return nil }
func (h *SilentHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h *SilentHandler) WithGroup(string) slog.Handler             { return h }
