package extensions

import (
	"context"
	"log/slog"

	engine "github.com/reactive-dataflow/engine"
)

// LoggingExtension logs every evaluate/commit operation at Debug level and
// every failure at Error level, structured through log/slog. The teacher's
// own extensions favor slog over fmt.Printf (extensions/graph_debug.go);
// this gives the engine the same baseline observability without requiring
// GraphDebugExtension's tree rendering for the common case.
type LoggingExtension struct {
	engine.BaseExtension
	logger *slog.Logger
}

func NewLoggingExtension(logger *slog.Logger) *LoggingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExtension{BaseExtension: engine.NewBaseExtension("logging"), logger: logger}
}

func (e *LoggingExtension) Order() int { return 200 }

func (e *LoggingExtension) Wrap(ctx context.Context, next func() (engine.Value, error), op *engine.Operation) (engine.Value, error) {
	v, err := next()
	if err != nil {
		return v, err
	}
	e.logger.Debug("operation completed", "node", op.Node.String(), "op", string(op.Kind), "value", v.String())
	return v, err
}

func (e *LoggingExtension) OnError(err error, op *engine.Operation, arena *engine.Arena) {
	e.logger.Error("operation failed", "node", op.Node.String(), "op", string(op.Kind), "error", err.Error())
}

func (e *LoggingExtension) OnCleanupError(err *engine.CleanupError) bool {
	e.logger.Warn("cleanup failed", "node", err.Node.String(), "context", err.Context, "error", err.Err.Error())
	return true
}
