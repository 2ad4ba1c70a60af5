package extensions

import (
	"log/slog"

	engine "github.com/reactive-dataflow/engine"
)

// TracingExtension bridges the arena's Tracer (§6.5) into structured logs:
// every emitted TraceEvent becomes one slog record. It runs as a background
// goroutine reading the tracer's subscription channel, started by Init and
// stopped by Dispose, mirroring the teacher's pattern of giving an Extension
// its own lifecycle tied to Init/Dispose rather than the call stack that
// installed it.
type TracingExtension struct {
	engine.BaseExtension
	logger *slog.Logger
	stop   chan struct{}
}

func NewTracingExtension(logger *slog.Logger) *TracingExtension {
	if logger == nil {
		logger = slog.Default()
	}
	return &TracingExtension{
		BaseExtension: engine.NewBaseExtension("tracing"),
		logger:        logger,
		stop:          make(chan struct{}),
	}
}

func (e *TracingExtension) Order() int { return 50 }

func (e *TracingExtension) Init(arena *engine.Arena) error {
	ch := arena.Tracer().Subscribe(64)
	go e.run(ch)
	return nil
}

func (e *TracingExtension) run(ch chan engine.TraceEvent) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			e.logger.Debug(ev.Kind.String(),
				"node", ev.Node.String(),
				"scope", ev.Scope.String(),
				"version", ev.Version,
			)
		case <-e.stop:
			return
		}
	}
}

func (e *TracingExtension) Dispose(arena *engine.Arena) error {
	close(e.stop)
	return nil
}
