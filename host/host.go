// Package host implements the §6.2 host I/O bridge: inject_event,
// register_timer, unregister_timer, plus a WebSocket ingress adapter for
// embeddings that receive events over the wire rather than from in-process
// UI callbacks.
package host

import (
	"log/slog"
	"time"

	engine "github.com/reactive-dataflow/engine"
)

// Host wires an Arena's scheduler, ingress queue, and link registry behind
// the three operations named in §6.2. It owns nothing about program
// construction: callers register links and timers as the graph is built,
// then drive it exclusively through this surface.
type Host struct {
	arena     *engine.Arena
	scheduler *engine.Scheduler
	ingress   *engine.Ingress
	links     *engine.LinkRegistry
	logger    *slog.Logger

	nextTimerId uint64
	timerLinks  map[engine.TimerId]engine.LinkId
}

// NewHost allocates a host over a fresh arena, ingress queue, and link
// registry, wiring a scheduler but not starting it (callers call Start once
// the initial graph is built).
func NewHost(ingressCapacity int, logger *slog.Logger) *Host {
	return NewHostWithConfig(ingressCapacity, logger, engine.DefaultConfig(), nil)
}

// NewHostWithConfig allocates a host governed by cfg (§6.6) and, if backend
// is non-nil, wires the §4.11 persistence bridge so nodes created with
// engine.NewPersistentConstant/NewPersistentHold load and save through it.
func NewHostWithConfig(ingressCapacity int, logger *slog.Logger, cfg *engine.Config, backend engine.Backend) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	arena := engine.NewArenaWithConfig(cfg)
	arena.SetLogger(logger)
	if backend != nil {
		arena.SetBackend(backend)
	}
	ingress := engine.NewIngress(ingressCapacity)
	links := engine.NewLinkRegistry()
	sched := engine.NewScheduler(arena, ingress, links, logger)

	h := &Host{arena: arena, scheduler: sched, ingress: ingress, links: links, logger: logger,
		timerLinks: make(map[engine.TimerId]engine.LinkId)}
	sched.OnTimer(h.dispatchTimer)
	return h
}

// Checkpoint forces every staged persistence write to the backend,
// regardless of the configured PersistenceFlushPolicy (§4.11).
func (h *Host) Checkpoint() { h.arena.Checkpoint() }

// dispatchTimer is the scheduler's single OnTimer callback, routing a fired
// timer to the link registered for it at RegisterTimer time. One shared
// callback (rather than one per RegisterTimer call) so registering a second
// timer never displaces the first's delivery.
func (h *Host) dispatchTimer(firedID engine.TimerId, tick uint64) error {
	link, ok := h.timerLinks[firedID]
	if !ok {
		return nil
	}
	return h.InjectEvent(link, engine.NumberPayload(float64(tick)))
}

func (h *Host) Arena() *engine.Arena         { return h.arena }
func (h *Host) Scheduler() *engine.Scheduler { return h.scheduler }
func (h *Host) Links() *engine.LinkRegistry  { return h.links }

// RegisterLink binds link to the endpoint node created for it, so inbound
// events addressed to link route there.
func (h *Host) RegisterLink(link engine.LinkId, endpoint engine.NodeId) {
	h.links.Register(link, endpoint)
}

// InjectEvent is the §6.2 inject_event operation.
func (h *Host) InjectEvent(link engine.LinkId, payload engine.EventPayload) error {
	if err := h.ingress.InjectEvent(link, payload); err != nil {
		return err
	}
	h.scheduler.Wake()
	return nil
}

// RegisterTimer is the §6.2 register_timer operation: it allocates a
// TimerId, creates a link endpoint node to receive firings, and schedules
// it on the scheduler's priority queue.
func (h *Host) RegisterTimer(scope engine.ScopeId, interval time.Duration) (engine.TimerId, engine.NodeId, error) {
	h.nextTimerId++
	id := engine.TimerId(h.nextTimerId)

	link := engine.NewDynamicLinkId("__timer")
	nodeId, _, err := engine.NewLinkEndpoint(h.arena, scope, link)
	if err != nil {
		return 0, engine.NodeId{}, err
	}
	h.links.Register(link, nodeId)
	h.timerLinks[id] = link
	h.scheduler.RegisterTimer(id, interval, nodeId)

	return id, nodeId, nil
}

// UnregisterTimer is the §6.2 unregister_timer operation.
func (h *Host) UnregisterTimer(id engine.TimerId) {
	h.scheduler.UnregisterTimer(id)
	delete(h.timerLinks, id)
}

// Start begins the scheduler's tick loop.
func (h *Host) Start() { h.scheduler.Start() }

// Stop halts the scheduler's tick loop.
func (h *Host) Stop() { h.scheduler.Stop() }
