// Package engine is the runtime core of a reactive dataflow language: a
// push/pull hybrid computation graph that reacts to external stimuli
// (input events, timers) and emits observable output deltas for a
// rendering layer.
//
// # Overview
//
// The graph is organized around four layers:
//
//  1. An Arena owns every Node and Scope by generational index. Scopes
//     form a tree; destroying a scope cascades to its children and then
//     to every node it owns.
//  2. Every Node exposes the same protocol: CurrentValue, CurrentVersion,
//     and GetUpdateSince; NewSubscription attaches a subscriber to any
//     node. Subscribers pull values; nodes never push them directly.
//  3. Combinators (HOLD, LATEST, WHEN/WHILE, THEN) are Node
//     implementations layered on the protocol.
//  4. The list pipeline is a parallel track of identity-keyed structural
//     diffs (ListDiff) rather than whole-value snapshots, so transform
//     chains cost O(k) per source diff instead of O(k*n).
//
// # Basic usage
//
//	arena := engine.NewArena()
//	root := arena.RootScope()
//
//	count, _ := engine.NewConstant(arena, root, engine.Number(0))
//	sub, _ := engine.NewSubscription(arena, count)
//
//	_, hold, _ := engine.NewHold(arena, root, "count", count, engine.Number(0),
//	    func(ctx *engine.EvalCtx, ev engine.Value, prev engine.Value) (engine.Value, error) {
//	        return engine.Number(prev.AsNumber() + 1), nil
//	    })
//
// # Scheduling
//
// A Scheduler drives one cooperative tick at a time: drain ingress,
// pre-instantiate, propagate, commit, yield. See scheduler.go.
//
// # Scope of this package
//
// The surface-syntax parser, the render/DOM bridge, persistence
// backends, and UI widget libraries are external collaborators reached
// only through the interfaces in astiface, host, and persist.
package engine
