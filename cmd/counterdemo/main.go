// Command counterdemo wires the seed Counter scenario end to end:
//
//	count = 0 |> HOLD s { press |> THEN { s + 1 } }
//
// using the host package's §6.2 surface. Injecting "press" three times
// should move count through versions 0->1->2->3 with values 0, 1, 2, 3.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	engine "github.com/reactive-dataflow/engine"
	"github.com/reactive-dataflow/engine/host"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	h := host.NewHost(64, logger)
	arena := h.Arena()
	scope := arena.RootScope()

	press, err := engine.NewStaticLinkId("press")
	if err != nil {
		fatal(err)
	}
	pressNode, _, err := engine.NewLinkEndpoint(arena, scope, press)
	if err != nil {
		fatal(err)
	}
	h.RegisterLink(press, pressNode)

	countNode, count, err := engine.NewHold(arena, scope, "count", pressNode, engine.Number(0),
		func(ctx *engine.EvalCtx, event engine.Value, prev engine.Value) (engine.Value, error) {
			return engine.Number(prev.AsNumber() + 1), nil
		})
	if err != nil {
		fatal(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := count.Run(runCtx); err != nil && err != context.Canceled {
			logger.Error("hold run loop exited", "error", err)
		}
	}()

	sub, err := engine.NewSubscription(arena, countNode)
	if err != nil {
		fatal(err)
	}
	defer sub.Close()

	h.Start()
	defer h.Stop()

	go func() {
		for {
			upd, err := sub.Next(runCtx)
			if err != nil {
				return
			}
			if upd.Kind == engine.Snapshot {
				fmt.Printf("count -> %v (version %d)\n", upd.Value.AsNumber(), count.CurrentVersion())
			}
		}
	}()

	for i := 0; i < 3; i++ {
		if err := h.InjectEvent(press, engine.UnitPayload()); err != nil {
			fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
