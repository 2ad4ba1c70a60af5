package engine

import (
	"context"
	"testing"
)

func TestChannel_TryOrFailReturnsErrQueueFull(t *testing.T) {
	ch := NewChannel[int]("test", 1, TryOrFail)
	if err := ch.Send(context.Background(), 1); err != nil {
		t.Fatalf("first send: %v", err)
	}
	err := ch.Send(context.Background(), 2)
	if err == nil {
		t.Fatalf("expected ErrQueueFull on a full TryOrFail channel")
	}
	cerr, ok := err.(*ChannelError)
	if !ok || cerr.Cause != ErrQueueFull {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
	if ch.Counters().Full != 1 {
		t.Fatalf("expected Full counter to be 1, got %d", ch.Counters().Full)
	}
}

func TestChannel_TryOrDropCountsAndDoesNotError(t *testing.T) {
	ch := NewChannel[int]("test", 1, TryOrDrop)
	if err := ch.Send(context.Background(), 1); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := ch.Send(context.Background(), 2); err != nil {
		t.Fatalf("expected TryOrDrop send to never return an error, got %v", err)
	}
	if ch.Counters().Dropped != 1 {
		t.Fatalf("expected Dropped counter to be 1, got %d", ch.Counters().Dropped)
	}
}

func TestChannel_AwaitToDeliverBlocksUntilSpace(t *testing.T) {
	ch := NewChannel[int]("test", 1, AwaitToDeliver)
	if err := ch.Send(context.Background(), 1); err != nil {
		t.Fatalf("first send: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- ch.Send(context.Background(), 2)
	}()

	v, err := ch.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if v != 1 {
		t.Fatalf("got %d want 1", v)
	}

	if err := <-done; err != nil {
		t.Fatalf("blocked send: %v", err)
	}
}

func TestChannel_AwaitToDeliverRespectsCancellation(t *testing.T) {
	ch := NewChannel[int]("test", 1, AwaitToDeliver)
	if err := ch.Send(context.Background(), 1); err != nil {
		t.Fatalf("first send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ch.Send(ctx, 2); err != ctx.Err() {
		t.Fatalf("got %v want context.Canceled", err)
	}
}

func TestChannel_CloseRejectsSendAndDrainsReceive(t *testing.T) {
	ch := NewChannel[int]("test", 1, TryOrFail)
	ch.Close()

	if err := ch.Send(context.Background(), 1); err == nil {
		t.Fatalf("expected Send on a closed channel to fail")
	}
	if _, err := ch.Receive(context.Background()); err == nil {
		t.Fatalf("expected Receive on a closed, drained channel to fail")
	}

	// Close is idempotent.
	ch.Close()
}

func TestChannel_TryReceiveNonBlocking(t *testing.T) {
	ch := NewChannel[int]("test", 2, TryOrFail)
	if _, ok := ch.TryReceive(); ok {
		t.Fatalf("expected TryReceive on an empty channel to report false")
	}
	ch.Send(context.Background(), 5)
	v, ok := ch.TryReceive()
	if !ok || v != 5 {
		t.Fatalf("got (%d, %v) want (5, true)", v, ok)
	}
}
