package memory_test

import (
	"context"
	"testing"
	"time"

	"medprep-battle-service/internal/infra/memory"
)

func TestFeedPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	feed := memory.NewFeed()

	// Publishing with no subscribers is a no-op.
	if err := feed.Publish(ctx, "room-1"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	ch, cancel, err := feed.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	if err := feed.Publish(ctx, "room-1"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("expected a signal")
	}

	// Signals for other rooms never arrive.
	if err := feed.Publish(ctx, "room-2"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("received signal for another room")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedCoalescesBursts(t *testing.T) {
	ctx := context.Background()
	feed := memory.NewFeed()

	ch, cancel, err := feed.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := feed.Publish(ctx, "room-1"); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	<-ch
	select {
	case <-ch:
		t.Fatalf("expected the burst to coalesce into one signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedCancelClosesChannel(t *testing.T) {
	ctx := context.Background()
	feed := memory.NewFeed()

	ch, cancel, err := feed.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	// Publishing after cancel must not panic.
	if err := feed.Publish(ctx, "room-1"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}
