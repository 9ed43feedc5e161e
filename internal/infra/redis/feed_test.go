package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestFeedPublishReachesSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	feed := NewFeed(newClient(mr))
	ctx := context.Background()

	signals, cancel, err := feed.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	if err := feed.Publish(ctx, "room-1"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case <-signals:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a change signal")
	}

	// Other rooms stay silent on this subscription.
	if err := feed.Publish(ctx, "room-2"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case <-signals:
		t.Fatalf("received signal for another room")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeedCancelStopsSignals(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	feed := NewFeed(newClient(mr))
	ctx := context.Background()

	signals, cancel, err := feed.Subscribe(ctx, "room-1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	cancel()
	cancel() // idempotent

	select {
	case _, ok := <-signals:
		if ok {
			t.Fatalf("expected closed signal channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}
