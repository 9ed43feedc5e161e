package app_test

import (
	"context"
	"testing"
	"time"

	"medprep-battle-service/internal/app"
	"medprep-battle-service/internal/domain"
)

func TestReaperClosesAbandonedRooms(t *testing.T) {
	ctx := context.Background()
	svc, clock, _ := newTestService(t)

	abandoned, err := svc.CreateRoom(ctx, domain.Session{UserID: "u1", DisplayName: "Alice"}, testSettings(domain.BattleOneVsOne))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := svc.Leave(ctx, domain.Session{UserID: "u1"}, abandoned.Room.ID); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	occupied, err := svc.CreateRoom(ctx, domain.Session{UserID: "u2", DisplayName: "Bob"}, testSettings(domain.BattleOneVsOne))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	reaper := app.NewReaper(svc, time.Minute, 2*time.Minute)

	// Inside the grace period nothing is touched.
	if closed := reaper.Sweep(ctx); closed != 0 {
		t.Fatalf("expected no rooms closed before grace, got %d", closed)
	}

	clock.Advance(2 * time.Minute)
	if closed := reaper.Sweep(ctx); closed != 1 {
		t.Fatalf("expected one room closed, got %d", closed)
	}

	gone, err := svc.Snapshot(ctx, abandoned.Room.ID)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if gone.Room.Status != domain.StatusCompleted {
		t.Fatalf("expected abandoned room completed, got %s", gone.Room.Status)
	}

	alive, err := svc.Snapshot(ctx, occupied.Room.ID)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if alive.Room.Status != domain.StatusWaiting {
		t.Fatalf("expected occupied room untouched, got %s", alive.Room.Status)
	}

	// Second sweep finds nothing left to do.
	if closed := reaper.Sweep(ctx); closed != 0 {
		t.Fatalf("expected idempotent sweep, got %d", closed)
	}
}
