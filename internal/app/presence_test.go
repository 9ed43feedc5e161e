package app_test

import (
	"testing"
	"time"

	"medprep-battle-service/internal/app"
	"medprep-battle-service/internal/domain"
)

func snapWith(host string, status domain.RoomStatus, users ...string) domain.RoomSnapshot {
	base := time.Date(2025, 8, 22, 10, 0, 0, 0, time.UTC)
	ps := make([]domain.Participant, len(users))
	for i, u := range users {
		ps[i] = domain.Participant{
			ID:          "p-" + u,
			RoomID:      "room-1",
			UserID:      u,
			DisplayName: u,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
	}
	return domain.RoomSnapshot{
		Room:         domain.Room{ID: "room-1", HostID: host, Status: status},
		Participants: ps,
	}
}

func kinds(notices []domain.Notice) []domain.NoticeKind {
	out := make([]domain.NoticeKind, len(notices))
	for i, n := range notices {
		out[i] = n.Kind
	}
	return out
}

func TestBridgeDiffsPresence(t *testing.T) {
	clock := newTestClock()
	b := app.NewBridge("u1", clock.Now)

	// First observation only seeds; the client renders the roster directly.
	if notices := b.Observe(snapWith("u1", domain.StatusWaiting, "u1")); len(notices) != 0 {
		t.Fatalf("expected no notices on first observe, got %+v", notices)
	}

	notices := b.Observe(snapWith("u1", domain.StatusWaiting, "u1", "u2"))
	if len(notices) != 1 || notices[0].Kind != domain.NoticeJoined || notices[0].UserID != "u2" {
		t.Fatalf("expected u2 joined notice, got %+v", notices)
	}

	// Unchanged snapshot emits nothing.
	if notices := b.Observe(snapWith("u1", domain.StatusWaiting, "u1", "u2")); len(notices) != 0 {
		t.Fatalf("expected no notices for unchanged snapshot, got %+v", notices)
	}

	notices = b.Observe(snapWith("u1", domain.StatusWaiting, "u1"))
	if len(notices) != 1 || notices[0].Kind != domain.NoticeLeft || notices[0].UserID != "u2" {
		t.Fatalf("expected u2 left notice, got %+v", notices)
	}
}

func TestBridgeKickedVersusLeft(t *testing.T) {
	clock := newTestClock()

	kicked := app.NewBridge("u2", clock.Now)
	kicked.Observe(snapWith("u1", domain.StatusWaiting, "u1", "u2"))
	notices := kicked.Observe(snapWith("u1", domain.StatusWaiting, "u1"))
	if len(notices) != 1 || notices[0].Kind != domain.NoticeKicked {
		t.Fatalf("expected kicked notice, got %+v", notices)
	}
	if !kicked.Kicked() {
		t.Fatalf("expected Kicked() after external removal")
	}

	leaver := app.NewBridge("u2", clock.Now)
	leaver.Observe(snapWith("u1", domain.StatusWaiting, "u1", "u2"))
	leaver.MarkLocalLeave()
	notices = leaver.Observe(snapWith("u1", domain.StatusWaiting, "u1"))
	if len(notices) != 0 {
		t.Fatalf("expected no notice for local leave, got %+v", notices)
	}
	if leaver.Kicked() {
		t.Fatalf("local leave must not read as a kick")
	}
}

func TestBridgeHostAndStatusChanges(t *testing.T) {
	clock := newTestClock()
	b := app.NewBridge("u2", clock.Now)
	b.Observe(snapWith("u1", domain.StatusWaiting, "u1", "u2"))

	notices := b.Observe(snapWith("u2", domain.StatusWaiting, "u2"))
	got := kinds(notices)
	if len(got) != 2 || got[0] != domain.NoticeLeft || got[1] != domain.NoticeHostChanged {
		t.Fatalf("expected left then host change, got %+v", notices)
	}

	notices = b.Observe(snapWith("u2", domain.StatusInProgress, "u2", "u3"))
	got = kinds(notices)
	if len(got) != 2 || got[0] != domain.NoticeJoined || got[1] != domain.NoticeBattleStarted {
		t.Fatalf("expected joined then battle started, got %+v", notices)
	}

	notices = b.Observe(snapWith("u2", domain.StatusCompleted, "u2", "u3"))
	if len(notices) != 1 || notices[0].Kind != domain.NoticeBattleCompleted {
		t.Fatalf("expected battle completed, got %+v", notices)
	}
}

func TestBridgePingDedupe(t *testing.T) {
	clock := newTestClock()
	host := app.NewBridge("u1", clock.Now)
	guest := app.NewBridge("u2", clock.Now)

	snap := snapWith("u1", domain.StatusWaiting, "u1", "u2")
	snap.Room.Ping = domain.Ping{At: clock.Now(), SenderID: "u2", SenderName: "u2"}

	notices := host.Observe(snap)
	if len(notices) != 1 || notices[0].Kind != domain.NoticePing || notices[0].UserID != "u2" {
		t.Fatalf("expected ping notice for host, got %+v", notices)
	}
	// The same stored ping must not fire again on the next snapshot.
	if notices := host.Observe(snap); len(notices) != 0 {
		t.Fatalf("expected deduped ping, got %+v", notices)
	}

	// A fresh ping (new timestamp) fires again.
	later := snap
	later.Room.Ping = domain.Ping{At: clock.Now().Add(time.Second), SenderID: "u2", SenderName: "u2"}
	if notices := host.Observe(later); len(notices) != 1 || notices[0].Kind != domain.NoticePing {
		t.Fatalf("expected second ping notice, got %+v", notices)
	}

	// Non-hosts never see pings.
	if notices := guest.Observe(snap); len(notices) != 0 {
		t.Fatalf("expected no ping for non-host, got %+v", notices)
	}
}
