package app_test

import (
	"testing"
	"time"

	"medprep-battle-service/internal/app"
	"medprep-battle-service/internal/domain"
)

func seedParticipants(users ...string) []domain.Participant {
	ps := make([]domain.Participant, len(users))
	for i, u := range users {
		ps[i] = domain.Participant{ID: "p-" + u, UserID: u, DisplayName: u}
	}
	return ps
}

func TestScoreSessionOrdering(t *testing.T) {
	clock := newTestClock()
	book := app.NewScoreBook(clock.Now)
	session := book.GetOrCreate("room-1")
	session.Seed(seedParticipants("ann", "bea", "cal"))

	// ann scores first, bea reaches the same score later.
	if _, _, err := session.Apply("ann", "ann", "q1", true, 1, 2); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	clock.Advance(time.Second)
	if _, _, err := session.Apply("bea", "bea", "q1", true, 1, 2); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	clock.Advance(time.Second)
	sb, _, err := session.Apply("cal", "cal", "q1", true, 2, 2)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	got := make([]string, len(sb.Entries))
	for i, e := range sb.Entries {
		got[i] = e.UserID
	}
	// Highest score first, ties broken by who got there earlier.
	want := []string{"cal", "ann", "bea"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestScoreSessionAnswersOnce(t *testing.T) {
	clock := newTestClock()
	session := app.NewScoreBook(clock.Now).GetOrCreate("room-1")

	if _, _, err := session.Apply("ann", "ann", "q1", false, 1, 2); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, _, err := session.Apply("ann", "ann", "q1", true, 1, 2); err != domain.ErrAlreadyAnswered {
		t.Fatalf("expected already answered, got %v", err)
	}

	sb := session.Snapshot(2)
	if sb.Entries[0].Score != 0 || sb.Entries[0].Answered != 1 {
		t.Fatalf("expected one wrong answer recorded, got %+v", sb.Entries[0])
	}
}

func TestScoreSessionFinishedAll(t *testing.T) {
	clock := newTestClock()
	session := app.NewScoreBook(clock.Now).GetOrCreate("room-1")
	session.Seed(seedParticipants("ann", "bea"))

	ids := []string{"ann", "bea"}
	if session.FinishedAll(ids, 1) {
		t.Fatalf("expected unfinished before any answers")
	}
	session.Apply("ann", "ann", "q1", true, 1, 1)
	if session.FinishedAll(ids, 1) {
		t.Fatalf("expected unfinished while bea has not answered")
	}
	session.Apply("bea", "bea", "q1", false, 1, 1)
	if !session.FinishedAll(ids, 1) {
		t.Fatalf("expected finished once everyone answered")
	}
	if session.FinishedAll(nil, 1) {
		t.Fatalf("an empty roster is never finished")
	}
}

func TestScoreBookDeleteClosesSubscribers(t *testing.T) {
	clock := newTestClock()
	book := app.NewScoreBook(clock.Now)
	session := book.GetOrCreate("room-1")

	ch, cancel := session.Subscribe(1)
	defer cancel()
	<-ch // initial snapshot

	book.Delete("room-1")
	if _, ok := <-ch; ok {
		t.Fatalf("expected subscriber channel closed on delete")
	}
	if _, ok := book.Get("room-1"); ok {
		t.Fatalf("expected session removed")
	}
}
