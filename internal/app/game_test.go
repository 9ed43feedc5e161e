package app_test

import (
	"context"
	"errors"
	"testing"

	"medprep-battle-service/internal/domain"
)

func TestSubmitAnswerScoresAndCompletes(t *testing.T) {
	ctx := context.Background()
	svc, clock, _ := newTestService(t)
	snap := createFullOneVsOne(t, svc, clock)
	roomID := snap.Room.ID
	startBattle(t, svc, clock, roomID, domain.BattleOneVsOne)

	sb, result, err := svc.SubmitAnswer(ctx, domain.Session{UserID: "u2", DisplayName: "Bob"}, roomID, domain.AnswerSubmission{QuestionID: "q1", OptionID: "o2"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !result.Correct || result.Awarded != 1 || result.TotalScore != 1 {
		t.Fatalf("unexpected answer result %+v", result)
	}
	if len(sb.Entries) != 2 {
		t.Fatalf("expected both players on the scoreboard, got %d", len(sb.Entries))
	}
	if sb.Entries[0].UserID != "u2" || sb.Entries[0].Score != 1 {
		t.Fatalf("expected Bob to lead with 1 point, got %+v", sb.Entries[0])
	}

	// Same question twice never scores twice.
	_, _, err = svc.SubmitAnswer(ctx, domain.Session{UserID: "u2", DisplayName: "Bob"}, roomID, domain.AnswerSubmission{QuestionID: "q1", OptionID: "o1"})
	if !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected already answered, got %v", err)
	}

	answers := []domain.AnswerSubmission{
		{QuestionID: "q2", OptionID: "o1"}, // u2 finishes
		{QuestionID: "q1", OptionID: "o1"}, // u1 wrong
		{QuestionID: "q2", OptionID: "o2"}, // u1 wrong, everyone done
	}
	users := []string{"u2", "u1", "u1"}
	for i, a := range answers {
		if _, _, err := svc.SubmitAnswer(ctx, domain.Session{UserID: users[i], DisplayName: users[i]}, roomID, a); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	fresh, err := svc.Snapshot(ctx, roomID)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if fresh.Room.Status != domain.StatusCompleted {
		t.Fatalf("expected battle completed once everyone answered, got %s", fresh.Room.Status)
	}
}

func TestSubmitAnswerGuards(t *testing.T) {
	ctx := context.Background()
	svc, clock, _ := newTestService(t)
	snap := createFullOneVsOne(t, svc, clock)
	roomID := snap.Room.ID

	_, _, err := svc.SubmitAnswer(ctx, domain.Session{UserID: "u1"}, roomID, domain.AnswerSubmission{QuestionID: "q1", OptionID: "o2"})
	if !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("expected not started, got %v", err)
	}

	startBattle(t, svc, clock, roomID, domain.BattleOneVsOne)

	_, _, err = svc.SubmitAnswer(ctx, domain.Session{UserID: "stranger"}, roomID, domain.AnswerSubmission{QuestionID: "q1", OptionID: "o2"})
	if !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected not participant, got %v", err)
	}
	_, _, err = svc.SubmitAnswer(ctx, domain.Session{UserID: "u1"}, roomID, domain.AnswerSubmission{QuestionID: "q9", OptionID: "o2"})
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	_, _, err = svc.SubmitAnswer(ctx, domain.Session{UserID: "u1"}, roomID, domain.AnswerSubmission{QuestionID: "q1", OptionID: "o9"})
	if !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected option not found, got %v", err)
	}
}

func TestQuestionsStripAnswers(t *testing.T) {
	ctx := context.Background()
	svc, clock, _ := newTestService(t)
	snap := createFullOneVsOne(t, svc, clock)

	questions, err := svc.Questions(ctx, snap.Room.ID)
	if err != nil {
		t.Fatalf("questions failed: %v", err)
	}
	if len(questions) != snap.Room.TotalQuestions {
		t.Fatalf("expected %d questions, got %d", snap.Room.TotalQuestions, len(questions))
	}
	for _, q := range questions {
		for _, o := range q.Options {
			if o.Correct {
				t.Fatalf("question %s leaked the correct flag", q.ID)
			}
		}
	}
}

func TestSubscribeScoreboardStreamsUpdates(t *testing.T) {
	ctx := context.Background()
	svc, clock, _ := newTestService(t)
	snap := createFullOneVsOne(t, svc, clock)
	roomID := snap.Room.ID
	startBattle(t, svc, clock, roomID, domain.BattleOneVsOne)

	ch, cancel, err := svc.SubscribeScoreboard(ctx, roomID)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer cancel()

	initial := <-ch
	if len(initial.Entries) != 2 {
		t.Fatalf("expected seeded scoreboard, got %+v", initial.Entries)
	}

	if _, _, err := svc.SubmitAnswer(ctx, domain.Session{UserID: "u1", DisplayName: "Alice"}, roomID, domain.AnswerSubmission{QuestionID: "q1", OptionID: "o2"}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	update := <-ch
	if update.Entries[0].UserID != "u1" || update.Entries[0].Score != 1 {
		t.Fatalf("expected Alice leading after update, got %+v", update.Entries)
	}
}
