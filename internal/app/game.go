package app

import (
	"context"

	"medprep-battle-service/internal/domain"
)

// SubmitAnswer scores one answer during an active battle and updates the
// room's scoreboard. When every present participant has exhausted the
// question set, the room transitions to completed.
func (s *BattleService) SubmitAnswer(ctx context.Context, sess domain.Session, roomID string, submission domain.AnswerSubmission) (domain.Scoreboard, domain.AnswerResult, error) {
	snap, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Scoreboard{}, domain.AnswerResult{}, err
	}
	switch snap.Room.Status {
	case domain.StatusWaiting:
		return domain.Scoreboard{}, domain.AnswerResult{}, domain.ErrNotStarted
	case domain.StatusCompleted:
		return domain.Scoreboard{}, domain.AnswerResult{}, domain.ErrAlreadyCompleted
	}
	if _, ok := snap.Participant(sess.UserID); !ok {
		return domain.Scoreboard{}, domain.AnswerResult{}, domain.ErrNotParticipant
	}

	set, err := s.questions.GetQuestionSet(ctx, snap.Room.Subject)
	if err != nil {
		return domain.Scoreboard{}, domain.AnswerResult{}, err
	}
	correct, points, err := scoreSubmission(set, submission)
	if err != nil {
		return domain.Scoreboard{}, domain.AnswerResult{}, err
	}

	session := s.scores.GetOrCreate(roomID)
	session.Seed(snap.Participants)
	sb, result, err := session.Apply(sess.UserID, sess.DisplayName, submission.QuestionID, correct, points, snap.Room.TotalQuestions)
	if err != nil {
		return domain.Scoreboard{}, domain.AnswerResult{}, err
	}

	present := make([]string, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		present = append(present, p.UserID)
	}
	if session.FinishedAll(present, snap.Room.TotalQuestions) {
		if _, err := s.CompleteBattle(ctx, roomID); err != nil {
			return sb, result, err
		}
	}
	return sb, result, nil
}

// Scoreboard returns the live (or final) standings for a room.
func (s *BattleService) Scoreboard(ctx context.Context, roomID string) (domain.Scoreboard, error) {
	snap, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Scoreboard{}, err
	}
	session := s.scores.GetOrCreate(roomID)
	session.Seed(snap.Participants)
	return session.Snapshot(snap.Room.TotalQuestions), nil
}

// SubscribeScoreboard streams scoreboard updates for an active battle.
func (s *BattleService) SubscribeScoreboard(ctx context.Context, roomID string) (<-chan domain.Scoreboard, func(), error) {
	snap, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	session := s.scores.GetOrCreate(roomID)
	session.Seed(snap.Participants)
	ch, cancel := session.Subscribe(snap.Room.TotalQuestions)
	return ch, cancel, nil
}

// Questions returns the room's question content with the answer flags
// stripped, in the shape clients render.
func (s *BattleService) Questions(ctx context.Context, roomID string) ([]domain.Question, error) {
	snap, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	set, err := s.questions.GetQuestionSet(ctx, snap.Room.Subject)
	if err != nil {
		return nil, err
	}
	n := snap.Room.TotalQuestions
	if n > len(set.Questions) {
		n = len(set.Questions)
	}
	questions := make([]domain.Question, n)
	for i := 0; i < n; i++ {
		q := set.Questions[i]
		opts := make([]domain.Option, len(q.Options))
		for j, o := range q.Options {
			opts[j] = domain.Option{ID: o.ID, Text: o.Text}
		}
		questions[i] = domain.Question{ID: q.ID, Prompt: q.Prompt, Options: opts, Points: q.Points}
	}
	return questions, nil
}

// scoreSubmission validates the answer against question content and returns
// (correct, points).
func scoreSubmission(set domain.QuestionSet, submission domain.AnswerSubmission) (bool, int, error) {
	var question *domain.Question
	for i := range set.Questions {
		if set.Questions[i].ID == submission.QuestionID {
			question = &set.Questions[i]
			break
		}
	}
	if question == nil {
		return false, 0, domain.ErrQuestionNotFound
	}

	var selected *domain.Option
	for i := range question.Options {
		if question.Options[i].ID == submission.OptionID {
			selected = &question.Options[i]
			break
		}
	}
	if selected == nil {
		return false, 0, domain.ErrOptionNotFound
	}

	points := question.Points
	if points == 0 {
		points = 1
	}
	if selected.Correct {
		return true, points, nil
	}
	return false, 0, nil
}
