package domain

import "time"

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Points  int      `json:"points"` // defaults to 1 if zero
}

// QuestionSet is the pool of questions for one subject; rooms draw their
// battle questions from the set matching their subject tag.
type QuestionSet struct {
	Subject   string     `json:"subject"`
	Questions []Question `json:"questions"`
}

// AnswerSubmission models a participant's answer during an active battle.
type AnswerSubmission struct {
	QuestionID string
	OptionID   string
}

// AnswerResult summarizes the outcome of a submission for a single user.
type AnswerResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	Awarded    int    `json:"awarded"`
	TotalScore int    `json:"totalScore"`
}

// ScoreboardEntry is a snapshot-friendly view of one participant's progress.
type ScoreboardEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	Answered    int    `json:"answered"`
	Finished    bool   `json:"finished"`
}

// Scoreboard captures the ordered standings for an active battle.
type Scoreboard struct {
	RoomID    string            `json:"roomId"`
	Entries   []ScoreboardEntry `json:"entries"`
	UpdatedAt time.Time         `json:"updatedAt"`
}
