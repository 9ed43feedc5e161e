package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a short code does not resolve to a
	// joinable room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull is returned when the room is already at capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrAlreadyInProgress is returned for waiting-only actions after the
	// battle started.
	ErrAlreadyInProgress = errors.New("battle already in progress")
	// ErrAlreadyCompleted is returned for actions against a finished room.
	ErrAlreadyCompleted = errors.New("battle already completed")
	// ErrForbidden is returned for host-only actions by non-hosts, and for
	// self-kick (leave is the path for self-removal).
	ErrForbidden = errors.New("not allowed")
	// ErrNotParticipant is returned when a user acts in a room they never
	// joined.
	ErrNotParticipant = errors.New("not a participant of this room")
	// ErrNotEnoughPlayers rejects a manual start with fewer than two players.
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	// ErrInvalidSettings indicates unusable room creation settings.
	ErrInvalidSettings = errors.New("invalid room settings")
	// ErrShortCodeTaken signals a code collision on room creation; the caller
	// regenerates and retries.
	ErrShortCodeTaken = errors.New("short code already in use")
	// ErrNotStarted is returned for in-battle actions while the room is still
	// waiting.
	ErrNotStarted = errors.New("battle not started")
	// ErrAlreadyAnswered rejects a second submission for the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrQuestionSetNotFound indicates no question content for the subject.
	ErrQuestionSetNotFound = errors.New("question set not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
)
