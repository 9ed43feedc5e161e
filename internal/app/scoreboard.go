package app

import (
	"sort"
	"sync"
	"time"

	"medprep-battle-service/internal/domain"
)

// ScoreBook tracks the in-memory score session for each active battle.
type ScoreBook struct {
	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]*ScoreSession
}

func NewScoreBook(now func() time.Time) *ScoreBook {
	return &ScoreBook{now: now, sessions: make(map[string]*ScoreSession)}
}

func (b *ScoreBook) GetOrCreate(roomID string) *ScoreSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[roomID]; ok {
		return s
	}
	s := newScoreSession(roomID, b.now)
	b.sessions[roomID] = s
	return s
}

func (b *ScoreBook) Get(roomID string) (*ScoreSession, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[roomID]
	return s, ok
}

func (b *ScoreBook) Delete(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[roomID]; ok {
		s.closeSubscribers()
		delete(b.sessions, roomID)
	}
}

type scoreEntry struct {
	userID      string
	displayName string
	score       int
	answered    map[string]bool
	lastUpdated time.Time
}

// ScoreSession is the live scoreboard of one battle.
type ScoreSession struct {
	roomID string
	now    func() time.Time

	mu          sync.RWMutex
	entries     map[string]*scoreEntry
	subscribers map[chan domain.Scoreboard]struct{}
}

func newScoreSession(roomID string, now func() time.Time) *ScoreSession {
	return &ScoreSession{
		roomID:      roomID,
		now:         now,
		entries:     make(map[string]*scoreEntry),
		subscribers: make(map[chan domain.Scoreboard]struct{}),
	}
}

// Seed registers every present participant so the scoreboard shows zero
// scores from the first update.
func (s *ScoreSession) Seed(participants []domain.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, p := range participants {
		if _, ok := s.entries[p.UserID]; !ok {
			s.entries[p.UserID] = &scoreEntry{
				userID:      p.UserID,
				displayName: p.DisplayName,
				answered:    make(map[string]bool),
				lastUpdated: now,
			}
		}
	}
}

// Apply records one answer. Each question counts once per participant.
func (s *ScoreSession) Apply(userID, displayName, questionID string, correct bool, points, totalQuestions int) (domain.Scoreboard, domain.AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[userID]
	if !ok {
		entry = &scoreEntry{userID: userID, displayName: displayName, answered: make(map[string]bool)}
		s.entries[userID] = entry
	}
	if entry.answered[questionID] {
		return domain.Scoreboard{}, domain.AnswerResult{}, domain.ErrAlreadyAnswered
	}
	entry.answered[questionID] = true
	awarded := 0
	if correct {
		awarded = points
		if awarded == 0 {
			awarded = 1
		}
		entry.score += awarded
	}
	entry.lastUpdated = now

	result := domain.AnswerResult{
		QuestionID: questionID,
		Correct:    correct,
		Awarded:    awarded,
		TotalScore: entry.score,
	}
	return s.broadcastLocked(totalQuestions), result, nil
}

// FinishedAll reports whether every listed user has answered the full set.
func (s *ScoreSession) FinishedAll(userIDs []string, totalQuestions int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(userIDs) == 0 {
		return false
	}
	for _, id := range userIDs {
		entry, ok := s.entries[id]
		if !ok || len(entry.answered) < totalQuestions {
			return false
		}
	}
	return true
}

// Subscribe returns a channel receiving scoreboard updates. The caller must
// invoke cancel to avoid leaks.
func (s *ScoreSession) Subscribe(totalQuestions int) (<-chan domain.Scoreboard, func()) {
	ch := make(chan domain.Scoreboard, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := s.snapshotLocked(totalQuestions)
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Snapshot returns the current standings.
func (s *ScoreSession) Snapshot(totalQuestions int) domain.Scoreboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(totalQuestions)
}

func (s *ScoreSession) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, ch)
	}
}

func (s *ScoreSession) broadcastLocked(totalQuestions int) domain.Scoreboard {
	sb := s.snapshotLocked(totalQuestions)
	for ch := range s.subscribers {
		select {
		case ch <- sb:
		default:
			// Drop the stale update so a slow client never blocks broadcast.
			select {
			case <-ch:
			default:
			}
			ch <- sb
		}
	}
	return sb
}

func (s *ScoreSession) snapshotLocked(totalQuestions int) domain.Scoreboard {
	entries := make([]domain.ScoreboardEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, domain.ScoreboardEntry{
			UserID:      e.userID,
			DisplayName: e.displayName,
			Score:       e.score,
			Answered:    len(e.answered),
			Finished:    len(e.answered) >= totalQuestions,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		// Tie-break by who reached the score earlier, then name.
		ei := s.entries[entries[i].UserID]
		ej := s.entries[entries[j].UserID]
		if ei != nil && ej != nil && !ei.lastUpdated.Equal(ej.lastUpdated) {
			return ei.lastUpdated.Before(ej.lastUpdated)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	return domain.Scoreboard{
		RoomID:    s.roomID,
		Entries:   entries,
		UpdatedAt: s.now(),
	}
}
