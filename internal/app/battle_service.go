package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"medprep-battle-service/internal/domain"

	"github.com/google/uuid"
)

// RoomRepository abstracts the shared room store (in-memory, Postgres, etc).
// It is the only coordination primitive between clients: every at-most-once
// transition is a conditional update against current stored state.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room domain.Room, host domain.Participant) error
	GetRoom(ctx context.Context, roomID string) (domain.RoomSnapshot, error)
	// GetWaitingRoomByCode resolves a normalized short code to a room still in
	// the waiting state; domain.ErrRoomNotFound otherwise.
	GetWaitingRoomByCode(ctx context.Context, code string) (domain.RoomSnapshot, error)
	// AddParticipant inserts p only while the room is waiting and below
	// capacity. inserted=false with a nil error means the guard rejected the
	// insert (already present, full, or no longer waiting); the caller
	// classifies from a fresh snapshot.
	AddParticipant(ctx context.Context, roomID string, p domain.Participant) (inserted bool, err error)
	RemoveParticipant(ctx context.Context, roomID, userID string) (removed bool, err error)
	// UpdateRoomIf applies mutate to the room only if pred still holds against
	// the current snapshot. A false return with nil error is a no-op, not a
	// failure: some other client already won the race.
	UpdateRoomIf(ctx context.Context, roomID string, pred func(domain.RoomSnapshot) bool, mutate func(*domain.Room)) (applied bool, err error)
	// ListOpenRooms returns every room not yet completed (reaper input).
	ListOpenRooms(ctx context.Context) ([]domain.RoomSnapshot, error)
}

// ChangeFeed delivers coarse "something in this room changed" signals.
// Delivery is at-least-once and may be reordered; consumers re-fetch full
// state rather than trusting deltas.
type ChangeFeed interface {
	Publish(ctx context.Context, roomID string) error
	Subscribe(ctx context.Context, roomID string) (<-chan struct{}, func(), error)
}

// QuestionRepository loads question content by subject (from cache/backing store).
type QuestionRepository interface {
	GetQuestionSet(ctx context.Context, subject string) (domain.QuestionSet, error)
}

const createCodeAttempts = 5

// BattleService contains the battle room use cases: room lifecycle,
// membership, countdown arming/firing, and in-battle scoring.
type BattleService struct {
	rooms     RoomRepository
	feed      ChangeFeed
	questions QuestionRepository
	scores    *ScoreBook
	clock     func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewBattleService(rooms RoomRepository, feed ChangeFeed, questions QuestionRepository) *BattleService {
	return NewBattleServiceWithClock(rooms, feed, questions, time.Now)
}

// NewBattleServiceWithClock allows deterministic timestamps in tests.
func NewBattleServiceWithClock(rooms RoomRepository, feed ChangeFeed, questions QuestionRepository, now func() time.Time) *BattleService {
	return &BattleService{
		rooms:     rooms,
		feed:      feed,
		questions: questions,
		scores:    NewScoreBook(now),
		clock:     now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CreateRoom creates a waiting room with the creator as sole participant and
// host. The short code is generated once and stays stable for the room's life.
func (s *BattleService) CreateRoom(ctx context.Context, sess domain.Session, settings domain.RoomSettings) (domain.RoomSnapshot, error) {
	if !settings.BattleType.Valid() || settings.TotalQuestions <= 0 || settings.TimePerQuestion <= 0 || settings.Subject == "" {
		return domain.RoomSnapshot{}, domain.ErrInvalidSettings
	}
	// Users cannot open rooms for subjects with no question content.
	if _, err := s.questions.GetQuestionSet(ctx, settings.Subject); err != nil {
		return domain.RoomSnapshot{}, err
	}

	now := s.clock()
	var lastErr error
	for attempt := 0; attempt < createCodeAttempts; attempt++ {
		room := domain.Room{
			ID:              uuid.NewString(),
			ShortCode:       s.newCode(),
			BattleType:      settings.BattleType,
			MaxPlayers:      settings.BattleType.Capacity(),
			TimePerQuestion: settings.TimePerQuestion,
			TotalQuestions:  settings.TotalQuestions,
			Subject:         settings.Subject,
			HostID:          sess.UserID,
			Status:          domain.StatusWaiting,
			CreatedAt:       now,
		}
		host := domain.Participant{
			ID:          uuid.NewString(),
			RoomID:      room.ID,
			UserID:      sess.UserID,
			DisplayName: sess.DisplayName,
			CreatedAt:   now,
		}
		err := s.rooms.CreateRoom(ctx, room, host)
		if err == nil {
			_ = s.feed.Publish(ctx, room.ID)
			return s.rooms.GetRoom(ctx, room.ID)
		}
		if !errors.Is(err, domain.ErrShortCodeTaken) {
			return domain.RoomSnapshot{}, fmt.Errorf("create room: %w", err)
		}
		lastErr = err
	}
	return domain.RoomSnapshot{}, fmt.Errorf("create room: %w", lastErr)
}

// JoinRoomByCode adds the user to a waiting room. Joining a room the user is
// already in succeeds without a duplicate insert.
func (s *BattleService) JoinRoomByCode(ctx context.Context, sess domain.Session, code string) (domain.RoomSnapshot, error) {
	code = domain.NormalizeShortCode(code)
	if !domain.ValidShortCode(code) {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	snap, err := s.rooms.GetWaitingRoomByCode(ctx, code)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	if _, ok := snap.Participant(sess.UserID); ok {
		return snap, nil
	}
	if snap.AtCapacity() {
		return domain.RoomSnapshot{}, domain.ErrRoomFull
	}

	p := domain.Participant{
		ID:          uuid.NewString(),
		RoomID:      snap.Room.ID,
		UserID:      sess.UserID,
		DisplayName: sess.DisplayName,
		CreatedAt:   s.clock(),
	}
	inserted, err := s.rooms.AddParticipant(ctx, snap.Room.ID, p)
	if err != nil {
		return domain.RoomSnapshot{}, fmt.Errorf("join room: %w", err)
	}
	if inserted {
		_ = s.feed.Publish(ctx, snap.Room.ID)
		return s.rooms.GetRoom(ctx, snap.Room.ID)
	}

	// Guard rejected the insert: figure out why from current state.
	fresh, err := s.rooms.GetRoom(ctx, snap.Room.ID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	if _, ok := fresh.Participant(sess.UserID); ok {
		return fresh, nil
	}
	switch fresh.Room.Status {
	case domain.StatusInProgress:
		return domain.RoomSnapshot{}, domain.ErrAlreadyInProgress
	case domain.StatusCompleted:
		return domain.RoomSnapshot{}, domain.ErrAlreadyCompleted
	}
	return domain.RoomSnapshot{}, domain.ErrRoomFull
}

// Leave removes the user from the room. If the leaver was host and others
// remain, the host passes to the earliest-joined survivor; if an auto-started
// battle drops below capacity, the room reverts to waiting.
func (s *BattleService) Leave(ctx context.Context, sess domain.Session, roomID string) error {
	snap, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if _, ok := snap.Participant(sess.UserID); !ok {
		return domain.ErrNotParticipant
	}
	if _, err := s.rooms.RemoveParticipant(ctx, roomID, sess.UserID); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}

	// Both repairs are derived from stored state, so they are safe to run on
	// every observation, not just here (the reconciler runs the same ones).
	if _, err := s.RepairHost(ctx, roomID); err != nil {
		return err
	}
	if _, err := s.RevertIfShortHanded(ctx, roomID); err != nil {
		return err
	}
	_ = s.feed.Publish(ctx, roomID)
	return nil
}

// Kick removes another participant. Host only, never yourself, only while the
// room is still waiting.
func (s *BattleService) Kick(ctx context.Context, sess domain.Session, roomID, targetUserID string) error {
	snap, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if sess.UserID != snap.Room.HostID {
		return domain.ErrForbidden
	}
	if targetUserID == sess.UserID {
		return domain.ErrForbidden
	}
	switch snap.Room.Status {
	case domain.StatusInProgress:
		return domain.ErrAlreadyInProgress
	case domain.StatusCompleted:
		return domain.ErrAlreadyCompleted
	}
	if _, ok := snap.Participant(targetUserID); !ok {
		return domain.ErrNotParticipant
	}
	removed, err := s.rooms.RemoveParticipant(ctx, roomID, targetUserID)
	if err != nil {
		return fmt.Errorf("kick: %w", err)
	}
	if removed {
		_ = s.feed.Publish(ctx, roomID)
	}
	return nil
}

// ManualStart arms the countdown by hand. Free-for-all rooms never fill their
// capacity of 100, so the host starts them explicitly.
func (s *BattleService) ManualStart(ctx context.Context, sess domain.Session, roomID string) error {
	snap, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if snap.Room.BattleType != domain.BattleFreeForAll {
		return domain.ErrForbidden
	}
	if sess.UserID != snap.Room.HostID {
		return domain.ErrForbidden
	}
	switch snap.Room.Status {
	case domain.StatusInProgress:
		return domain.ErrAlreadyInProgress
	case domain.StatusCompleted:
		return domain.ErrAlreadyCompleted
	}
	if len(snap.Participants) < 2 {
		return domain.ErrNotEnoughPlayers
	}

	now := s.clock()
	applied, err := s.rooms.UpdateRoomIf(ctx, roomID,
		func(cur domain.RoomSnapshot) bool {
			return cur.Room.Status == domain.StatusWaiting && cur.Room.CountdownStart == nil && len(cur.Participants) >= 2
		},
		func(r *domain.Room) {
			r.CountdownStart = &now
			r.AutoStart = false
		})
	if err != nil {
		return fmt.Errorf("manual start: %w", err)
	}
	if applied {
		_ = s.feed.Publish(ctx, roomID)
	}
	return nil
}

// PingHost records a request-to-start signal for the host. Free-for-all,
// non-host, waiting rooms only.
func (s *BattleService) PingHost(ctx context.Context, sess domain.Session, roomID string) error {
	snap, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if snap.Room.BattleType != domain.BattleFreeForAll {
		return domain.ErrForbidden
	}
	if sess.UserID == snap.Room.HostID {
		return domain.ErrForbidden
	}
	if _, ok := snap.Participant(sess.UserID); !ok {
		return domain.ErrNotParticipant
	}
	switch snap.Room.Status {
	case domain.StatusInProgress:
		return domain.ErrAlreadyInProgress
	case domain.StatusCompleted:
		return domain.ErrAlreadyCompleted
	}

	ping := domain.Ping{At: s.clock(), SenderID: sess.UserID, SenderName: sess.DisplayName}
	applied, err := s.rooms.UpdateRoomIf(ctx, roomID,
		func(cur domain.RoomSnapshot) bool { return cur.Room.Status == domain.StatusWaiting },
		func(r *domain.Room) { r.Ping = ping })
	if err != nil {
		return fmt.Errorf("ping host: %w", err)
	}
	if !applied {
		return domain.ErrAlreadyInProgress
	}
	_ = s.feed.Publish(ctx, roomID)
	return nil
}

// ArmCountdown writes the shared countdown start once a waiting room is full.
// Losing the write race is harmless: every client recomputes from whatever
// value landed.
func (s *BattleService) ArmCountdown(ctx context.Context, roomID string) (bool, error) {
	now := s.clock()
	applied, err := s.rooms.UpdateRoomIf(ctx, roomID,
		func(cur domain.RoomSnapshot) bool {
			return cur.Room.Status == domain.StatusWaiting && cur.Room.CountdownStart == nil && cur.AtCapacity()
		},
		func(r *domain.Room) {
			r.CountdownStart = &now
			r.AutoStart = true
		})
	if err != nil {
		return false, fmt.Errorf("arm countdown: %w", err)
	}
	if applied {
		_ = s.feed.Publish(ctx, roomID)
	}
	return applied, nil
}

// StartBattle performs the waiting -> in_progress transition. Conditional on
// status still being waiting and the stored countdown actually having elapsed,
// so concurrent duplicate attempts and stale triggers are both no-ops. The
// countdown timestamp and any pending ping clear atomically with the flip.
func (s *BattleService) StartBattle(ctx context.Context, roomID string) (bool, error) {
	now := s.clock()
	applied, err := s.rooms.UpdateRoomIf(ctx, roomID,
		func(cur domain.RoomSnapshot) bool {
			if cur.Room.Status != domain.StatusWaiting || cur.Room.CountdownStart == nil {
				return false
			}
			return domain.RemainingCountdown(cur.Room.BattleType, *cur.Room.CountdownStart, now) <= 0
		},
		func(r *domain.Room) {
			r.Status = domain.StatusInProgress
			r.CountdownStart = nil
			r.Ping = domain.Ping{}
		})
	if err != nil {
		return false, fmt.Errorf("start battle: %w", err)
	}
	if applied {
		_ = s.feed.Publish(ctx, roomID)
	}
	return applied, nil
}

// RepairHost re-derives the host as the earliest-joined participant whenever
// the recorded host is gone. Idempotent; safe to run on every observation.
func (s *BattleService) RepairHost(ctx context.Context, roomID string) (bool, error) {
	var newHost string
	applied, err := s.rooms.UpdateRoomIf(ctx, roomID,
		func(cur domain.RoomSnapshot) bool {
			if cur.Room.Status == domain.StatusCompleted || len(cur.Participants) == 0 {
				return false
			}
			if _, ok := cur.Participant(cur.Room.HostID); ok {
				return false
			}
			earliest, ok := cur.EarliestJoined()
			if !ok {
				return false
			}
			newHost = earliest.UserID
			return true
		},
		func(r *domain.Room) { r.HostID = newHost })
	if err != nil {
		return false, fmt.Errorf("repair host: %w", err)
	}
	if applied {
		_ = s.feed.Publish(ctx, roomID)
	}
	return applied, nil
}

// RevertIfShortHanded applies the compensating transition: a battle that
// auto-started by filling up goes back to waiting when it drops below
// capacity. Manually started battles keep running short-handed.
func (s *BattleService) RevertIfShortHanded(ctx context.Context, roomID string) (bool, error) {
	applied, err := s.rooms.UpdateRoomIf(ctx, roomID,
		func(cur domain.RoomSnapshot) bool {
			return cur.Room.Status == domain.StatusInProgress && cur.Room.AutoStart && !cur.AtCapacity()
		},
		func(r *domain.Room) {
			r.Status = domain.StatusWaiting
			r.CountdownStart = nil
			r.AutoStart = false
		})
	if err != nil {
		return false, fmt.Errorf("revert short-handed: %w", err)
	}
	if applied {
		s.scores.Delete(roomID)
		_ = s.feed.Publish(ctx, roomID)
	}
	return applied, nil
}

// CompleteBattle performs the in_progress -> completed transition.
func (s *BattleService) CompleteBattle(ctx context.Context, roomID string) (bool, error) {
	applied, err := s.rooms.UpdateRoomIf(ctx, roomID,
		func(cur domain.RoomSnapshot) bool { return cur.Room.Status == domain.StatusInProgress },
		func(r *domain.Room) {
			r.Status = domain.StatusCompleted
			r.CountdownStart = nil
		})
	if err != nil {
		return false, fmt.Errorf("complete battle: %w", err)
	}
	if applied {
		_ = s.feed.Publish(ctx, roomID)
	}
	return applied, nil
}

// CloseAbandoned completes a room with zero participants once it is at least
// grace old. Grace is measured from creation, not from when the room emptied,
// so a room older than grace is closed on the first sweep that finds it empty.
// Used by the reaper.
func (s *BattleService) CloseAbandoned(ctx context.Context, roomID string, grace time.Duration) (bool, error) {
	now := s.clock()
	applied, err := s.rooms.UpdateRoomIf(ctx, roomID,
		func(cur domain.RoomSnapshot) bool {
			return cur.Room.Status != domain.StatusCompleted &&
				len(cur.Participants) == 0 &&
				now.Sub(cur.Room.CreatedAt) >= grace
		},
		func(r *domain.Room) {
			r.Status = domain.StatusCompleted
			r.CountdownStart = nil
		})
	if err != nil {
		return false, fmt.Errorf("close abandoned: %w", err)
	}
	if applied {
		s.scores.Delete(roomID)
		_ = s.feed.Publish(ctx, roomID)
	}
	return applied, nil
}

// DropScores discards the process-local score session for a room. The
// coordinator calls this when the last local client detaches; nothing in this
// process reads the session after that point.
func (s *BattleService) DropScores(roomID string) {
	s.scores.Delete(roomID)
}

// Snapshot reads the current room state.
func (s *BattleService) Snapshot(ctx context.Context, roomID string) (domain.RoomSnapshot, error) {
	return s.rooms.GetRoom(ctx, roomID)
}

// ListOpenRooms exposes non-completed rooms (reaper input).
func (s *BattleService) ListOpenRooms(ctx context.Context) ([]domain.RoomSnapshot, error) {
	return s.rooms.ListOpenRooms(ctx)
}

func (s *BattleService) newCode() string {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return domain.NewShortCode(s.rnd)
}
