package domain

import (
	"sort"
	"time"
)

// BattleType selects the room format and everything derived from it
// (capacity, countdown length).
type BattleType string

const (
	BattleOneVsOne   BattleType = "1v1"
	BattleTwoVsTwo   BattleType = "2v2"
	BattleFreeForAll BattleType = "free-for-all"
)

// Valid reports whether t is a known battle type.
func (t BattleType) Valid() bool {
	switch t {
	case BattleOneVsOne, BattleTwoVsTwo, BattleFreeForAll:
		return true
	}
	return false
}

// Capacity returns the fixed participant limit for the battle type.
func (t BattleType) Capacity() int {
	switch t {
	case BattleOneVsOne:
		return 2
	case BattleTwoVsTwo:
		return 4
	case BattleFreeForAll:
		return 100
	}
	return 0
}

// CountdownDuration is fixed per type; smaller lobbies get a shorter countdown.
func (t BattleType) CountdownDuration() time.Duration {
	switch t {
	case BattleOneVsOne:
		return 5 * time.Second
	case BattleTwoVsTwo:
		return 10 * time.Second
	case BattleFreeForAll:
		return 15 * time.Second
	}
	return 0
}

// RoomStatus is the room lifecycle state. Transitions only move forward
// (waiting -> in_progress -> completed), with one documented exception: an
// auto-started room reverts to waiting if it drops below capacity.
type RoomStatus string

const (
	StatusWaiting    RoomStatus = "waiting"
	StatusInProgress RoomStatus = "in_progress"
	StatusCompleted  RoomStatus = "completed"
)

// Session identifies the acting user. It is passed explicitly into every use
// case; the service never reaches for ambient identity.
type Session struct {
	UserID      string
	DisplayName string
}

// Ping is the ephemeral request-to-start signal a non-host sends the host in a
// free-for-all waiting room. The zero value means "no ping".
type Ping struct {
	At         time.Time `json:"at"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
}

func (p Ping) IsZero() bool {
	return p.At.IsZero() && p.SenderID == ""
}

// Room is the shared coordination record. All multi-client coordination
// happens through conditional updates of this row.
type Room struct {
	ID              string     `json:"id"`
	ShortCode       string     `json:"shortCode"`
	BattleType      BattleType `json:"battleType"`
	MaxPlayers      int        `json:"maxPlayers"`
	TimePerQuestion int        `json:"timePerQuestion"` // seconds
	TotalQuestions  int        `json:"totalQuestions"`
	Subject         string     `json:"subject"`
	HostID          string     `json:"hostId"` // user id of the current host
	Status          RoomStatus `json:"status"`
	CountdownStart  *time.Time `json:"countdownStart,omitempty"`
	AutoStart       bool       `json:"autoStart"` // countdown was armed by reaching capacity
	Ping            Ping       `json:"ping"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Participant is one joined user within a room. At most one row per
// (room, user) pair.
type Participant struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"roomId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomSettings are the creator-supplied knobs.
type RoomSettings struct {
	BattleType      BattleType
	TimePerQuestion int
	TotalQuestions  int
	Subject         string
}

// RoomSnapshot is a consistent read of a room and its participants, the unit
// the watcher delivers and every coordinator component consumes.
type RoomSnapshot struct {
	Room         Room          `json:"room"`
	Participants []Participant `json:"participants"`
}

// SortParticipants orders by join time, then id for deterministic ties.
func SortParticipants(ps []Participant) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

// Participant returns the row for userID, if present.
func (s RoomSnapshot) Participant(userID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// AtCapacity reports whether the room is full.
func (s RoomSnapshot) AtCapacity() bool {
	return len(s.Participants) >= s.Room.MaxPlayers
}

// EarliestJoined is the longest-tenured participant, the deterministic choice
// for host failover.
func (s RoomSnapshot) EarliestJoined() (Participant, bool) {
	if len(s.Participants) == 0 {
		return Participant{}, false
	}
	best := s.Participants[0]
	for _, p := range s.Participants[1:] {
		if p.CreatedAt.Before(best.CreatedAt) || (p.CreatedAt.Equal(best.CreatedAt) && p.ID < best.ID) {
			best = p
		}
	}
	return best, true
}

// RemainingCountdown derives the live countdown purely from the shared start
// timestamp, so clients with different clocks converge on the same value.
func RemainingCountdown(t BattleType, start, now time.Time) time.Duration {
	return t.CountdownDuration() - now.Sub(start)
}

// NoticeKind enumerates the one-shot user notifications the presence bridge
// emits.
type NoticeKind string

const (
	NoticeJoined          NoticeKind = "joined"
	NoticeLeft            NoticeKind = "left"
	NoticeKicked          NoticeKind = "kicked"
	NoticeHostChanged     NoticeKind = "host_changed"
	NoticePing            NoticeKind = "ping"
	NoticeBattleStarted   NoticeKind = "battle_started"
	NoticeBattleCompleted NoticeKind = "battle_completed"
)

// Notice is a single user-facing notification derived from snapshot diffs.
type Notice struct {
	Kind        NoticeKind `json:"kind"`
	UserID      string     `json:"userId,omitempty"`
	DisplayName string     `json:"displayName,omitempty"`
	At          time.Time  `json:"at"`
}
