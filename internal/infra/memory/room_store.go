package memory

import (
	"context"
	"sync"

	"medprep-battle-service/internal/domain"
)

// RoomStore is the in-memory implementation of app.RoomRepository. A single
// mutex serializes every mutation, which is exactly the serialized shared
// store the coordination design assumes.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomRecord
	codes map[string]string // short code -> room id
}

type roomRecord struct {
	room         domain.Room
	participants map[string]domain.Participant // by user id
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*roomRecord),
		codes: make(map[string]string),
	}
}

func (s *RoomStore) CreateRoom(_ context.Context, room domain.Room, host domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[room.ShortCode]; ok {
		return domain.ErrShortCodeTaken
	}
	room.Version = 1
	rec := &roomRecord{
		room:         room,
		participants: map[string]domain.Participant{host.UserID: host},
	}
	s.rooms[room.ID] = rec
	s.codes[room.ShortCode] = room.ID
	return nil
}

func (s *RoomStore) GetRoom(_ context.Context, roomID string) (domain.RoomSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	return rec.snapshot(), nil
}

func (s *RoomStore) GetWaitingRoomByCode(_ context.Context, code string) (domain.RoomSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	rec := s.rooms[id]
	if rec == nil || rec.room.Status != domain.StatusWaiting {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	return rec.snapshot(), nil
}

func (s *RoomStore) AddParticipant(_ context.Context, roomID string, p domain.Participant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	if rec.room.Status != domain.StatusWaiting {
		return false, nil
	}
	if _, ok := rec.participants[p.UserID]; ok {
		return false, nil
	}
	if len(rec.participants) >= rec.room.MaxPlayers {
		return false, nil
	}
	rec.participants[p.UserID] = p
	rec.room.Version++
	return true, nil
}

func (s *RoomStore) RemoveParticipant(_ context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	if _, ok := rec.participants[userID]; !ok {
		return false, nil
	}
	delete(rec.participants, userID)
	rec.room.Version++
	return true, nil
}

func (s *RoomStore) UpdateRoomIf(_ context.Context, roomID string, pred func(domain.RoomSnapshot) bool, mutate func(*domain.Room)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	if !pred(rec.snapshot()) {
		return false, nil
	}
	mutate(&rec.room)
	rec.room.Version++
	return true, nil
}

func (s *RoomStore) ListOpenRooms(_ context.Context) ([]domain.RoomSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RoomSnapshot, 0, len(s.rooms))
	for _, rec := range s.rooms {
		if rec.room.Status == domain.StatusCompleted {
			continue
		}
		out = append(out, rec.snapshot())
	}
	return out, nil
}

// snapshot copies the record so callers never alias store-internal state.
func (r *roomRecord) snapshot() domain.RoomSnapshot {
	ps := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		ps = append(ps, p)
	}
	domain.SortParticipants(ps)
	room := r.room
	if r.room.CountdownStart != nil {
		cs := *r.room.CountdownStart
		room.CountdownStart = &cs
	}
	return domain.RoomSnapshot{Room: room, Participants: ps}
}
