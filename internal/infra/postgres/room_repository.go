package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medprep-battle-service/internal/domain"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// RoomRepository is the Postgres implementation of app.RoomRepository. The
// conditional-update primitive is an optimistic version check: read, evaluate
// the predicate in memory, then UPDATE ... WHERE version matches; a lost race
// re-reads and retries a bounded number of times.
type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

const roomColumns = `id, short_code, battle_type, max_players, time_per_question, total_questions,
	subject, host_id, status, countdown_start, auto_start, ping_at, ping_sender_id, ping_sender_name,
	version, created_at`

const updateRoomIfAttempts = 3

func (r *RoomRepository) CreateRoom(ctx context.Context, room domain.Room, host domain.Participant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO rooms (`+roomColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,1,$15)`,
		room.ID, room.ShortCode, string(room.BattleType), room.MaxPlayers, room.TimePerQuestion,
		room.TotalQuestions, room.Subject, room.HostID, string(room.Status), room.CountdownStart,
		room.AutoStart, nullableTime(room.Ping.At), nullableString(room.Ping.SenderID),
		nullableString(room.Ping.SenderName), room.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrShortCodeTaken
		}
		return fmt.Errorf("insert room: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO participants (id, room_id, user_id, display_name, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		host.ID, host.RoomID, host.UserID, host.DisplayName, host.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert host: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *RoomRepository) GetRoom(ctx context.Context, roomID string) (domain.RoomSnapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RoomSnapshot{}, domain.ErrRoomNotFound
		}
		return domain.RoomSnapshot{}, fmt.Errorf("select room: %w", err)
	}
	participants, err := r.listParticipants(ctx, roomID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	return domain.RoomSnapshot{Room: room, Participants: participants}, nil
}

func (r *RoomRepository) GetWaitingRoomByCode(ctx context.Context, code string) (domain.RoomSnapshot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE upper(short_code)=$1 AND status='waiting'`, code)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RoomSnapshot{}, domain.ErrRoomNotFound
		}
		return domain.RoomSnapshot{}, fmt.Errorf("select room by code: %w", err)
	}
	participants, err := r.listParticipants(ctx, room.ID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	return domain.RoomSnapshot{Room: room, Participants: participants}, nil
}

// AddParticipant locks the room row for the status and capacity checks, so
// two racing joins cannot both land in the last slot.
func (r *RoomRepository) AddParticipant(ctx context.Context, roomID string, p domain.Participant) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status     string
		maxPlayers int
	)
	err = tx.QueryRow(ctx, `SELECT status, max_players FROM rooms WHERE id=$1 FOR UPDATE`, roomID).
		Scan(&status, &maxPlayers)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, domain.ErrRoomNotFound
	}
	if err != nil {
		return false, fmt.Errorf("lock room: %w", err)
	}
	if status != string(domain.StatusWaiting) {
		return false, nil
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM participants WHERE room_id=$1`, roomID).Scan(&count); err != nil {
		return false, fmt.Errorf("count participants: %w", err)
	}
	if count >= maxPlayers {
		return false, nil
	}

	tag, err := tx.Exec(ctx, `INSERT INTO participants (id, room_id, user_id, display_name, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (room_id, user_id) DO NOTHING`,
		p.ID, roomID, p.UserID, p.DisplayName, p.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE rooms SET version=version+1 WHERE id=$1`, roomID); err != nil {
		return false, fmt.Errorf("bump version: %w", err)
	}
	return true, tx.Commit(ctx)
}

func (r *RoomRepository) RemoveParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM participants WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	if err != nil {
		return false, fmt.Errorf("delete participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `UPDATE rooms SET version=version+1 WHERE id=$1`, roomID); err != nil {
		return false, fmt.Errorf("bump version: %w", err)
	}
	return true, tx.Commit(ctx)
}

func (r *RoomRepository) UpdateRoomIf(ctx context.Context, roomID string, pred func(domain.RoomSnapshot) bool, mutate func(*domain.Room)) (bool, error) {
	for attempt := 0; attempt < updateRoomIfAttempts; attempt++ {
		snap, err := r.GetRoom(ctx, roomID)
		if err != nil {
			return false, err
		}
		if !pred(snap) {
			return false, nil
		}
		room := snap.Room
		mutate(&room)

		tag, err := r.pool.Exec(ctx, `UPDATE rooms
			SET host_id=$1, status=$2, countdown_start=$3, auto_start=$4,
			    ping_at=$5, ping_sender_id=$6, ping_sender_name=$7, version=version+1
			WHERE id=$8 AND version=$9`,
			room.HostID, string(room.Status), room.CountdownStart, room.AutoStart,
			nullableTime(room.Ping.At), nullableString(room.Ping.SenderID),
			nullableString(room.Ping.SenderName), roomID, snap.Room.Version)
		if err != nil {
			return false, fmt.Errorf("update room: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return true, nil
		}
		// Version moved under us; re-evaluate the predicate against the new state.
	}
	return false, nil
}

func (r *RoomRepository) ListOpenRooms(ctx context.Context) ([]domain.RoomSnapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms WHERE status <> 'completed'`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snaps := make([]domain.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		participants, err := r.listParticipants(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, domain.RoomSnapshot{Room: room, Participants: participants})
	}
	return snaps, nil
}

func (r *RoomRepository) listParticipants(ctx context.Context, roomID string) ([]domain.Participant, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, room_id, user_id, display_name, created_at
		FROM participants WHERE room_id=$1 ORDER BY created_at, id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.DisplayName, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanRoom(row pgx.Row) (domain.Room, error) {
	var (
		room       domain.Room
		battleType string
		status     string
		pingAt     *time.Time
		pingID     *string
		pingName   *string
	)
	err := row.Scan(&room.ID, &room.ShortCode, &battleType, &room.MaxPlayers, &room.TimePerQuestion,
		&room.TotalQuestions, &room.Subject, &room.HostID, &status, &room.CountdownStart,
		&room.AutoStart, &pingAt, &pingID, &pingName, &room.Version, &room.CreatedAt)
	if err != nil {
		return domain.Room{}, err
	}
	room.BattleType = domain.BattleType(battleType)
	room.Status = domain.RoomStatus(status)
	if pingAt != nil {
		room.Ping.At = *pingAt
	}
	if pingID != nil {
		room.Ping.SenderID = *pingID
	}
	if pingName != nil {
		room.Ping.SenderName = *pingName
	}
	return room, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
