package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

type SQLiteRoomStore struct {
	db        *sql.DB
	userStore UserStore
	now       func() time.Time
}

func NewSQLiteRoomStore(db *sql.DB, userStore UserStore) *SQLiteRoomStore {
	return &SQLiteRoomStore{
		db:        db,
		userStore: userStore,
		now:       time.Now,
	}
}

func (s *SQLiteRoomStore) CreateRoom(ctx context.Context, ownerID int64, input RoomCreateInput) (*Room, error) {
	owner, err := s.userStore.GetUserByID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("GetUserByID: %w", err)
	}
	if owner == nil {
		return nil, ErrUserNotFound
	}

	if input.RoomType == "" {
		input.RoomType = PublicRoom
	}

	participants := []Participant{{ID: owner.ID, Username: owner.Username}}
	for _, username := range input.Participants {
		if username == owner.Username {
			continue
		}
		u, err := s.userStore.GetUserByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("GetUserByUsername: %w", err)
		}
		if u == nil {
			return nil, ErrInvalidUserList
		}
		if slices.ContainsFunc(participants, func(p Participant) bool { return p.ID == u.ID }) {
			continue
		}
		participants = append(participants, Participant{ID: u.ID, Username: u.Username})
	}
	if input.RoomType == OneToOneRoom && len(participants) != 2 {
		return nil, ErrInvalidUserList
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	createdAt := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (title, description, room_type, owner_id, created_at)
		VALUES (@title, @description, @room_type, @owner_id, @created_at)`,
		sql.Named("title", input.Title),
		sql.Named("description", input.Description),
		sql.Named("room_type", string(input.RoomType)),
		sql.Named("owner_id", owner.ID),
		sql.Named("created_at", createdAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert room): %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("LastInsertId: %w", err)
	}

	for _, p := range participants {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO room_participants (room_id, user_id) VALUES (@room_id, @user_id)`,
			sql.Named("room_id", id), sql.Named("user_id", p.ID))
		if err != nil {
			return nil, fmt.Errorf("ExecContext(insert room_participants): %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}

	return &Room{
		ID:           id,
		Title:        input.Title,
		Description:  input.Description,
		Type:         input.RoomType,
		OwnerID:      owner.ID,
		Owner:        owner.Username,
		Participants: participants,
		CreatedAt:    createdAt,
	}, nil
}

func (s *SQLiteRoomStore) GetRoom(ctx context.Context, roomID int64) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.title, r.description, r.room_type, r.owner_id, u.username, r.created_at
		FROM rooms AS r
		INNER JOIN users AS u ON u.id = r.owner_id
		WHERE r.id = @id`, sql.Named("id", roomID))

	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("scanning room: %w", err)
	}

	participants, err := s.participants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room.Participants = participants
	return room, nil
}

func scanRoom(row rowScanner) (*Room, error) {
	var (
		room        Room
		description sql.NullString
		roomType    string
	)
	if err := row.Scan(&room.ID, &room.Title, &description, &roomType,
		&room.OwnerID, &room.Owner, &room.CreatedAt); err != nil {
		return nil, err
	}
	room.Description = description.String
	room.Type = RoomType(roomType)
	return &room, nil
}

func (s *SQLiteRoomStore) participants(ctx context.Context, roomID int64) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username FROM room_participants AS rp
		INNER JOIN users AS u ON u.id = rp.user_id
		WHERE rp.room_id = @room_id
		ORDER BY u.username ASC`, sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	participants := make([]Participant, 0, 2)
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.Username); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return participants, nil
}

func (s *SQLiteRoomStore) IsParticipant(ctx context.Context, userID, roomID int64) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM room_participants
		WHERE room_id = @room_id AND user_id = @user_id`,
		sql.Named("room_id", roomID), sql.Named("user_id", userID))

	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("scanning count: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteRoomStore) AddParticipant(ctx context.Context, roomID, userID int64) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HasParticipant(userID) {
		return nil
	}
	user, err := s.userStore.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("GetUserByID: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO room_participants (room_id, user_id) VALUES (@room_id, @user_id)
		ON CONFLICT DO NOTHING`,
		sql.Named("room_id", roomID), sql.Named("user_id", userID))
	if err != nil {
		return fmt.Errorf("ExecContext: %w", err)
	}
	return nil
}

func (s *SQLiteRoomStore) DeleteRoom(ctx context.Context, roomID, userID int64) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.OwnerID != userID {
		return ErrNotRoomOwner
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	for _, query := range []string{
		`DELETE FROM messages WHERE room_id = @id`,
		`DELETE FROM room_participants WHERE room_id = @id`,
		`DELETE FROM rooms WHERE id = @id`,
	} {
		if _, err := tx.ExecContext(ctx, query, sql.Named("id", roomID)); err != nil {
			return fmt.Errorf("ExecContext: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Commit: %w", err)
	}
	return nil
}

func (s *SQLiteRoomStore) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.title, r.description, r.room_type, r.owner_id, u.username, r.created_at
		FROM rooms AS r
		INNER JOIN users AS u ON u.id = r.owner_id
		ORDER BY r.created_at ASC, r.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}

	rooms := []Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		rooms = append(rooms, *room)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	// participants are loaded after the room cursor is closed since the pool holds one connection
	for i := range rooms {
		participants, err := s.participants(ctx, rooms[i].ID)
		if err != nil {
			return nil, err
		}
		rooms[i].Participants = participants
	}
	return rooms, nil
}
