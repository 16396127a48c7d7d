package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

type SQLiteMessageStore struct {
	db  *sql.DB
	now func() time.Time
	// mu serialises timestamp assignment so SentAt is monotonic per room.
	mu   sync.Mutex
	last map[int64]time.Time
}

func NewSQLiteMessageStore(db *sql.DB) *SQLiteMessageStore {
	return &SQLiteMessageStore{
		db:   db,
		now:  time.Now,
		last: make(map[int64]time.Time),
	}
}

func (s *SQLiteMessageStore) SaveMessage(ctx context.Context, roomID, userID int64, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrInvalidMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.last[roomID]
	if !ok {
		var err error
		if last, err = s.latestSentAt(ctx, roomID); err != nil {
			return nil, err
		}
	}
	sentAt := s.now().UTC()
	if !last.IsZero() && !sentAt.After(last) {
		sentAt = last.Add(time.Microsecond)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (room_id, user_id, content, sent_at)
		VALUES (@room_id, @user_id, @content, @sent_at)`,
		sql.Named("room_id", roomID),
		sql.Named("user_id", userID),
		sql.Named("content", content),
		sql.Named("sent_at", sentAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("LastInsertId: %w", err)
	}
	s.last[roomID] = sentAt

	return &Message{
		ID:      id,
		RoomID:  roomID,
		UserID:  userID,
		Content: content,
		SentAt:  sentAt,
	}, nil
}

// latestSentAt seeds the per-room clock from storage, so a clock that stepped
// back across a restart cannot date a message before the stored ones.
func (s *SQLiteMessageStore) latestSentAt(ctx context.Context, roomID int64) (time.Time, error) {
	var sentAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT sent_at FROM messages
		WHERE room_id = @room_id
		ORDER BY sent_at DESC, id DESC
		LIMIT 1`,
		sql.Named("room_id", roomID)).Scan(&sentAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("QueryRowContext: %w", err)
	}
	return sentAt.Time.UTC(), nil
}

func (s *SQLiteMessageStore) RecentMessages(ctx context.Context, roomID int64, limit int) ([]MessageView, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content, u.username, u.profile_image, m.sent_at
		FROM messages AS m
		INNER JOIN users AS u ON u.id = m.user_id
		WHERE m.room_id = @room_id
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT @limit`,
		sql.Named("room_id", roomID), sql.Named("limit", limit))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	views := make([]MessageView, 0, limit)
	for rows.Next() {
		var (
			v            MessageView
			profileImage sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.Content, &v.Username, &profileImage, &v.SentAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		v.ProfileImage = profileImage.String
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	slices.Reverse(views)
	return views, nil
}
