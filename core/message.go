package core

import (
	"context"
	"time"
)

// DefaultHistoryLimit is the number of messages replayed to a newly joined session.
const DefaultHistoryLimit = 50

// Message is a persisted chat message. It is immutable once saved.
// Messages in a room are ordered by SentAt, ties broken by ID.
type Message struct {
	ID      int64
	RoomID  int64
	UserID  int64
	Content string
	SentAt  time.Time
}

// MessageView is a message with its author materialised for display.
type MessageView struct {
	ID           int64
	Content      string
	Username     string
	ProfileImage string
	SentAt       time.Time
}

type MessageStore interface {
	// SaveMessage persists a message authored by userID. The timestamp is
	// assigned by the store and never precedes the latest message of the room.
	SaveMessage(ctx context.Context, roomID, userID int64, content string) (*Message, error)

	// RecentMessages returns up to limit of the latest messages of the room
	// in ascending order.
	RecentMessages(ctx context.Context, roomID int64, limit int) ([]MessageView, error)
}

// HistoryLoader reads the replay snapshot for a joining session.
type HistoryLoader struct {
	store MessageStore
	media *MediaResolver
	limit int
}

func NewHistoryLoader(store MessageStore, media *MediaResolver, limit int) *HistoryLoader {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryLoader{store: store, media: media, limit: limit}
}

// Load returns the chat events to replay, oldest first, and the id of the
// newest replayed message (zero when the room is empty).
func (l *HistoryLoader) Load(ctx context.Context, roomID int64) ([]ChatMessageEvent, int64, error) {
	views, err := l.store.RecentMessages(ctx, roomID, l.limit)
	if err != nil {
		return nil, 0, err
	}

	events := make([]ChatMessageEvent, 0, len(views))
	var watermark int64
	for _, v := range views {
		events = append(events, ChatMessageEvent{
			MessageID:       v.ID,
			Message:         v.Content,
			Username:        v.Username,
			ProfileImageURL: l.media.Resolve(v.ProfileImage),
			Timestamp:       v.SentAt,
		})
		watermark = max(watermark, v.ID)
	}
	return events, watermark, nil
}
