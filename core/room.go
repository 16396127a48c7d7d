package core

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// RoomType decides how room access is authorized.
type RoomType string

const (
	// PublicRoom can be joined by any authenticated user.
	PublicRoom RoomType = "public"
	// PrivateRoom can only be joined by its participants.
	PrivateRoom RoomType = "private"
	// OneToOneRoom is a private room between the owner and exactly one other user.
	OneToOneRoom RoomType = "one-to-one"
)

// RoomFeedGroup is the group every room feed session subscribes to.
const RoomFeedGroup = "rooms"

// Room is the metadata of a chat room with its participant set.
// The owner is always one of the participants.
type Room struct {
	ID           int64
	Title        string
	Description  string
	Type         RoomType
	OwnerID      int64
	Owner        string
	Participants []Participant
	CreatedAt    time.Time
}

type Participant struct {
	ID       int64
	Username string
}

// GroupName returns the registry group the room's sessions join.
func (r *Room) GroupName() string {
	return RoomGroup(r.ID)
}

func RoomGroup(roomID int64) string {
	return fmt.Sprintf("chat_%d", roomID)
}

// HasParticipant reports whether userID is in the participant set.
func (r *Room) HasParticipant(userID int64) bool {
	return slices.ContainsFunc(r.Participants, func(p Participant) bool {
		return p.ID == userID
	})
}

// RoomView is the representation of a room sent to clients,
// both over REST and inside room_created events.
type RoomView struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	RoomType     RoomType  `json:"room_type"`
	Owner        string    `json:"owner"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *Room) View() RoomView {
	participants := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, p.Username)
	}
	return RoomView{
		ID:           r.ID,
		Title:        r.Title,
		Description:  r.Description,
		RoomType:     r.Type,
		Owner:        r.Owner,
		Participants: participants,
		CreatedAt:    r.CreatedAt,
	}
}

// RoomCreateInput represents the input for creating a room.
type RoomCreateInput struct {
	Title       string   `json:"title" validate:"required,max=100"`
	Description string   `json:"description"`
	RoomType    RoomType `json:"room_type" validate:"omitempty,oneof=public private one-to-one"`
	// Participants lists usernames added next to the owner.
	Participants []string `json:"participants" validate:"omitempty,dive,required"`
}

// RoomDirectory is the read path the sessions use to authorize room access.
type RoomDirectory interface {
	// GetRoom returns ErrRoomNotFound when no room has the id.
	GetRoom(ctx context.Context, roomID int64) (*Room, error)

	IsParticipant(ctx context.Context, userID, roomID int64) (bool, error)
}

type RoomStore interface {
	RoomDirectory

	// CreateRoom creates a room owned by ownerID. The owner is added to the participants.
	// A one-to-one room must name exactly one other existing participant.
	CreateRoom(ctx context.Context, ownerID int64, input RoomCreateInput) (*Room, error)

	// DeleteRoom removes the room with its participants and messages.
	// Only the owner may delete a room.
	DeleteRoom(ctx context.Context, roomID, userID int64) error

	// AddParticipant adds userID to the room. Adding an existing participant is a no-op.
	AddParticipant(ctx context.Context, roomID, userID int64) error

	// ListRooms returns every room ordered by creation.
	ListRooms(ctx context.Context) ([]Room, error)
}

// Authorize applies the room type policy for userID. Participation is
// checked against the directory rather than the loaded snapshot.
func Authorize(ctx context.Context, dir RoomDirectory, room *Room, userID int64) error {
	switch room.Type {
	case PublicRoom:
		return nil
	case PrivateRoom, OneToOneRoom:
		ok, err := dir.IsParticipant(ctx, userID, room.ID)
		if err != nil {
			return fmt.Errorf("IsParticipant: %w", err)
		}
		if !ok {
			return ErrNotAParticipant
		}
		return nil
	default:
		return ErrUnknownRoomType
	}
}
