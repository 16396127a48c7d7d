package core

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// EventKind enumerates every event the server sends to clients.
type EventKind int

const (
	_ EventKind = iota
	ChatMessageKind
	UserJoinKind
	RoomCreatedKind
	RoomDeletedKind
)

func (k EventKind) String() string {
	switch k {
	case ChatMessageKind:
		return "chat_message"
	case UserJoinKind:
		return "user_join"
	case RoomCreatedKind:
		return "room_created"
	case RoomDeletedKind:
		return "room_deleted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is an outbound event. The set of implementations is closed to this package.
type Event interface {
	Kind() EventKind
	event()
}

// ChatMessageEvent carries one chat message, both for live broadcast and history replay.
type ChatMessageEvent struct {
	// MessageID is the persisted message id. It never leaves the server.
	MessageID       int64
	Message         string
	Username        string
	ProfileImageURL *string
	Timestamp       time.Time
}

type UserJoinEvent struct {
	Username string
}

type RoomCreatedEvent struct {
	Room RoomView
}

type RoomDeletedEvent struct {
	RoomID int64
}

func (ChatMessageEvent) Kind() EventKind { return ChatMessageKind }
func (UserJoinEvent) Kind() EventKind    { return UserJoinKind }
func (RoomCreatedEvent) Kind() EventKind { return RoomCreatedKind }
func (RoomDeletedEvent) Kind() EventKind { return RoomDeletedKind }

func (ChatMessageEvent) event() {}
func (UserJoinEvent) event()    {}
func (RoomCreatedEvent) event() {}
func (RoomDeletedEvent) event() {}

type chatMessagePayload struct {
	Message         string  `json:"message"`
	Username        string  `json:"username"`
	ProfileImageURL *string `json:"profile_image_url"`
	Timestamp       string  `json:"timestamp"`
}

type userJoinPayload struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type roomCreatedPayload struct {
	Type    string   `json:"type"`
	Message RoomView `json:"message"`
}

type roomDeletedPayload struct {
	Type   string `json:"type"`
	RoomID int64  `json:"room_id"`
}

// wirePayload maps an event to the JSON document clients receive.
func wirePayload(e Event) (any, error) {
	switch e := e.(type) {
	case ChatMessageEvent:
		return chatMessagePayload{
			Message:         e.Message,
			Username:        e.Username,
			ProfileImageURL: e.ProfileImageURL,
			Timestamp:       e.Timestamp.Format(time.RFC3339Nano),
		}, nil
	case UserJoinEvent:
		return userJoinPayload{Type: UserJoinKind.String(), Username: e.Username}, nil
	case RoomCreatedEvent:
		return roomCreatedPayload{Type: RoomCreatedKind.String(), Message: e.Room}, nil
	case RoomDeletedEvent:
		return roomDeletedPayload{Type: RoomDeletedKind.String(), RoomID: e.RoomID}, nil
	default:
		return nil, fmt.Errorf("unsupported event: %T", e)
	}
}

func EncodeEvent(w io.Writer, e Event) error {
	payload, err := wirePayload(e)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

// InboundMessage is the only payload clients send on a chat connection.
type InboundMessage struct {
	Message string `json:"message"`
}

func DecodeInbound(r io.Reader) (*InboundMessage, error) {
	var in InboundMessage
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode inbound: %w", err)
	}
	return &in, nil
}

// MarshalJSON renders the message in its wire form so REST history matches the socket.
func (e ChatMessageEvent) MarshalJSON() ([]byte, error) {
	payload, err := wirePayload(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payload)
}
