package core

// RoomFeed announces room lifecycle changes to room feed sessions.
type RoomFeed struct {
	broadcaster *Broadcaster
}

func NewRoomFeed(b *Broadcaster) *RoomFeed {
	return &RoomFeed{broadcaster: b}
}

func (f *RoomFeed) RoomCreated(room *Room) int {
	return f.broadcaster.Publish(RoomFeedGroup, RoomCreatedEvent{Room: room.View()})
}

// RoomDeleted announces the deletion and closes the chat sessions still
// joined to the room.
func (f *RoomFeed) RoomDeleted(roomID int64) int {
	n := f.broadcaster.Publish(RoomFeedGroup, RoomDeletedEvent{RoomID: roomID})
	f.broadcaster.registry.CloseGroup(RoomGroup(roomID))
	return n
}
