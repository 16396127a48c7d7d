package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func seedUsers(f *BaseFixture, inputs ...UserCreateInput) []*User {
	users := make([]*User, 0, len(inputs))
	for _, in := range inputs {
		u, err := f.users.CreateUser(f.ctx, in)
		require.NoError(f.t, err)
		users = append(users, u)
	}
	return users
}

func seedRoom(f *BaseFixture, owner *User, roomType RoomType, participants ...string) *Room {
	room, err := f.rooms.CreateRoom(f.ctx, owner.ID, RoomCreateInput{
		Title:        "Room of " + owner.Username,
		RoomType:     roomType,
		Participants: participants,
	})
	require.NoError(f.t, err)
	return room
}

func seedMessages(t *testing.T, f *BaseFixture, room *Room, author *User, contents ...string) []*Message {
	msgs := make([]*Message, 0, len(contents))
	for _, c := range contents {
		m, err := f.messages.SaveMessage(f.ctx, room.ID, author.ID, c)
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	return msgs
}
