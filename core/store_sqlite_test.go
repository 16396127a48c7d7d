package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteUserStore(t *testing.T) {
	t.Run("create and lookup", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		created := seedUsers(f, alice)[0]
		require.NotZero(t, created.ID)

		byID, err := f.users.GetUserByID(f.ctx, created.ID)
		require.Nil(t, err)
		assert.Equal(t, created, byID)

		byName, err := f.users.GetUserByUsername(f.ctx, "alice")
		require.Nil(t, err)
		assert.Equal(t, created, byName)
	})

	t.Run("missing user yields nil", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		u, err := f.users.GetUserByID(f.ctx, 999)
		require.Nil(t, err)
		assert.Nil(t, u)
	})

	t.Run("duplicate username", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		seedUsers(f, alice)
		_, err := f.users.CreateUser(f.ctx, alice)
		assert.ErrorIs(t, err, ErrConflictedUser)
	})

	t.Run("authenticate", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		created := seedUsers(f, alice)[0]
		u, err := f.users.Authenticate(f.ctx, "alice", "password")
		require.Nil(t, err)
		assert.Equal(t, created.ID, u.ID)

		_, err = f.users.Authenticate(f.ctx, "alice", "wrong")
		assert.ErrorIs(t, err, ErrBadCredentials)

		_, err = f.users.Authenticate(f.ctx, "nobody", "password")
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("partial update", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice, bob)
		bio := "hello"
		image := "profile_images/alice.png"
		u, err := f.users.UpdateUser(f.ctx, users[0].ID, UserUpdateInput{Bio: &bio, ProfileImage: &image})
		require.Nil(t, err)
		assert.Equal(t, "alice", u.Username)
		assert.Equal(t, "hello", u.Bio)
		assert.Equal(t, image, u.ProfileImage)

		taken := "bob"
		_, err = f.users.UpdateUser(f.ctx, users[0].ID, UserUpdateInput{Username: &taken})
		assert.ErrorIs(t, err, ErrConflictedUser)
	})

	t.Run("list ordered by username", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		seedUsers(f, carol, alice, bob)
		users, err := f.users.GetUsers(f.ctx)
		require.Nil(t, err)
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, u.Username)
		}
		assert.Equal(t, []string{"alice", "bob", "carol"}, names)
	})
}

func TestSQLiteRoomStore(t *testing.T) {
	t.Run("owner is a participant", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice, bob)
		room := seedRoom(f, users[0], PrivateRoom, "bob", "bob", "alice")

		got, err := f.rooms.GetRoom(f.ctx, room.ID)
		require.Nil(t, err)
		assert.Equal(t, PrivateRoom, got.Type)
		assert.Equal(t, "alice", got.Owner)
		assert.Equal(t, []string{"alice", "bob"}, got.View().Participants)

		ok, err := f.rooms.IsParticipant(f.ctx, users[1].ID, room.ID)
		require.Nil(t, err)
		assert.True(t, ok)
	})

	t.Run("defaults to public", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice)
		room := seedRoom(f, users[0], "")
		assert.Equal(t, PublicRoom, room.Type)
	})

	t.Run("unknown room", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		_, err := f.rooms.GetRoom(f.ctx, 42)
		assert.ErrorIs(t, err, ErrRoomNotFound)
		assert.True(t, IsAuthorizationError(err))
	})

	t.Run("one-to-one needs exactly one other participant", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice, bob, carol)
		_, err := f.rooms.CreateRoom(f.ctx, users[0].ID, RoomCreateInput{Title: "dm", RoomType: OneToOneRoom})
		assert.ErrorIs(t, err, ErrInvalidUserList)

		_, err = f.rooms.CreateRoom(f.ctx, users[0].ID, RoomCreateInput{
			Title: "dm", RoomType: OneToOneRoom, Participants: []string{"bob", "carol"},
		})
		assert.ErrorIs(t, err, ErrInvalidUserList)

		room := seedRoom(f, users[0], OneToOneRoom, "bob")
		assert.Len(t, room.Participants, 2)
	})

	t.Run("unknown participant", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice)
		_, err := f.rooms.CreateRoom(f.ctx, users[0].ID, RoomCreateInput{
			Title: "team", RoomType: PrivateRoom, Participants: []string{"ghost"},
		})
		assert.ErrorIs(t, err, ErrInvalidUserList)
	})

	t.Run("add participant is idempotent", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice, bob)
		room := seedRoom(f, users[0], PrivateRoom)
		require.Nil(t, f.rooms.AddParticipant(f.ctx, room.ID, users[1].ID))
		require.Nil(t, f.rooms.AddParticipant(f.ctx, room.ID, users[1].ID))

		got, err := f.rooms.GetRoom(f.ctx, room.ID)
		require.Nil(t, err)
		assert.Len(t, got.Participants, 2)
	})

	t.Run("only the owner deletes", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice, bob)
		room := seedRoom(f, users[0], PublicRoom)
		seedMessages(t, f, room, users[0], "hi")

		assert.ErrorIs(t, f.rooms.DeleteRoom(f.ctx, room.ID, users[1].ID), ErrNotRoomOwner)
		require.Nil(t, f.rooms.DeleteRoom(f.ctx, room.ID, users[0].ID))

		_, err := f.rooms.GetRoom(f.ctx, room.ID)
		assert.ErrorIs(t, err, ErrRoomNotFound)
		msgs, err := f.messages.RecentMessages(f.ctx, room.ID, 10)
		require.Nil(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("list rooms with participants", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice, bob)
		first := seedRoom(f, users[0], PublicRoom)
		second := seedRoom(f, users[1], PrivateRoom, "alice")

		rooms, err := f.rooms.ListRooms(f.ctx)
		require.Nil(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, first.ID, rooms[0].ID)
		assert.Equal(t, second.ID, rooms[1].ID)
		assert.Len(t, rooms[1].Participants, 2)
	})
}

func TestAuthorize(t *testing.T) {
	f := NewBaseFixture(t)
	defer f.tearDown()

	users := seedUsers(f, alice, bob, carol)
	public := seedRoom(f, users[0], PublicRoom)
	private := seedRoom(f, users[0], PrivateRoom, "bob")
	direct := seedRoom(f, users[0], OneToOneRoom, "bob")
	odd := seedRoom(f, users[0], PublicRoom)
	_, err := f.db.ExecContext(f.ctx, "UPDATE rooms SET room_type = 'broadcast' WHERE id = ?", odd.ID)
	require.NoError(t, err)
	odd, err = f.rooms.GetRoom(f.ctx, odd.ID)
	require.NoError(t, err)

	tcs := []struct {
		name string
		room *Room
		user *User
		err  error
	}{
		{"public admits anyone", public, users[2], nil},
		{"private admits participant", private, users[1], nil},
		{"private rejects outsider", private, users[2], ErrNotAParticipant},
		{"one-to-one admits owner", direct, users[0], nil},
		{"one-to-one rejects outsider", direct, users[2], ErrNotAParticipant},
		{"unknown type is rejected", odd, users[0], ErrUnknownRoomType},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := Authorize(f.ctx, f.rooms, tc.room, tc.user.ID)
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.err)
			assert.True(t, IsAuthorizationError(err))
		})
	}
}

func TestSQLiteMessageStore(t *testing.T) {
	t.Run("rejects blank content", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice)
		room := seedRoom(f, users[0], PublicRoom)
		_, err := f.messages.SaveMessage(f.ctx, room.ID, users[0].ID, "   ")
		assert.ErrorIs(t, err, ErrInvalidMessage)
	})

	t.Run("timestamps never go backwards", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		frozen := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		f.messages.now = func() time.Time { return frozen }

		users := seedUsers(f, alice)
		room := seedRoom(f, users[0], PublicRoom)
		msgs := seedMessages(t, f, room, users[0], "a", "b", "c")
		for i := 1; i < len(msgs); i++ {
			assert.True(t, msgs[i].SentAt.After(msgs[i-1].SentAt))
		}
	})

	t.Run("a restarted store continues after stored timestamps", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice)
		room := seedRoom(f, users[0], PublicRoom)
		f.messages.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
		before := seedMessages(t, f, room, users[0], "before restart")[0]

		restarted := NewSQLiteMessageStore(f.db.DB)
		restarted.now = func() time.Time { return time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC) }
		after, err := restarted.SaveMessage(f.ctx, room.ID, users[0].ID, "after restart")
		require.NoError(t, err)
		assert.True(t, after.SentAt.After(before.SentAt), "%v should be after %v", after.SentAt, before.SentAt)

		views, err := restarted.RecentMessages(f.ctx, room.ID, DefaultHistoryLimit)
		require.NoError(t, err)
		require.Len(t, views, 2)
		assert.Equal(t, "after restart", views[1].Content)
	})

	t.Run("recent messages are the latest in ascending order", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice)
		room := seedRoom(f, users[0], PublicRoom)
		other := seedRoom(f, users[0], PublicRoom)
		contents := make([]string, 60)
		for i := range contents {
			contents[i] = fmt.Sprintf("m%02d", i)
		}
		seedMessages(t, f, room, users[0], contents...)
		seedMessages(t, f, other, users[0], "elsewhere")

		views, err := f.messages.RecentMessages(f.ctx, room.ID, DefaultHistoryLimit)
		require.Nil(t, err)
		require.Len(t, views, 50)
		assert.Equal(t, "m10", views[0].Content)
		assert.Equal(t, "m59", views[49].Content)
		for i := 1; i < len(views); i++ {
			assert.False(t, views[i].SentAt.Before(views[i-1].SentAt))
			assert.Equal(t, "alice", views[i].Username)
		}
	})
}

func TestHistoryLoader(t *testing.T) {
	t.Run("empty room", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice)
		room := seedRoom(f, users[0], PublicRoom)
		loader := NewHistoryLoader(f.messages, nil, 0)

		events, watermark, err := loader.Load(f.ctx, room.ID)
		require.Nil(t, err)
		assert.Empty(t, events)
		assert.Zero(t, watermark)
	})

	t.Run("resolves avatars and reports the newest id", func(t *testing.T) {
		f := NewBaseFixture(t)
		defer f.tearDown()

		users := seedUsers(f, alice, bob)
		image := "profile_images/alice.png"
		_, err := f.users.UpdateUser(f.ctx, users[0].ID, UserUpdateInput{ProfileImage: &image})
		require.Nil(t, err)
		room := seedRoom(f, users[0], PublicRoom)
		seedMessages(t, f, room, users[0], "hi")
		last := seedMessages(t, f, room, users[1], "hey")[0]

		media, err := NewMediaResolver("http://127.0.0.1:8001/media/")
		require.Nil(t, err)
		events, watermark, err := NewHistoryLoader(f.messages, media, 10).Load(f.ctx, room.ID)
		require.Nil(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, last.ID, watermark)

		require.NotNil(t, events[0].ProfileImageURL)
		assert.Equal(t, "http://127.0.0.1:8001/media/profile_images/alice.png", *events[0].ProfileImageURL)
		assert.Nil(t, events[1].ProfileImageURL)
		assert.Equal(t, "bob", events[1].Username)
	})
}
