package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	alice = UserCreateInput{Username: "alice", Email: "alice@example.com", Password: "password"}
	bob   = UserCreateInput{Username: "bob", Email: "bob@example.com", Password: "password"}
	carol = UserCreateInput{Username: "carol", Email: "carol@example.com", Password: "password"}
)

// dbSeq gives every fixture its own named in-memory database.
var dbSeq atomic.Int64

type BaseFixture struct {
	ctx      context.Context
	db       *SQLiteDB
	users    *SQLiteUserStore
	rooms    *SQLiteRoomStore
	messages *SQLiteMessageStore
	t        *testing.T
	tearDown func()
}

func NewBaseFixture(t *testing.T) *BaseFixture {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := NewSQLiteDB(fmt.Sprintf("chatrooms_test_%d", dbSeq.Add(1)), &SQLiteDBOption{
		Mode:        "memory",
		Cache:       "shared",
		ForeignKeys: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	users := NewSQLiteUserStore(db.DB)
	return &BaseFixture{
		ctx:      ctx,
		db:       db,
		users:    users,
		rooms:    NewSQLiteRoomStore(db.DB, users),
		messages: NewSQLiteMessageStore(db.DB),
		t:        t,
		tearDown: func() {
			cancel()
			db.Close()
		},
	}
}
