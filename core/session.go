package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// SessionState is the lifecycle position of a chat session.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateAuthorizing
	StateJoined
	StateClosed
	StateRejected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthorizing:
		return "authorizing"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

const (
	chatSessionKind = "chat"
	feedSessionKind = "rooms"
)

// Verifier resolves a bearer token to the id of the user it was issued to.
type Verifier interface {
	Verify(token string) (int64, error)
}

// UserLookup is the part of the user store a session needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (*User, error)
}

// SessionServer accepts chat and room feed websocket connections.
type SessionServer struct {
	verifier    Verifier
	users       UserLookup
	rooms       RoomDirectory
	messages    MessageStore
	history     *HistoryLoader
	media       *MediaResolver
	registry    *GroupRegistry
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	sendBuffer  int
	logger      *slog.Logger
	metrics     *Metrics

	// ctx is cancelled by Shutdown and stops every write loop.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type SessionServerOption func(*SessionServer)

func WithSessionLogger(l *slog.Logger) SessionServerOption {
	return func(s *SessionServer) {
		s.logger = l
	}
}

func WithSessionMetrics(m *Metrics) SessionServerOption {
	return func(s *SessionServer) {
		s.metrics = m
	}
}

// WithSendBuffer sets the number of events queued per connection before it
// is considered unreachable.
func WithSendBuffer(n int) SessionServerOption {
	return func(s *SessionServer) {
		s.sendBuffer = n
	}
}

func WithCheckOrigin(f func(r *http.Request) bool) SessionServerOption {
	return func(s *SessionServer) {
		s.upgrader.CheckOrigin = f
	}
}

func NewSessionServer(
	verifier Verifier,
	users UserLookup,
	rooms RoomDirectory,
	messages MessageStore,
	history *HistoryLoader,
	media *MediaResolver,
	broadcaster *Broadcaster,
	opts ...SessionServerOption,
) *SessionServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SessionServer{
		verifier:    verifier,
		users:       users,
		rooms:       rooms,
		messages:    messages,
		history:     history,
		media:       media,
		registry:    broadcaster.registry,
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sendBuffer: defaultSendBuffer,
		logger:     slog.New(slog.NewTextHandler(os.Stdout, nil)),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Shutdown closes every open connection and waits for their loops to exit.
func (s *SessionServer) Shutdown(ctx context.Context) error {
	s.cancel()
	s.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChatSession is one client connected to one room.
type ChatSession struct {
	server *SessionServer
	roomID string
	logger *slog.Logger

	mu    sync.Mutex
	state SessionState

	// Set while establishing, read-only once joined.
	user     *User
	room     *Room
	conn     *Conn
	upgraded bool

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (s *SessionServer) newChatSession(roomID string) *ChatSession {
	ctx, cancel := context.WithCancel(s.ctx)
	return &ChatSession{
		server: s,
		roomID: roomID,
		logger: s.logger.With(slog.String("room", roomID)),
		state:  StateConnecting,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *ChatSession) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ChatSession) setState(state SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// ServeChat runs the join sequence for a chat connection to the room
// identified by roomID. Rejected handshakes are answered with 403 before any
// upgrade. The connection keeps running after ServeChat returns.
func (s *SessionServer) ServeChat(w http.ResponseWriter, r *http.Request, roomID string) {
	sess := s.newChatSession(roomID)
	defer func() {
		if rec := recover(); rec != nil {
			sess.logger.Error(fmt.Sprintf("panic while joining: %v", rec))
			sess.reject(w, fmt.Errorf("panic: %v", rec))
		}
	}()

	if err := sess.establish(w, r); err != nil {
		sess.reject(w, err)
		return
	}

	sess.run()
}

// establish authenticates, authorizes, registers and upgrades, then replays history.
func (c *ChatSession) establish(w http.ResponseWriter, r *http.Request) error {
	s := c.server
	ctx := r.Context()

	c.setState(StateAuthenticating)
	protocols := websocket.Subprotocols(r)
	if len(protocols) < 2 || strings.TrimSpace(protocols[1]) == "" {
		return ErrMissingToken
	}
	userID, err := s.verifier.Verify(protocols[1])
	if err != nil {
		return err
	}

	c.setState(StateAuthorizing)
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("GetUserByID: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	c.user = user
	c.logger = c.logger.With(slog.String("user", user.Username))

	id, err := strconv.ParseInt(c.roomID, 10, 64)
	if err != nil {
		return ErrRoomNotFound
	}
	room, err := s.rooms.GetRoom(ctx, id)
	if err != nil {
		return err
	}
	if err := Authorize(ctx, s.rooms, room, user.ID); err != nil {
		return err
	}
	c.room = room

	// Registered before accepting so no broadcast issued after this point is missed.
	c.conn = newConn(s.sendBuffer, c.logger)
	s.registry.Join(room.GroupName(), c.conn)

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", protocols[0])
	c.upgraded = true
	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		return fmt.Errorf("Upgrade: %w", err)
	}
	c.conn.attach(ws)
	c.setState(StateJoined)
	s.metrics.sessionJoined(chatSessionKind)

	events, watermark, err := s.history.Load(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	for _, e := range events {
		if err := c.conn.writeNow(e); err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}
	c.conn.watermark = watermark
	s.metrics.historyReplayed(len(events))
	return nil
}

// reject deregisters whatever was registered and answers 403 when the
// connection was never accepted.
func (c *ChatSession) reject(w http.ResponseWriter, err error) {
	if c.State() == StateJoined {
		// Accepted, then failed before the loops started.
		c.logger.Error(fmt.Sprintf("session failed after accept: %v", err))
		c.close()
		c.conn.conn.Close()
		return
	}
	c.setState(StateRejected)
	c.release()
	c.server.metrics.rejected(err)

	if IsAuthError(err) || IsAuthorizationError(err) {
		c.logger.Warn(fmt.Sprintf("session rejected: %v", err))
	} else {
		c.logger.Error(fmt.Sprintf("session rejected: %v", err))
	}
	if !c.upgraded {
		w.WriteHeader(http.StatusForbidden)
	}
}

func (c *ChatSession) run() {
	s := c.server
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer c.close()
		defer recoverLoop(c.logger, "write")
		c.conn.writeLoop(c.ctx)
	}()
	go func() {
		defer s.wg.Done()
		defer c.close()
		defer recoverLoop(c.logger, "read")
		c.conn.readLoop(func(r io.Reader) error {
			return c.receive(c.ctx, r)
		})
	}()

	s.broadcaster.Publish(c.room.GroupName(), UserJoinEvent{Username: c.user.Username})
	c.logger.Info("session joined")
}

// receive relays one inbound frame: persist first, then publish to the room.
func (c *ChatSession) receive(ctx context.Context, r io.Reader) error {
	if c.State() != StateJoined {
		return ErrNotJoined
	}
	in, err := DecodeInbound(r)
	if err != nil {
		return err
	}

	msg, err := c.server.messages.SaveMessage(ctx, c.room.ID, c.user.ID, in.Message)
	if err != nil {
		if errors.Is(err, ErrInvalidMessage) {
			return err
		}
		return fmt.Errorf("SaveMessage: %w", err)
	}

	c.server.broadcaster.Publish(c.room.GroupName(), ChatMessageEvent{
		MessageID:       msg.ID,
		Message:         msg.Content,
		Username:        c.user.Username,
		ProfileImageURL: c.server.media.Resolve(c.user.ProfileImage),
		Timestamp:       msg.SentAt,
	})
	return nil
}

// release removes the handle from its group and closes it.
func (c *ChatSession) release() {
	if c.conn == nil {
		return
	}
	if c.room != nil {
		c.server.registry.Leave(c.room.GroupName(), c.conn)
	}
	c.conn.Close()
}

// close ends a joined session. It runs once whatever the exit path.
func (c *ChatSession) close() {
	c.once.Do(func() {
		c.release()
		c.cancel()
		if c.State() == StateJoined {
			c.server.metrics.sessionLeft(chatSessionKind)
		}
		c.setState(StateClosed)
		c.logger.Info("session closed")
	})
}

// ServeRoomFeed subscribes the connection to room lifecycle events. It
// requires no token and replays nothing; inbound frames are ignored.
func (s *SessionServer) ServeRoomFeed(w http.ResponseWriter, r *http.Request) {
	conn := newConn(s.sendBuffer, s.logger.With(slog.String("group", RoomFeedGroup)))
	s.registry.Join(RoomFeedGroup, conn)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.registry.Leave(RoomFeedGroup, conn)
		conn.Close()
		s.logger.Warn(fmt.Sprintf("room feed upgrade: %v", err))
		return
	}
	conn.attach(ws)
	s.metrics.sessionJoined(feedSessionKind)

	var once sync.Once
	leave := func() {
		once.Do(func() {
			s.registry.Leave(RoomFeedGroup, conn)
			conn.Close()
			s.metrics.sessionLeft(feedSessionKind)
		})
	}
	logger := conn.logger
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer leave()
		defer recoverLoop(logger, "write")
		conn.writeLoop(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		defer leave()
		defer recoverLoop(logger, "read")
		conn.readLoop(func(io.Reader) error { return nil })
	}()
}

// recoverLoop is deferred by every connection goroutine so a panic ends only
// that connection. Cleanup deferred before it still runs.
func recoverLoop(logger *slog.Logger, loop string) {
	if rec := recover(); rec != nil {
		logger.Error(fmt.Sprintf("panic in %s loop: %v", loop, rec))
	}
}
