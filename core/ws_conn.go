package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Time the peer has to answer our close frame before the read side gives up.
	closeGracePeriod = 2 * time.Second

	defaultSendBuffer = 256
)

// Conn is the Handle of one websocket connection. It is created, and may be
// registered, before the upgrade completes; events sent before the write loop
// starts wait in the send buffer.
type Conn struct {
	id          string
	conn        *websocket.Conn
	writeStream chan Event
	mu          sync.RWMutex
	closed      bool
	// watermark is the id of the newest replayed chat message. Chat messages
	// at or below it were already written during replay and are skipped.
	watermark int64
	logger    *slog.Logger
}

func newConn(sendBuffer int, logger *slog.Logger) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	id := uuid.NewString()
	return &Conn{
		id:          id,
		writeStream: make(chan Event, sendBuffer),
		logger:      logger.With(slog.String("conn", id)),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Send queues e without blocking. A closed connection or a full buffer
// yields ErrHandleUnreachable.
func (c *Conn) Send(e Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrHandleUnreachable
	}
	select {
	case c.writeStream <- e:
		return nil
	default:
		return fmt.Errorf("send buffer full: %w", ErrHandleUnreachable)
	}
}

// Close closes the send stream; the write loop then sends a close frame and exits.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.writeStream)
}

func (c *Conn) attach(conn *websocket.Conn) {
	c.conn = conn
}

// writeNow writes e straight to the socket. It must only be called before the
// write loop starts.
func (c *Conn) writeNow(e Event) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("NextWriter: %w", err)
	}
	if err := EncodeEvent(w, e); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// readLoop hands every text frame to handle until the peer goes away.
func (c *Conn) readLoop(handle func(io.Reader) error) {
	c.logger.Debug("read loop started")
	defer func() {
		c.conn.Close()
		c.logger.Debug("read loop stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := c.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Info(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Debug(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Warn(fmt.Sprintf("unexpected message format: %v", format))
			continue
		}

		if err := handle(r); err != nil {
			c.logger.Warn(fmt.Sprintf("inbound message: %v", err))
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	c.logger.Debug("write loop started")
	ticker := time.NewTicker(pingPeriod)
	var err error
	defer func() {
		ticker.Stop()
		if err != nil {
			c.conn.Close()
		}
		c.logger.Debug("write loop stopped")
	}()

	for {
		select {
		case e, ok := <-c.writeStream:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.sendClose()
				return
			}
			if m, isChat := e.(ChatMessageEvent); isChat && m.MessageID != 0 && m.MessageID <= c.watermark {
				continue
			}

			var w io.WriteCloser
			w, err = c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Warn(fmt.Sprintf("NextWriter: %v", err))
				return
			}
			if encErr := EncodeEvent(w, e); encErr != nil {
				c.logger.Error(encErr.Error())
			}
			if err = w.Close(); err != nil {
				c.logger.Warn(fmt.Sprintf("writer close: %v", err))
				return
			}
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.sendClose()
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn(fmt.Sprintf("writing ping: %v", err))
				return
			}
		}
	}
}

func (c *Conn) sendClose() {
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
}
