package chatrooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var baseTimeout = 2 * time.Second

func newTestConfig(t *testing.T) *Config {
	c := &Config{Port: 8080, Hostname: "127.0.0.1", LogLevel: slog.LevelError + 4}
	c.Auth.Secret = []byte("test-secret")
	c.Auth.TokenTTL = time.Hour
	c.SQLite.File = filepath.Join(t.TempDir(), "chatrooms.db")
	c.Media.BaseURL = "http://127.0.0.1:8001/media/"
	c.History.Limit = 50
	c.WS.SendBuffer = 16
	c.AllowedOrigins = []string{"*"}
	return c
}

type appFixture struct {
	app      *App
	server   *httptest.Server
	t        *testing.T
	tearDown func()
}

func newAppFixture(t *testing.T) *appFixture {
	ctx, cancel := context.WithCancel(context.Background())
	app, err := New(ctx, newTestConfig(t))
	require.NoError(t, err)

	ts := httptest.NewServer(app.Handler())
	return &appFixture{
		app:    app,
		server: ts,
		t:      t,
		tearDown: func() {
			ts.Close()
			closeCtx, closeCancel := context.WithTimeout(context.Background(), baseTimeout)
			defer closeCancel()
			app.Close(closeCtx)
			cancel()
		},
	}
}

// do sends a JSON request, authorized with token when it is not empty.
func (f *appFixture) do(method, path, token string, body any) *http.Response {
	f.t.Helper()
	var r io.Reader
	if body != nil {
		var buf bytes.Buffer
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
		r = &buf
	}
	req, err := http.NewRequest(method, f.server.URL+path, r)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := f.server.Client().Do(req)
	require.NoError(f.t, err)
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

// register creates a user and returns its access token.
func (f *appFixture) register(username string) string {
	f.t.Helper()
	res := f.do(http.MethodPost, "/api/users/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password",
	})
	require.Equal(f.t, http.StatusCreated, res.StatusCode)
	return decode[RegisterResponse](f.t, res).Access
}

func (f *appFixture) createRoom(token string, body map[string]any) map[string]any {
	f.t.Helper()
	res := f.do(http.MethodPost, "/api/rooms", token, body)
	require.Equal(f.t, http.StatusCreated, res.StatusCode)
	return decode[map[string]any](f.t, res)
}

func (f *appFixture) dial(path string, protocols ...string) (*websocket.Conn, *http.Response, error) {
	d := websocket.Dialer{Subprotocols: protocols, HandshakeTimeout: baseTimeout}
	return d.Dial(strings.Replace(f.server.URL, "http://", "ws://", 1)+path, nil)
}

func (f *appFixture) joinRoom(token string, roomID any) *websocket.Conn {
	f.t.Helper()
	conn, _, err := f.dial(fmt.Sprintf("/ws/chat/%v", roomID), "chat", token)
	require.NoError(f.t, err)
	return conn
}

func readPayload(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(baseTimeout))
	var payload map[string]any
	require.NoError(t, conn.ReadJSON(&payload))
	return payload
}
