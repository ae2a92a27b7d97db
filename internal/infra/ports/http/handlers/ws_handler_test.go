package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrave1/RoomSync/internal/application/config"
	"github.com/qrave1/RoomSync/internal/domain/events"
	"github.com/qrave1/RoomSync/internal/infra/adapters/memory"
	"github.com/qrave1/RoomSync/internal/usecase"
)

func newWSServer(t *testing.T, messagesPerSecond int) string {
	t.Helper()

	cfg := &config.Config{Debug: true, MaxMessagesPerSecond: messagesPerSecond}
	wsRepo := memory.NewWSConnectionRepository()
	syncUsecase := usecase.NewSyncUsecase(memory.NewRoomRepository(), wsRepo, 20*time.Second)

	e := echo.New()
	e.GET("/ws", NewWebSocketHandler(cfg, syncUsecase, wsRepo).Handle)

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		wsRepo.CloseAll()
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, url string) *testClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &testClient{t: t, conn: conn}
	require.Equal(t, events.TypeSession, c.read().Type)

	return c
}

func (c *testClient) send(msgType string, data any) {
	c.t.Helper()

	msg, err := events.NewMessage(msgType, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

func (c *testClient) read() events.Message {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var msg events.Message
	require.NoError(c.t, c.conn.ReadJSON(&msg))

	return msg
}

// readUntil skips messages until one of msgType arrives.
func (c *testClient) readUntil(msgType string) events.Message {
	c.t.Helper()

	for {
		if msg := c.read(); msg.Type == msgType {
			return msg
		}
	}
}

func TestWebSocketHandler_JoinAndSync(t *testing.T) {
	url := newWSServer(t, 100)

	host := dial(t, url)
	host.send(events.TypeJoinRoom, events.JoinRoomEvent{RoomCode: "482913", IsHost: true})
	host.readUntil(events.TypeUserJoined)

	guest := dial(t, url)
	guest.send(events.TypeJoinRoom, events.JoinRoomEvent{RoomCode: "482913"})
	guest.readUntil(events.TypeUserJoined)
	host.readUntil(events.TypeUserJoined)

	guest.send(events.TypeRequestTracks, "482913")
	host.readUntil(events.TypeTracksRequested)

	tracks := json.RawMessage(`[{"id":"1"},{"id":"2"}]`)
	host.send(events.TypeSyncTracks, events.SyncTracksEvent{RoomCode: "482913", Tracks: tracks})

	got := guest.readUntil(events.TypeReceiveTracks)
	assert.JSONEq(t, string(tracks), string(got.Data))
}

func TestWebSocketHandler_LargeRoomStaysConnected(t *testing.T) {
	url := newWSServer(t, 100)

	const members = 100

	var (
		activity atomic.Int64
		closed   atomic.Int64
	)

	clients := make([]*testClient, members)
	for i := range clients {
		clients[i] = dial(t, url)

		// каждый клиент все время вычитывает сокет
		go func(conn *websocket.Conn) {
			_ = conn.SetReadDeadline(time.Time{})

			for {
				var msg events.Message
				if err := conn.ReadJSON(&msg); err != nil {
					if websocket.IsCloseError(err, websocket.CloseGoingAway) {
						return
					}
					closed.Add(1)
					return
				}
				if msg.Type == events.TypeActivityBroadcast {
					activity.Add(1)
				}
			}
		}(clients[i].conn)

		clients[i].send(events.TypeJoinRoom, events.JoinRoomEvent{RoomCode: "777777"})
	}

	for _, c := range clients {
		c.send(events.TypeUpdateActivity, events.UpdateActivityEvent{RoomCode: "777777", Username: "u", TrackID: "t1", IsPlaying: true})
	}

	// каждый отчет уходит всем, кроме автора
	require.Eventually(t, func() bool {
		return activity.Load() == members*(members-1)
	}, 10*time.Second, 20*time.Millisecond)

	assert.Zero(t, closed.Load())
}

func TestWebSocketHandler_Errors(t *testing.T) {
	url := newWSServer(t, 100)
	c := dial(t, url)

	t.Run("malformed json", func(t *testing.T) {
		require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		assert.Equal(t, events.TypeError, c.read().Type)
	})

	t.Run("unknown type", func(t *testing.T) {
		c.send("dance", nil)

		msg := c.read()
		require.Equal(t, events.TypeError, msg.Type)

		var e events.ErrorEvent
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		assert.Equal(t, "unknown message type", e.Message)
	})

	t.Run("empty room code", func(t *testing.T) {
		c.send(events.TypeJoinRoom, events.JoinRoomEvent{RoomCode: "  "})

		msg := c.read()
		require.Equal(t, events.TypeError, msg.Type)

		var e events.ErrorEvent
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		assert.Equal(t, usecase.ErrRoomCodeRequired.Error(), e.Message)
	})

	t.Run("connection survives", func(t *testing.T) {
		c.send(events.TypePing, nil)
		assert.Equal(t, events.TypePong, c.read().Type)
	})
}

func TestWebSocketHandler_RateLimit(t *testing.T) {
	url := newWSServer(t, 1)
	c := dial(t, url)

	c.send(events.TypePing, nil)
	c.send(events.TypePing, nil)

	assert.Equal(t, events.TypePong, c.read().Type)
	assert.Equal(t, events.TypeError, c.read().Type)
}

func TestDecodeRoomCode(t *testing.T) {
	code, err := decodeRoomCode(json.RawMessage(`"482913"`))
	require.NoError(t, err)
	assert.Equal(t, "482913", code)

	code, err = decodeRoomCode(json.RawMessage(`{"roomCode":"100200"}`))
	require.NoError(t, err)
	assert.Equal(t, "100200", code)

	_, err = decodeRoomCode(nil)
	assert.Error(t, err)
}
