package memory

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/qrave1/RoomSync/internal/application/constant"
	"github.com/qrave1/RoomSync/internal/application/metric"
)

const (
	defaultSendBuffer = 256
	defaultPingPeriod = 30 * time.Second
	writeWait         = 10 * time.Second
)

// WebsocketConnectionRepository интерфейс для работы с активными сессиями в памяти.
// Write не блокирует, при переполненной очереди соединение закрывается
type WebsocketConnectionRepository interface {
	Add(uuid.UUID, *websocket.Conn)
	Remove(uuid.UUID)

	Write(uuid.UUID, any)

	// CloseAll закрывает все соединения с кодом going away
	CloseAll()
}

type wsConnection struct {
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConnection) stop() {
	c.closeOnce.Do(func() { close(c.done) })
}

type wsConnectionRepository struct {
	// wsConns хранит map[member_id]*wsConnection
	wsConns map[uuid.UUID]*wsConnection

	sendBuffer int
	pingPeriod time.Duration

	mu sync.RWMutex
}

func NewWSConnectionRepository() WebsocketConnectionRepository {
	return newWSConnectionRepository(defaultSendBuffer, defaultPingPeriod)
}

func newWSConnectionRepository(sendBuffer int, pingPeriod time.Duration) *wsConnectionRepository {
	return &wsConnectionRepository{
		wsConns:    make(map[uuid.UUID]*wsConnection, 10),
		sendBuffer: sendBuffer,
		pingPeriod: pingPeriod,
	}
}

func (w *wsConnectionRepository) Add(memberID uuid.UUID, conn *websocket.Conn) {
	c := &wsConnection{
		conn: conn,
		send: make(chan []byte, w.sendBuffer),
		done: make(chan struct{}),
	}

	w.mu.Lock()
	prev, exists := w.wsConns[memberID]
	w.wsConns[memberID] = c
	w.mu.Unlock()

	if exists {
		prev.stop()
	} else {
		metric.IncrementWSActiveConnections()
	}

	go w.writeLoop(memberID, c)
}

func (w *wsConnectionRepository) Remove(memberID uuid.UUID) {
	w.mu.Lock()
	c, ok := w.wsConns[memberID]
	delete(w.wsConns, memberID)
	w.mu.Unlock()

	if !ok {
		return
	}

	c.stop()
	metric.DecrementWSActiveConnections()
}

func (w *wsConnectionRepository) Write(memberID uuid.UUID, payload any) {
	c, ok := w.getConn(memberID)
	if !ok {
		slog.Debug("write to unknown connection", slog.Any(constant.MemberID, memberID))
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal websocket payload", slog.Any(constant.MemberID, memberID), slog.Any(constant.Error, err))
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		// Медленный клиент: закрываем соединение, read loop обработчика сделает leave
		metric.IncrementWSDroppedMessages()
		slog.Warn("send buffer full, closing connection", slog.Any(constant.MemberID, memberID))

		c.stop()
		_ = c.conn.Close()
	}
}

func (w *wsConnectionRepository) CloseAll() {
	w.mu.RLock()
	conns := make([]*wsConnection, 0, len(w.wsConns))
	for _, c := range w.wsConns {
		conns = append(conns, c)
	}
	w.mu.RUnlock()

	deadline := time.Now().Add(writeWait)
	for _, c := range conns {
		c.stop()

		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			deadline,
		)
		_ = c.conn.Close()
	}
}

func (w *wsConnectionRepository) getConn(memberID uuid.UUID) (*wsConnection, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	c, ok := w.wsConns[memberID]
	return c, ok
}

// writeLoop - единственный писатель данных в сокет
func (w *wsConnectionRepository) writeLoop(memberID uuid.UUID, c *wsConnection) {
	ticker := time.NewTicker(w.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Error("write to websocket", slog.Any(constant.MemberID, memberID), slog.Any(constant.Error, err))

				c.stop()
				_ = c.conn.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Error("ping failed", slog.Any(constant.MemberID, memberID), slog.Any(constant.Error, err))

				c.stop()
				_ = c.conn.Close()
				return
			}
		}
	}
}
