package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrave1/RoomSync/internal/domain/events"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// errMalformed - нечитаемый кадр, сессия продолжает читать
var errMalformed = errors.New("malformed message")

// Conn - одно соединение с сервером синхронизации
type Conn interface {
	ReadMessage() (events.Message, error)
	WriteMessage(events.Message) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type wsDialer struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
}

// NewWSDialer подключается к url (ws:// или wss://)
func NewWSDialer(url string, header http.Header) Dialer {
	return &wsDialer{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn

	// gorilla допускает только одного писателя
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() (events.Message, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return events.Message{}, err
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	var msg events.Message
	if err = json.Unmarshal(raw, &msg); err != nil {
		return events.Message{}, fmt.Errorf("%w: %v", errMalformed, err)
	}

	return msg, nil
}

func (c *wsConn) WriteMessage(msg events.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return c.conn.Close()
}
