package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"

	"github.com/gorilla/websocket"
)

// wsConn: одно websocket-соединение. Писать в сокет может только writeLoop,
// всё остальное идёт через очередь send.
type wsConn struct {
	id       string
	identity domain.Identity
	conn     *websocket.Conn
	log      *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	reason    error
}

func newWsConn(id string, identity domain.Identity, conn *websocket.Conn, queue int, log *slog.Logger) *wsConn {
	return &wsConn{
		id:       id,
		identity: identity,
		conn:     conn,
		log:      log,
		send:     make(chan []byte, queue),
		done:     make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Kick закрывает соединение. Повторные вызовы ничего не делают.
func (c *wsConn) Kick(reason error) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
		if reason != nil {
			c.log.Warn("ws connection dropped", slog.Any("err", reason))
		}
		_ = c.conn.Close()
	})
}

func (c *wsConn) writeLoop(pingEvery, writeWait time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Kick(errors.Join(domain.ErrTransport, err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Kick(errors.Join(domain.ErrTransport, err))
				return
			}
		case <-c.done:
			return
		}
	}
}
