package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/wire"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteWait = 5 * time.Second
	maxFrameSize     = 1 << 20
)

// WSDialer открывает живой канал /ws.
type WSDialer struct {
	url    string
	creds  Credentials
	dialer *websocket.Dialer
}

// NewWSDialer: wsURL вида ws://host:8080/ws.
func NewWSDialer(wsURL string, creds Credentials) *WSDialer {
	return &WSDialer{
		url:   wsURL,
		creds: creds,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *WSDialer) Dial(ctx context.Context) (LiveConn, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	d.creds.applyQuery(q)
	u.RawQuery = q.Encode()

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %v (status %d)", domain.ErrTransport, d.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrTransport, d.url, err)
	}
	conn.SetReadLimit(maxFrameSize)
	return &WSChannel{conn: conn}, nil
}

// WSChannel: одно websocket-соединение. Писать можно из нескольких горутин,
// читать: только из одной.
type WSChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *WSChannel) WriteFrame(ctx context.Context, frame []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// ReadFrame пропускает кадры, которые не удалось разобрать.
func (c *WSChannel) ReadFrame() (wire.Frame, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return wire.Frame{}, err
		}
		f, err := wire.Decode(data)
		if errors.Is(err, domain.ErrValidation) {
			continue
		}
		return f, err
	}
}

func (c *WSChannel) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
