package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConn carries one packet per binary websocket message.
type WSConn struct {
	peer string
	conn *websocket.Conn
	cfg  Config

	rmu sync.Mutex
	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func NewWSConn(conn *websocket.Conn, peer string, cfg Config) *WSConn {
	if peer == "" {
		peer = NewPeerID("ws")
	}
	if cfg.MaxPayloadBytes > 0 {
		conn.SetReadLimit(int64(cfg.MaxPayloadBytes))
	}
	return &WSConn{peer: peer, conn: conn, cfg: cfg}
}

// NewUpgrader returns the upgrader used by the admin server's /ws route.
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

func (c *WSConn) Peer() string { return c.peer }

func (c *WSConn) Recv(ctx context.Context) (string, []byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return "", nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return "", nil, closedErr(err)
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		return c.peer, data, nil
	}
}

func (c *WSConn) Send(destination string, data []byte) error {
	if err := checkDestination(c.peer, destination); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return closedErr(err)
	}
	return nil
}

func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.wmu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
