package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/danmuck/exchange/internal/protocol/frame"
)

// StreamConn frames packets over a byte stream such as TCP or TLS.
type StreamConn struct {
	peer   string
	conn   net.Conn
	reader *bufio.Reader
	limits frame.Limits
	cfg    Config

	rmu sync.Mutex
	wmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func NewStreamConn(conn net.Conn, peer string, cfg Config) *StreamConn {
	if peer == "" {
		peer = NewPeerID("tcp")
	}
	limits := frame.DefaultLimits()
	if cfg.MaxPayloadBytes > 0 {
		limits.MaxPayloadBytes = cfg.MaxPayloadBytes
	}
	return &StreamConn{
		peer:   peer,
		conn:   conn,
		reader: bufio.NewReader(conn),
		limits: limits,
		cfg:    cfg,
	}
}

func (c *StreamConn) Peer() string { return c.peer }

func (c *StreamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *StreamConn) Recv(ctx context.Context) (string, []byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	body, err := frame.Read(c.reader, c.limits)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", nil, err
		}
		return "", nil, closedErr(err)
	}
	return c.peer, body, nil
}

func (c *StreamConn) Send(destination string, data []byte) error {
	if err := checkDestination(c.peer, destination); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return closedErr(frame.Write(c.conn, data, c.limits))
}

func (c *StreamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
