package transport

import (
	"context"
	"sync"
)

type message struct {
	source string
	data   []byte
}

// MemConn is one end of an in-process connection.
type MemConn struct {
	self  string
	peer  string
	in    chan message
	out   chan message
	done  chan struct{}
	other *MemConn
	once  sync.Once
}

// Pipe returns two connected ends named a and b. Each end sees the other's
// name as its peer.
func Pipe(a, b string) (*MemConn, *MemConn) {
	ab := make(chan message, 64)
	ba := make(chan message, 64)
	left := &MemConn{self: a, peer: b, in: ba, out: ab, done: make(chan struct{})}
	right := &MemConn{self: b, peer: a, in: ab, out: ba, done: make(chan struct{})}
	left.other = right
	right.other = left
	return left, right
}

func (c *MemConn) Peer() string { return c.peer }

func (c *MemConn) Recv(ctx context.Context) (string, []byte, error) {
	select {
	case msg := <-c.in:
		return msg.source, msg.data, nil
	default:
	}
	select {
	case msg := <-c.in:
		return msg.source, msg.data, nil
	case <-c.done:
		return "", nil, ErrClosed
	case <-c.other.done:
		return "", nil, ErrClosed
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (c *MemConn) Send(destination string, data []byte) error {
	if err := checkDestination(c.peer, destination); err != nil {
		return err
	}
	msg := message{source: c.self, data: append([]byte(nil), data...)}
	select {
	case <-c.done:
		return ErrClosed
	case <-c.other.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.other.done:
		return ErrClosed
	}
}

func (c *MemConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
