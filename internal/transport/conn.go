// Package transport moves encoded packets between two endpoints. Every
// connection names its peer with an opaque id; that id is the source of
// everything received and the only valid destination for Send.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
)

var (
	ErrClosed             = errors.New("transport: connection closed")
	ErrUnknownDestination = errors.New("transport: unknown destination")
)

// Conn carries whole encoded packets.
type Conn interface {
	// Peer is the opaque name of the remote endpoint.
	Peer() string
	// Recv blocks for the next packet. It returns ErrClosed once the
	// connection is gone.
	Recv(ctx context.Context) (source string, data []byte, err error)
	Send(destination string, data []byte) error
	Close() error
}

// NewPeerID returns a fresh opaque connection name.
func NewPeerID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

func checkDestination(peer, destination string) error {
	if destination != "" && destination != peer {
		return fmt.Errorf("%w: %q (peer is %q)", ErrUnknownDestination, destination, peer)
	}
	return nil
}

// closedErr folds the many ways a socket reports shutdown into ErrClosed.
func closedErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
