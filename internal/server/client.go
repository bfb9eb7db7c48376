package server

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/exchange/internal/logging"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/danmuck/exchange/internal/protocol/session"
	"github.com/danmuck/exchange/internal/responser"
	"github.com/danmuck/exchange/internal/transport"
	"github.com/rs/zerolog"
)

// ClientConfig configures an outbound connection.
type ClientConfig struct {
	NodeID    string
	Addr      string
	Transport transport.Config
}

// Client owns one dialed connection and the responser serving it.
type Client struct {
	cfg       ClientConfig
	conn      transport.Conn
	responser *responser.Responser
	logger    zerolog.Logger

	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// Connect dials cfg.Addr with backoff and starts serving manager over the
// connection.
func Connect(ctx context.Context, cfg ClientConfig, manager *session.Manager, logger zerolog.Logger) (*Client, error) {
	if cfg.Transport.Kind == "" {
		cfg.Transport = transport.DefaultConfig()
	}
	logger = logger.With().Str("node", cfg.NodeID).Str("addr", cfg.Addr).Logger()
	conn, err := transport.DialRetry(ctx, cfg.Addr, cfg.Transport, logger)
	if err != nil {
		return nil, err
	}
	return Attach(conn, cfg, manager, logger)
}

// Attach serves manager over an already open connection.
func Attach(conn transport.Conn, cfg ClientConfig, manager *session.Manager, logger zerolog.Logger) (*Client, error) {
	r, err := responser.New(conn, manager, responser.Config{Node: cfg.NodeID}, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c := &Client{
		cfg:       cfg,
		conn:      conn,
		responser: r,
		logger:    logger,
		done:      make(chan struct{}),
	}
	go c.run()
	logger.Info().Str("scope", logging.ScopeUser).Str("peer", conn.Peer()).Msg("connected")
	return c, nil
}

func (c *Client) run() {
	defer close(c.done)
	err := c.responser.Run(context.Background())
	if err != nil && !errors.Is(err, transport.ErrClosed) {
		c.logger.Warn().Str("scope", logging.ScopeDev).Err(err).Msg("connection ended")
	}
	c.err = err
}

func (c *Client) Manager() *session.Manager { return c.responser.Manager() }

// Activate starts protocol and sends its first packet to the listener.
func (c *Client) Activate(protocol uint16, args ...any) error {
	return c.responser.Activate(protocol, args...)
}

// Exchange activates protocol and waits for the exchange to finish.
func (c *Client) Exchange(ctx context.Context, protocol uint16, args ...any) (pool.Result, error) {
	if err := c.Activate(protocol, args...); err != nil {
		return pool.Result{}, err
	}
	return c.Manager().Wait(ctx, protocol)
}

// Done is closed once the connection stops being served.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close closes the connection and waits for the responser to stop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		<-c.done
	})
	return err
}

// Err returns the responser's exit error once Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}
