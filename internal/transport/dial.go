package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Dial opens one connection to addr using cfg.Kind.
func Dial(ctx context.Context, addr string, cfg Config) (Conn, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.ClientTLS(addr)
	if err != nil {
		return nil, err
	}
	switch NormalizeKind(cfg.Kind) {
	case KindTCP:
		return dialStream(ctx, addr, cfg, tlsCfg)
	case KindWebSocket:
		return dialWebSocket(ctx, addr, cfg, tlsCfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, cfg.Kind)
	}
}

func dialStream(ctx context.Context, addr string, cfg Config, tlsCfg *tls.Config) (Conn, error) {
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return NewStreamConn(raw, "", cfg), nil
	}
	conn := tls.Client(raw, tlsCfg)
	hctx := ctx
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(hctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return NewStreamConn(conn, "", cfg), nil
}

func dialWebSocket(ctx context.Context, addr string, cfg Config, tlsCfg *tls.Config) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: cfg.WSPath}
	if u.Path == "" {
		u.Path = "/ws"
	}
	if tlsCfg != nil {
		u.Scheme = "wss"
	}
	d := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:  tlsCfg,
		NetDialContext:   (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
	}
	conn, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(conn, "", cfg), nil
}

// DialRetry dials until it succeeds, ctx ends, or backoff attempts run out.
func DialRetry(ctx context.Context, addr string, cfg Config, logger zerolog.Logger) (Conn, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		conn, err := Dial(ctx, addr, cfg)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if cfg.Backoff.Exhausted(attempt) {
			return nil, fmt.Errorf("transport: dial %s: %d attempts: %w", addr, attempt, err)
		}
		logger.Warn().Err(err).Str("addr", addr).Int("attempt", attempt).Msg("dial failed, backing off")
		if err := cfg.Backoff.Sleep(ctx, attempt, rng); err != nil {
			return nil, err
		}
	}
}

// Listen opens a TCP listener, wrapped in TLS when cfg enables it.
func Listen(addr string, cfg Config) (net.Listener, error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.ServerTLS()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	if tlsCfg != nil {
		return tls.NewListener(ln, tlsCfg), nil
	}
	return ln, nil
}
