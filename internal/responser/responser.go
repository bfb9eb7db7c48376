// Package responser runs the receive/route/send loop between one transport
// connection and one session manager.
//
// External protocols are only accepted from the connection's peer. Internal
// protocols are only accepted through Deliver, from components of the same
// node.
package responser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/exchange/internal/logging"
	"github.com/danmuck/exchange/internal/observability"
	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/danmuck/exchange/internal/protocol/session"
	"github.com/danmuck/exchange/internal/transport"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
)

var (
	ErrWrongSource = errors.New("responser: protocol not accepted from this source")
	ErrRateLimited = errors.New("responser: source exceeded its packet rate")
)

type Config struct {
	// Node labels logs and metrics.
	Node string
	// RateLimitPerSecond caps packets accepted per source. Zero disables it.
	RateLimitPerSecond uint64
}

// Responser feeds packets from conn to manager and sends the replies back.
type Responser struct {
	conn    transport.Conn
	manager *session.Manager
	pool    *pool.Pool
	node    string
	logger  zerolog.Logger
	limiter limiter.Store
}

func New(conn transport.Conn, manager *session.Manager, cfg Config, logger zerolog.Logger) (*Responser, error) {
	if conn == nil || manager == nil {
		return nil, errors.New("responser: conn and manager are required")
	}
	node := cfg.Node
	if node == "" {
		node = manager.Name()
	}
	r := &Responser{
		conn:    conn,
		manager: manager,
		pool:    manager.Pool(),
		node:    node,
		logger: logger.With().
			Str("component", "responser").
			Str("peer", conn.Peer()).
			Logger(),
	}
	if cfg.RateLimitPerSecond > 0 {
		store, err := memorystore.New(&memorystore.Config{
			Tokens:   cfg.RateLimitPerSecond,
			Interval: time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("responser: limiter: %w", err)
		}
		r.limiter = store
	}
	return r, nil
}

func (r *Responser) Manager() *session.Manager { return r.manager }

func (r *Responser) Conn() transport.Conn { return r.conn }

// Run receives until the connection closes or ctx ends. A closed connection
// is a normal exit. Sessions still in process are cancelled on the way out.
func (r *Responser) Run(ctx context.Context) error {
	defer r.manager.Cancel()
	defer r.closeLimiter()
	for {
		source, data, err := r.conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				r.logger.Debug().Str("scope", logging.ScopeDev).Err(err).Msg("connection closed")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := r.handle(ctx, source, data, false); err != nil {
			r.logger.Debug().Str("scope", logging.ScopeDev).Err(err).Msg("packet not routed")
		}
	}
}

func (r *Responser) closeLimiter() {
	if r.limiter != nil {
		_ = r.limiter.Close(context.Background())
	}
}

// handle routes one encoded packet and sends any reply over the connection.
// Errors are per-packet; the loop keeps going.
func (r *Responser) handle(ctx context.Context, source string, data []byte, local bool) error {
	res, err := r.route(ctx, source, data, local)
	if err != nil || res.Packet == nil {
		return err
	}
	return r.send(res.Destination, res.Packet)
}

func (r *Responser) route(ctx context.Context, source string, data []byte, local bool) (pool.Result, error) {
	in, err := packet.Decode(data)
	if err != nil {
		r.logger.Warn().Str("scope", logging.ScopeUser).Str("source", source).Err(err).Msg("dropping undecodable input")
		observability.RecordPacket(r.node, "unknown", observability.PacketUndecodable)
		return pool.Result{}, err
	}
	name := r.protocolName(in.Scheme)
	if err := r.allow(ctx, source); err != nil {
		r.logger.Warn().Str("scope", logging.ScopeUser).Str("source", source).Msg("rate limited")
		observability.RecordPacket(r.node, name, observability.PacketRateLimited)
		return pool.Result{}, err
	}
	if err := r.checkSource(in.Scheme, source, local); err != nil {
		r.logger.Warn().Str("scope", logging.ScopeUser).Str("source", source).Str("protocol", name).Err(err).Msg("rejected packet")
		observability.RecordPacket(r.node, name, observability.PacketRejected)
		return pool.Result{}, err
	}

	res, err := r.manager.Respond(source, in)
	if err != nil {
		level := zerolog.WarnLevel
		if errors.Is(err, session.ErrUnassignedState) {
			level = zerolog.ErrorLevel
		}
		r.logger.WithLevel(level).Str("scope", logging.ScopeDev).Str("protocol", name).Err(err).Msg("respond")
		observability.RecordPacket(r.node, name, observability.PacketRejected)
		return pool.Result{}, err
	}
	if res.Reset {
		observability.RecordPacket(r.node, name, observability.PacketReset)
	} else {
		observability.RecordPacket(r.node, name, observability.PacketRouted)
	}
	return res, nil
}

func (r *Responser) allow(ctx context.Context, source string) error {
	if r.limiter == nil {
		return nil
	}
	_, _, _, ok, err := r.limiter.Take(ctx, source)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRateLimited, source)
	}
	return nil
}

func (r *Responser) checkSource(protocol uint16, source string, local bool) error {
	proto, ok := r.pool.Protocol(protocol)
	if !ok {
		// unknown ids fall through to the manager, which reports them
		return nil
	}
	switch {
	case proto.Internal && !local:
		return fmt.Errorf("%w: internal %s from remote %q", ErrWrongSource, proto.Name, source)
	case !proto.Internal && local:
		return fmt.Errorf("%w: external %s from local %q", ErrWrongSource, proto.Name, source)
	case !proto.Internal && source != r.conn.Peer():
		return fmt.Errorf("%w: external %s from %q", ErrWrongSource, proto.Name, source)
	}
	return nil
}

func (r *Responser) send(destination string, p *packet.Packet) error {
	data, err := packet.Encode(p)
	if err != nil {
		return err
	}
	if err := r.conn.Send(destination, data); err != nil {
		r.logger.Warn().Str("scope", logging.ScopeDev).Str("destination", destination).Err(err).Msg("send")
		return err
	}
	observability.RecordPacket(r.node, r.protocolName(p.Scheme), observability.PacketSent)
	return nil
}

func (r *Responser) protocolName(id uint16) string {
	if proto, ok := r.pool.Protocol(id); ok {
		return proto.Name
	}
	return "unknown"
}

// Activate starts the active session of an external protocol and sends its
// first packet to the peer. A declined activation sends nothing.
func (r *Responser) Activate(protocol uint16, args ...any) error {
	proto, ok := r.pool.Protocol(protocol)
	if !ok {
		return fmt.Errorf("%w: %d", pool.ErrUnknownProtocol, protocol)
	}
	if proto.Internal {
		return fmt.Errorf("%w: internal %s is activated locally", ErrWrongSource, proto.Name)
	}
	dest, out, err := r.manager.Activate(protocol, args...)
	if err != nil || out == nil {
		return err
	}
	if dest == "" {
		dest = r.conn.Peer()
	}
	return r.send(dest, out)
}

// ActivateLocal starts the active session of an internal protocol and
// returns its first packet for the caller to Deliver to a local peer.
func (r *Responser) ActivateLocal(protocol uint16, args ...any) (string, []byte, error) {
	proto, ok := r.pool.Protocol(protocol)
	if !ok {
		return "", nil, fmt.Errorf("%w: %d", pool.ErrUnknownProtocol, protocol)
	}
	if !proto.Internal {
		return "", nil, fmt.Errorf("%w: external %s is activated over the connection", ErrWrongSource, proto.Name)
	}
	dest, out, err := r.manager.Activate(protocol, args...)
	if err != nil || out == nil {
		return dest, nil, err
	}
	data, err := packet.Encode(out)
	return dest, data, err
}

// Deliver routes an internal packet from a local source. The encoded reply,
// if any, is returned instead of sent over the connection.
func (r *Responser) Deliver(ctx context.Context, source string, data []byte) ([]byte, error) {
	res, err := r.route(ctx, source, data, true)
	if err != nil || res.Packet == nil {
		return nil, err
	}
	return packet.Encode(res.Packet)
}
