package server

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/exchange/internal/logging"
	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/protocol/session"
	"github.com/danmuck/exchange/internal/responser"
	"github.com/danmuck/exchange/internal/schemes/heartbeat"
	"github.com/danmuck/exchange/internal/transport"
)

// monitorSource names the local component that checks served connections.
const monitorSource = "monitor"

// monitor runs the HEARTBEAT exchange against r every interval until ctx
// ends. Packets travel through Deliver and never touch the connection.
func (s *Service) monitor(ctx context.Context, conn transport.Conn, r *responser.Responser, interval time.Duration) {
	timeout := s.cfg.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultServiceConfig().SessionTimeout
	}
	m := session.NewManager(s.template.Pool(), fmt.Sprintf("%s monitor", conn.Peer()), s.logger)
	if _, err := m.CreateSession(heartbeat.NewProber(""), timeout); err != nil {
		s.logger.Error().Str("scope", logging.ScopeDev).Err(err).Msg("heartbeat monitor")
		return
	}
	defer m.Cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seq, err := s.beat(ctx, m, r)
		if err != nil {
			m.Cancel()
			s.logger.Warn().Str("scope", logging.ScopeDev).Str("peer", conn.Peer()).Err(err).Msg("heartbeat")
			continue
		}
		s.recordBeat(conn, seq)
	}
}

// beat runs one heartbeat round and returns the echoed sequence.
func (s *Service) beat(ctx context.Context, m *session.Manager, r *responser.Responser) (uint32, error) {
	_, out, err := m.Activate(heartbeat.ID)
	if err != nil {
		return 0, err
	}
	data, err := packet.Encode(out)
	if err != nil {
		return 0, err
	}
	reply, err := r.Deliver(ctx, monitorSource, data)
	if err != nil {
		return 0, err
	}
	if reply == nil {
		return 0, fmt.Errorf("heartbeat: no echo from %s", r.Manager().Name())
	}
	echo, err := packet.Decode(reply)
	if err != nil {
		return 0, err
	}
	res, err := m.Respond(r.Manager().Name(), echo)
	if err != nil {
		return 0, err
	}
	if res.Err != nil {
		return 0, res.Err
	}
	scheme, err := m.Scheme(heartbeat.ID)
	if err != nil {
		return 0, err
	}
	return scheme.(*heartbeat.Prober).Echoed(), nil
}

func (s *Service) recordBeat(conn transport.Conn, seq uint32) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if c, ok := s.conns[conn.Peer()]; ok {
		c.lastBeat = time.Now()
		c.beats = seq
	}
}
