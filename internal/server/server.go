// Package server runs exchange listeners and clients on top of the
// transport and responser packages, plus the admin HTTP surface.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/exchange/internal/jobstore"
	"github.com/danmuck/exchange/internal/logging"
	"github.com/danmuck/exchange/internal/observability"
	"github.com/danmuck/exchange/internal/protocol/session"
	"github.com/danmuck/exchange/internal/responser"
	"github.com/danmuck/exchange/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ServiceConfig configures a listening node.
type ServiceConfig struct {
	NodeID             string
	ListenAddr         string
	AdminListenAddr    string
	CORSOrigins        []string
	SessionTimeout     time.Duration
	RateLimitPerSecond uint64
	Transport          transport.Config
	// Jobs backs the /jobs admin route when set.
	Jobs jobstore.Store
	// OnDisconnect runs with the peer id after a served connection closes.
	OnDisconnect func(peer string)
	// HeartbeatInterval runs the local HEARTBEAT exchange against each served
	// connection. Zero disables it.
	HeartbeatInterval time.Duration
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:             "exchange.local",
		ListenAddr:         ":9400",
		AdminListenAddr:    "127.0.0.1:9401",
		SessionTimeout:     10 * time.Second,
		RateLimitPerSecond: 100,
		Transport:          transport.DefaultConfig(),
	}
}

// ConnInfo describes one served connection.
type ConnInfo struct {
	Peer     string                `json:"peer"`
	Remote   string                `json:"remote,omitempty"`
	Opened   time.Time             `json:"opened"`
	Sessions []session.SessionInfo `json:"sessions"`
	// Heartbeats is the last echoed heartbeat sequence.
	Heartbeats    uint32    `json:"heartbeats,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}

type served struct {
	conn    transport.Conn
	remote  string
	opened  time.Time
	manager *session.Manager

	beats    uint32
	lastBeat time.Time
}

// Service accepts connections and serves each with a clone of the template
// manager.
type Service struct {
	cfg      ServiceConfig
	template *session.Manager
	logger   zerolog.Logger
	router   *gin.Engine
	data     *gin.Engine
	appeared time.Time
	ready    atomic.Bool

	connsMu sync.Mutex
	conns   map[string]*served
	wg      sync.WaitGroup
}

func NewService(cfg ServiceConfig, template *session.Manager, logger zerolog.Logger) *Service {
	def := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = def.NodeID
	}
	if cfg.Transport.Kind == "" {
		cfg.Transport = def.Transport
	}
	observability.RegisterMetrics()
	s := &Service{
		cfg:      cfg,
		template: template,
		logger:   logger.With().Str("node", cfg.NodeID).Logger(),
		appeared: time.Now(),
		conns:    make(map[string]*served),
	}
	s.router = s.newRouter()
	s.RegisterRoutes()
	s.data = s.newDataRouter()
	return s
}

// newDataRouter serves the public websocket listener. It carries the
// upgrade route only; admin routes stay on the admin address.
func (s *Service) newDataRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.logger))
	r.GET(s.wsPath(), s.handleWS)
	return r
}

func (s *Service) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.NodeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	return r
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

func (s *Service) Config() ServiceConfig { return s.cfg }

func (s *Service) HTTPRouter() *gin.Engine { return s.router }

// DataRouter is the handler behind a websocket data listener.
func (s *Service) DataRouter() *gin.Engine { return s.data }

// Ready reports whether the listener is accepting.
func (s *Service) Ready() bool { return s.ready.Load() }

// Run listens on cfg.ListenAddr (and the admin address when set) until ctx
// ends.
func (s *Service) Run(ctx context.Context) error {
	ln, err := transport.Listen(s.cfg.ListenAddr, s.cfg.Transport)
	if err != nil {
		return err
	}
	s.logger.Info().Str("scope", logging.ScopeUser).
		Str("addr", ln.Addr().String()).
		Str("transport", string(transport.NormalizeKind(s.cfg.Transport.Kind))).
		Msg("listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.serveHTTP(ctx, addr, nil, s.router)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()
	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			return err
		}
		return <-serveErr
	}
}

func (s *Service) serveHTTP(ctx context.Context, addr string, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	var err error
	if ln != nil {
		err = srv.Serve(ln)
	} else {
		s.logger.Info().Str("scope", logging.ScopeUser).Str("addr", addr).Msg("admin listening")
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts on ln until ctx ends. TCP listeners carry framed streams;
// websocket listeners serve the data router so the upgrade route handles them.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.ready.Store(true)
	defer s.ready.Store(false)
	defer s.wg.Wait()

	go func() {
		<-ctx.Done()
		s.closeAll()
		_ = ln.Close()
	}()
	if transport.NormalizeKind(s.cfg.Transport.Kind) == transport.KindWebSocket {
		return s.serveHTTP(ctx, "", ln, s.data)
	}

	defer ln.Close()
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		conn := transport.NewStreamConn(raw, "", s.cfg.Transport)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn, raw.RemoteAddr().String())
		}()
	}
}

// handleConn serves one connection until it closes.
func (s *Service) handleConn(ctx context.Context, conn transport.Conn, remote string) {
	defer conn.Close()
	manager := s.template.Clone()
	r, err := responser.New(conn, manager, responser.Config{
		Node:               s.cfg.NodeID,
		RateLimitPerSecond: s.cfg.RateLimitPerSecond,
	}, s.logger)
	if err != nil {
		s.logger.Error().Str("scope", logging.ScopeDev).Err(err).Msg("responser")
		return
	}

	s.track(conn, remote, manager)
	defer s.untrack(conn)
	if s.cfg.OnDisconnect != nil {
		defer s.cfg.OnDisconnect(conn.Peer())
	}
	observability.ConnectionOpened(s.cfg.NodeID)
	defer observability.ConnectionClosed(s.cfg.NodeID)
	s.logger.Info().Str("scope", logging.ScopeUser).Str("peer", conn.Peer()).Str("remote", remote).Msg("client connected")
	defer s.logger.Info().Str("scope", logging.ScopeUser).Str("peer", conn.Peer()).Msg("client disconnected")

	if interval := s.cfg.HeartbeatInterval; interval > 0 {
		monitorCtx, stop := context.WithCancel(ctx)
		defer stop()
		go s.monitor(monitorCtx, conn, r, interval)
	}

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Str("scope", logging.ScopeDev).Str("peer", conn.Peer()).Err(err).Msg("connection ended")
	}
}

func (s *Service) track(conn transport.Conn, remote string, m *session.Manager) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn.Peer()] = &served{conn: conn, remote: remote, opened: time.Now(), manager: m}
}

func (s *Service) untrack(conn transport.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn.Peer())
}

func (s *Service) closeAll() {
	s.connsMu.Lock()
	conns := make([]transport.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c.conn)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Connections snapshots every served connection, oldest first.
func (s *Service) Connections() []ConnInfo {
	s.connsMu.Lock()
	out := make([]ConnInfo, 0, len(s.conns))
	for peer, c := range s.conns {
		out = append(out, ConnInfo{
			Peer:          peer,
			Remote:        c.remote,
			Opened:        c.opened,
			Sessions:      c.manager.Snapshot(),
			Heartbeats:    c.beats,
			LastHeartbeat: c.lastBeat,
		})
	}
	s.connsMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Opened.Before(out[j].Opened) })
	return out
}
