package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/exchange/internal/logging"
	"github.com/danmuck/exchange/internal/observability"
	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/rs/zerolog"
)

var (
	ErrSessionExists  = errors.New("session: protocol already has a session")
	ErrUnknownSession = errors.New("session: protocol has no session")
)

// HookEvent is passed to hooks on every session transition.
type HookEvent struct {
	Kind     EventKind
	Manager  *Manager
	Protocol pool.Protocol
	Role     pool.Role
	Session  *Session
}

// HookFunc observes session transitions. Extra arguments are bound by closure.
type HookFunc func(HookEvent)

// Manager owns at most one session per protocol and routes packets to them.
type Manager struct {
	mu       sync.RWMutex
	pool     *pool.Pool
	name     string
	node     string
	logger   zerolog.Logger
	sessions map[uint16]*Session
	hooks    map[EventKind][]HookFunc
	clones   int
}

func NewManager(p *pool.Pool, name string, logger zerolog.Logger) *Manager {
	return &Manager{
		pool:     p,
		name:     name,
		node:     name,
		logger:   logger.With().Str("manager", name).Logger(),
		sessions: make(map[uint16]*Session),
		hooks:    make(map[EventKind][]HookFunc),
	}
}

func (m *Manager) Name() string { return m.name }

func (m *Manager) Pool() *pool.Pool { return m.pool }

// CreateSession binds scheme to a new session. The session is active or
// passive according to the role its type is registered under.
func (m *Manager) CreateSession(scheme pool.Scheme, timeout time.Duration) (*Session, error) {
	rv, err := m.pool.RevertScheme(scheme)
	if err != nil {
		m.logger.Error().Str("scope", logging.ScopeDev).Err(err).Msg("create session")
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[rv.Protocol.ID]; ok {
		err := fmt.Errorf("%w: %s in %s", ErrSessionExists, rv.Protocol.Name, m.name)
		m.logger.Error().Str("scope", logging.ScopeDev).Err(err).Msg("create session")
		return nil, err
	}
	name := rv.Protocol.Name
	if m.name != "" {
		name = fmt.Sprintf("%s(%s)", m.name, rv.Protocol.Name)
	}
	s, err := New(m.pool, scheme, timeout, name, m.logger)
	if err != nil {
		return nil, err
	}
	m.attachLocked(s)
	m.logger.Debug().Str("scope", logging.ScopeDev).
		Str("protocol", rv.Protocol.Name).
		Str("role", rv.Role.Name).
		Str("kind", rv.Role.Kind.String()).
		Msg("session created")
	return s, nil
}

func (m *Manager) attachLocked(s *Session) {
	m.sessions[s.Protocol().ID] = s
	s.listen(m.dispatch)
}

func (m *Manager) dispatch(s *Session, kind EventKind) {
	m.mu.RLock()
	hooks := append([]HookFunc(nil), m.hooks[kind]...)
	m.mu.RUnlock()

	observability.RecordSessionEvent(m.node, s.Protocol().Name, kind.String())
	ev := HookEvent{Kind: kind, Manager: m, Protocol: s.Protocol(), Role: s.Role(), Session: s}
	for _, fn := range hooks {
		fn(ev)
	}
}

func (m *Manager) addHook(kind EventKind, fn HookFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[kind] = append(m.hooks[kind], fn)
}

// OnBegin registers fn for every current and future session.
func (m *Manager) OnBegin(fn HookFunc) { m.addHook(EventBegin, fn) }

func (m *Manager) OnCancel(fn HookFunc) { m.addHook(EventCancel, fn) }

func (m *Manager) OnTimeout(fn HookFunc) { m.addHook(EventTimeout, fn) }

func (m *Manager) Session(protocol uint16) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %d in %s", ErrUnknownSession, protocol, m.name)
	}
	return s, nil
}

func (m *Manager) Scheme(protocol uint16) (pool.Scheme, error) {
	s, err := m.Session(protocol)
	if err != nil {
		return nil, err
	}
	return s.Scheme(), nil
}

// Protocols lists the protocol ids with a session, ascending.
func (m *Manager) Protocols() []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint16, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Activate starts the active session of protocol.
func (m *Manager) Activate(protocol uint16, args ...any) (string, *packet.Packet, error) {
	s, err := m.Session(protocol)
	if err != nil {
		m.logger.Error().Str("scope", logging.ScopeDev).Err(err).Msg("activate")
		return "", nil, err
	}
	if s.Role().Kind != pool.Active {
		err := fmt.Errorf("%w: %s", ErrNotActive, s.Name())
		m.logger.Error().Str("scope", logging.ScopeDev).Err(err).Msg("activate")
		return "", nil, err
	}
	return s.Activate(args...)
}

// Respond routes in to the session of its scheme id.
func (m *Manager) Respond(source string, in *packet.Packet) (pool.Result, error) {
	s, err := m.Session(in.Scheme)
	if err != nil {
		return pool.Result{}, err
	}
	return s.Respond(source, in)
}

func (m *Manager) Wait(ctx context.Context, protocol uint16) (pool.Result, error) {
	s, err := m.Session(protocol)
	if err != nil {
		return pool.Result{}, err
	}
	return s.Wait(ctx)
}

// Cancel stops every session in process.
func (m *Manager) Cancel() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		s.Cancel()
	}
}

// Clone copies hooks and every session into an independent manager.
func (m *Manager) Clone() *Manager {
	m.mu.Lock()
	m.clones++
	name := fmt.Sprintf("%s (clone %d)", m.name, m.clones)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	c := &Manager{
		pool:     m.pool,
		name:     name,
		node:     m.node,
		logger:   m.logger.With().Str("clone", name).Logger(),
		sessions: make(map[uint16]*Session, len(m.sessions)),
		hooks:    make(map[EventKind][]HookFunc, len(m.hooks)),
	}
	for kind, hooks := range m.hooks {
		c.hooks[kind] = append([]HookFunc(nil), hooks...)
	}
	for _, s := range m.sessions {
		c.attachLocked(s.Clone())
	}
	return c
}

// Extend merges other's hooks and clones its sessions for protocols m does
// not already handle.
func (m *Manager) Extend(other *Manager) {
	if other == nil || other == m {
		return
	}
	other.mu.RLock()
	hooks := make(map[EventKind][]HookFunc, len(other.hooks))
	for kind, fns := range other.hooks {
		hooks[kind] = append([]HookFunc(nil), fns...)
	}
	sessions := make([]*Session, 0, len(other.sessions))
	for _, s := range other.sessions {
		sessions = append(sessions, s)
	}
	other.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for kind, fns := range hooks {
		m.hooks[kind] = append(m.hooks[kind], fns...)
	}
	for _, s := range sessions {
		if _, ok := m.sessions[s.Protocol().ID]; ok {
			continue
		}
		m.attachLocked(s.Clone())
	}
}

// SessionInfo is a point-in-time view of one session.
type SessionInfo struct {
	Protocol  string `json:"protocol"`
	Role      string `json:"role"`
	Kind      string `json:"kind"`
	InProcess bool   `json:"in_process"`
	Timeout   string `json:"timeout"`
}

func (m *Manager) Snapshot() []SessionInfo {
	ids := m.Protocols()
	out := make([]SessionInfo, 0, len(ids))
	for _, id := range ids {
		s, err := m.Session(id)
		if err != nil {
			continue
		}
		out = append(out, SessionInfo{
			Protocol:  s.Protocol().Name,
			Role:      s.Role().Name,
			Kind:      s.Role().Kind.String(),
			InProcess: s.InProcess(),
			Timeout:   s.Timeout().String(),
		})
	}
	return out
}
