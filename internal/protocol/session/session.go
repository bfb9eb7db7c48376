package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/exchange/internal/logging"
	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/rs/zerolog"
)

const (
	tickDivisions = 10
	maxTick       = time.Second
)

var (
	ErrUnassignedState = errors.New("session: no handler assigned to state")
	ErrInProcess       = errors.New("session: already in process")
	ErrNotActive       = errors.New("session: activation requires an active session")
	ErrTimeout         = errors.New("session: timed out")
)

// EventKind names a session lifecycle transition.
type EventKind int

const (
	EventBegin EventKind = iota
	EventCancel
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventBegin:
		return "begin"
	case EventCancel:
		return "cancel"
	case EventTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type listener func(*Session, EventKind)

// Session runs one scheme instance through Idle -> InProcess -> Idle.
// All scheme calls happen under the session lock.
type Session struct {
	mu      sync.Mutex
	name    string
	binding pool.Binding
	scheme  pool.Scheme
	reset   *packet.Packet
	timeout time.Duration
	tick    time.Duration
	base    zerolog.Logger
	logger  zerolog.Logger

	inProcess bool
	remaining time.Duration
	stop      chan struct{}
	idle      chan struct{}
	last      pool.Result

	listeners []listener
}

// New binds scheme to a session. The scheme's concrete type must be
// registered in p.
func New(p *pool.Pool, scheme pool.Scheme, timeout time.Duration, name string, logger zerolog.Logger) (*Session, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("session: timeout must be positive, got %s", timeout)
	}
	b, err := p.Binding(scheme)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = b.Protocol.Name
	}
	s := newSession(b, scheme, timeout, name, logger)
	return s, nil
}

func newSession(b pool.Binding, scheme pool.Scheme, timeout time.Duration, name string, logger zerolog.Logger) *Session {
	tick := timeout / tickDivisions
	if tick > maxTick {
		tick = maxTick
	}
	if tick <= 0 {
		tick = timeout
	}
	idle := make(chan struct{})
	close(idle)
	return &Session{
		name:    name,
		binding: b,
		scheme:  scheme,
		reset:   packet.New(b.Protocol.ID, b.Ignore.Value),
		timeout: timeout,
		tick:    tick,
		base:    logger,
		logger: logger.With().
			Str("session", name).
			Str("protocol", b.Protocol.Name).
			Str("role", b.Role.Name).
			Logger(),
		idle: idle,
	}
}

func (s *Session) Name() string            { return s.name }
func (s *Session) Protocol() pool.Protocol { return s.binding.Protocol }
func (s *Session) Role() pool.Role         { return s.binding.Role }
func (s *Session) Timeout() time.Duration  { return s.timeout }

// Scheme returns the bound scheme instance. Callers must not mutate it while
// the session is in process.
func (s *Session) Scheme() pool.Scheme { return s.scheme }

func (s *Session) InProcess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProcess
}

// ResetPacket returns a copy of the packet sent to peers that talk out of turn.
func (s *Session) ResetPacket() *packet.Packet {
	return s.reset.Clone()
}

// Last returns the result of the most recent handler or activation.
func (s *Session) Last() pool.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Session) listen(fn listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Respond dispatches an incoming packet. A peer that sends while this side is
// idle gets the reset packet back, except for its own reset which is dropped.
func (s *Session) Respond(source string, in *packet.Packet) (pool.Result, error) {
	handler, ok := s.binding.Handlers[in.State]
	if !ok {
		err := fmt.Errorf("%w: %s state %d", ErrUnassignedState, s.binding.Opposite.Name, in.State)
		s.logger.Error().Str("scope", logging.ScopeDev).Err(err).Msg("respond")
		return pool.Result{}, err
	}

	var events []EventKind
	s.mu.Lock()
	if !s.inProcess && s.binding.Activation != nil && in.State == s.binding.Activation.Value {
		s.beginLocked()
		events = append(events, EventBegin)
	}
	if !s.inProcess {
		s.mu.Unlock()
		if s.isPeerReset(in) {
			s.logger.Debug().Str("scope", logging.ScopeDev).Str("source", source).Msg("dropped reset while idle")
			return pool.Result{}, nil
		}
		s.logger.Debug().Str("scope", logging.ScopeDev).Str("source", source).Uint16("state", in.State).Msg("out of turn, sending reset")
		return pool.Result{Destination: source, Packet: s.reset.Clone(), Reset: true, Err: pool.ErrOutOfTurn}, nil
	}

	s.remaining = s.timeout
	res := handler(s.scheme, source, in)
	if res.Reset {
		if res.Destination == "" {
			res.Destination = source
		}
		res.Packet = s.reset.Clone()
		res.Continue = false
	}
	s.last = res
	if !res.Continue {
		s.cancelLocked()
		events = append(events, EventCancel)
	}
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, events...)
	return res, nil
}

func (s *Session) isPeerReset(in *packet.Packet) bool {
	for _, st := range s.binding.Incoming {
		if st.Name == pool.IgnoreState {
			return st.Value == in.State
		}
	}
	return false
}

// Activate asks the scheme for its first packet. A nil packet means the scheme
// declined and the session stays idle.
func (s *Session) Activate(args ...any) (string, *packet.Packet, error) {
	if s.binding.Role.Kind != pool.Active || s.binding.Activate == nil {
		return "", nil, fmt.Errorf("%w: %s is %s", ErrNotActive, s.name, s.binding.Role.Kind)
	}
	s.mu.Lock()
	if s.inProcess {
		s.mu.Unlock()
		return "", nil, fmt.Errorf("%w: %s", ErrInProcess, s.name)
	}
	dest, out := s.binding.Activate(s.scheme, args...)
	if out == nil {
		s.mu.Unlock()
		s.logger.Debug().Str("scope", logging.ScopeDev).Msg("activation declined")
		return dest, nil, nil
	}
	s.beginLocked()
	s.last = pool.Result{Destination: dest, Packet: out, Continue: true}
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, EventBegin)
	return dest, out, nil
}

// Cancel returns the session to idle. It is a no-op when already idle.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.inProcess {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	listeners := s.listeners
	s.mu.Unlock()
	s.notify(listeners, EventCancel)
}

// Wait blocks until the session is idle and returns the last result.
func (s *Session) Wait(ctx context.Context) (pool.Result, error) {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return s.Last(), nil
	case <-ctx.Done():
		return pool.Result{}, ctx.Err()
	}
}

// Clone returns an idle session over a fresh scheme instance with the same
// binding and timeout. Listeners are not copied.
func (s *Session) Clone() *Session {
	s.mu.Lock()
	scheme := s.scheme.Clone()
	s.mu.Unlock()
	return newSession(s.binding, scheme, s.timeout, s.name, s.base)
}

func (s *Session) beginLocked() {
	s.inProcess = true
	s.remaining = s.timeout
	s.last = pool.Result{}
	s.stop = make(chan struct{})
	s.idle = make(chan struct{})
	s.scheme.Begin()
	go s.countdown(s.stop)
	s.logger.Debug().Str("scope", logging.ScopeDev).Dur("timeout", s.timeout).Msg("begin")
}

func (s *Session) cancelLocked() {
	s.inProcess = false
	close(s.stop)
	s.stop = nil
	s.scheme.Cancel()
	close(s.idle)
	s.logger.Debug().Str("scope", logging.ScopeDev).Msg("cancel")
}

func (s *Session) countdown(stop chan struct{}) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		if s.stop != stop {
			s.mu.Unlock()
			return
		}
		s.remaining -= s.tick
		if s.remaining > 0 {
			s.mu.Unlock()
			continue
		}
		s.last = pool.Result{Err: ErrTimeout}
		s.cancelLocked()
		listeners := s.listeners
		s.mu.Unlock()
		s.logger.Info().Str("scope", logging.ScopeUser).Msg("session timed out")
		s.notify(listeners, EventTimeout, EventCancel)
		return
	}
}

func (s *Session) notify(listeners []listener, events ...EventKind) {
	for _, ev := range events {
		for _, fn := range listeners {
			fn(s, ev)
		}
	}
}
