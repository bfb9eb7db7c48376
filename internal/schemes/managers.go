package schemes

import (
	"time"

	"github.com/danmuck/exchange/internal/auth"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/danmuck/exchange/internal/protocol/schema"
	"github.com/danmuck/exchange/internal/protocol/session"
	"github.com/danmuck/exchange/internal/schemes/authenticate"
	"github.com/danmuck/exchange/internal/schemes/heartbeat"
	"github.com/danmuck/exchange/internal/schemes/submit"
	"github.com/rs/zerolog"
)

// ListenerOptions configures the passive side of every predefined exchange.
type ListenerOptions struct {
	Timeout  time.Duration
	Verifier auth.Verifier
	Accept   submit.AcceptFunc
	Store    submit.StoreFunc
	// Gate, when set, admits SUBMIT only from sources that completed
	// AUTHENTICATE on the same listener.
	Gate *authenticate.Gate
}

// NewListenerManager returns a template manager holding the passive session
// of each predefined exchange. Listeners clone it per connection.
func NewListenerManager(p *pool.Pool, reg *schema.Registry, name string, opts ListenerOptions, logger zerolog.Logger) (*session.Manager, error) {
	m := session.NewManager(p, name, logger)
	accept := opts.Accept
	if gate := opts.Gate; gate != nil {
		accept = func(source string) bool {
			return gate.Allow(source) && (opts.Accept == nil || opts.Accept(source))
		}
	}
	verifier := authenticate.NewServer(opts.Verifier, reg)
	verifier.Gate = opts.Gate
	for _, s := range []pool.Scheme{
		submit.NewServer(accept, opts.Store),
		verifier,
		&heartbeat.Responder{},
	} {
		if _, err := m.CreateSession(s, opts.Timeout); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ClientOptions configures the active side of every predefined exchange.
type ClientOptions struct {
	Timeout  time.Duration
	Job      []byte
	Username string
	Password []byte
}

// NewClientManager returns a manager holding the active session of each
// predefined exchange, addressed at the connection peer.
func NewClientManager(p *pool.Pool, name string, opts ClientOptions, logger zerolog.Logger) (*session.Manager, error) {
	m := session.NewManager(p, name, logger)
	for _, s := range []pool.Scheme{
		submit.NewClient("", opts.Job),
		authenticate.NewClient("", opts.Username, opts.Password),
		heartbeat.NewProber(""),
	} {
		if _, err := m.CreateSession(s, opts.Timeout); err != nil {
			return nil, err
		}
	}
	return m, nil
}
