// Package authenticate is the credential exchange:
//
//	CLIENT REQUEST(username, password) -> SERVER ACCEPT | DENY
//
// REQUEST carries a TLV payload; the server validates it against a schema
// registry before asking its Verifier.
package authenticate

import (
	"errors"
	"sync"

	"github.com/danmuck/exchange/internal/auth"
	"github.com/danmuck/exchange/internal/protocol/constgroup"
	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/danmuck/exchange/internal/protocol/schema"
	"github.com/danmuck/exchange/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

const (
	ID   uint16 = 1
	Name        = "AUTHENTICATE"

	RoleClient = "CLIENT"
	RoleServer = "SERVER"
)

// Client states.
const (
	Ignore  uint16 = 0
	Request uint16 = 1
)

// Server states.
const (
	Accept uint16 = 1
	Deny   uint16 = 2
)

// Payload field ids.
const (
	FieldUsername uint16 = 1
	FieldPassword uint16 = 2
)

var (
	ErrDenied    = errors.New("authenticate: credentials denied")
	ErrPeerReset = errors.New("authenticate: peer reset the exchange")
)

var (
	ClientStates = constgroup.MustNew("AuthenticateClientStates", "",
		constgroup.Member{Name: "IGNORE", Value: Ignore},
		constgroup.Member{Name: "REQUEST", Value: Request},
	)
	ServerStates = constgroup.MustNew("AuthenticateServerStates", "",
		constgroup.Member{Name: "IGNORE", Value: Ignore},
		constgroup.Member{Name: "ACCEPT", Value: Accept},
		constgroup.Member{Name: "DENY", Value: Deny},
	)

	clientPackets = packet.NewBuilder(ID, ClientStates)
	serverPackets = packet.NewBuilder(ID, ServerStates)
)

// RequestFields is the payload REQUEST must carry.
var RequestFields = []schema.Requirement{
	{ID: FieldUsername, Type: tlv.TypeString},
	{ID: FieldPassword, Type: tlv.TypeBytes},
}

// EncodeRequest builds a REQUEST payload.
func EncodeRequest(username string, password []byte) []byte {
	return tlv.EncodeFields(
		tlv.String(FieldUsername, username),
		tlv.Bytes(FieldPassword, password),
	)
}

const stepRequesting = "REQUESTING"

// Client presents one set of credentials per exchange.
type Client struct {
	Destination string
	Username    string
	Password    []byte

	step          string
	authenticated bool
	mu            sync.Mutex
}

func NewClient(destination, username string, password []byte) *Client {
	return &Client{
		Destination: destination,
		Username:    username,
		Password:    append([]byte(nil), password...),
	}
}

func (c *Client) Begin() {
	c.step = stepRequesting
	c.setAuthenticated(false)
}

func (c *Client) Cancel() { c.step = "" }

func (c *Client) Clone() pool.Scheme {
	return NewClient(c.Destination, c.Username, c.Password)
}

// Authenticated reports whether the last exchange was accepted.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Client) setAuthenticated(v bool) {
	c.mu.Lock()
	c.authenticated = v
	c.mu.Unlock()
}

// activate accepts optional (username string, password []byte) arguments
// that replace the stored credentials.
func activate(c *Client, args ...any) (string, *packet.Packet) {
	if c.step != "" {
		return "", nil
	}
	if len(args) > 0 {
		if username, ok := args[0].(string); ok {
			c.Username = username
		}
	}
	if len(args) > 1 {
		if password, ok := args[1].([]byte); ok {
			c.Password = append([]byte(nil), password...)
		}
	}
	out := clientPackets.Must(Request)
	out.SetPayload(EncodeRequest(c.Username, c.Password))
	return c.Destination, out
}

func clientIgnore(c *Client, source string, in *packet.Packet) pool.Result {
	return pool.Fail(ErrPeerReset)
}

func clientAccept(c *Client, source string, in *packet.Packet) pool.Result {
	if c.step != stepRequesting {
		return pool.Reset(source)
	}
	c.setAuthenticated(true)
	return pool.Finish("", nil)
}

func clientDeny(c *Client, source string, in *packet.Packet) pool.Result {
	if c.step != stepRequesting {
		return pool.Reset(source)
	}
	return pool.Fail(ErrDenied)
}

// Server verifies credentials presented by clients.
type Server struct {
	Verifier auth.Verifier
	Schema   *schema.Registry
	// Gate, when set, records accepted sources and forgets denied ones.
	Gate *Gate

	mu    sync.Mutex
	users []string
}

// NewServer returns a server that checks REQUEST payloads against reg and
// credentials against v. A nil verifier denies everyone.
func NewServer(v auth.Verifier, reg *schema.Registry) *Server {
	if v == nil {
		v = auth.DenyAll{}
	}
	return &Server{Verifier: v, Schema: reg}
}

func (s *Server) Begin()  {}
func (s *Server) Cancel() {}

func (s *Server) Clone() pool.Scheme {
	c := NewServer(s.Verifier, s.Schema)
	c.Gate = s.Gate
	return c
}

// Authenticated lists the usernames this instance accepted, in order.
func (s *Server) Authenticated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

func serverIgnore(s *Server, source string, in *packet.Packet) pool.Result {
	return pool.Fail(ErrPeerReset)
}

func serverRequest(s *Server, source string, in *packet.Packet) pool.Result {
	fields, err := s.decode(in)
	if err != nil {
		log.Warn().Str("source", source).Err(err).Msg("authenticate: malformed request")
		return pool.FailWith(source, serverPackets.Must(Deny), err)
	}
	username, _ := fields.String(FieldUsername)
	password, _ := fields.Bytes(FieldPassword)
	if err := s.Verifier.Verify(username, password); err != nil {
		if s.Gate != nil {
			s.Gate.Forget(source)
		}
		log.Info().Str("source", source).Str("user", username).Msg("authenticate: denied")
		return pool.FailWith(source, serverPackets.Must(Deny), errors.Join(ErrDenied, err))
	}
	s.mu.Lock()
	s.users = append(s.users, username)
	s.mu.Unlock()
	if s.Gate != nil {
		s.Gate.Admit(source, username)
	}
	return pool.Finish(source, serverPackets.Must(Accept))
}

func (s *Server) decode(in *packet.Packet) (tlv.Fields, error) {
	if s.Schema == nil {
		return tlv.DecodeFields(in.Payload)
	}
	return s.Schema.Decode(requestState(in.Scheme), in.Payload)
}

func requestState(protocol uint16) pool.State {
	return pool.State{Protocol: protocol, Role: RoleClient, Value: Request, Name: "REQUEST"}
}

// Register wires both roles of the exchange into p and records the REQUEST
// payload requirements in reg. The protocol id must already be registered.
func Register(p *pool.Pool, reg *schema.Registry) error {
	if err := p.RegisterRoles(ID,
		pool.Role{Name: RoleClient, Kind: pool.Active},
		pool.Role{Name: RoleServer, Kind: pool.Passive},
	); err != nil {
		return err
	}
	client, err := p.RegisterStates(ID, RoleClient, ClientStates)
	if err != nil {
		return err
	}
	server, err := p.RegisterStates(ID, RoleServer, ServerStates)
	if err != nil {
		return err
	}

	clientHandlers := map[uint16]func(*Client, string, *packet.Packet) pool.Result{
		Ignore: clientIgnore,
		Accept: clientAccept,
		Deny:   clientDeny,
	}
	for _, st := range server {
		if err := pool.RegisterResponse(p, st, clientHandlers[st.Value]); err != nil {
			return err
		}
	}
	serverHandlers := map[uint16]func(*Server, string, *packet.Packet) pool.Result{
		Ignore:  serverIgnore,
		Request: serverRequest,
	}
	for _, st := range client {
		if err := pool.RegisterResponse(p, st, serverHandlers[st.Value]); err != nil {
			return err
		}
	}

	if err := pool.RegisterScheme(p, pool.SchemeSpec[*Client]{
		Protocol: ID,
		Role:     RoleClient,
		Activate: activate,
	}); err != nil {
		return err
	}
	request, err := p.StateOf(ID, RoleClient, Request)
	if err != nil {
		return err
	}
	if reg != nil {
		if err := reg.Require(request, RequestFields...); err != nil {
			return err
		}
	}
	return pool.RegisterScheme(p, pool.SchemeSpec[*Server]{
		Protocol:   ID,
		Role:       RoleServer,
		Activation: &request,
	})
}
