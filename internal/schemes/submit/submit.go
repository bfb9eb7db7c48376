// Package submit is the job submission exchange:
//
//	CLIENT REQUEST -> SERVER ACCEPT | DENY
//	CLIENT SEND    -> SERVER SUCCESS | FAILURE
package submit

import (
	"errors"
	"sync"

	"github.com/danmuck/exchange/internal/protocol/constgroup"
	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/protocol/pool"
)

const (
	ID   uint16 = 0
	Name        = "SUBMIT"

	RoleClient = "CLIENT"
	RoleServer = "SERVER"
)

// Client states.
const (
	Ignore  uint16 = 0
	Request uint16 = 1
	Send    uint16 = 2
)

// Server states.
const (
	Accept  uint16 = 1
	Deny    uint16 = 2
	Success uint16 = 3
	Failure uint16 = 4
)

var (
	ErrDenied    = errors.New("submit: request denied")
	ErrFailed    = errors.New("submit: job rejected by server")
	ErrPeerReset = errors.New("submit: peer reset the exchange")
)

var (
	ClientStates = constgroup.MustNew("SubmitClientStates", "",
		constgroup.Member{Name: "IGNORE", Value: Ignore},
		constgroup.Member{Name: "REQUEST", Value: Request},
		constgroup.Member{Name: "SEND", Value: Send},
	)
	ServerStates = constgroup.MustNew("SubmitServerStates", "",
		constgroup.Member{Name: "IGNORE", Value: Ignore},
		constgroup.Member{Name: "ACCEPT", Value: Accept},
		constgroup.Member{Name: "DENY", Value: Deny},
		constgroup.Member{Name: "SUCCESS", Value: Success},
		constgroup.Member{Name: "FAILURE", Value: Failure},
	)

	clientPackets = packet.NewBuilder(ID, ClientStates)
	serverPackets = packet.NewBuilder(ID, ServerStates)
)

const (
	stepRequesting = "REQUESTING"
	stepSending    = "SENDING"
	stepRequested  = "REQUESTED"
)

// Client submits one job per exchange.
type Client struct {
	Destination string
	Job         []byte

	step string
}

func NewClient(destination string, job []byte) *Client {
	return &Client{Destination: destination, Job: append([]byte(nil), job...)}
}

func (c *Client) Begin()  { c.step = stepRequesting }
func (c *Client) Cancel() { c.step = "" }

func (c *Client) Step() string { return c.step }

func (c *Client) Clone() pool.Scheme {
	return NewClient(c.Destination, c.Job)
}

// activate accepts an optional []byte argument that replaces the job.
func activate(c *Client, args ...any) (string, *packet.Packet) {
	if c.step != "" {
		return "", nil
	}
	if len(args) > 0 {
		if job, ok := args[0].([]byte); ok {
			c.Job = append([]byte(nil), job...)
		}
	}
	return c.Destination, clientPackets.Must(Request)
}

func clientIgnore(c *Client, source string, in *packet.Packet) pool.Result {
	return pool.Fail(ErrPeerReset)
}

func clientAccept(c *Client, source string, in *packet.Packet) pool.Result {
	if c.step != stepRequesting {
		return pool.Reset(source)
	}
	out := clientPackets.Must(Send)
	out.SetPayload(c.Job)
	c.step = stepSending
	return pool.Reply(source, out)
}

func clientDeny(c *Client, source string, in *packet.Packet) pool.Result {
	if c.step != stepRequesting {
		return pool.Reset(source)
	}
	return pool.Fail(ErrDenied)
}

func clientSuccess(c *Client, source string, in *packet.Packet) pool.Result {
	if c.step != stepSending {
		return pool.Reset(source)
	}
	return pool.Finish("", nil)
}

func clientFailure(c *Client, source string, in *packet.Packet) pool.Result {
	if c.step != stepSending {
		return pool.Reset(source)
	}
	return pool.Fail(ErrFailed)
}

// AcceptFunc decides whether source may submit. Nil accepts everyone.
type AcceptFunc func(source string) bool

// StoreFunc receives an accepted job. A non-nil error answers FAILURE.
type StoreFunc func(source string, job []byte) error

// Server accepts jobs from clients.
type Server struct {
	Accept AcceptFunc
	Store  StoreFunc

	step string

	mu   sync.Mutex
	jobs [][]byte
}

func NewServer(accept AcceptFunc, store StoreFunc) *Server {
	return &Server{Accept: accept, Store: store}
}

func (s *Server) Begin()  { s.step = "" }
func (s *Server) Cancel() { s.step = "" }

func (s *Server) Clone() pool.Scheme {
	return NewServer(s.Accept, s.Store)
}

// Step reports the server's progress: "" when idle, REQUESTED after ACCEPT.
// Progress only changes while the owning session dispatches.
func (s *Server) Step() string { return s.step }

// Jobs returns the jobs this instance stored successfully.
func (s *Server) Jobs() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func serverIgnore(s *Server, source string, in *packet.Packet) pool.Result {
	return pool.Fail(ErrPeerReset)
}

func serverRequest(s *Server, source string, in *packet.Packet) pool.Result {
	if s.step != "" {
		return pool.Reset(source)
	}
	if s.Accept != nil && !s.Accept(source) {
		return pool.FailWith(source, serverPackets.Must(Deny), ErrDenied)
	}
	s.step = stepRequested
	return pool.Reply(source, serverPackets.Must(Accept))
}

func serverSend(s *Server, source string, in *packet.Packet) pool.Result {
	if s.step != stepRequested {
		return pool.Reset(source)
	}
	job := append([]byte(nil), in.Payload...)
	if s.Store != nil {
		if err := s.Store(source, job); err != nil {
			return pool.FailWith(source, serverPackets.Must(Failure), err)
		}
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return pool.Finish(source, serverPackets.Must(Success))
}

// Register wires both roles of the exchange into p. The protocol id must
// already be registered.
func Register(p *pool.Pool) error {
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
		Ignore:  clientIgnore,
		Accept:  clientAccept,
		Deny:    clientDeny,
		Success: clientSuccess,
		Failure: clientFailure,
	}
	for _, st := range server {
		if err := pool.RegisterResponse(p, st, clientHandlers[st.Value]); err != nil {
			return err
		}
	}
	serverHandlers := map[uint16]func(*Server, string, *packet.Packet) pool.Result{
		Ignore:  serverIgnore,
		Request: serverRequest,
		Send:    serverSend,
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
	return pool.RegisterScheme(p, pool.SchemeSpec[*Server]{
		Protocol:   ID,
		Role:       RoleServer,
		Activation: &request,
	})
}
