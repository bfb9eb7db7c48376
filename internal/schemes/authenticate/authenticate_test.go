package authenticate

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/exchange/internal/auth"
	"github.com/danmuck/exchange/internal/protocol/constgroup"
	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/danmuck/exchange/internal/protocol/schema"
	"github.com/danmuck/exchange/internal/protocol/session"
	"github.com/danmuck/exchange/internal/protocol/tlv"
	"github.com/danmuck/exchange/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

type fixture struct {
	client *session.Manager
	server *session.Manager
	srv    *Server
	reg    *schema.Registry
}

func newFixture(t *testing.T, v auth.Verifier) fixture {
	t.Helper()
	p := pool.New()
	group, err := constgroup.NewExternalSchemes("Protocols",
		constgroup.Member{Name: "SUBMIT", Value: 0},
		constgroup.Member{Name: Name, Value: ID},
	)
	if err != nil {
		t.Fatalf("protocols: %v", err)
	}
	if _, err := p.RegisterProtocols(group); err != nil {
		t.Fatalf("register protocols: %v", err)
	}
	reg := schema.NewRegistry()
	if err := Register(p, reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	p.Seal()

	f := fixture{reg: reg, srv: NewServer(v, reg)}
	f.client = session.NewManager(p, "client", log.Logger)
	if _, err := f.client.CreateSession(NewClient("server", "alice", []byte("secret")), time.Second); err != nil {
		t.Fatalf("client session: %v", err)
	}
	f.server = session.NewManager(p, "server", log.Logger)
	if _, err := f.server.CreateSession(f.srv, time.Second); err != nil {
		t.Fatalf("server session: %v", err)
	}
	return f
}

func (f fixture) exchange(t *testing.T, args ...any) (pool.Result, pool.Result) {
	t.Helper()
	_, req, err := f.client.Activate(ID, args...)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	reply, err := f.server.Respond("client", req)
	if err != nil {
		t.Fatalf("server respond: %v", err)
	}
	final, err := f.client.Respond("server", reply.Packet)
	if err != nil {
		t.Fatalf("client respond: %v", err)
	}
	return reply, final
}

func TestAuthenticateAccepted(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, auth.StaticCredentials{"alice": "secret"})
	reply, final := f.exchange(t)
	if reply.Packet.State != Accept || final.Err != nil {
		t.Fatalf("expected ACCEPT, got reply=%+v final=%+v", reply, final)
	}
	scheme, _ := f.client.Scheme(ID)
	if !scheme.(*Client).Authenticated() {
		t.Fatalf("expected client to be authenticated")
	}
	if users := f.srv.Authenticated(); len(users) != 1 || users[0] != "alice" {
		t.Fatalf("unexpected accepted users %v", users)
	}
}

func TestAuthenticateDenied(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, auth.StaticCredentials{"alice": "secret"})
	reply, final := f.exchange(t, "alice", []byte("wrong"))
	if reply.Packet.State != Deny || !errors.Is(reply.Err, auth.ErrUnauthorized) {
		t.Fatalf("expected DENY, got %+v", reply)
	}
	if !errors.Is(final.Err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %+v", final)
	}
}

func TestAuthenticateRejectsMalformedPayload(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, auth.StaticCredentials{"alice": "secret"})
	req := packet.New(ID, Request)
	req.SetPayload(tlv.EncodeFields(tlv.String(FieldUsername, "alice")))
	res, err := f.server.Respond("client", req)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	var verr schema.ValidationError
	if res.Packet.State != Deny || !errors.As(res.Err, &verr) || verr.FieldID != FieldPassword {
		t.Fatalf("expected DENY with missing password, got %+v", res)
	}

	req.SetPayload(tlv.EncodeFields(tlv.String(FieldUsername, "alice"), tlv.String(FieldPassword, "secret")))
	res, err = f.server.Respond("client", req)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !errors.As(res.Err, &verr) || verr.Reason != "type mismatch" {
		t.Fatalf("expected type mismatch, got %+v", res)
	}
}

func TestRegisterRecordsRequirements(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, nil)
	st := pool.State{Protocol: ID, Role: RoleClient, Value: Request, Name: "REQUEST"}
	if err := f.reg.Require(st); !errors.Is(err, schema.ErrRequirementsExist) {
		t.Fatalf("expected requirements to be registered, got %v", err)
	}
	if _, final := f.exchange(t); !errors.Is(final.Err, ErrDenied) {
		t.Fatalf("nil verifier must deny, got %+v", final)
	}
}

func TestGateFollowsExchanges(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, auth.StaticCredentials{"alice": "secret"})
	gate := NewGate()
	f.srv.Gate = gate

	if gate.Allow("client") {
		t.Fatalf("expected unknown source to be refused")
	}
	if _, final := f.exchange(t); final.Err != nil {
		t.Fatalf("expected accepted exchange, got %+v", final)
	}
	if user, ok := gate.User("client"); !ok || user != "alice" {
		t.Fatalf("expected client admitted as alice, got %q %v", user, ok)
	}
	if clone := f.srv.Clone().(*Server); clone.Gate != gate {
		t.Fatalf("expected clones to share the gate")
	}

	if _, final := f.exchange(t, "alice", []byte("wrong")); !errors.Is(final.Err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %+v", final)
	}
	if gate.Allow("client") || gate.Len() != 0 {
		t.Fatalf("expected denied login to revoke the source, got len=%d", gate.Len())
	}

	gate.Admit("other", "bob")
	gate.Forget("other")
	if gate.Allow("other") {
		t.Fatalf("expected forgotten source to be refused")
	}
}
