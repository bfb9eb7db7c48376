package pool

import (
	"errors"
	"testing"

	"github.com/danmuck/exchange/internal/protocol/constgroup"
	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/testutil/testlog"
)

type pinger struct{}

func (s *pinger) Begin()        {}
func (s *pinger) Cancel()       {}
func (s *pinger) Clone() Scheme { return &pinger{} }

type ponger struct{}

func (s *ponger) Begin()        {}
func (s *ponger) Cancel()       {}
func (s *ponger) Clone() Scheme { return &ponger{} }

type fixture struct {
	pool   *Pool
	proto  Protocol
	client []State
	server []State
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	p := New()
	protos, err := p.RegisterProtocols(constgroup.MustNew("Tests", "", constgroup.Member{Name: "PING", Value: 0}))
	if err != nil {
		t.Fatalf("register protocols: %v", err)
	}
	id := protos[0].ID
	if err := p.RegisterRoles(id, Role{Name: "client", Kind: Active}, Role{Name: "server", Kind: Passive}); err != nil {
		t.Fatalf("register roles: %v", err)
	}
	client, err := p.RegisterStates(id, "client", constgroup.MustNew("PingClientStates", "",
		constgroup.Member{Name: "IGNORE", Value: 0},
		constgroup.Member{Name: "PING", Value: 1},
	))
	if err != nil {
		t.Fatalf("register client states: %v", err)
	}
	server, err := p.RegisterStates(id, "server", constgroup.MustNew("PingServerStates", "",
		constgroup.Member{Name: "IGNORE", Value: 0},
		constgroup.Member{Name: "PONG", Value: 1},
	))
	if err != nil {
		t.Fatalf("register server states: %v", err)
	}
	return fixture{pool: p, proto: protos[0], client: client, server: server}
}

func pongHandler(s *pinger, source string, in *packet.Packet) Result {
	return Finish(source, nil)
}

func pingHandler(s *ponger, source string, in *packet.Packet) Result {
	return Reply(source, packet.New(0, 1))
}

func activatePing(s *pinger, args ...any) (string, *packet.Packet) {
	return "remote", packet.New(0, 1)
}

func (f fixture) registerAll(t *testing.T) {
	t.Helper()
	f.registerAllResponses(t)
	if err := RegisterScheme(f.pool, SchemeSpec[*pinger]{Protocol: f.proto.ID, Role: "client", Activate: activatePing}); err != nil {
		t.Fatalf("register pinger: %v", err)
	}
	act := f.client[1]
	if err := RegisterScheme(f.pool, SchemeSpec[*ponger]{Protocol: f.proto.ID, Role: "server", Activation: &act}); err != nil {
		t.Fatalf("register ponger: %v", err)
	}
}

func TestRegisterCompleteSchemes(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.registerAll(t)

	rv, err := f.pool.RevertScheme(&ponger{})
	if err != nil || rv.Role.Name != "server" || rv.Protocol.Name != "PING" {
		t.Fatalf("unexpected revert rv=%+v err=%v", rv, err)
	}
	b, err := f.pool.Binding(&pinger{})
	if err != nil {
		t.Fatalf("binding: %v", err)
	}
	if len(b.Handlers) != len(f.server) || b.Activate == nil || b.Activation != nil {
		t.Fatalf("unexpected active binding: %+v", b)
	}
	if b.Ignore.Name != IgnoreState || b.Ignore.Role != "client" {
		t.Fatalf("expected client IGNORE, got %s", b.Ignore)
	}
	b, err = f.pool.Binding(&ponger{})
	if err != nil {
		t.Fatalf("binding: %v", err)
	}
	if b.Activation == nil || b.Activation.Name != "PING" || b.Activate != nil {
		t.Fatalf("unexpected passive binding: %+v", b)
	}
}

func TestIncompleteSchemeRejected(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if err := RegisterResponse(f.pool, f.server[0], pongHandler); err != nil {
		t.Fatalf("register response: %v", err)
	}
	err := RegisterScheme(f.pool, SchemeSpec[*pinger]{Protocol: f.proto.ID, Role: "client", Activate: activatePing})
	if !errors.Is(err, ErrIncompleteResponses) {
		t.Fatalf("expected ErrIncompleteResponses, got %v", err)
	}
	var inc *IncompleteError
	if !errors.As(err, &inc) || inc.State.Name != "PONG" {
		t.Fatalf("expected missing PONG, got %v", err)
	}
}

func TestResponseOwnedByOtherScheme(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if err := RegisterResponse(f.pool, f.server[0], pongHandler); err != nil {
		t.Fatalf("register response: %v", err)
	}
	other := func(s *ponger, source string, in *packet.Packet) Result { return Fail(nil) }
	if err := RegisterResponse(f.pool, f.server[1], other); err != nil {
		t.Fatalf("register response: %v", err)
	}
	err := RegisterScheme(f.pool, SchemeSpec[*pinger]{Protocol: f.proto.ID, Role: "client", Activate: activatePing})
	if !errors.Is(err, ErrIncompleteResponses) {
		t.Fatalf("expected ErrIncompleteResponses, got %v", err)
	}
}

func TestDuplicateRegistrations(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if _, err := f.pool.RegisterProtocols(constgroup.MustNew("Again", "", constgroup.Member{Name: "OTHER", Value: 0})); !errors.Is(err, ErrProtocolExists) {
		t.Fatalf("expected ErrProtocolExists, got %v", err)
	}
	if err := f.pool.RegisterRoles(f.proto.ID, Role{Name: "a", Kind: Active}, Role{Name: "b", Kind: Passive}); !errors.Is(err, ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists, got %v", err)
	}
	again := constgroup.MustNew("More", "", constgroup.Member{Name: "IGNORE", Value: 0})
	if _, err := f.pool.RegisterStates(f.proto.ID, "client", again); !errors.Is(err, ErrStatesExist) {
		t.Fatalf("expected ErrStatesExist, got %v", err)
	}
	if err := RegisterResponse(f.pool, f.server[0], pongHandler); err != nil {
		t.Fatalf("register response: %v", err)
	}
	if err := RegisterResponse(f.pool, f.server[0], pongHandler); !errors.Is(err, ErrResponseExists) {
		t.Fatalf("expected ErrResponseExists, got %v", err)
	}
	f2 := newFixture(t)
	f2.registerAll(t)
	if err := RegisterScheme(f2.pool, SchemeSpec[*pinger]{Protocol: f2.proto.ID, Role: "client", Activate: activatePing}); !errors.Is(err, ErrSchemeExists) {
		t.Fatalf("expected ErrSchemeExists, got %v", err)
	}
}

func TestRoleValidation(t *testing.T) {
	testlog.Start(t)
	p := New()
	if err := p.RegisterRoles(7, Role{Name: "a", Kind: Active}, Role{Name: "b", Kind: Passive}); !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
	if _, err := p.RegisterProtocols(constgroup.MustNew("P", "", constgroup.Member{Name: "X", Value: 7})); err != nil {
		t.Fatalf("register protocols: %v", err)
	}
	if err := p.RegisterRoles(7, Role{Name: "a", Kind: Active}); !errors.Is(err, ErrRoleCount) {
		t.Fatalf("expected ErrRoleCount, got %v", err)
	}
	if err := p.RegisterRoles(7, Role{Name: "a", Kind: Active}, Role{Name: "b", Kind: Active}); !errors.Is(err, ErrRoleKind) {
		t.Fatalf("expected ErrRoleKind, got %v", err)
	}
	if err := p.RegisterRoles(7, Role{Name: "a", Kind: Active}, Role{Name: "b"}); !errors.Is(err, ErrRoleKind) {
		t.Fatalf("expected ErrRoleKind for unknown kind, got %v", err)
	}
	if err := p.RegisterRoles(7, Role{Name: "a", Kind: Active}, Role{Name: "a", Kind: Passive}); !errors.Is(err, ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists, got %v", err)
	}
}

func TestStatesRequireIgnore(t *testing.T) {
	testlog.Start(t)
	p := New()
	if _, err := p.RegisterProtocols(constgroup.MustNew("P", "", constgroup.Member{Name: "X", Value: 1})); err != nil {
		t.Fatalf("register protocols: %v", err)
	}
	if err := p.RegisterRoles(1, Role{Name: "a", Kind: Active}, Role{Name: "b", Kind: Passive}); err != nil {
		t.Fatalf("register roles: %v", err)
	}
	noIgnore := constgroup.MustNew("S", "", constgroup.Member{Name: "REQUEST", Value: 1})
	if _, err := p.RegisterStates(1, "a", noIgnore); !errors.Is(err, ErrMissingIgnore) {
		t.Fatalf("expected ErrMissingIgnore, got %v", err)
	}
	if _, err := p.RegisterStates(1, "c", noIgnore); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if err := RegisterResponse(p, State{Protocol: 1, Role: "a", Value: 5}, pongHandler); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState, got %v", err)
	}
}

func TestSameValueDifferentScopes(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if f.client[1].Value != f.server[1].Value || f.client[1] == f.server[1] {
		t.Fatalf("expected distinct states with equal values")
	}
	if err := RegisterResponse(f.pool, f.client[1], pingHandler); err != nil {
		t.Fatalf("register client response: %v", err)
	}
	if err := RegisterResponse(f.pool, f.server[1], pongHandler); err != nil {
		t.Fatalf("register server response with same value: %v", err)
	}
}

func TestActivationValidation(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.registerAllResponses(t)

	wrong := f.server[1]
	if err := RegisterScheme(f.pool, SchemeSpec[*ponger]{Protocol: f.proto.ID, Role: "server", Activation: &wrong}); !errors.Is(err, ErrInvalidActivation) {
		t.Fatalf("expected ErrInvalidActivation for own-role state, got %v", err)
	}
	if err := RegisterScheme(f.pool, SchemeSpec[*ponger]{Protocol: f.proto.ID, Role: "server"}); !errors.Is(err, ErrInvalidActivation) {
		t.Fatalf("expected ErrInvalidActivation for missing state, got %v", err)
	}
	if err := RegisterScheme(f.pool, SchemeSpec[*pinger]{Protocol: f.proto.ID, Role: "client"}); !errors.Is(err, ErrInvalidActivation) {
		t.Fatalf("expected ErrInvalidActivation for missing method, got %v", err)
	}
	act := f.client[1]
	if err := RegisterScheme(f.pool, SchemeSpec[*pinger]{Protocol: f.proto.ID, Role: "client", Activation: &act, Activate: activatePing}); !errors.Is(err, ErrInvalidActivation) {
		t.Fatalf("expected ErrInvalidActivation for active state, got %v", err)
	}
	passiveActivate := func(s *ponger, args ...any) (string, *packet.Packet) { return "", nil }
	if err := RegisterActivation(f.pool, f.proto.ID, "server", passiveActivate); !errors.Is(err, ErrActivationKind) {
		t.Fatalf("expected ErrActivationKind, got %v", err)
	}
}

func TestExplicitActivation(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.registerAllResponses(t)
	if err := RegisterActivation(f.pool, f.proto.ID, "client", activatePing); err != nil {
		t.Fatalf("register activation: %v", err)
	}
	if err := RegisterActivation(f.pool, f.proto.ID, "client", activatePing); !errors.Is(err, ErrActivationExists) {
		t.Fatalf("expected ErrActivationExists, got %v", err)
	}
	if err := RegisterScheme(f.pool, SchemeSpec[*pinger]{Protocol: f.proto.ID, Role: "client"}); err != nil {
		t.Fatalf("register scheme with bound activation: %v", err)
	}
	fn, err := f.pool.Activation(f.proto.ID, "client")
	if err != nil || fn == nil {
		t.Fatalf("expected activation, got err=%v", err)
	}
	dest, p := fn(&pinger{})
	if dest != "remote" || p == nil || p.State != 1 {
		t.Fatalf("unexpected activation dest=%q p=%v", dest, p)
	}
	if err := RegisterActivation(f.pool, f.proto.ID, "client", activatePing); !errors.Is(err, ErrSchemeExists) {
		t.Fatalf("expected ErrSchemeExists after scheme bound, got %v", err)
	}
}

func TestSealRejectsRegistration(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.registerAll(t)
	f.pool.Seal()
	if !f.pool.Sealed() {
		t.Fatalf("expected sealed pool")
	}
	if _, err := f.pool.RegisterProtocols(constgroup.MustNew("Late", "", constgroup.Member{Name: "LATE", Value: 9})); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
	if err := RegisterResponse(f.pool, f.server[0], pongHandler); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
	if got := f.pool.Protocols(); len(got) != 1 {
		t.Fatalf("expected lookups after seal, got %v", got)
	}
}

func TestLookupsAndDescribe(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	f.registerAll(t)

	opp, err := f.pool.OppositeRole(f.proto.ID, "client")
	if err != nil || opp.Name != "server" || opp.Kind != Passive {
		t.Fatalf("unexpected opposite role %+v err=%v", opp, err)
	}
	st, err := f.pool.StateOf(f.proto.ID, "server", 1)
	if err != nil || st.Name != "PONG" {
		t.Fatalf("unexpected state %v err=%v", st, err)
	}
	if _, err := f.pool.StateOf(f.proto.ID, "server", 9); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState, got %v", err)
	}
	rv, err := f.pool.RevertState(st)
	if err != nil || rv.Role.Name != "server" {
		t.Fatalf("unexpected revert %+v err=%v", rv, err)
	}
	if _, err := f.pool.RevertScheme(&struct{ pinger }{}); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}

	c, err := f.pool.Catalog()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if c.SchemeName(f.proto.ID) != "PING" {
		t.Fatalf("unexpected catalog name %q", c.SchemeName(f.proto.ID))
	}

	desc := f.pool.Describe()
	if len(desc) != 1 || len(desc[0].Roles) != 2 {
		t.Fatalf("unexpected describe output %+v", desc)
	}
	if desc[0].Roles[1].Activation != "PING" || desc[0].Roles[0].Scheme == "" {
		t.Fatalf("unexpected role info %+v", desc[0].Roles)
	}
}

func (f fixture) registerAllResponses(t *testing.T) {
	t.Helper()
	for _, st := range f.server {
		if err := RegisterResponse(f.pool, st, pongHandler); err != nil {
			t.Fatalf("register response %s: %v", st, err)
		}
	}
	for _, st := range f.client {
		if err := RegisterResponse(f.pool, st, pingHandler); err != nil {
			t.Fatalf("register response %s: %v", st, err)
		}
	}
}
