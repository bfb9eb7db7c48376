// Package pool is the start-up registry of protocols, roles, states and
// schemes. Every registration validates the exchange graph so an incomplete
// scheme is rejected before any connection is accepted.
package pool

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/danmuck/exchange/internal/protocol/constgroup"
	"github.com/danmuck/exchange/internal/protocol/packet"
)

type response struct {
	scheme reflect.Type
	fn     ResponseFunc
}

type activation struct {
	scheme reflect.Type
	fn     ActivateFunc
}

type roleSlot struct {
	role       Role
	group      *constgroup.Group
	states     []State
	scheme     reflect.Type
	activate   *activation
	activation *State
}

type protocolSlot struct {
	protocol Protocol
	roles    []*roleSlot
}

// Revert locates a scheme type or state group in the protocol graph.
type Revert struct {
	Protocol Protocol
	Role     Role
}

// Pool is write-once: every slot is bound at most once and nothing is removed.
type Pool struct {
	mu        sync.RWMutex
	sealed    bool
	protocols map[uint16]*protocolSlot
	order     []uint16
	schemes   map[reflect.Type]Revert
	groups    map[*constgroup.Group]Revert
	responses map[stateKey]*response
}

func New() *Pool {
	return &Pool{
		protocols: make(map[uint16]*protocolSlot),
		schemes:   make(map[reflect.Type]Revert),
		groups:    make(map[*constgroup.Group]Revert),
		responses: make(map[stateKey]*response),
	}
}

// Seal ends the registration phase.
func (p *Pool) Seal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sealed = true
}

func (p *Pool) Sealed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sealed
}

// RegisterProtocols adds every member of group as a protocol.
func (p *Pool) RegisterProtocols(group *constgroup.Group) ([]Protocol, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return nil, ErrSealed
	}
	members := group.Members()
	internal := group.Numbering() == constgroup.NumberingInternal
	for _, m := range members {
		if existing, ok := p.protocols[m.Value]; ok {
			return nil, fmt.Errorf("%w: %s=%d (as %s)", ErrProtocolExists, m.Name, m.Value, existing.protocol.Name)
		}
	}
	out := make([]Protocol, 0, len(members))
	for _, m := range members {
		proto := Protocol{ID: m.Value, Name: m.Name, Internal: internal}
		p.protocols[m.Value] = &protocolSlot{protocol: proto}
		p.order = append(p.order, m.Value)
		out = append(out, proto)
	}
	return out, nil
}

// RegisterRoles binds the two roles of protocol: one Active and one Passive.
func (p *Pool) RegisterRoles(protocol uint16, roles ...Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return ErrSealed
	}
	slot, ok := p.protocols[protocol]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownProtocol, protocol)
	}
	if len(roles) != 2 {
		return fmt.Errorf("%w: %s got %d", ErrRoleCount, slot.protocol.Name, len(roles))
	}
	if len(slot.roles) != 0 {
		return fmt.Errorf("%w: %s already has roles", ErrRoleExists, slot.protocol.Name)
	}
	for _, r := range roles {
		if !r.Kind.IsValid() {
			return fmt.Errorf("%w: %s.%s is %s", ErrRoleKind, slot.protocol.Name, r.Name, r.Kind)
		}
		if r.Name == "" {
			return fmt.Errorf("%w: %s has an unnamed role", ErrRoleKind, slot.protocol.Name)
		}
	}
	if roles[0].Name == roles[1].Name {
		return fmt.Errorf("%w: %s.%s", ErrRoleExists, slot.protocol.Name, roles[0].Name)
	}
	if roles[0].Kind == roles[1].Kind {
		return fmt.Errorf("%w: %s has two %s roles", ErrRoleKind, slot.protocol.Name, roles[0].Kind)
	}
	slot.roles = []*roleSlot{{role: roles[0]}, {role: roles[1]}}
	return nil
}

// RegisterStates binds the state group of (protocol, role) and opens an
// unset response slot for each of its members.
func (p *Pool) RegisterStates(protocol uint16, role string, group *constgroup.Group) ([]State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return nil, ErrSealed
	}
	slot, rs, err := p.lookupRole(protocol, role)
	if err != nil {
		return nil, err
	}
	if rs.group != nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrStatesExist, slot.protocol.Name, role)
	}
	if _, ok := group.Value(IgnoreState); !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingIgnore, group.Name())
	}
	if _, ok := p.groups[group]; ok {
		return nil, fmt.Errorf("%w: group %s is bound elsewhere", ErrStatesExist, group.Name())
	}
	members := group.Members()
	states := make([]State, 0, len(members))
	for _, m := range members {
		st := State{Protocol: protocol, Role: role, Value: m.Value, Name: m.Name}
		states = append(states, st)
		p.responses[st.key()] = nil
	}
	rs.group = group
	rs.states = states
	p.groups[group] = Revert{Protocol: slot.protocol, Role: rs.role}
	return append([]State(nil), states...), nil
}

// RegisterResponse binds h as the handler of state for scheme type S.
func RegisterResponse[S Scheme](p *Pool, state State, h func(S, string, *packet.Packet) Result) error {
	if h == nil {
		return fmt.Errorf("%w: response for %s", ErrNilHandler, state)
	}
	fn := func(s Scheme, source string, in *packet.Packet) Result {
		return h(s.(S), source, in)
	}
	return p.registerResponse(state, reflect.TypeFor[S](), fn)
}

func (p *Pool) registerResponse(state State, scheme reflect.Type, fn ResponseFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return ErrSealed
	}
	current, ok := p.responses[state.key()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, state)
	}
	if current != nil {
		return fmt.Errorf("%w: %s (by %s)", ErrResponseExists, state, current.scheme)
	}
	p.responses[state.key()] = &response{scheme: scheme, fn: fn}
	return nil
}

// RegisterActivation binds fn as the activation method of the active role of
// protocol ahead of RegisterScheme.
func RegisterActivation[S Scheme](p *Pool, protocol uint16, role string, fn func(S, ...any) (string, *packet.Packet)) error {
	if fn == nil {
		return fmt.Errorf("%w: activation for %d.%s", ErrNilHandler, protocol, role)
	}
	return p.registerActivation(protocol, role, wrapActivation(fn))
}

func wrapActivation[S Scheme](fn func(S, ...any) (string, *packet.Packet)) *activation {
	return &activation{
		scheme: reflect.TypeFor[S](),
		fn: func(s Scheme, args ...any) (string, *packet.Packet) {
			return fn(s.(S), args...)
		},
	}
}

func (p *Pool) registerActivation(protocol uint16, role string, act *activation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return ErrSealed
	}
	slot, rs, err := p.lookupRole(protocol, role)
	if err != nil {
		return err
	}
	if rs.role.Kind != Active {
		return fmt.Errorf("%w: %s.%s is %s", ErrActivationKind, slot.protocol.Name, role, rs.role.Kind)
	}
	if rs.scheme != nil {
		return fmt.Errorf("%w: %s.%s", ErrSchemeExists, slot.protocol.Name, role)
	}
	if rs.activate != nil {
		return fmt.Errorf("%w: %s.%s", ErrActivationExists, slot.protocol.Name, role)
	}
	rs.activate = act
	return nil
}

// SchemeSpec declares how scheme type S plays one role of a protocol.
type SchemeSpec[S Scheme] struct {
	Protocol uint16
	Role     string
	// Activation is the opposite-role state that starts a passive session.
	Activation *State
	// Activate starts an active session. It may instead be bound earlier
	// with RegisterActivation.
	Activate func(S, ...any) (string, *packet.Packet)
}

// RegisterScheme validates the activation wiring and response coverage of S
// and binds it to (protocol, role).
func RegisterScheme[S Scheme](p *Pool, spec SchemeSpec[S]) error {
	var act *activation
	if spec.Activate != nil {
		act = wrapActivation(spec.Activate)
	}
	return p.registerScheme(spec.Protocol, spec.Role, reflect.TypeFor[S](), spec.Activation, act)
}

func (p *Pool) registerScheme(protocol uint16, role string, scheme reflect.Type, state *State, act *activation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return ErrSealed
	}
	slot, rs, err := p.lookupRole(protocol, role)
	if err != nil {
		return err
	}
	if rs.scheme != nil {
		return fmt.Errorf("%w: %s.%s", ErrSchemeExists, slot.protocol.Name, role)
	}
	if prev, ok := p.schemes[scheme]; ok {
		return fmt.Errorf("%w: %s already plays %s.%s", ErrSchemeExists, scheme, prev.Protocol.Name, prev.Role.Name)
	}
	opposite := oppositeSlot(slot, rs)
	if rs.group == nil || opposite.group == nil {
		return fmt.Errorf("%w: %s needs states for both roles", ErrStatesMissing, slot.protocol.Name)
	}

	switch rs.role.Kind {
	case Passive:
		if act != nil {
			return fmt.Errorf("%w: passive %s.%s must not declare an activation method", ErrInvalidActivation, slot.protocol.Name, role)
		}
		if state == nil {
			return fmt.Errorf("%w: passive %s.%s must declare an activation state", ErrInvalidActivation, slot.protocol.Name, role)
		}
		if !containsState(opposite.states, *state) {
			return fmt.Errorf("%w: %s is not a state of %s.%s", ErrInvalidActivation, *state, slot.protocol.Name, opposite.role.Name)
		}
	case Active:
		if state != nil {
			return fmt.Errorf("%w: active %s.%s must not declare an activation state", ErrInvalidActivation, slot.protocol.Name, role)
		}
		if act != nil && rs.activate != nil {
			return fmt.Errorf("%w: %s.%s", ErrActivationExists, slot.protocol.Name, role)
		}
		if act == nil {
			act = rs.activate
		}
		if act == nil {
			return fmt.Errorf("%w: active %s.%s has no activation method", ErrInvalidActivation, slot.protocol.Name, role)
		}
		if act.scheme != scheme {
			return fmt.Errorf("%w: activation belongs to %s, not %s", ErrInvalidActivation, act.scheme, scheme)
		}
	}

	for _, st := range opposite.states {
		resp := p.responses[st.key()]
		if resp == nil {
			return &IncompleteError{Scheme: scheme.String(), State: st, Reason: "no response registered"}
		}
		if resp.scheme != scheme {
			return &IncompleteError{Scheme: scheme.String(), State: st, Reason: "response belongs to " + resp.scheme.String()}
		}
	}

	rs.scheme = scheme
	if rs.role.Kind == Active {
		rs.activate = act
	} else {
		st := *state
		rs.activation = &st
	}
	p.schemes[scheme] = Revert{Protocol: slot.protocol, Role: rs.role}
	return nil
}

func (p *Pool) lookupRole(protocol uint16, role string) (*protocolSlot, *roleSlot, error) {
	slot, ok := p.protocols[protocol]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownProtocol, protocol)
	}
	for _, rs := range slot.roles {
		if rs.role.Name == role {
			return slot, rs, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s.%s", ErrUnknownRole, slot.protocol.Name, role)
}

func oppositeSlot(slot *protocolSlot, rs *roleSlot) *roleSlot {
	if slot.roles[0] == rs {
		return slot.roles[1]
	}
	return slot.roles[0]
}

func containsState(states []State, st State) bool {
	for _, s := range states {
		if s.key() == st.key() {
			return true
		}
	}
	return false
}
