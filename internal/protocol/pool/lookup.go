package pool

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/danmuck/exchange/internal/protocol/constgroup"
	"github.com/danmuck/exchange/internal/protocol/packet"
)

// SchemeInfo describes the scheme bound to one role.
type SchemeInfo struct {
	Type       reflect.Type
	Activation *State
	Activate   ActivateFunc
}

// Binding is everything a session needs to run one scheme instance.
type Binding struct {
	Protocol Protocol
	Role     Role
	Opposite Role
	// Own are the states this side sends; Incoming are the states it handles.
	Own      []State
	Incoming []State
	Handlers map[uint16]ResponseFunc
	Activate ActivateFunc
	// Activation is set for passive roles only.
	Activation *State
	// Ignore is the own-role IGNORE state used for reset packets.
	Ignore State
}

// Protocols lists registered protocols in registration order.
func (p *Pool) Protocols() []Protocol {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Protocol, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.protocols[id].protocol)
	}
	return out
}

func (p *Pool) Protocol(id uint16) (Protocol, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	slot, ok := p.protocols[id]
	if !ok {
		return Protocol{}, false
	}
	return slot.protocol, true
}

func (p *Pool) Roles(protocol uint16) ([]Role, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	slot, ok := p.protocols[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProtocol, protocol)
	}
	out := make([]Role, 0, len(slot.roles))
	for _, rs := range slot.roles {
		out = append(out, rs.role)
	}
	return out, nil
}

func (p *Pool) OppositeRole(protocol uint16, role string) (Role, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	slot, rs, err := p.lookupRole(protocol, role)
	if err != nil {
		return Role{}, err
	}
	return oppositeSlot(slot, rs).role, nil
}

func (p *Pool) States(protocol uint16, role string) ([]State, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	slot, rs, err := p.lookupRole(protocol, role)
	if err != nil {
		return nil, err
	}
	if rs.group == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrStatesMissing, slot.protocol.Name, role)
	}
	return append([]State(nil), rs.states...), nil
}

// StateOf resolves a numeric value inside the (protocol, role) scope.
func (p *Pool) StateOf(protocol uint16, role string, value uint16) (State, error) {
	states, err := p.States(protocol, role)
	if err != nil {
		return State{}, err
	}
	for _, st := range states {
		if st.Value == value {
			return st, nil
		}
	}
	return State{}, fmt.Errorf("%w: %d.%s value %d", ErrUnknownState, protocol, role, value)
}

// StateNamed resolves a state by name inside the (protocol, role) scope.
func (p *Pool) StateNamed(protocol uint16, role, name string) (State, error) {
	states, err := p.States(protocol, role)
	if err != nil {
		return State{}, err
	}
	for _, st := range states {
		if st.Name == name {
			return st, nil
		}
	}
	return State{}, fmt.Errorf("%w: %d.%s.%s", ErrUnknownState, protocol, role, name)
}

func (p *Pool) Scheme(protocol uint16, role string) (SchemeInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	slot, rs, err := p.lookupRole(protocol, role)
	if err != nil {
		return SchemeInfo{}, err
	}
	if rs.scheme == nil {
		return SchemeInfo{}, fmt.Errorf("%w: %s.%s", ErrUnknownScheme, slot.protocol.Name, role)
	}
	info := SchemeInfo{Type: rs.scheme, Activation: rs.activation}
	if rs.activate != nil {
		info.Activate = rs.activate.fn
	}
	return info, nil
}

// Response returns the handler bound to state, or nil when the slot is open.
func (p *Pool) Response(state State) (ResponseFunc, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	resp, ok := p.responses[state.key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, state)
	}
	if resp == nil {
		return nil, nil
	}
	return resp.fn, nil
}

// Activation returns the activation method of an active role.
func (p *Pool) Activation(protocol uint16, role string) (ActivateFunc, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	slot, rs, err := p.lookupRole(protocol, role)
	if err != nil {
		return nil, err
	}
	if rs.role.Kind != Active {
		return nil, fmt.Errorf("%w: %s.%s is %s", ErrActivationKind, slot.protocol.Name, role, rs.role.Kind)
	}
	if rs.activate == nil {
		return nil, fmt.Errorf("%w: %s.%s has no activation method", ErrInvalidActivation, slot.protocol.Name, role)
	}
	return rs.activate.fn, nil
}

// RevertScheme finds the (protocol, role) that the concrete type of s plays.
func (p *Pool) RevertScheme(s Scheme) (Revert, error) {
	if s == nil {
		return Revert{}, fmt.Errorf("%w: nil scheme", ErrUnknownScheme)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	rv, ok := p.schemes[reflect.TypeOf(s)]
	if !ok {
		return Revert{}, fmt.Errorf("%w: %T", ErrUnknownScheme, s)
	}
	return rv, nil
}

// RevertStates finds the (protocol, role) a state group is bound to.
func (p *Pool) RevertStates(group *constgroup.Group) (Revert, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rv, ok := p.groups[group]
	if !ok {
		return Revert{}, fmt.Errorf("%w: group %s", ErrStatesMissing, group.Name())
	}
	return rv, nil
}

func (p *Pool) RevertState(state State) (Revert, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.responses[state.key()]; !ok {
		return Revert{}, fmt.Errorf("%w: %s", ErrUnknownState, state)
	}
	slot := p.protocols[state.Protocol]
	for _, rs := range slot.roles {
		if rs.role.Name == state.Role {
			return Revert{Protocol: slot.protocol, Role: rs.role}, nil
		}
	}
	return Revert{}, fmt.Errorf("%w: %s", ErrUnknownRole, state)
}

// Binding resolves s to the handler table and activation wiring of its role.
func (p *Pool) Binding(s Scheme) (Binding, error) {
	rv, err := p.RevertScheme(s)
	if err != nil {
		return Binding{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	slot, rs, err := p.lookupRole(rv.Protocol.ID, rv.Role.Name)
	if err != nil {
		return Binding{}, err
	}
	opposite := oppositeSlot(slot, rs)
	b := Binding{
		Protocol:   slot.protocol,
		Role:       rs.role,
		Opposite:   opposite.role,
		Own:        append([]State(nil), rs.states...),
		Incoming:   append([]State(nil), opposite.states...),
		Handlers:   make(map[uint16]ResponseFunc, len(opposite.states)),
		Activation: rs.activation,
	}
	if rs.activate != nil {
		b.Activate = rs.activate.fn
	}
	for _, st := range opposite.states {
		if resp := p.responses[st.key()]; resp != nil && resp.scheme == rs.scheme {
			b.Handlers[st.Value] = resp.fn
		}
	}
	for _, st := range rs.states {
		if st.Name == IgnoreState {
			b.Ignore = st
		}
	}
	return b, nil
}

// Catalog builds a packet name catalog. The active role maps to the client
// side and the passive role to the server side.
func (p *Pool) Catalog() (*packet.Catalog, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := packet.NewCatalog()
	for _, id := range p.order {
		slot := p.protocols[id]
		var client, server *constgroup.Group
		for _, rs := range slot.roles {
			switch rs.role.Kind {
			case Active:
				client = rs.group
			case Passive:
				server = rs.group
			}
		}
		if client == nil || server == nil {
			continue
		}
		if err := c.AddScheme(id, slot.protocol.Name, client, server); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type RoleInfo struct {
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	States     []string `json:"states"`
	Scheme     string   `json:"scheme,omitempty"`
	Activation string   `json:"activation,omitempty"`
}

type ProtocolInfo struct {
	ID       uint16     `json:"id"`
	Name     string     `json:"name"`
	Internal bool       `json:"internal"`
	Roles    []RoleInfo `json:"roles"`
}

// Describe lists the registry ordered by protocol id.
func (p *Pool) Describe() []ProtocolInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ProtocolInfo, 0, len(p.protocols))
	for _, slot := range p.protocols {
		info := ProtocolInfo{
			ID:       slot.protocol.ID,
			Name:     slot.protocol.Name,
			Internal: slot.protocol.Internal,
			Roles:    make([]RoleInfo, 0, len(slot.roles)),
		}
		for _, rs := range slot.roles {
			ri := RoleInfo{Name: rs.role.Name, Kind: rs.role.Kind.String(), States: []string{}}
			for _, st := range rs.states {
				ri.States = append(ri.States, st.Name)
			}
			if rs.scheme != nil {
				ri.Scheme = rs.scheme.String()
			}
			if rs.activation != nil {
				ri.Activation = rs.activation.Name
			}
			info.Roles = append(info.Roles, ri)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
