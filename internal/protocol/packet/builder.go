package packet

import (
	"fmt"

	"github.com/danmuck/exchange/internal/protocol/constgroup"
)

// Builder creates packets for one scheme, restricted to one state group.
type Builder struct {
	scheme uint16
	states *constgroup.Group
}

func NewBuilder(scheme uint16, states *constgroup.Group) *Builder {
	return &Builder{scheme: scheme, states: states}
}

func (b *Builder) Scheme() uint16 {
	return b.scheme
}

// New returns an empty packet in state, which must belong to the group.
func (b *Builder) New(state uint16) (*Packet, error) {
	if !b.states.Contains(state) {
		return nil, fmt.Errorf("%w: %d not in %s", ErrStateNotInGroup, state, b.states.Name())
	}
	return New(b.scheme, state), nil
}

// Must is New for states known at compile time.
func (b *Builder) Must(state uint16) *Packet {
	p, err := b.New(state)
	if err != nil {
		panic(err)
	}
	return p
}
