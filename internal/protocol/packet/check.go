package packet

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/exchange/internal/protocol/constgroup"
)

// Side selects which state group of a scheme a check applies to.
type Side string

const (
	SideClient Side = "client"
	SideServer Side = "server"
)

const (
	FieldScheme = "scheme"
	FieldState  = "state"
)

var (
	ErrSchemeExists  = errors.New("packet: scheme already in catalog")
	ErrUnknownScheme = errors.New("packet: scheme not in catalog")
	ErrUnknownSide   = errors.New("packet: unknown side")
	ErrExpectedState = errors.New("packet: expected state not in side group")
	ErrMissingName   = errors.New("packet: scheme name required")
)

// Mismatch reports the first field that differs from the expectation.
type Mismatch struct {
	Field    string
	Actual   string
	Expected string
}

func (m *Mismatch) Error() string {
	return fmt.Sprintf("packet: %s mismatch: got %s, want %s", m.Field, m.Actual, m.Expected)
}

type catalogEntry struct {
	name   string
	client *constgroup.Group
	server *constgroup.Group
}

// Catalog maps scheme ids to names and per-side state groups for Check.
type Catalog struct {
	mu      sync.RWMutex
	schemes map[uint16]catalogEntry
	names   map[string]uint16
}

func NewCatalog() *Catalog {
	return &Catalog{
		schemes: make(map[uint16]catalogEntry),
		names:   make(map[string]uint16),
	}
}

func (c *Catalog) AddScheme(scheme uint16, name string, client, server *constgroup.Group) error {
	if name == "" {
		return ErrMissingName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.schemes[scheme]; ok {
		return fmt.Errorf("%w: %d", ErrSchemeExists, scheme)
	}
	if _, ok := c.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrSchemeExists, name)
	}
	c.schemes[scheme] = catalogEntry{name: name, client: client, server: server}
	c.names[name] = scheme
	return nil
}

// SchemeName returns the registered name of scheme, or constgroup.Unknown.
func (c *Catalog) SchemeName(scheme uint16) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.schemes[scheme]; ok {
		return e.name
	}
	return constgroup.Unknown
}

// Schemes returns catalogued scheme ids in ascending order.
func (c *Catalog) Schemes() []uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint16, 0, len(c.schemes))
	for id := range c.schemes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Check decodes data and compares it with the expected scheme and state.
// A nil *Mismatch with a nil error means the packet matches.
func (c *Catalog) Check(data []byte, scheme, state uint16, side Side) (*Mismatch, error) {
	group, err := c.expect(scheme, state, side)
	if err != nil {
		return nil, err
	}
	p, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return c.compare(p, scheme, state, group), nil
}

// CheckPacket is Check for an already decoded packet.
func (c *Catalog) CheckPacket(p *Packet, scheme, state uint16, side Side) (*Mismatch, error) {
	group, err := c.expect(scheme, state, side)
	if err != nil {
		return nil, err
	}
	return c.compare(p, scheme, state, group), nil
}

func (c *Catalog) expect(scheme, state uint16, side Side) (*constgroup.Group, error) {
	c.mu.RLock()
	e, ok := c.schemes[scheme]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScheme, scheme)
	}
	var group *constgroup.Group
	switch side {
	case SideClient:
		group = e.client
	case SideServer:
		group = e.server
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSide, side)
	}
	if group == nil || !group.Contains(state) {
		return nil, fmt.Errorf("%w: %s/%s state=%d", ErrExpectedState, e.name, side, state)
	}
	return group, nil
}

func (c *Catalog) compare(p *Packet, scheme, state uint16, group *constgroup.Group) *Mismatch {
	if p.Scheme != scheme {
		return &Mismatch{
			Field:    FieldScheme,
			Actual:   c.SchemeName(p.Scheme),
			Expected: c.SchemeName(scheme),
		}
	}
	if p.State != state {
		return &Mismatch{
			Field:    FieldState,
			Actual:   group.NameOf(p.State),
			Expected: group.NameOf(state),
		}
	}
	return nil
}
