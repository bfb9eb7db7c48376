// Package constgroup provides named groups of integer constants used as the
// vocabulary for protocol identifiers and message states.
package constgroup

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// Unknown is returned by NameOf for values outside the group.
const Unknown = "Unknown"

const (
	externalFirst uint16 = 0
	internalFirst uint16 = 99
)

var (
	ErrEmptyGroup        = errors.New("constgroup: group has no members")
	ErrInvalidName       = errors.New("constgroup: invalid constant name")
	ErrDuplicateName     = errors.New("constgroup: duplicate constant name")
	ErrDuplicateValue    = errors.New("constgroup: duplicate constant value")
	ErrExternalNumbering = errors.New("constgroup: external schemes must start at 0 and increase by 1")
	ErrInternalNumbering = errors.New("constgroup: internal schemes must start at 99 and decrease by 1")
)

// Numbering records which scheme numbering rule a group was built under.
type Numbering int

const (
	NumberingNone Numbering = iota
	NumberingExternal
	NumberingInternal
)

// Member is one named constant.
type Member struct {
	Name  string
	Value uint16
}

// Group is an immutable set of named constants.
type Group struct {
	name      string
	prefix    string
	byName    map[string]uint16
	byValue   map[uint16]string
	members   []Member
	numbering Numbering
}

// New builds a group. Every name must be upper case (A-Z and '_') and start
// with prefix when one is given.
func New(name, prefix string, members ...Member) (*Group, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyGroup, name)
	}
	pattern, err := regexp.Compile("^" + regexp.QuoteMeta(prefix) + "[A-Z_]+$")
	if err != nil {
		return nil, err
	}
	g := &Group{
		name:    name,
		prefix:  prefix,
		byName:  make(map[string]uint16, len(members)),
		byValue: make(map[uint16]string, len(members)),
		members: make([]Member, 0, len(members)),
	}
	for _, m := range members {
		if !pattern.MatchString(m.Name) {
			return nil, fmt.Errorf("%w: %s.%s", ErrInvalidName, name, m.Name)
		}
		if _, ok := g.byName[m.Name]; ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateName, name, m.Name)
		}
		if other, ok := g.byValue[m.Value]; ok {
			return nil, fmt.Errorf("%w: %s.%s and %s.%s = %d", ErrDuplicateValue, name, other, name, m.Name, m.Value)
		}
		g.byName[m.Name] = m.Value
		g.byValue[m.Value] = m.Name
		g.members = append(g.members, m)
	}
	sort.Slice(g.members, func(i, j int) bool {
		return g.members[i].Value < g.members[j].Value
	})
	return g, nil
}

// MustNew is New for package-level declarations; it panics on error.
func MustNew(name, prefix string, members ...Member) *Group {
	g, err := New(name, prefix, members...)
	if err != nil {
		panic(err)
	}
	return g
}

// NewExternalSchemes builds a group of application scheme ids numbered 0, 1, 2, ...
func NewExternalSchemes(name string, members ...Member) (*Group, error) {
	g, err := New(name, "", members...)
	if err != nil {
		return nil, err
	}
	for i, m := range g.members {
		if int(m.Value) != int(externalFirst)+i {
			return nil, fmt.Errorf("%w: %s.%s = %d", ErrExternalNumbering, name, m.Name, m.Value)
		}
	}
	g.numbering = NumberingExternal
	return g, nil
}

// NewInternalSchemes builds a group of infrastructure scheme ids numbered 99, 98, 97, ...
func NewInternalSchemes(name string, members ...Member) (*Group, error) {
	g, err := New(name, "", members...)
	if err != nil {
		return nil, err
	}
	n := len(g.members)
	for i := n - 1; i >= 0; i-- {
		want := int(internalFirst) - (n - 1 - i)
		if int(g.members[i].Value) != want {
			return nil, fmt.Errorf("%w: %s.%s = %d", ErrInternalNumbering, name, g.members[i].Name, g.members[i].Value)
		}
	}
	g.numbering = NumberingInternal
	return g, nil
}

// Numbering reports whether g holds external scheme ids, internal scheme ids,
// or plain constants.
func (g *Group) Numbering() Numbering {
	return g.numbering
}

func (g *Group) Name() string {
	return g.name
}

func (g *Group) Prefix() string {
	return g.prefix
}

func (g *Group) Len() int {
	return len(g.members)
}

func (g *Group) Contains(v uint16) bool {
	_, ok := g.byValue[v]
	return ok
}

// NameOf returns the constant name for v, or Unknown.
func (g *Group) NameOf(v uint16) string {
	if name, ok := g.byValue[v]; ok {
		return name
	}
	return Unknown
}

func (g *Group) Value(name string) (uint16, bool) {
	v, ok := g.byName[name]
	return v, ok
}

// Members returns a copy of the members ordered by value.
func (g *Group) Members() []Member {
	out := make([]Member, len(g.members))
	copy(out, g.members)
	return out
}

func (g *Group) String() string {
	return g.name
}
