package pool

import (
	"fmt"

	"github.com/danmuck/exchange/internal/protocol/packet"
)

// IgnoreState is the reserved member every state group must declare.
const IgnoreState = "IGNORE"

// Kind is the side of a protocol a role plays.
type Kind int

const (
	KindUnknown Kind = iota
	Active
	Passive
)

func (k Kind) String() string {
	switch k {
	case Active:
		return "active"
	case Passive:
		return "passive"
	default:
		return "unknown"
	}
}

func (k Kind) IsValid() bool {
	return k == Active || k == Passive
}

// Protocol names one kind of exchange. Internal protocols only travel between
// local components and never cross the remote link.
type Protocol struct {
	ID       uint16
	Name     string
	Internal bool
}

func (p Protocol) String() string {
	return p.Name
}

// Role is one side of a protocol.
type Role struct {
	Name string
	Kind Kind
}

func (r Role) String() string {
	return r.Name
}

// State is a message kind scoped to one (protocol, role). States of different
// scopes never compare equal even when their values match.
type State struct {
	Protocol uint16
	Role     string
	Value    uint16
	Name     string
}

func (s State) String() string {
	return fmt.Sprintf("%d.%s.%s", s.Protocol, s.Role, s.Name)
}

type stateKey struct {
	protocol uint16
	role     string
	value    uint16
}

func (s State) key() stateKey {
	return stateKey{protocol: s.Protocol, role: s.Role, value: s.Value}
}

// Scheme is the behavior object implementing one role of a protocol. Its
// response handlers and activation are bound through the Pool.
type Scheme interface {
	// Begin resets progress fields when a session enters process.
	Begin()
	// Cancel resets progress fields when a session leaves process.
	Cancel()
	// Clone returns a fresh, independent instance with the same configuration.
	Clone() Scheme
}

// Result is what a response handler hands back to its session.
type Result struct {
	Destination string
	Packet      *packet.Packet
	// Continue keeps the session in process; false cancels it.
	Continue bool
	// Reset asks the session to answer Destination with its reset packet.
	Reset bool
	// Err carries the outcome of a finished exchange; nil means success.
	Err error
}

// Reply sends p to destination and keeps the exchange running.
func Reply(destination string, p *packet.Packet) Result {
	return Result{Destination: destination, Packet: p, Continue: true}
}

// Finish sends p (which may be nil) and ends the exchange successfully.
func Finish(destination string, p *packet.Packet) Result {
	return Result{Destination: destination, Packet: p}
}

// Fail ends the exchange with err and sends nothing.
func Fail(err error) Result {
	return Result{Err: err}
}

// FailWith sends p to destination and ends the exchange with err.
func FailWith(destination string, p *packet.Packet, err error) Result {
	return Result{Destination: destination, Packet: p, Err: err}
}

// Reset answers source with the session reset packet and ends the exchange.
func Reset(source string) Result {
	return Result{Destination: source, Reset: true, Err: ErrOutOfTurn}
}

// ResponseFunc handles one incoming state for a scheme instance.
type ResponseFunc func(s Scheme, source string, in *packet.Packet) Result

// ActivateFunc produces the first packet of an exchange, or a nil packet when
// the scheme refuses to start.
type ActivateFunc func(s Scheme, args ...any) (destination string, p *packet.Packet)
