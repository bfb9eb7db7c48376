// Package heartbeat is the internal liveness exchange between local
// components of one node: PROBE(seq) -> ECHO(seq).
package heartbeat

import (
	"errors"
	"sync/atomic"

	"github.com/danmuck/exchange/internal/protocol/constgroup"
	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/danmuck/exchange/internal/protocol/tlv"
)

const (
	ID   uint16 = 99
	Name        = "HEARTBEAT"

	RoleProber    = "PROBER"
	RoleResponder = "RESPONDER"

	FieldSeq uint16 = 1
)

const (
	Ignore uint16 = 0
	Probe  uint16 = 1
	Echo   uint16 = 1
)

var (
	ErrPeerReset   = errors.New("heartbeat: peer reset the exchange")
	ErrSeqMismatch = errors.New("heartbeat: echo sequence mismatch")
)

var (
	ProberStates = constgroup.MustNew("HeartbeatProberStates", "",
		constgroup.Member{Name: "IGNORE", Value: Ignore},
		constgroup.Member{Name: "PROBE", Value: Probe},
	)
	ResponderStates = constgroup.MustNew("HeartbeatResponderStates", "",
		constgroup.Member{Name: "IGNORE", Value: Ignore},
		constgroup.Member{Name: "ECHO", Value: Echo},
	)

	proberPackets    = packet.NewBuilder(ID, ProberStates)
	responderPackets = packet.NewBuilder(ID, ResponderStates)
)

type Prober struct {
	Destination string

	seq    uint32
	echoed atomic.Uint32
}

func NewProber(destination string) *Prober {
	return &Prober{Destination: destination}
}

func (p *Prober) Begin()  { p.seq++ }
func (p *Prober) Cancel() {}

func (p *Prober) Clone() pool.Scheme { return NewProber(p.Destination) }

// Echoed returns the last sequence number the responder echoed back.
func (p *Prober) Echoed() uint32 { return p.echoed.Load() }

func activate(p *Prober, args ...any) (string, *packet.Packet) {
	out := proberPackets.Must(Probe)
	out.SetPayload(tlv.EncodeFields(tlv.U32(FieldSeq, p.seq+1)))
	return p.Destination, out
}

func proberIgnore(p *Prober, source string, in *packet.Packet) pool.Result {
	return pool.Fail(ErrPeerReset)
}

func proberEcho(p *Prober, source string, in *packet.Packet) pool.Result {
	fields, err := tlv.DecodeFields(in.Payload)
	if err != nil {
		return pool.Fail(err)
	}
	seq, err := fields.U32(FieldSeq)
	if err != nil {
		return pool.Fail(err)
	}
	if seq != p.seq {
		return pool.Fail(ErrSeqMismatch)
	}
	p.echoed.Store(seq)
	return pool.Finish("", nil)
}

type Responder struct{}

func (Responder) Begin()  {}
func (Responder) Cancel() {}

func (Responder) Clone() pool.Scheme { return &Responder{} }

func responderIgnore(r *Responder, source string, in *packet.Packet) pool.Result {
	return pool.Fail(ErrPeerReset)
}

func responderProbe(r *Responder, source string, in *packet.Packet) pool.Result {
	out := responderPackets.Must(Echo)
	out.SetPayload(in.Payload)
	return pool.Finish(source, out)
}

// Protocols numbers the internal exchanges.
var Protocols = mustInternal()

func mustInternal() *constgroup.Group {
	g, err := constgroup.NewInternalSchemes("InternalProtocols", constgroup.Member{Name: Name, Value: ID})
	if err != nil {
		panic(err)
	}
	return g
}

// Register wires both roles into p. The protocol id must already be
// registered.
func Register(p *pool.Pool) error {
	if err := p.RegisterRoles(ID,
		pool.Role{Name: RoleProber, Kind: pool.Active},
		pool.Role{Name: RoleResponder, Kind: pool.Passive},
	); err != nil {
		return err
	}
	prober, err := p.RegisterStates(ID, RoleProber, ProberStates)
	if err != nil {
		return err
	}
	responder, err := p.RegisterStates(ID, RoleResponder, ResponderStates)
	if err != nil {
		return err
	}
	proberHandlers := map[uint16]func(*Prober, string, *packet.Packet) pool.Result{
		Ignore: proberIgnore,
		Echo:   proberEcho,
	}
	for _, st := range responder {
		if err := pool.RegisterResponse(p, st, proberHandlers[st.Value]); err != nil {
			return err
		}
	}
	responderHandlers := map[uint16]func(*Responder, string, *packet.Packet) pool.Result{
		Ignore: responderIgnore,
		Probe:  responderProbe,
	}
	for _, st := range prober {
		if err := pool.RegisterResponse(p, st, responderHandlers[st.Value]); err != nil {
			return err
		}
	}
	if err := pool.RegisterScheme(p, pool.SchemeSpec[*Prober]{
		Protocol: ID,
		Role:     RoleProber,
		Activate: activate,
	}); err != nil {
		return err
	}
	probe, err := p.StateOf(ID, RoleProber, Probe)
	if err != nil {
		return err
	}
	return pool.RegisterScheme(p, pool.SchemeSpec[*Responder]{
		Protocol:   ID,
		Role:       RoleResponder,
		Activation: &probe,
	})
}
