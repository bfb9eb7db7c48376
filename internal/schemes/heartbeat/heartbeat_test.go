package heartbeat

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/danmuck/exchange/internal/protocol/session"
	"github.com/danmuck/exchange/internal/protocol/tlv"
	"github.com/danmuck/exchange/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	p := pool.New()
	protos, err := p.RegisterProtocols(Protocols)
	if err != nil {
		t.Fatalf("register protocols: %v", err)
	}
	if len(protos) != 1 || !protos[0].Internal {
		t.Fatalf("expected one internal protocol, got %+v", protos)
	}
	if err := Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}
	p.Seal()
	return p
}

func TestProbeEchoesSequence(t *testing.T) {
	testlog.Start(t)
	p := newPool(t)
	prober := session.NewManager(p, "prober", log.Logger)
	if _, err := prober.CreateSession(NewProber("local"), time.Second); err != nil {
		t.Fatalf("prober session: %v", err)
	}
	responder := session.NewManager(p, "responder", log.Logger)
	if _, err := responder.CreateSession(&Responder{}, time.Second); err != nil {
		t.Fatalf("responder session: %v", err)
	}

	for want := uint32(1); want <= 2; want++ {
		_, probe, err := prober.Activate(ID)
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		echo, err := responder.Respond("prober", probe)
		if err != nil {
			t.Fatalf("responder: %v", err)
		}
		res, err := prober.Respond("local", echo.Packet)
		if err != nil || res.Err != nil {
			t.Fatalf("expected clean echo, got res=%+v err=%v", res, err)
		}
		scheme, _ := prober.Scheme(ID)
		if got := scheme.(*Prober).Echoed(); got != want {
			t.Fatalf("expected echoed seq %d, got %d", want, got)
		}
	}
}

func TestEchoMismatch(t *testing.T) {
	testlog.Start(t)
	pr := NewProber("local")
	pr.Begin()
	echo := packet.New(ID, Echo)
	echo.SetPayload(tlv.EncodeFields(tlv.U32(FieldSeq, 7)))
	if res := proberEcho(pr, "local", echo); !errors.Is(res.Err, ErrSeqMismatch) {
		t.Fatalf("expected ErrSeqMismatch, got %+v", res)
	}
}
