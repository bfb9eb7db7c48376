package responser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/exchange/internal/auth"
	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/protocol/pool"
	"github.com/danmuck/exchange/internal/protocol/schema"
	"github.com/danmuck/exchange/internal/protocol/session"
	"github.com/danmuck/exchange/internal/schemes"
	"github.com/danmuck/exchange/internal/schemes/authenticate"
	"github.com/danmuck/exchange/internal/schemes/heartbeat"
	"github.com/danmuck/exchange/internal/schemes/submit"
	"github.com/danmuck/exchange/internal/testutil/testlog"
	"github.com/danmuck/exchange/internal/transport"
	"github.com/rs/zerolog/log"
)

func newPool(t *testing.T) (*pool.Pool, *schema.Registry) {
	t.Helper()
	p, reg, err := schemes.NewPool()
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return p, reg
}

func newServerManager(t *testing.T, p *pool.Pool, reg *schema.Registry) *session.Manager {
	t.Helper()
	m := session.NewManager(p, "server", log.Logger)
	for _, s := range []pool.Scheme{
		submit.NewServer(nil, nil),
		authenticate.NewServer(auth.StaticCredentials{"alice": "secret"}, reg),
		&heartbeat.Responder{},
	} {
		if _, err := m.CreateSession(s, time.Second); err != nil {
			t.Fatalf("server session %T: %v", s, err)
		}
	}
	return m
}

func newClientManager(t *testing.T, p *pool.Pool) *session.Manager {
	t.Helper()
	m := session.NewManager(p, "client", log.Logger)
	for _, s := range []pool.Scheme{
		submit.NewClient("", []byte("job-1")),
		authenticate.NewClient("", "alice", []byte("secret")),
		heartbeat.NewProber(""),
	} {
		if _, err := m.CreateSession(s, time.Second); err != nil {
			t.Fatalf("client session %T: %v", s, err)
		}
	}
	return m
}

func start(t *testing.T, ctx context.Context, conn transport.Conn, m *session.Manager, cfg Config) (*Responser, <-chan error) {
	t.Helper()
	r, err := New(conn, m, cfg, log.Logger)
	if err != nil {
		t.Fatalf("new responser: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return r, done
}

func TestExchangesOverPipe(t *testing.T) {
	testlog.Start(t)
	p, reg := newPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	clientEnd, serverEnd := transport.Pipe("client", "server")
	server := newServerManager(t, p, reg)
	client := newClientManager(t, p)
	_, serverDone := start(t, ctx, serverEnd, server, Config{Node: "server"})
	rc, clientDone := start(t, ctx, clientEnd, client, Config{Node: "client"})

	if err := rc.Activate(submit.ID); err != nil {
		t.Fatalf("activate submit: %v", err)
	}
	if err := rc.Activate(authenticate.ID); err != nil {
		t.Fatalf("activate authenticate: %v", err)
	}
	for _, id := range []uint16{submit.ID, authenticate.ID} {
		res, err := client.Wait(ctx, id)
		if err != nil || res.Err != nil {
			t.Fatalf("protocol %d: expected success, got res=%+v err=%v", id, res, err)
		}
	}
	scheme, _ := server.Scheme(submit.ID)
	if jobs := scheme.(*submit.Server).Jobs(); len(jobs) != 1 || string(jobs[0]) != "job-1" {
		t.Fatalf("unexpected jobs %q", jobs)
	}

	_ = clientEnd.Close()
	for _, done := range []<-chan error{clientDone, serverDone} {
		if err := <-done; err != nil {
			t.Fatalf("expected clean exit on close, got %v", err)
		}
	}
}

func recvPacket(t *testing.T, ctx context.Context, conn transport.Conn) *packet.Packet {
	t.Helper()
	_, data, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	out, err := packet.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestDropsBadInputAndResetsStrays(t *testing.T) {
	testlog.Start(t)
	p, reg := newPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	raw, serverEnd := transport.Pipe("client", "server")
	_, _ = start(t, ctx, serverEnd, newServerManager(t, p, reg), Config{Node: "server"})

	// garbage, then an internal probe from a remote peer: both dropped
	if err := raw.Send("", []byte{0x00}); err != nil {
		t.Fatalf("send garbage: %v", err)
	}
	if err := raw.Send("", packet.MustEncode(packet.New(heartbeat.ID, heartbeat.Probe))); err != nil {
		t.Fatalf("send probe: %v", err)
	}
	if err := raw.Send("", packet.MustEncode(packet.New(submit.ID, submit.Send))); err != nil {
		t.Fatalf("send stray: %v", err)
	}
	got := recvPacket(t, ctx, raw)
	if got.Scheme != submit.ID || got.State != submit.Ignore {
		t.Fatalf("expected submit reset packet first, got %v", got)
	}
}

func TestLocalDeliveryForInternalProtocols(t *testing.T) {
	testlog.Start(t)
	p, reg := newPool(t)
	ctx := context.Background()
	a, b := transport.Pipe("client", "server")
	defer a.Close()
	defer b.Close()

	prober, err := New(a, newClientManager(t, p), Config{}, log.Logger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	responder, err := New(b, newServerManager(t, p, reg), Config{}, log.Logger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := prober.Activate(heartbeat.ID); !errors.Is(err, ErrWrongSource) {
		t.Fatalf("expected ErrWrongSource for remote activation, got %v", err)
	}
	if _, _, err := prober.ActivateLocal(submit.ID); !errors.Is(err, ErrWrongSource) {
		t.Fatalf("expected ErrWrongSource for local submit, got %v", err)
	}

	_, probe, err := prober.ActivateLocal(heartbeat.ID)
	if err != nil {
		t.Fatalf("activate local: %v", err)
	}
	echo, err := responder.Deliver(ctx, "prober", probe)
	if err != nil || echo == nil {
		t.Fatalf("expected echo, got %x err=%v", echo, err)
	}
	if reply, err := prober.Deliver(ctx, "responder", echo); err != nil || reply != nil {
		t.Fatalf("expected finished probe, got %x err=%v", reply, err)
	}
	scheme, _ := prober.Manager().Scheme(heartbeat.ID)
	if scheme.(*heartbeat.Prober).Echoed() != 1 {
		t.Fatalf("expected echoed sequence 1")
	}

	if _, err := responder.Deliver(ctx, "local", packet.MustEncode(packet.New(submit.ID, submit.Request))); !errors.Is(err, ErrWrongSource) {
		t.Fatalf("expected ErrWrongSource for local submit delivery, got %v", err)
	}
}

func TestRateLimitPerSource(t *testing.T) {
	testlog.Start(t)
	p, reg := newPool(t)
	a, b := transport.Pipe("client", "server")
	defer a.Close()
	defer b.Close()
	r, err := New(b, newServerManager(t, p, reg), Config{RateLimitPerSecond: 1}, log.Logger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer r.closeLimiter()

	ctx := context.Background()
	data := packet.MustEncode(packet.New(submit.ID, submit.Send))
	if _, err := r.route(ctx, "client", data, false); err != nil {
		t.Fatalf("first packet: %v", err)
	}
	if _, err := r.route(ctx, "client", data, false); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRunHonorsContext(t *testing.T) {
	testlog.Start(t)
	p, reg := newPool(t)
	a, b := transport.Pipe("client", "server")
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	_, done := start(t, ctx, b, newServerManager(t, p, reg), Config{})
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}
