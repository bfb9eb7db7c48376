package packet

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/exchange/internal/protocol/constgroup"
	"github.com/danmuck/exchange/internal/testutil/testlog"
)

func TestEncodeLayout(t *testing.T) {
	testlog.Start(t)
	p := New(1, 2)
	p.AppendOptional([]byte{0xAA})
	p.AppendOptional([]byte{0xBB})
	p.SetPayload([]byte("hi"))
	got, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x00, 0x01, 0x00, 0x02, 0x00, 0x02, 0xAA, 0xBB, 'h', 'i'}
	if !bytes.Equal(got, want) {
		t.Fatalf("unexpected layout: got=% x want=% x", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	testlog.Start(t)
	cases := []*Packet{
		{Scheme: 0, State: 0},
		{Scheme: 99, State: 65535, Payload: []byte("payload only")},
		{Scheme: 7, State: 3, Optional: []byte{1, 2, 3}},
		{Scheme: 65535, State: 1, Optional: bytes.Repeat([]byte{0x5A}, 300), Payload: bytes.Repeat([]byte{0x01}, 1024)},
	}
	for _, in := range cases {
		b, err := Encode(in)
		if err != nil {
			t.Fatalf("encode %v: %v", in, err)
		}
		out, err := Decode(b)
		if err != nil {
			t.Fatalf("decode %v: %v", in, err)
		}
		if out.Scheme != in.Scheme || out.State != in.State ||
			!bytes.Equal(out.Optional, in.Optional) || !bytes.Equal(out.Payload, in.Payload) {
			t.Fatalf("round-trip mismatch: in=%v out=%v", in, out)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	testlog.Start(t)
	inputs := [][]byte{
		nil,
		{0x00},
		{0x00, 0x01},
		{0x00, 0x01, 0x00},
		{0x00, 0x01, 0x00, 0x02},
		{0x00, 0x01, 0x00, 0x02, 0x00},
		{0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0xAA, 0xBB},
		{0x00, 0x01, 0x00, 0x02, 0xFF, 0xFF},
	}
	for _, in := range inputs {
		if _, err := Decode(in); !errors.Is(err, ErrCannotExtract) {
			t.Fatalf("decode % x: expected ErrCannotExtract, got %v", in, err)
		}
	}
}

func TestDecodeEmptyPayloadAndCopies(t *testing.T) {
	testlog.Start(t)
	raw := []byte{0x00, 0x05, 0x00, 0x01, 0x00, 0x01, 0x7F}
	p, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(p.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(p.Payload))
	}
	raw[6] = 0x00
	if p.Optional[0] != 0x7F {
		t.Fatalf("decoded packet must not alias input")
	}
}

func TestDecodeEmptyFieldsMatchNew(t *testing.T) {
	testlog.Start(t)
	want := New(4, 2)
	got, err := Decode(MustEncode(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %#v, got %#v", want, got)
	}
	if got.Payload != nil || got.Optional != nil {
		t.Fatalf("expected nil optional and payload, got %v %v", got.Optional, got.Payload)
	}
}

func TestEncodeOptionalTooLarge(t *testing.T) {
	testlog.Start(t)
	p := New(1, 1)
	p.Optional = make([]byte, MaxOptionalLength+1)
	if _, err := Encode(p); !errors.Is(err, ErrOptionalTooLarge) {
		t.Fatalf("expected ErrOptionalTooLarge, got %v", err)
	}
}

func TestBuilderRejectsForeignState(t *testing.T) {
	testlog.Start(t)
	states := constgroup.MustNew("S", "", constgroup.Member{Name: "IGNORE", Value: 0}, constgroup.Member{Name: "REQUEST", Value: 1})
	b := NewBuilder(3, states)
	p, err := b.New(1)
	if err != nil || p.Scheme != 3 || p.State != 1 {
		t.Fatalf("unexpected builder result p=%v err=%v", p, err)
	}
	if _, err := b.New(9); !errors.Is(err, ErrStateNotInGroup) {
		t.Fatalf("expected ErrStateNotInGroup, got %v", err)
	}
}

func TestCatalogCheck(t *testing.T) {
	testlog.Start(t)
	client := constgroup.MustNew("SubmitClientStates", "",
		constgroup.Member{Name: "IGNORE", Value: 0},
		constgroup.Member{Name: "REQUEST", Value: 1},
		constgroup.Member{Name: "SEND", Value: 2},
	)
	server := constgroup.MustNew("SubmitServerStates", "",
		constgroup.Member{Name: "IGNORE", Value: 0},
		constgroup.Member{Name: "ACCEPT", Value: 1},
	)
	c := NewCatalog()
	if err := c.AddScheme(0, "SUBMIT", client, server); err != nil {
		t.Fatalf("add scheme: %v", err)
	}
	if err := c.AddScheme(0, "OTHER", client, server); !errors.Is(err, ErrSchemeExists) {
		t.Fatalf("expected ErrSchemeExists, got %v", err)
	}

	ok := MustEncode(New(0, 1))
	if m, err := c.Check(ok, 0, 1, SideClient); err != nil || m != nil {
		t.Fatalf("expected match, got m=%v err=%v", m, err)
	}

	m, err := c.Check(MustEncode(New(0, 2)), 0, 1, SideClient)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if m == nil || m.Field != FieldState || m.Actual != "SEND" || m.Expected != "REQUEST" {
		t.Fatalf("unexpected state mismatch: %+v", m)
	}

	m, err = c.Check(MustEncode(New(4, 1)), 0, 1, SideServer)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if m == nil || m.Field != FieldScheme || m.Actual != constgroup.Unknown || m.Expected != "SUBMIT" {
		t.Fatalf("unexpected scheme mismatch: %+v", m)
	}

	m, err = c.CheckPacket(New(0, 9), 0, 1, SideServer)
	if err != nil || m == nil || m.Actual != constgroup.Unknown || m.Expected != "ACCEPT" {
		t.Fatalf("unexpected pre-decoded mismatch: m=%+v err=%v", m, err)
	}

	if _, err := c.Check(ok, 0, 2, SideServer); !errors.Is(err, ErrExpectedState) {
		t.Fatalf("expected ErrExpectedState, got %v", err)
	}
	if _, err := c.Check(ok, 0, 1, Side("peer")); !errors.Is(err, ErrUnknownSide) {
		t.Fatalf("expected ErrUnknownSide, got %v", err)
	}
	if _, err := c.Check([]byte{0}, 0, 1, SideClient); !errors.Is(err, ErrCannotExtract) {
		t.Fatalf("expected ErrCannotExtract, got %v", err)
	}
}
