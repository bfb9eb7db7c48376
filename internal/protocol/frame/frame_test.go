package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/exchange/internal/protocol/packet"
	"github.com/danmuck/exchange/internal/testutil/testlog"
)

func TestReadWriteRoundTrip(t *testing.T) {
	testlog.Start(t)
	p := packet.New(0, 1)
	p.SetPayload([]byte("job"))
	body := packet.MustEncode(p)

	var buf bytes.Buffer
	if err := Write(&buf, body, DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Write(&buf, nil, DefaultLimits()); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	got, err := Read(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("body mismatch: got=%x want=%x", got, body)
	}
	got, err = Read(&buf, DefaultLimits())
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty frame, got=%x err=%v", got, err)
	}
	if _, err := Read(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadShortHeader(t *testing.T) {
	testlog.Start(t)
	_, err := Read(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadRejectsBadHeader(t *testing.T) {
	testlog.Start(t)
	hdr := EncodeHeader(Header{Magic: 1, Version: Version})
	if _, err := Read(bytes.NewReader(hdr[:]), DefaultLimits()); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
	hdr = EncodeHeader(Header{Magic: Magic, Version: 9})
	if _, err := Read(bytes.NewReader(hdr[:]), DefaultLimits()); !errors.Is(err, ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestLimitsEnforced(t *testing.T) {
	testlog.Start(t)
	limits := Limits{MaxPayloadBytes: 4}
	if err := Write(io.Discard, make([]byte, 5), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on write, got %v", err)
	}
	hdr := EncodeHeader(Header{Magic: Magic, Version: Version, Length: 5})
	if _, err := Read(bytes.NewReader(hdr[:]), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}
	hdr = EncodeHeader(Header{Magic: Magic, Version: Version, Length: 3})
	if _, err := Read(bytes.NewReader(append(hdr[:], 'a')), limits); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
}
