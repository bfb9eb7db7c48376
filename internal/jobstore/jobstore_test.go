package jobstore

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/exchange/internal/testutil/testlog"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	key, err := s.Put("tcp-1234", []byte("hello"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(key, "tcp-1234/") {
		t.Fatalf("unexpected key %q", key)
	}
	got, err := s.Get(key)
	if err != nil || string(got) != "hello" {
		t.Fatalf("unexpected get %q err=%v", got, err)
	}
	if _, err := s.Put("other", []byte("x")); err != nil {
		t.Fatalf("put other: %v", err)
	}
	keys, err := s.List("tcp-1234/")
	if err != nil || len(keys) != 1 || keys[0] != key {
		t.Fatalf("unexpected list %v err=%v", keys, err)
	}
	if all, _ := s.List(""); len(all) != 2 {
		t.Fatalf("expected 2 keys, got %v", all)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := s.Get(" "); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testlog.Start(t)
	exerciseStore(t, NewMemory())
}

func TestFSStore(t *testing.T) {
	testlog.Start(t)
	s := NewFS(filepath.Join(t.TempDir(), "jobs"))
	exerciseStore(t, s)
	if _, err := s.Get("../escape"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected escape to be rejected, got %v", err)
	}
}

func TestOpenAndKeys(t *testing.T) {
	testlog.Start(t)
	if _, err := Open("mongod", ""); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}
	s, err := Open("FS", t.TempDir())
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if _, ok := s.(FS); !ok {
		t.Fatalf("expected FS store, got %T", s)
	}
	if key := NewKey("../../etc"); !strings.HasPrefix(key, "______etc/") {
		t.Fatalf("unexpected sanitized key %q", key)
	}
	if key := NewKey(""); !strings.HasPrefix(key, "anonymous/") {
		t.Fatalf("unexpected anonymous key %q", key)
	}
}
