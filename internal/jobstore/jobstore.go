// Package jobstore persists jobs accepted by the SUBMIT exchange.
package jobstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	KindMemory = "memory"
	KindFS     = "fs"
)

var (
	ErrNotFound   = errors.New("jobstore: job not found")
	ErrInvalidKey = errors.New("jobstore: invalid key")
	ErrUnknown    = errors.New("jobstore: unknown store kind")
)

// Store keeps jobs under "<source>/<id>" keys.
type Store interface {
	Put(source string, job []byte) (string, error)
	Get(key string) ([]byte, error)
	Delete(key string) error
	// List returns keys with prefix, sorted.
	List(prefix string) ([]string, error)
}

// Open returns the store named by kind. dir is only read by the fs store.
func Open(kind, dir string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindMemory:
		return NewMemory(), nil
	case KindFS:
		return NewFS(dir), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknown, kind)
	}
}

// NewKey names a fresh job from source. Connection ids are already path
// safe; anything else, dots included, is flattened to '_'.
func NewKey(source string) string {
	return sanitize(source) + "/" + uuid.NewString()
}

func sanitize(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, source)
}

func checkKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	return key, nil
}
