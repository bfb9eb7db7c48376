package jobstore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is a temporary in-process store.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string][]byte)}
}

func (m *Memory) Put(source string, job []byte) (string, error) {
	key := NewKey(source)
	m.mu.Lock()
	m.jobs[key] = append([]byte(nil), job...)
	m.mu.Unlock()
	return key, nil
}

func (m *Memory) Get(key string) ([]byte, error) {
	key, err := checkKey(key)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	job, ok := m.jobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), job...), nil
}

func (m *Memory) Delete(key string) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.jobs, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(prefix string) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	m.mu.RLock()
	keys := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
