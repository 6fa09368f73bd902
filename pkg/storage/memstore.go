package storage

import (
	"bytes"
	"sort"
	"sync"
)

// MemStore keeps state in memory. Used by tests and ephemeral devnets.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (s *MemStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = bytes.Clone(value)
	return nil
}

func (s *MemStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *MemStore) Apply(ops []Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range ops {
		if op.Value == nil {
			delete(s.data, string(op.Key))
		} else {
			s.data[string(op.Key)] = bytes.Clone(op.Value)
		}
	}
	return nil
}

func (s *MemStore) Iterate(prefix []byte, reverse bool, fn func(key, value []byte) bool) error {
	s.mu.RLock()
	keys := make([]string, 0)
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = bytes.Clone(s.data[k])
	}
	s.mu.RUnlock()

	for i := range keys {
		j := i
		if reverse {
			j = len(keys) - 1 - i
		}
		if !fn([]byte(keys[j]), vals[j]) {
			break
		}
	}
	return nil
}

func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
