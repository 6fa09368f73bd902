package storage

import "errors"

// ErrNotFound is returned by Get for absent keys
var ErrNotFound = errors.New("storage: not found")

// KV is the state surface the application reads and writes
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Iterate visits keys with the given prefix in ascending order (descending
	// if reverse) until fn returns false
	Iterate(prefix []byte, reverse bool, fn func(key, value []byte) bool) error
}

// Op is one write in an atomic batch; Value == nil deletes Key
type Op struct {
	Key   []byte
	Value []byte
}

// Store is a KV that can apply a batch of writes atomically
type Store interface {
	KV
	Apply(ops []Op) error
	Close() error
}

// Has reports whether key exists
func Has(kv KV, key []byte) (bool, error) {
	_, err := kv.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
