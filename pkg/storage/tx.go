package storage

import (
	"bytes"
	"sort"
)

// Tx buffers writes over a Store. Reads see the buffered writes first.
// Nothing reaches the Store until Commit, so a discarded Tx leaves no trace.
// A Tx is itself a Store, so a Tx opened on another Tx commits into its
// parent's overlay only.
type Tx struct {
	base   Store
	writes map[string][]byte // nil value marks a delete
}

// NewTx opens a write overlay on base
func NewTx(base Store) *Tx {
	return &Tx{base: base, writes: make(map[string][]byte)}
}

func (t *Tx) Get(key []byte) ([]byte, error) {
	if v, ok := t.writes[string(key)]; ok {
		if v == nil {
			return nil, ErrNotFound
		}
		return bytes.Clone(v), nil
	}
	return t.base.Get(key)
}

func (t *Tx) Set(key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	t.writes[string(key)] = bytes.Clone(value)
	return nil
}

func (t *Tx) Delete(key []byte) error {
	t.writes[string(key)] = nil
	return nil
}

// Iterate merges the overlay with the base view
func (t *Tx) Iterate(prefix []byte, reverse bool, fn func(key, value []byte) bool) error {
	merged := make(map[string][]byte)
	err := t.base.Iterate(prefix, false, func(k, v []byte) bool {
		merged[string(k)] = v
		return true
	})
	if err != nil {
		return err
	}
	for k, v := range t.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	for _, k := range keys {
		if !fn([]byte(k), bytes.Clone(merged[k])) {
			break
		}
	}
	return nil
}

// Len is the number of buffered writes
func (t *Tx) Len() int { return len(t.writes) }

// Commit applies every buffered write to the base in one atomic batch
func (t *Tx) Commit() error {
	if len(t.writes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.writes))
	for k := range t.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ops := make([]Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, Op{Key: []byte(k), Value: t.writes[k]})
	}
	if err := t.base.Apply(ops); err != nil {
		return err
	}
	t.writes = make(map[string][]byte)
	return nil
}

// Discard drops every buffered write
func (t *Tx) Discard() {
	t.writes = make(map[string][]byte)
}

// Apply buffers ops into the overlay. A nil Value is a delete.
func (t *Tx) Apply(ops []Op) error {
	for _, op := range ops {
		if op.Value == nil {
			t.writes[string(op.Key)] = nil
			continue
		}
		t.writes[string(op.Key)] = bytes.Clone(op.Value)
	}
	return nil
}

// Close discards the overlay. The base stays open.
func (t *Tx) Close() error {
	t.Discard()
	return nil
}

var _ Store = (*Tx)(nil)
