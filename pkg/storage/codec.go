package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// GetUint64 reads an 8-byte big-endian counter; absent keys read as 0
func GetUint64(kv KV, key []byte) (uint64, error) {
	v, err := kv.Get(key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("corrupt uint64 at %q: %d bytes", key, len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func PutUint64(kv KV, key []byte, n uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return kv.Set(key, b[:])
}

// GetUint256 reads a 32-byte big-endian amount; absent keys read as 0
func GetUint256(kv KV, key []byte) (*uint256.Int, error) {
	v, err := kv.Get(key)
	if errors.Is(err, ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	if len(v) != 32 {
		return nil, fmt.Errorf("corrupt uint256 at %q: %d bytes", key, len(v))
	}
	return new(uint256.Int).SetBytes32(v), nil
}

func PutUint256(kv KV, key []byte, n *uint256.Int) error {
	b := n.Bytes32()
	return kv.Set(key, b[:])
}

func PutJSON(kv KV, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return kv.Set(key, b)
}

// GetJSON decodes the value at key into v; returns ErrNotFound if absent
func GetJSON(kv KV, key []byte, v any) error {
	b, err := kv.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}
