package oracle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/zigzag/pkg/storage"
)

var (
	ErrUnauthorized       = errors.New("caller is not the oracle writer")
	ErrTimeRegression     = errors.New("time may not move backwards")
	ErrNotInitialized     = errors.New("oracle not initialized")
	ErrAlreadyInitialized = errors.New("oracle already initialized")
)

// Init fixes the single account allowed to publish time and sets the
// starting time. It can run once per chain.
func Init(kv storage.KV, writer common.Address, initial uint64) error {
	ok, err := storage.Has(kv, storage.OracleWriterKey())
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyInitialized
	}
	if err := kv.Set(storage.OracleWriterKey(), writer.Bytes()); err != nil {
		return err
	}
	return storage.PutUint64(kv, storage.OracleTimeKey(), initial)
}

// Writer returns the authorized writer
func Writer(kv storage.KV) (common.Address, error) {
	v, err := kv.Get(storage.OracleWriterKey())
	if errors.Is(err, storage.ErrNotFound) {
		return common.Address{}, ErrNotInitialized
	}
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(v), nil
}

// CurrentTime is readable by anyone. Before the first update it is the
// genesis time (0 if never initialized).
func CurrentTime(kv storage.KV) (uint64, error) {
	return storage.GetUint64(kv, storage.OracleTimeKey())
}

// SetCurrentTime publishes t on behalf of caller. Only the writer may call
// it and t may not be earlier than the current time.
func SetCurrentTime(kv storage.KV, caller common.Address, t uint64) error {
	writer, err := Writer(kv)
	if err != nil {
		return err
	}
	if caller != writer {
		return fmt.Errorf("%s: %w", caller.Hex(), ErrUnauthorized)
	}
	cur, err := CurrentTime(kv)
	if err != nil {
		return err
	}
	if t < cur {
		return fmt.Errorf("%d < %d: %w", t, cur, ErrTimeRegression)
	}
	return storage.PutUint64(kv, storage.OracleTimeKey(), t)
}
