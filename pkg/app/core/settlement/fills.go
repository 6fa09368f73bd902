package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/zigzag/pkg/storage"
)

// filled returns the cumulative base quantity settled against an order hash.
// Unknown hashes have filled nothing.
func filled(kv storage.KV, hash common.Hash) (*uint256.Int, error) {
	v, err := storage.GetUint256(kv, storage.FillKey(hash))
	if err != nil {
		return nil, fmt.Errorf("read fill %s: %w", hash.Hex(), err)
	}
	return v, nil
}

// increment adds q to an order's fill. Fills only grow; callers have
// already checked the result stays within the order's quantity.
func increment(kv storage.KV, hash common.Hash, q *uint256.Int) (*uint256.Int, error) {
	cur, err := filled(kv, hash)
	if err != nil {
		return nil, err
	}
	next, overflow := new(uint256.Int).AddOverflow(cur, q)
	if overflow {
		panic(fmt.Sprintf("settlement: fill of %s wrapped", hash.Hex()))
	}
	if err := storage.PutUint256(kv, storage.FillKey(hash), next); err != nil {
		return nil, fmt.Errorf("write fill %s: %w", hash.Hex(), err)
	}
	return next, nil
}

// remaining is quantity - filled. A fill above quantity is corrupt state.
func remaining(quantity, filledQty *uint256.Int) *uint256.Int {
	if filledQty.Gt(quantity) {
		panic(fmt.Sprintf("settlement: filled %s exceeds quantity %s", filledQty.Dec(), quantity.Dec()))
	}
	return new(uint256.Int).Sub(quantity, filledQty)
}
