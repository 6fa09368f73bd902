package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// State key schema:
//
//   fill:<order hash>                 → filled base quantity (32-byte BE)
//   evt:<8-byte BE seq>               → settlement event (JSON)
//   evtseq                            → next event sequence
//   oracle:time                       → current time (8-byte BE)
//   oracle:writer                     → authorized writer (20 bytes)
//   bal:<asset>:<account>             → token balance (32-byte BE)
//   alw:<asset>:<owner>:<spender>     → token allowance (32-byte BE)
//   chain:height, chain:apphash       → block production progress
//   blk:<8-byte BE height>            → block record (JSON)

const (
	prefixFill      = "fill:"
	prefixEvent     = "evt:"
	prefixBalance   = "bal:"
	prefixAllowance = "alw:"
	prefixBlock     = "blk:"
)

func FillKey(orderHash common.Hash) []byte {
	return append([]byte(prefixFill), orderHash[:]...)
}

func EventKey(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return append([]byte(prefixEvent), k[:]...)
}

func EventPrefix() []byte { return []byte(prefixEvent) }
func EventSeqKey() []byte { return []byte("evtseq") }

func OracleTimeKey() []byte   { return []byte("oracle:time") }
func OracleWriterKey() []byte { return []byte("oracle:writer") }

func ChainHeightKey() []byte  { return []byte("chain:height") }
func ChainAppHashKey() []byte { return []byte("chain:apphash") }

func BlockKey(height uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], height)
	return append([]byte(prefixBlock), k[:]...)
}

// BalanceKey format: "bal:{asset}:{account}"
func BalanceKey(asset, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), account.Hex()))
}

// AllowanceKey format: "alw:{asset}:{owner}:{spender}"
func AllowanceKey(asset, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixAllowance, asset.Hex(), owner.Hex(), spender.Hex()))
}

// KeyUpperBound returns the exclusive upper bound for a prefix scan
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}
