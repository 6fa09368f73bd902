package mempool

import (
	"encoding/json"
	"sync"
)

// TxType classifies transactions into ordering buckets.
type TxType int

const (
	TxOracle TxType = iota // time updates
	TxFill                 // matched order pairs
)

func (t TxType) String() string {
	if t == TxOracle {
		return "oracle"
	}
	return "fill"
}

// ClassifyRaw classifies a raw transaction by its JSON envelope:
//
//	{"type": "time", ...} -> TxOracle
//	{"type": "fill", ...} -> TxFill
//
// Anything else lands in the fill bucket and is rejected at apply time.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxFill
	}

	var txEnvelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return TxFill
	}

	if txEnvelope.Type == "time" {
		return TxOracle
	}
	return TxFill
}

// Mempool keeps two FIFO queues. Oracle updates are proposed ahead of
// fills so a block's fills see the time published in the same block.
type Mempool struct {
	mu     sync.Mutex
	oracle [][]byte
	fills  [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) TxType {
	cp := append([]byte(nil), b...)
	kind := ClassifyRaw(b)

	m.mu.Lock()
	defer m.mu.Unlock()
	if kind == TxOracle {
		m.oracle = append(m.oracle, cp)
	} else {
		m.fills = append(m.fills, cp)
	}
	return kind
}

// SelectForProposal returns up to maxBytes worth of txs, oracle bucket
// first, removing them from the mempool. maxBytes <= 0 means no limit.
// A tx larger than maxBytes can never be proposed and is dropped so it
// does not hold back the rest of its bucket.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for len(*q) > 0 && !full {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && n > maxBytes {
				*q = (*q)[1:]
				continue
			}
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.oracle)
	pull(&m.fills)

	return out
}

// Len returns total pending txs
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.oracle) + len(m.fills)
}
