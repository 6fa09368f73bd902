package settlement

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/zigzag/pkg/storage"
)

// Event records one applied settlement
type Event struct {
	Seq          uint64         `json:"seq"`
	SellHash     common.Hash    `json:"sell_hash"`
	BuyHash      common.Hash    `json:"buy_hash"`
	SellSigner   common.Address `json:"sell_signer"`
	BuySigner    common.Address `json:"buy_signer"`
	BaseAsset    common.Address `json:"base_asset"`
	QuoteAsset   common.Address `json:"quote_asset"`
	FillPriceNum string         `json:"fill_price_num"`
	FillPriceDen string         `json:"fill_price_den"`
	BaseQuantity string         `json:"base_quantity"`
	QuoteAmount  string         `json:"quote_amount"`
	Time         uint64         `json:"time"`
}

// appendEvent assigns the next sequence number and stores ev
func appendEvent(kv storage.KV, ev *Event) error {
	seq, err := storage.GetUint64(kv, storage.EventSeqKey())
	if err != nil {
		return fmt.Errorf("read event seq: %w", err)
	}
	ev.Seq = seq
	if err := storage.PutJSON(kv, storage.EventKey(seq), ev); err != nil {
		return err
	}
	return storage.PutUint64(kv, storage.EventSeqKey(), seq+1)
}

// RecentEvents returns up to limit events, newest first
func RecentEvents(kv storage.KV, limit int) ([]Event, error) {
	var (
		out     []Event
		iterErr error
	)
	err := kv.Iterate(storage.EventPrefix(), true, func(key, value []byte) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		var ev Event
		if iterErr = json.Unmarshal(value, &ev); iterErr != nil {
			iterErr = fmt.Errorf("decode event %x: %w", key, iterErr)
			return false
		}
		out = append(out, ev)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, iterErr
}
