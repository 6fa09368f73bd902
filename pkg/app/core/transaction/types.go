package transaction

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/zigzag/pkg/app/core/num"
	"github.com/uhyunpark/zigzag/pkg/app/core/order"
	"github.com/uhyunpark/zigzag/pkg/app/core/settlement"
	"github.com/uhyunpark/zigzag/pkg/crypto"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeFill TxType = "fill" // Matched order pair (relayer submitted)
	TxTypeTime TxType = "time" // Oracle time update (writer signed)
)

// SignedTransaction is the JSON envelope carried through the mempool.
// Fill transactions need no envelope signature: each order carries its own.
type SignedTransaction struct {
	Type      TxType       `json:"type"`
	Fill      *FillPayload `json:"fill,omitempty"`
	Time      *TimePayload `json:"time,omitempty"`
	Signature string       `json:"signature,omitempty"` // Hex-encoded (0x...), time updates only
}

// OrderPayload is the wire form of a signed order.
// Integers are decimal strings so 256-bit values survive JSON.
type OrderPayload struct {
	BaseAsset    string `json:"base_asset"`    // Token address (0x...)
	QuoteAsset   string `json:"quote_asset"`   // Token address (0x...)
	Side         uint8  `json:"side"`          // 1=Buy, 2=Sell
	BaseQuantity string `json:"base_quantity"` // uint256 as string
	PriceNum     string `json:"price_num"`     // quote units
	PriceDen     string `json:"price_den"`     // per base units
	Expiration   string `json:"expiration"`    // Oracle timestamp
	Signer       string `json:"signer"`        // Ethereum address (0x...)
	Scheme       string `json:"scheme,omitempty"`
	Signature    string `json:"signature"`
}

// FillPayload is a matched pair plus the terms of the fill
type FillPayload struct {
	Sell             OrderPayload `json:"sell"`
	Buy              OrderPayload `json:"buy"`
	FillPriceNum     string       `json:"fill_price_num"`
	FillPriceDen     string       `json:"fill_price_den"`
	BaseFillQuantity string       `json:"base_fill_quantity"`
}

// TimePayload is a time update from the oracle writer
type TimePayload struct {
	Time   uint64 `json:"time"`
	Writer string `json:"writer"`
}

// ToOrder converts the payload fields, without the signature
func (o *OrderPayload) ToOrder() (order.Order, error) {
	for _, a := range []string{o.BaseAsset, o.QuoteAsset, o.Signer} {
		if !common.IsHexAddress(a) {
			return order.Order{}, fmt.Errorf("invalid address: %q", a)
		}
	}
	qty, err := num.ParseUint256(o.BaseQuantity)
	if err != nil {
		return order.Order{}, fmt.Errorf("invalid base_quantity: %w", err)
	}
	price, err := num.ParseRatio(o.PriceNum, o.PriceDen)
	if err != nil {
		return order.Order{}, fmt.Errorf("invalid price: %w", err)
	}
	exp, err := strconv.ParseUint(o.Expiration, 10, 64)
	if err != nil {
		return order.Order{}, fmt.Errorf("invalid expiration: %s", o.Expiration)
	}
	return order.Order{
		BaseAsset:    common.HexToAddress(o.BaseAsset),
		QuoteAsset:   common.HexToAddress(o.QuoteAsset),
		Side:         order.Side(o.Side),
		BaseQuantity: qty,
		Price:        price,
		Expiration:   exp,
		Signer:       common.HexToAddress(o.Signer),
	}, nil
}

// ToSignedOrder converts the payload including scheme and signature
func (o *OrderPayload) ToSignedOrder() (order.SignedOrder, error) {
	ord, err := o.ToOrder()
	if err != nil {
		return order.SignedOrder{}, err
	}
	scheme, err := order.ParseScheme(o.Scheme)
	if err != nil {
		return order.SignedOrder{}, err
	}
	sig, err := crypto.SignatureFromHex(o.Signature)
	if err != nil {
		return order.SignedOrder{}, err
	}
	return order.SignedOrder{Order: ord, Scheme: scheme, Signature: sig}, nil
}

// FromSignedOrder converts a signed order to its wire form
func FromSignedOrder(so order.SignedOrder) OrderPayload {
	o := so.Order
	return OrderPayload{
		BaseAsset:    o.BaseAsset.Hex(),
		QuoteAsset:   o.QuoteAsset.Hex(),
		Side:         uint8(o.Side),
		BaseQuantity: o.BaseQuantity.Dec(),
		PriceNum:     o.Price.Num.Dec(),
		PriceDen:     o.Price.Den.Dec(),
		Expiration:   strconv.FormatUint(o.Expiration, 10),
		Signer:       o.Signer.Hex(),
		Scheme:       so.Scheme.String(),
		Signature:    so.Signature.Hex(),
	}
}

// ToFillRequest decodes the fill into the engine's request type.
// Only encoding is checked here; the engine judges validity.
func (f *FillPayload) ToFillRequest() (settlement.FillRequest, error) {
	sell, err := f.Sell.ToSignedOrder()
	if err != nil {
		return settlement.FillRequest{}, fmt.Errorf("sell order: %w", err)
	}
	buy, err := f.Buy.ToSignedOrder()
	if err != nil {
		return settlement.FillRequest{}, fmt.Errorf("buy order: %w", err)
	}
	price, err := num.ParseRatio(f.FillPriceNum, f.FillPriceDen)
	if err != nil {
		return settlement.FillRequest{}, fmt.Errorf("fill price: %w", err)
	}
	qty, err := num.ParseUint256(f.BaseFillQuantity)
	if err != nil {
		return settlement.FillRequest{}, fmt.Errorf("base_fill_quantity: %w", err)
	}
	return settlement.FillRequest{Sell: sell, Buy: buy, FillPrice: price, BaseFillQuantity: qty}, nil
}

// NewFillTransaction builds a fill transaction from signed orders
func NewFillTransaction(sell, buy order.SignedOrder, price num.Ratio, qty string) *SignedTransaction {
	return &SignedTransaction{
		Type: TxTypeFill,
		Fill: &FillPayload{
			Sell:             FromSignedOrder(sell),
			Buy:              FromSignedOrder(buy),
			FillPriceNum:     price.Num.Dec(),
			FillPriceDen:     price.Den.Dec(),
			BaseFillQuantity: qty,
		},
	}
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	switch tx.Type {
	case TxTypeFill:
		if tx.Fill == nil {
			return fmt.Errorf("fill type requires fill payload")
		}
		if tx.Fill.BaseFillQuantity == "" {
			return fmt.Errorf("missing base fill quantity")
		}
		if tx.Fill.Sell.Signature == "" || tx.Fill.Buy.Signature == "" {
			return fmt.Errorf("both orders must be signed")
		}

	case TxTypeTime:
		if tx.Time == nil {
			return fmt.Errorf("time type requires time payload")
		}
		if tx.Time.Writer == "" {
			return fmt.Errorf("missing writer")
		}
		if tx.Signature == "" {
			return fmt.Errorf("missing signature")
		}

	case "":
		return fmt.Errorf("missing transaction type")

	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}

	return nil
}

// ParseTransaction decodes and structurally validates a raw transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Example fill transaction:
//   {
//     "type": "fill",
//     "fill": {
//       "sell": {"base_asset": "0x..b1", "quote_asset": "0x..a1", "side": 2,
//                "base_quantity": "100", "price_num": "1", "price_den": "1",
//                "expiration": "1700003600", "signer": "0x...", "signature": "0x..."},
//       "buy":  {..., "side": 1, ...},
//       "fill_price_num": "1",
//       "fill_price_den": "1",
//       "base_fill_quantity": "50"
//     }
//   }
