package order

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/zigzag/pkg/app/core/num"
	"github.com/uhyunpark/zigzag/pkg/crypto"
)

// Side is the direction of an order from the signer's point of view
type Side uint8

const (
	Buy  Side = 1 // receives base, pays quote
	Sell Side = 2 // pays base, receives quote
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide accepts "buy"/"sell" (any case) or the numeric wire values
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy", "1":
		return Buy, nil
	case "sell", "2":
		return Sell, nil
	}
	return 0, fmt.Errorf("invalid side %q", s)
}

// Order is a signed intent to trade BaseQuantity of BaseAsset at no worse
// than Price quote units per base unit, until Expiration.
type Order struct {
	BaseAsset    common.Address
	QuoteAsset   common.Address
	Side         Side
	BaseQuantity *uint256.Int
	Price        num.Ratio
	Expiration   uint64
	Signer       common.Address
}

// Validate checks the order is well formed. It says nothing about whether
// the order is fillable.
func (o *Order) Validate() error {
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("invalid side %d", o.Side)
	}
	if o.BaseQuantity == nil {
		return fmt.Errorf("missing base quantity")
	}
	if !o.Price.Valid() {
		return fmt.Errorf("price must have a positive denominator")
	}
	return nil
}

// Scheme selects how an order is turned into the digest its signer signs
type Scheme uint8

const (
	// SchemeTyped hashes a domain-separated typed message {sender, order}
	SchemeTyped Scheme = iota
	// SchemeRaw folds the economic fields with a version tag, no domain
	SchemeRaw
)

func (s Scheme) String() string {
	switch s {
	case SchemeTyped:
		return "typed"
	case SchemeRaw:
		return "raw"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// ParseScheme maps the wire name to a Scheme; empty means typed
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(s) {
	case "", "typed", "eip712":
		return SchemeTyped, nil
	case "raw":
		return SchemeRaw, nil
	}
	return 0, fmt.Errorf("unknown hash scheme %q", s)
}

// SignedOrder couples an order with the scheme its signature was made under
type SignedOrder struct {
	Order     Order
	Scheme    Scheme
	Signature crypto.Signature
}
