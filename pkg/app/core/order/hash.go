package order

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/zigzag/pkg/crypto"
)

// RawTag seeds the raw fold. Bump it whenever the field list changes.
const RawTag = "zigzag/raw-order/v1"

// Typed message layout. The signer is folded in as "sender" next to the
// nested economic fields.
var (
	MessageType = []apitypes.Type{
		{Name: "sender", Type: "address"},
		{Name: "order", Type: "Order"},
	}

	OrderType = []apitypes.Type{
		{Name: "baseAsset", Type: "address"},
		{Name: "quoteAsset", Type: "address"},
		{Name: "side", Type: "uint8"},
		{Name: "baseQuantity", Type: "uint256"},
		{Name: "priceNum", Type: "uint256"},
		{Name: "priceDen", Type: "uint256"},
		{Name: "expiration", Type: "uint64"},
	}
)

// Hasher derives order hashes. The typed scheme is bound to one domain.
type Hasher struct {
	domain crypto.EIP712Domain
}

func NewHasher(domain crypto.EIP712Domain) *Hasher {
	return &Hasher{domain: domain}
}

// Domain returns the domain typed hashes are bound to
func (h *Hasher) Domain() crypto.EIP712Domain {
	return h.domain
}

// Hash returns the digest of o under scheme. The order must be Validate-clean.
func (h *Hasher) Hash(o *Order, scheme Scheme) (common.Hash, error) {
	switch scheme {
	case SchemeRaw:
		return RawHash(o), nil
	case SchemeTyped:
		return h.TypedHash(o)
	default:
		return common.Hash{}, fmt.Errorf("unknown hash scheme %d", scheme)
	}
}

// RawHash folds the economic fields one 32-byte word at a time:
// acc = keccak(tag), acc = keccak(acc || word) for each field.
// The signer is not part of the pre-image.
func RawHash(o *Order) common.Hash {
	acc := keccak([]byte(RawTag))

	words := [][32]byte{
		common.BytesToHash(o.BaseAsset.Bytes()),
		common.BytesToHash(o.QuoteAsset.Bytes()),
		wordUint64(uint64(o.Side)),
		o.BaseQuantity.Bytes32(),
		o.Price.Num.Bytes32(),
		o.Price.Den.Bytes32(),
		wordUint64(o.Expiration),
	}
	for _, w := range words {
		acc = keccak(acc[:], w[:])
	}
	return acc
}

// TypedData returns the EIP-712 payload a wallet signs for o
func (h *Hasher) TypedData(o *Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": crypto.DomainType,
			"Message":      MessageType,
			"Order":        OrderType,
		},
		PrimaryType: "Message",
		Domain:      h.domain.TypedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"sender": o.Signer.Hex(),
			"order": map[string]interface{}{
				"baseAsset":    o.BaseAsset.Hex(),
				"quoteAsset":   o.QuoteAsset.Hex(),
				"side":         big.NewInt(int64(o.Side)),
				"baseQuantity": o.BaseQuantity.ToBig(),
				"priceNum":     o.Price.Num.ToBig(),
				"priceDen":     o.Price.Den.ToBig(),
				"expiration":   new(big.Int).SetUint64(o.Expiration),
			},
		},
	}
}

// TypedHash is keccak256("\x19\x01" || domainSeparator || hashStruct(Message))
func (h *Hasher) TypedHash(o *Order) (common.Hash, error) {
	digest, err := crypto.TypedDigest(h.TypedData(o))
	if err != nil {
		return common.Hash{}, fmt.Errorf("typed order hash: %w", err)
	}
	return digest, nil
}

// Sign hashes o under scheme and signs the digest with signer's key.
// o.Signer is overwritten with the key's address.
func (h *Hasher) Sign(o Order, scheme Scheme, signer *crypto.Signer) (SignedOrder, error) {
	o.Signer = signer.Address()
	if err := o.Validate(); err != nil {
		return SignedOrder{}, err
	}
	digest, err := h.Hash(&o, scheme)
	if err != nil {
		return SignedOrder{}, err
	}
	sig, err := signer.Sign(digest[:])
	if err != nil {
		return SignedOrder{}, err
	}
	return SignedOrder{Order: o, Scheme: scheme, Signature: sig}, nil
}

func keccak(parts ...[]byte) common.Hash {
	d := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		d.Write(p)
	}
	var out common.Hash
	d.Sum(out[:0])
	return out
}

func wordUint64(v uint64) [32]byte {
	var w [32]byte
	binary.BigEndian.PutUint64(w[24:], v)
	return w
}
