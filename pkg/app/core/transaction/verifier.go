package transaction

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/zigzag/pkg/crypto"
)

// TimeUpdateType is the typed message the oracle writer signs
var TimeUpdateType = []apitypes.Type{
	{Name: "writer", Type: "address"},
	{Name: "time", Type: "uint64"},
}

// Verifier handles transaction signature verification
type Verifier struct {
	domain crypto.EIP712Domain
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{domain: domain}
}

// TimeUpdateHash is the EIP-712 digest of a time update
func (v *Verifier) TimeUpdateHash(p *TimePayload) (common.Hash, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": crypto.DomainType,
			"TimeUpdate":   TimeUpdateType,
		},
		PrimaryType: "TimeUpdate",
		Domain:      v.domain.TypedDataDomain(),
		Message: apitypes.TypedDataMessage{
			"writer": common.HexToAddress(p.Writer).Hex(),
			"time":   new(big.Int).SetUint64(p.Time),
		},
	}
	return crypto.TypedDigest(td)
}

// VerifyTimeTransaction checks a time update was signed by the writer it names.
// Whether that writer is the authorized one is the oracle's decision.
func (v *Verifier) VerifyTimeTransaction(tx *SignedTransaction) (common.Address, error) {
	if tx.Type != TxTypeTime {
		return common.Address{}, fmt.Errorf("not a time transaction")
	}
	if tx.Time == nil {
		return common.Address{}, fmt.Errorf("missing time payload")
	}
	if !common.IsHexAddress(tx.Time.Writer) {
		return common.Address{}, fmt.Errorf("invalid writer address: %q", tx.Time.Writer)
	}

	sig, err := crypto.SignatureFromHex(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature: %w", err)
	}
	hash, err := v.TimeUpdateHash(tx.Time)
	if err != nil {
		return common.Address{}, err
	}

	writer := common.HexToAddress(tx.Time.Writer)
	if !crypto.VerifySignature(writer, hash[:], sig) {
		return common.Address{}, fmt.Errorf("time update not signed by %s", writer.Hex())
	}
	return writer, nil
}

// SignTimeUpdate builds a time transaction signed by signer
func (v *Verifier) SignTimeUpdate(signer *crypto.Signer, t uint64) (*SignedTransaction, error) {
	p := &TimePayload{Time: t, Writer: signer.Address().Hex()}
	hash, err := v.TimeUpdateHash(p)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(hash[:])
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{Type: TxTypeTime, Time: p, Signature: sig.Hex()}, nil
}
