package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for typed-data signing.
// Name and Version tag the protocol revision; ChainID and VerifyingContract
// stop a signature from being replayed on another chain or deployment.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the devnet domain
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "ZigZag",
		Version:           "1",
		ChainID:           big.NewInt(1001),
		VerifyingContract: common.Address{},
	}
}

// DomainType is the EIP712Domain struct definition
var DomainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TypedDataDomain converts the domain for apitypes
func (d EIP712Domain) TypedDataDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(d.ChainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Separator returns hashStruct(EIP712Domain)
func (d EIP712Domain) Separator() (common.Hash, error) {
	td := apitypes.TypedData{
		Types:  apitypes.Types{"EIP712Domain": DomainType},
		Domain: d.TypedDataDomain(),
	}
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

// TypedDigest computes keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
// typedData.Types must include EIP712Domain.
func TypedDigest(typedData apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := make([]byte, 0, 2+len(domainSeparator)+len(typedDataHash))
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	return crypto.Keccak256Hash(rawData), nil
}
