package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the [R || S || V] encoding length
const SignatureLength = 65

// Signer holds a secp256k1 key pair and the Ethereum address derived from it.
// The public key is a pure function of the private scalar, so an address
// names exactly one key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a new random secp256k1 key pair
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey), nil
}

// FromPrivateKeyHex loads a Signer from a hex private key ("0x" prefix optional)
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey), nil
}

func newSigner(privateKey *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the Ethereum address of the public key
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the private key as hex (no 0x prefix)
// WARNING: never log this
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// PublicKeyHex returns the uncompressed public key (04 || X || Y) as hex
func (s *Signer) PublicKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSAPub(&s.privateKey.PublicKey))
}

// Sign signs a 32-byte digest. The result is canonical (low-S) with V in {0, 1}.
func (s *Signer) Sign(hash []byte) (Signature, error) {
	if len(hash) != 32 {
		return Signature{}, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}

	raw, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to sign: %w", err)
	}
	return SignatureFromBytes(raw)
}

// Signature is an (r, s) pair over secp256k1 plus the recovery id
type Signature struct {
	R [32]byte
	S [32]byte
	V uint8
}

// SignatureFromBytes parses [R || S || V]; V may be 0/1 or 27/28
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != SignatureLength {
		return Signature{}, fmt.Errorf("invalid signature length: %d", len(b))
	}
	var sig Signature
	copy(sig.R[:], b[:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	if sig.V >= 27 {
		sig.V -= 27
	}
	return sig, nil
}

// SignatureFromHex parses a hex signature ("0x" prefix optional)
func SignatureFromHex(s string) (Signature, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Signature{}, fmt.Errorf("invalid hex signature: %w", err)
	}
	return SignatureFromBytes(b)
}

// Bytes encodes as [R || S || V] with V in {0, 1}
func (sig Signature) Bytes() []byte {
	out := make([]byte, SignatureLength)
	copy(out[:32], sig.R[:])
	copy(out[32:64], sig.S[:])
	out[64] = sig.V
	return out
}

// Hex encodes as 0x-prefixed [R || S || V]
func (sig Signature) Hex() string {
	return fmt.Sprintf("0x%x", sig.Bytes())
}

// canonical rejects out-of-range r/s, high-S (malleable) values and bad recovery ids
func (sig Signature) canonical() bool {
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	return crypto.ValidateSignatureValues(sig.V, r, s, true)
}

// VerifySignature reports whether sig over hash was produced by the key behind address.
// Malformed input is a negative result, never an error.
func VerifySignature(address common.Address, hash []byte, sig Signature) bool {
	recovered, err := RecoverAddress(hash, sig)
	if err != nil {
		return false
	}
	return recovered == address
}

// RecoverAddress recovers the signer's address from a digest and signature
func RecoverAddress(hash []byte, sig Signature) (common.Address, error) {
	if len(hash) != 32 {
		return common.Address{}, fmt.Errorf("invalid hash length: %d", len(hash))
	}
	if !sig.canonical() {
		return common.Address{}, fmt.Errorf("non-canonical signature values")
	}

	publicKey, err := crypto.SigToPub(hash, sig.Bytes())
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}
