package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

var testHash = eth_crypto.Keccak256([]byte("zigzag order"))

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
	if len(signer.PublicKeyHex()) != 130 {
		t.Errorf("public key hex length = %d, want 130", len(signer.PublicKeyHex()))
	}
}

func TestKeyDerivationDeterministic(t *testing.T) {
	signer1, _ := GenerateKey()

	signer2, err := FromPrivateKeyHex(signer1.PrivateKeyHex())
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	signer3, err := FromPrivateKeyHex("0x" + signer1.PrivateKeyHex())
	if err != nil {
		t.Fatalf("failed to load 0x key: %v", err)
	}

	for _, s := range []*Signer{signer2, signer3} {
		if s.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", s.Address().Hex(), signer1.Address().Hex())
		}
		if s.PublicKeyHex() != signer1.PublicKeyHex() {
			t.Error("same private key produced two public keys")
		}
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()

	sig, err := signer.Sign(testHash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if sig.V > 1 {
		t.Errorf("V = %d, want 0 or 1", sig.V)
	}

	if !VerifySignature(signer.Address(), testHash, sig) {
		t.Error("signature verification failed")
	}

	wrongAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrongAddr, testHash, sig) {
		t.Error("signature should not verify with wrong address")
	}

	otherHash := eth_crypto.Keccak256([]byte("another order"))
	if VerifySignature(signer.Address(), otherHash, sig) {
		t.Error("signature should not verify for a different hash")
	}
}

func TestVerifyRejectsBitFlips(t *testing.T) {
	signer, _ := GenerateKey()
	sig, _ := signer.Sign(testHash)

	for i := 0; i < 64; i++ {
		for bit := 0; bit < 8; bit++ {
			raw := sig.Bytes()
			raw[i] ^= 1 << bit
			flipped, err := SignatureFromBytes(raw)
			if err != nil {
				t.Fatalf("parse flipped signature: %v", err)
			}
			if VerifySignature(signer.Address(), testHash, flipped) {
				t.Fatalf("signature with byte %d bit %d flipped still verifies", i, bit)
			}
		}
	}
}

func TestVerifyRejectsHighS(t *testing.T) {
	signer, _ := GenerateKey()
	sig, _ := signer.Sign(testHash)

	// s' = N - s with the opposite recovery id is the malleable twin
	n := eth_crypto.S256().Params().N
	s := new(big.Int).SetBytes(sig.S[:])
	highS := common.BigToHash(s.Sub(n, s))

	twin := sig
	twin.S = highS
	twin.V ^= 1

	if VerifySignature(signer.Address(), testHash, twin) {
		t.Error("high-S twin signature must not verify")
	}
}

func TestRecoverAddress(t *testing.T) {
	signer, _ := GenerateKey()
	sig, _ := signer.Sign(testHash)

	recovered, err := RecoverAddress(testHash, sig)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	if _, err := RecoverAddress([]byte("short"), sig); err == nil {
		t.Error("expected error for short hash")
	}
}

func TestSignatureEncoding(t *testing.T) {
	signer, _ := GenerateKey()
	sig, _ := signer.Sign(testHash)

	parsed, err := SignatureFromHex(sig.Hex())
	if err != nil {
		t.Fatalf("failed to parse hex: %v", err)
	}
	if parsed != sig {
		t.Errorf("hex round trip mismatch")
	}

	// wallets emit V as 27/28
	raw := sig.Bytes()
	raw[64] += 27
	legacy, err := SignatureFromBytes(raw)
	if err != nil {
		t.Fatalf("failed to parse legacy V: %v", err)
	}
	if legacy != sig {
		t.Errorf("V=27/28 not normalized: got %d, want %d", legacy.V, sig.V)
	}

	if _, err := SignatureFromBytes([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short signature")
	}
	if _, err := SignatureFromHex("0xzz"); err == nil {
		t.Error("expected error for bad hex")
	}
}

func TestDomainSeparatorChainScoped(t *testing.T) {
	d1 := DefaultDomain()
	d2 := DefaultDomain()
	d2.ChainID = d2.ChainID.Add(d2.ChainID, common.Big1)

	s1, err := d1.Separator()
	if err != nil {
		t.Fatalf("separator: %v", err)
	}
	s2, err := d2.Separator()
	if err != nil {
		t.Fatalf("separator: %v", err)
	}
	if s1 == s2 {
		t.Error("domain separator must depend on chain id")
	}
}
