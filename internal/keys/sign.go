package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// EthSigPrefix marks an input's Signature field as an EIP-155 passthrough:
// the public key was already bound by recovery at ingress, so no further
// native signature verification is performed (spec.md §4.4.1 rule 5).
const EthSigPrefix = "eth_sig:"

// Sign produces a 64-byte compact ECDSA signature (R||S, each left-padded
// to 32 bytes) over digest, hex-encoded, for a native ledger-transaction
// input.
func (k *KeyPair) Sign(digest [32]byte) (string, error) {
	r, s, err := ecdsa.Sign(rand.Reader, k.Private, digest[:])
	if err != nil {
		return "", fmt.Errorf("keys: sign: %w", err)
	}
	return hex.EncodeToString(compactRS(r, s)), nil
}

// compactRS left-pads r and s to 32 bytes each and concatenates them, the
// fixed 64-byte form RLP would otherwise strip leading zeros from.
func compactRS(r, s *big.Int) []byte {
	out := make([]byte, 64)
	r.FillBytes(out[0:32])
	s.FillBytes(out[32:64])
	return out
}

// VerifyNative checks a 64-byte compact signature (hex) over digest against
// an uncompressed public key (hex). Used by the validator for every input
// whose Signature does not carry the EthSigPrefix sentinel.
func VerifyNative(pubkeyHex, signatureHex string, digest [32]byte) error {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return fmt.Errorf("keys: decode signature: %w", err)
	}
	if len(sigBytes) != 64 {
		return fmt.Errorf("keys: native signature must be 64 bytes, got %d", len(sigBytes))
	}
	r := new(big.Int).SetBytes(sigBytes[:32])
	s := new(big.Int).SetBytes(sigBytes[32:64])

	pubBytes, err := hex.DecodeString(strings.TrimPrefix(pubkeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("keys: decode pubkey: %w", err)
	}
	btcecPub, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("keys: parse pubkey: %w", err)
	}
	pub := &ecdsa.PublicKey{
		Curve: btcec.S256(),
		X:     btcecPub.X(),
		Y:     btcecPub.Y(),
	}

	if !ecdsa.Verify(pub, digest[:], r, s) {
		return fmt.Errorf("keys: signature verification failed")
	}
	return nil
}
