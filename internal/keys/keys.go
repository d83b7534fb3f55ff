// Package keys implements secp256k1 key management, native ledger
// signatures, and EIP-155 sender recovery (spec.md §4.2).
package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Wallet is the on-disk wallet file: {secret_key (hex), address
// (lowercase 0x-prefixed 20 bytes)}, per spec.md §6.
type Wallet struct {
	SecretKeyHex string `json:"secret_key"`
	Address      string `json:"address"`
}

// KeyPair bundles a private key with its derived address, the unit the
// rest of the node passes around (miner payout address, native tx
// signing).
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Address string // lowercase 0x-prefixed 20-byte hex
}

// PubkeyHex returns the uncompressed public key as hex — the value stored
// in TxInput.Pubkey for both native and EIP-155-originated inputs
// (spec.md §9: pubkey is always the uncompressed public key, never an
// address).
func (k *KeyPair) PubkeyHex() string {
	return hex.EncodeToString(gethcrypto.FromECDSAPub(&k.Private.PublicKey))
}

// AddressFromPubkeyHex derives the 20-byte lowercase 0x-prefixed address
// from an uncompressed public key hex string: last_20(keccak256(pub[1:])).
func AddressFromPubkeyHex(pubkeyHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(pubkeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("keys: decode pubkey hex: %w", err)
	}
	pub, err := gethcrypto.UnmarshalPubkey(raw)
	if err != nil {
		return "", fmt.Errorf("keys: unmarshal pubkey: %w", err)
	}
	return strings.ToLower(gethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// GenerateKeyPair creates a fresh secp256k1 key and derives its address.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("keys: generate key: %w", err)
	}
	return keyPairFromPrivate(priv), nil
}

func keyPairFromPrivate(priv *ecdsa.PrivateKey) *KeyPair {
	addr := strings.ToLower(gethcrypto.PubkeyToAddress(priv.PublicKey).Hex())
	return &KeyPair{Private: priv, Address: addr}
}

// LoadOrCreateWallet loads the wallet JSON file at path, or generates and
// persists a new key pair if none exists.
//
// Adapted from the teacher's internal/p2p/identity.go LoadOrCreateIdentity
// (load-or-generate-and-persist a keypair keyed to a data directory): same
// shape, different curve (secp256k1 instead of libp2p's Ed25519) and
// persistence format (a small JSON wallet file instead of a raw marshaled
// key, since the wallet file is also read by the out-of-scope wallet CLI).
func LoadOrCreateWallet(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var w Wallet
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("keys: parse wallet file: %w", err)
		}
		priv, err := gethcrypto.HexToECDSA(strings.TrimPrefix(w.SecretKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("keys: parse wallet secret key: %w", err)
		}
		return keyPairFromPrivate(priv), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("keys: read wallet file: %w", err)
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("keys: create wallet directory: %w", err)
	}
	w := Wallet{
		SecretKeyHex: hex.EncodeToString(gethcrypto.FromECDSA(kp.Private)),
		Address:      kp.Address,
	}
	raw, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("keys: marshal wallet file: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return nil, fmt.Errorf("keys: write wallet file: %w", err)
	}
	return kp, nil
}
