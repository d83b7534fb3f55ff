package codec

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
)

// DoubleSHA256 computes SHA256(SHA256(data)).
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// sha256Sum computes a single SHA-256 digest, used for the native
// signature digest (spec.md §4.4.1 rule 5 signs over SHA-256, not
// double-SHA256 — that's reserved for identifiers/hashes).
func sha256Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Keccak256 computes the external-hash primitive used by the Ethereum-compat
// adapter (sender recovery, external transaction hashes).
func Keccak256(data ...[]byte) [32]byte {
	return crypto.Keccak256Hash(data...)
}

// HashHex lowercase-hex-encodes a digest, matching the "hex string" fields
// BlockHeader/Transaction carry.
func HashHex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// HashFromHex decodes a lowercase hex digest back into a [32]byte.
func HashFromHex(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != 32 {
		return h, hex.ErrLength
	}
	copy(h[:], b)
	return h, nil
}

// MerkleRoot computes the Merkle root over an ordered list of 32-byte txid
// hashes: duplicate the last element on an odd count, pair-wise
// double-SHA256, repeat until one element remains. An empty list roots to
// double_sha256(empty).
//
// Adapted from the teacher's internal/work/template.go branch/root pair,
// collapsed into a single direct computation since netcoin has no
// Stratum-style coinbase/branch split to preserve.
func MerkleRoot(txids [][32]byte) [32]byte {
	if len(txids) == 0 {
		return DoubleSHA256(nil)
	}

	level := make([][32]byte, len(txids))
	copy(level, txids)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			buf := make([]byte, 64)
			copy(buf[:32], level[i][:])
			copy(buf[32:], level[i+1][:])
			next = append(next, DoubleSHA256(buf))
		}
		level = next
	}
	return level[0]
}
