package keys

import (
	"fmt"
	"math/big"
	"strings"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ChainID is netcoin's fixed EIP-155 chain id (spec.md §4.9).
const ChainID = 8888

// RecoveredSender is the result of recovering an EIP-155 signature: the
// 20-byte lowercase address and the uncompressed public key that produced
// it, the latter stored verbatim in TxInput.Pubkey for EIP-155-originated
// inputs.
type RecoveredSender struct {
	Address      string
	UncompressedPubkeyHex string
}

// ChainIDFromV derives the EIP-155 chain id from the signature's v value:
// chain_id = (v-35)/2 when v>=35 (EIP-155), else the transaction used the
// legacy (pre-155) recovery id scheme.
func ChainIDFromV(v *big.Int) *big.Int {
	if v.Cmp(big.NewInt(35)) < 0 {
		return nil
	}
	cid := new(big.Int).Sub(v, big.NewInt(35))
	cid.Div(cid, big.NewInt(2))
	return cid
}

// RecoverID returns the 0/1 recovery id implied by v, accounting for both
// the legacy (27/28) and EIP-155 (35+2*chainid+{0,1}) encodings.
func RecoverID(v *big.Int) byte {
	if v.Cmp(big.NewInt(35)) >= 0 {
		// v = chainId*2 + 35 + recoveryID
		mod := new(big.Int).Sub(v, big.NewInt(35))
		mod.Mod(mod, big.NewInt(2))
		return byte(mod.Int64())
	}
	// legacy: v = 27 + recoveryID
	return byte(new(big.Int).Sub(v, big.NewInt(27)).Int64())
}

// RecoverEIP155 recovers the sending address and uncompressed public key
// from a signing hash (Keccak-256 over the RLP-encoded unsigned
// transaction) and its (v, r, s) components. r and s MUST already be
// left-padded to 32 bytes by the caller (RLP strips leading zeros).
func RecoverEIP155(signingHash [32]byte, v *big.Int, r, s []byte) (*RecoveredSender, error) {
	if len(r) != 32 || len(s) != 32 {
		return nil, fmt.Errorf("keys: r/s must be 32 bytes, got r=%d s=%d", len(r), len(s))
	}

	recID := RecoverID(v)
	sig := make([]byte, 65)
	copy(sig[0:32], r)
	copy(sig[32:64], s)
	sig[64] = recID

	pub, err := gethcrypto.SigToPub(signingHash[:], sig)
	if err != nil {
		return nil, fmt.Errorf("keys: recover public key: %w", err)
	}

	addr := strings.ToLower(gethcrypto.PubkeyToAddress(*pub).Hex())
	pubHex := fmt.Sprintf("%x", gethcrypto.FromECDSAPub(pub))

	return &RecoveredSender{Address: addr, UncompressedPubkeyHex: pubHex}, nil
}
