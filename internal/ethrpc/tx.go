package ethrpc

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"netcoin/internal/codec"
)

// rawEthTx is the 9-field legacy Ethereum transaction list
// (nonce, gasPrice, gas, to, value, data, v, r, s). Decoded with
// go-ethereum's rlp package rather than its core/types.Transaction: netcoin
// has no gas-shaped EVM underneath, only the outer signed-transaction
// envelope, so only the field list is borrowed (SPEC_FULL.md's explicit
// note).
type rawEthTx struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       []byte // 20 bytes, or empty for contract creation
	Value    *big.Int
	Data     []byte
	V        *big.Int
	R        *big.Int
	S        *big.Int
}

// signingList is the unsigned 9-element EIP-155 list
// (nonce, gasPrice, gas, to, value, data, chainId, 0, 0) whose RLP encoding
// is Keccak-256'd to produce the hash a signature is recovered against.
type signingList struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       []byte
	Value    *big.Int
	Data     []byte
	ChainID  *big.Int
	Zero1    *big.Int
	Zero2    *big.Int
}

// decodeRawTx RLP-decodes the raw bytes eth_sendRawTransaction receives and
// returns both the parsed fields and the external hash clients will query
// by: Keccak-256 of the raw signed RLP bytes, not of netcoin's own
// signingEncode body (spec.md §4.9 rule 2).
func decodeRawTx(raw []byte) (*rawEthTx, string, error) {
	var tx rawEthTx
	if err := rlp.DecodeBytes(raw, &tx); err != nil {
		return nil, "", fmt.Errorf("ethrpc: rlp decode: %w", err)
	}
	ethHash := "0x" + codec.HashHex(codec.Keccak256(raw))
	return &tx, ethHash, nil
}

// signingHash reproduces the EIP-155 hash the sender signed: Keccak-256 of
// the RLP encoding of (nonce, gasPrice, gas, to, value, data, chainId, 0, 0).
func signingHash(tx *rawEthTx, chainID int64) ([32]byte, error) {
	list := signingList{
		Nonce:    tx.Nonce,
		GasPrice: tx.GasPrice,
		Gas:      tx.Gas,
		To:       tx.To,
		Value:    tx.Value,
		Data:     tx.Data,
		ChainID:  big.NewInt(chainID),
		Zero1:    big.NewInt(0),
		Zero2:    big.NewInt(0),
	}
	enc, err := rlp.EncodeToBytes(list)
	if err != nil {
		return [32]byte{}, fmt.Errorf("ethrpc: rlp encode signing list: %w", err)
	}
	return codec.Keccak256(enc), nil
}

// leftPad32 left-pads a big.Int's big-endian bytes to 32 bytes, undoing
// RLP's leading-zero stripping so keys.RecoverEIP155 gets a fixed-width r/s.
func leftPad32(v *big.Int) []byte {
	b := v.Bytes()
	var out [32]byte
	copy(out[32-len(b):], b)
	return out[:]
}
