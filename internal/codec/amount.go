package codec

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"math/bits"
)

// CoinUnits is the number of base units in one coin (10^18), matching the
// external Ethereum-compat scale.
var CoinUnits = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Amount is an unsigned 256-bit integer stored as four 64-bit words in
// little-endian word order (Words[0] is the least-significant word).
// This is the wire/storage representation spec.md §3 requires.
type Amount struct {
	Words [4]uint64
}

// ZeroAmount is the additive identity.
var ZeroAmount = Amount{}

// AmountFromUint64 builds an Amount from a small value.
func AmountFromUint64(v uint64) Amount {
	return Amount{Words: [4]uint64{v, 0, 0, 0}}
}

// AmountFromBigInt converts a non-negative big.Int into an Amount,
// returning an error if it overflows 256 bits.
func AmountFromBigInt(v *big.Int) (Amount, error) {
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("codec: negative amount")
	}
	b := v.Bytes() // big-endian
	if len(b) > 32 {
		return Amount{}, fmt.Errorf("codec: amount overflows 256 bits")
	}
	var be [32]byte
	copy(be[32-len(b):], b)
	var a Amount
	for i := 0; i < 4; i++ {
		// word i covers be[32-8*(i+1) : 32-8*i], big-endian within the word
		start := 32 - 8*(i+1)
		a.Words[i] = binary.BigEndian.Uint64(be[start : start+8])
	}
	return a, nil
}

// BigInt converts the amount to a big.Int for arithmetic convenience
// outside the hot path (fee math, JSON hex encoding).
func (a Amount) BigInt() *big.Int {
	var be [32]byte
	for i := 0; i < 4; i++ {
		start := 32 - 8*(i+1)
		binary.BigEndian.PutUint64(be[start:start+8], a.Words[i])
	}
	return new(big.Int).SetBytes(be[:])
}

func (a Amount) IsZero() bool {
	return a.Words[0] == 0 && a.Words[1] == 0 && a.Words[2] == 0 && a.Words[3] == 0
}

// Cmp returns -1, 0, or 1 comparing a to b.
func (a Amount) Cmp(b Amount) int {
	for i := 3; i >= 0; i-- {
		if a.Words[i] < b.Words[i] {
			return -1
		}
		if a.Words[i] > b.Words[i] {
			return 1
		}
	}
	return 0
}

// Add returns a+b and whether the addition overflowed 256 bits.
func (a Amount) Add(b Amount) (Amount, bool) {
	var out Amount
	var carry uint64
	for i := 0; i < 4; i++ {
		sum, c := bits.Add64(a.Words[i], b.Words[i], carry)
		out.Words[i] = sum
		carry = c
	}
	return out, carry != 0
}

// Sub returns a-b and whether the subtraction underflowed.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var out Amount
	var borrow uint64
	for i := 0; i < 4; i++ {
		diff, bo := bits.Sub64(a.Words[i], b.Words[i], borrow)
		out.Words[i] = diff
		borrow = bo
	}
	return out, borrow != 0
}

func (w *Writer) WriteAmount(a Amount) {
	for i := 0; i < 4; i++ {
		w.WriteUint64(a.Words[i])
	}
}

func (r *Reader) ReadAmount() (Amount, error) {
	var a Amount
	for i := 0; i < 4; i++ {
		v, err := r.ReadUint64()
		if err != nil {
			return Amount{}, err
		}
		a.Words[i] = v
	}
	return a, nil
}

// HexString renders the amount as a 0x-prefixed hex string (no leading
// zeros beyond a single digit), the JSON-safe form the HTTP/JSON-RPC
// surfaces use for large integers.
func (a Amount) HexString() string {
	return fmt.Sprintf("0x%x", a.BigInt())
}
