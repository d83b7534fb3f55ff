package chain

import "netcoin/internal/codec"

// initialReward is block_reward(0) = 8*10^18 base units, spec.md §4.4.2
// rule 8.
var initialReward = codec.AmountFromUint64(8_000_000_000_000_000_000)

// Reward computes block_reward(height) = initialReward >> (height /
// HalvingInterval), zero once MaxHalvings is reached. Adapted from the
// teacher's DifficultyCalculator shape (a small pure function over a
// fixed schedule), generalized from target adjustment to reward halving.
func Reward(height uint64) codec.Amount {
	halvings := height / HalvingInterval
	if halvings >= MaxHalvings {
		return codec.ZeroAmount
	}
	words := initialReward.Words
	shiftRight256(&words, uint(halvings))
	return codec.Amount{Words: words}
}

// shiftRight256 shifts a little-endian 4-word 256-bit integer right by n
// bits in place (n may exceed 256; result saturates at zero).
func shiftRight256(words *[4]uint64, n uint) {
	if n >= 256 {
		*words = [4]uint64{}
		return
	}
	wordShift := n / 64
	bitShift := n % 64

	var shifted [4]uint64
	for i := 0; i < 4; i++ {
		src := i + int(wordShift)
		if src >= 4 {
			continue
		}
		shifted[i] = words[src]
	}
	if bitShift > 0 {
		for i := 0; i < 4; i++ {
			lo := shifted[i] >> bitShift
			var hi uint64
			if i+1 < 4 {
				hi = shifted[i+1] << (64 - bitShift)
			}
			shifted[i] = lo | hi
		}
	}
	*words = shifted
}
