package store

import (
	"strings"

	"go.etcd.io/bbolt"

	"netcoin/internal/codec"
)

// IterateUTXOs walks every u: entry belonging to address (case-insensitive
// on the ASCII hex form, per spec.md §4.3), calling fn until it returns
// false or the bucket is exhausted.
func (s *BoltStore) IterateUTXOs(address string, fn func(*codec.UTXO) bool) error {
	addr := strings.ToLower(address)
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		c := b.Cursor()
		prefix := []byte(prefixUTXO)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			u, err := codec.DecodeUTXO(v)
			if err != nil {
				continue
			}
			if strings.ToLower(u.To) != addr {
				continue
			}
			if !fn(u) {
				break
			}
		}
		return nil
	})
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// AddressBalance sums the amount of every unspent UTXO owned by address.
func (s *BoltStore) AddressBalance(address string) (codec.Amount, error) {
	total := codec.ZeroAmount
	err := s.IterateUTXOs(address, func(u *codec.UTXO) bool {
		sum, _ := total.Add(u.Amount)
		total = sum
		return true
	})
	return total, err
}

// walkMainChain applies fn to every block on the main chain from genesis
// to the current tip (inclusive), stopping early if fn returns false.
func (s *BoltStore) walkMainChain(fn func(*codec.Block) bool) error {
	height := uint64(0)
	for {
		blk, err := s.GetBlockByHeight(height)
		if err != nil {
			return nil // reached the end of the main chain
		}
		if !fn(blk) {
			return nil
		}
		height++
	}
}

// inputResolvesToAddress reports whether an input's public key derives to
// address — the "any input's pubkey resolves to address" rule spec.md
// §4.3 uses for received/sent/tx-count queries.
func inputResolvesToAddress(in codec.TxInput, address string) bool {
	addr, err := addressFromPubkeyHex(in.Pubkey)
	if err != nil {
		return false
	}
	return strings.EqualFold(addr, address)
}

// addressFromPubkeyHex is a small indirection so this package does not
// import internal/keys directly for one helper; it is set by cmd/netcoind
// wiring at startup. Falls back to an always-false resolver if unset,
// which only affects sent/received/tx-count queries (balance is
// UTXO-output-based and does not need it).
var addressFromPubkeyHex = func(pubkeyHex string) (string, error) {
	return "", errNoResolver
}

var errNoResolver = storeErr("store: no pubkey->address resolver configured")

type storeErr string

func (e storeErr) Error() string { return string(e) }

// SetAddressResolver wires the pubkey->address derivation function
// (internal/keys.AddressFromPubkeyHex) in from outside this package,
// avoiding an import cycle between store and keys.
func SetAddressResolver(fn func(string) (string, error)) {
	addressFromPubkeyHex = fn
}

// AddressReceived sums every output value ever paid to address across the
// main chain.
func (s *BoltStore) AddressReceived(address string) (codec.Amount, error) {
	total := codec.ZeroAmount
	err := s.walkMainChain(func(blk *codec.Block) bool {
		for _, tx := range blk.Transactions {
			for _, out := range tx.Outputs {
				if strings.EqualFold(out.To, address) {
					sum, _ := total.Add(out.Amount)
					total = sum
				}
			}
		}
		return true
	})
	return total, err
}

// AddressSent sums every output value spent by inputs whose public key
// resolves to address, walking the main chain and resolving each input's
// prior output amount.
func (s *BoltStore) AddressSent(address string) (codec.Amount, error) {
	total := codec.ZeroAmount
	err := s.walkMainChain(func(blk *codec.Block) bool {
		for _, tx := range blk.Transactions {
			for _, in := range tx.Inputs {
				if !inputResolvesToAddress(in, address) {
					continue
				}
				prev, err := s.GetTx(in.Txid)
				if err != nil || int(in.Vout) >= len(prev.Outputs) {
					continue
				}
				sum, _ := total.Add(prev.Outputs[in.Vout].Amount)
				total = sum
			}
		}
		return true
	})
	return total, err
}

// AddressTxCount counts transactions touching address, either as an
// output recipient or as an input spender.
func (s *BoltStore) AddressTxCount(address string) (uint64, error) {
	var count uint64
	err := s.walkMainChain(func(blk *codec.Block) bool {
		for _, tx := range blk.Transactions {
			touched := false
			for _, out := range tx.Outputs {
				if strings.EqualFold(out.To, address) {
					touched = true
					break
				}
			}
			if !touched {
				for _, in := range tx.Inputs {
					if inputResolvesToAddress(in, address) {
						touched = true
						break
					}
				}
			}
			if touched {
				count++
			}
		}
		return true
	})
	return count, err
}

// CountTransactions returns the total number of transactions across the
// main chain.
func (s *BoltStore) CountTransactions() (uint64, error) {
	var count uint64
	err := s.walkMainChain(func(blk *codec.Block) bool {
		count += uint64(len(blk.Transactions))
		return true
	})
	return count, err
}

// TotalOutputValue sums every output value ever created across the main
// chain (used by the /counts endpoint's total_volume field).
func (s *BoltStore) TotalOutputValue() (codec.Amount, error) {
	total := codec.ZeroAmount
	err := s.walkMainChain(func(blk *codec.Block) bool {
		for _, tx := range blk.Transactions {
			for _, out := range tx.Outputs {
				sum, _ := total.Add(out.Amount)
				total = sum
			}
		}
		return true
	})
	return total, err
}
