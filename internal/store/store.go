// Package store implements the ledger's persistent keyed store (spec.md
// §3, §4.3): a single bbolt bucket holding blocks, transactions, UTXOs,
// the height index, the external-hash index, and the chain tip, written
// through one atomic batch per applied block.
//
// Grounded on the teacher's sharechain.ShareStore contract and its
// internal/sharechain/boltstore_test.go expectations
// (Add/Get/Has/Tip/SetTip/GetAncestors/Count/Close), generalized from
// share-only storage to the full ledger keyspace of spec.md §3.
package store

import (
	"fmt"
	"sync"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"netcoin/internal/codec"
)

const bucketName = "main"

// Key prefixes, exactly as spec.md §3.
const (
	prefixBlock   = "b:"
	prefixTx      = "t:"
	prefixUTXO    = "u:"
	prefixHeight  = "i:"
	prefixEthHash = "eh:"
	keyTip        = "tip"

	// prefixTxLocation is a supplement to spec.md §3's named keyspace: a
	// txid -> containing-block-hash index, mirroring the i:<height>->hash
	// idiom. Needed for eth_getTransactionReceipt (spec.md §4.9), which
	// must report a transaction's containing block height and hash; the
	// original keyspace has no reverse lookup from t: back to b:/i:.
	prefixTxLocation = "l:"
)

func blockKey(hash string) []byte   { return []byte(prefixBlock + hash) }
func txKey(txid string) []byte      { return []byte(prefixTx + txid) }
func utxoKey(txid string, vout uint32) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", prefixUTXO, txid, vout))
}
func heightKey(h uint64) []byte      { return []byte(fmt.Sprintf("%s%d", prefixHeight, h)) }
func ethHashKey(eth string) []byte   { return []byte(prefixEthHash + eth) }
func txLocationKey(txid string) []byte { return []byte(prefixTxLocation + txid) }

// Store is the ledger store's public contract. *BoltStore is the only
// implementation; the interface exists so chain/mempool/miner tests can
// substitute an in-memory fake without touching disk.
type Store interface {
	GetTip() (string, bool)
	GetHeader(hash string) (*codec.BlockHeader, error)
	GetBlock(hash string) (*codec.Block, error)
	GetBlockByHeight(height uint64) (*codec.Block, error)
	GetBlocksRange(from, to uint64) ([]*codec.Block, error)
	GetTx(txid string) (*codec.Transaction, error)
	GetTxByEth(ethHash string) (*codec.Transaction, error)
	GetTxLocation(txid string) (height uint64, blockHash string, err error)
	GetUTXO(txid string, vout uint32) (*codec.UTXO, error)
	IterateUTXOs(address string, fn func(*codec.UTXO) bool) error
	AddressBalance(address string) (codec.Amount, error)
	AddressReceived(address string) (codec.Amount, error)
	AddressSent(address string) (codec.Amount, error)
	AddressTxCount(address string) (uint64, error)
	CountTransactions() (uint64, error)
	TotalOutputValue() (codec.Amount, error)
	Height() (uint64, bool)

	ApplyBlockAtomic(block *codec.Block, spent []codec.UTXO, created []codec.UTXO) error
	RollbackBlockAtomic(block *codec.Block, restore []codec.UTXO, newTip string) error

	Close() error
}

// BoltStore is the bbolt-backed implementation of Store.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger

	mu           sync.RWMutex
	cachedHeight uint64
	haveHeight   bool
}

// NewBoltStore opens (creating if necessary) a bbolt database at path and
// ensures the main bucket exists.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt database: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create bucket: %w", err)
	}
	s := &BoltStore{db: db, logger: logger}
	s.refreshHeightCache()
	return s, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) refreshHeightCache() {
	tip, ok := s.GetTip()
	if !ok {
		return
	}
	hdr, err := s.GetHeader(tip)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.cachedHeight = hdr.Index
	s.haveHeight = true
	s.mu.Unlock()
}

func (s *BoltStore) Height() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cachedHeight, s.haveHeight
}

func (s *BoltStore) GetTip() (string, bool) {
	var tip []byte
	s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get([]byte(keyTip))
		if v != nil {
			tip = append([]byte(nil), v...)
		}
		return nil
	})
	if tip == nil {
		return "", false
	}
	return string(tip), true
}

func (s *BoltStore) GetBlock(hash string) (*codec.Block, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get(blockKey(hash))
		if v == nil {
			return fmt.Errorf("store: block %s not found", hash)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codec.DecodeBlock(raw)
}

func (s *BoltStore) GetHeader(hash string) (*codec.BlockHeader, error) {
	blk, err := s.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	return &blk.Header, nil
}

func (s *BoltStore) GetBlockByHeight(height uint64) (*codec.Block, error) {
	var hash []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get(heightKey(height))
		if v == nil {
			return fmt.Errorf("store: no block at height %d", height)
		}
		hash = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetBlock(string(hash))
}

func (s *BoltStore) GetBlocksRange(from, to uint64) ([]*codec.Block, error) {
	if to < from {
		return nil, fmt.Errorf("store: invalid range [%d,%d]", from, to)
	}
	var out []*codec.Block
	for h := from; h <= to; h++ {
		blk, err := s.GetBlockByHeight(h)
		if err != nil {
			break // main chain ends here; invariant 1 in spec.md §3
		}
		out = append(out, blk)
	}
	return out, nil
}

func (s *BoltStore) GetTx(txid string) (*codec.Transaction, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get(txKey(txid))
		if v == nil {
			return fmt.Errorf("store: tx %s not found", txid)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codec.DecodeTransaction(raw)
}

func (s *BoltStore) GetTxByEth(ethHash string) (*codec.Transaction, error) {
	var internal []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get(ethHashKey(ethHash))
		if v == nil {
			return fmt.Errorf("store: no internal txid for eth hash %s", ethHash)
		}
		internal = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTx(string(internal))
}

// GetTxLocation reports the height and hash of the main-chain block
// containing txid, via the l: index populated by ApplyBlockAtomic.
func (s *BoltStore) GetTxLocation(txid string) (uint64, string, error) {
	var hash []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get(txLocationKey(txid))
		if v == nil {
			return fmt.Errorf("store: no location for tx %s", txid)
		}
		hash = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return 0, "", err
	}
	hdr, err := s.GetHeader(string(hash))
	if err != nil {
		return 0, "", err
	}
	return hdr.Index, string(hash), nil
}

func (s *BoltStore) GetUTXO(txid string, vout uint32) (*codec.UTXO, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get(utxoKey(txid, vout))
		if v == nil {
			return fmt.Errorf("store: utxo %s:%d not found", txid, vout)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codec.DecodeUTXO(raw)
}
