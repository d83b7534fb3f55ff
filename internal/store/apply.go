package store

import (
	"fmt"

	"go.etcd.io/bbolt"

	"netcoin/internal/codec"
)

// ApplyBlockAtomic writes a validated block in one atomic batch: deletes
// spent UTXOs, writes created UTXOs (including the coinbase), writes t:,
// eh:, b:, i:<height>, and advances tip. Failure at any step leaves the
// store unchanged (spec.md §4.4.3).
func (s *BoltStore) ApplyBlockAtomic(block *codec.Block, spent []codec.UTXO, created []codec.UTXO) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		for _, u := range spent {
			if err := b.Delete(utxoKey(u.Txid, u.Vout)); err != nil {
				return fmt.Errorf("store: delete spent utxo %s:%d: %w", u.Txid, u.Vout, err)
			}
		}
		for _, u := range created {
			if err := b.Put(utxoKey(u.Txid, u.Vout), u.Encode()); err != nil {
				return fmt.Errorf("store: write utxo %s:%d: %w", u.Txid, u.Vout, err)
			}
		}

		for _, t := range block.Transactions {
			if err := b.Put(txKey(t.Txid), t.Encode()); err != nil {
				return fmt.Errorf("store: write tx %s: %w", t.Txid, err)
			}
			if t.EthHash != "" {
				if err := b.Put(ethHashKey(t.EthHash), []byte(t.Txid)); err != nil {
					return fmt.Errorf("store: write eth index for %s: %w", t.EthHash, err)
				}
			}
			if err := b.Put(txLocationKey(t.Txid), []byte(block.Hash)); err != nil {
				return fmt.Errorf("store: write location index for %s: %w", t.Txid, err)
			}
		}

		if err := b.Put(blockKey(block.Hash), block.Encode()); err != nil {
			return fmt.Errorf("store: write block %s: %w", block.Hash, err)
		}
		if err := b.Put(heightKey(block.Header.Index), []byte(block.Hash)); err != nil {
			return fmt.Errorf("store: write height index %d: %w", block.Header.Index, err)
		}
		if err := b.Put([]byte(keyTip), []byte(block.Hash)); err != nil {
			return fmt.Errorf("store: update tip: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cachedHeight = block.Header.Index
	s.haveHeight = true
	s.mu.Unlock()
	return nil
}

// RollbackBlockAtomic undoes a single main-chain block during a reorg:
// reinsert its spent UTXOs (restore), delete its produced UTXOs, and
// delete its i:, t:, eh: entries. newTip is the hash the tip should point
// to once this block is rolled back (its parent, or a zero-length string
// for genesis rollback — callers never roll back genesis in practice).
func (s *BoltStore) RollbackBlockAtomic(block *codec.Block, restore []codec.UTXO, newTip string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		for _, t := range block.Transactions {
			for vout := range t.Outputs {
				if err := b.Delete(utxoKey(t.Txid, uint32(vout))); err != nil {
					return fmt.Errorf("store: delete produced utxo %s:%d: %w", t.Txid, vout, err)
				}
			}
		}

		for _, u := range restore {
			if err := b.Put(utxoKey(u.Txid, u.Vout), u.Encode()); err != nil {
				return fmt.Errorf("store: restore utxo %s:%d: %w", u.Txid, u.Vout, err)
			}
		}

		for _, t := range block.Transactions {
			if err := b.Delete(txKey(t.Txid)); err != nil {
				return fmt.Errorf("store: delete tx %s: %w", t.Txid, err)
			}
			if t.EthHash != "" {
				if err := b.Delete(ethHashKey(t.EthHash)); err != nil {
					return fmt.Errorf("store: delete eth index for %s: %w", t.EthHash, err)
				}
			}
			if err := b.Delete(txLocationKey(t.Txid)); err != nil {
				return fmt.Errorf("store: delete location index for %s: %w", t.Txid, err)
			}
		}

		if err := b.Delete(heightKey(block.Header.Index)); err != nil {
			return fmt.Errorf("store: delete height index %d: %w", block.Header.Index, err)
		}
		if err := b.Delete(blockKey(block.Hash)); err != nil {
			return fmt.Errorf("store: delete block %s: %w", block.Hash, err)
		}
		if newTip != "" {
			if err := b.Put([]byte(keyTip), []byte(newTip)); err != nil {
				return fmt.Errorf("store: update tip during rollback: %w", err)
			}
		}
		return nil
	})
}
