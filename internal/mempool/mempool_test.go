package mempool

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"netcoin/internal/chain"
	"netcoin/internal/codec"
	"netcoin/internal/keys"
	"netcoin/internal/store"
)

func newTestValidator(t *testing.T) (*chain.Validator, *store.BoltStore) {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "mempool_test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	store.SetAddressResolver(keys.AddressFromPubkeyHex)
	return chain.NewValidator(s, nil), s
}

func fundAndSign(t *testing.T, s *store.BoltStore, kp *keys.KeyPair, inAmt, outAmt codec.Amount, outTo string) *codec.Transaction {
	t.Helper()
	fundingTx := &codec.Transaction{
		Outputs:   []codec.TxOutput{{To: kp.Address, Amount: inAmt}},
		Timestamp: chain.GenesisTimestamp,
	}
	fundingTx.Txid = fundingTx.ComputeTxid()
	fundingTx.EthHash = fundingTx.ComputeEthHash()

	hdr := codec.BlockHeader{Index: 0, Timestamp: chain.GenesisTimestamp}
	blk := &codec.Block{Header: hdr, Transactions: []*codec.Transaction{fundingTx}}
	root, err := blk.ComputeMerkleRoot()
	if err != nil {
		t.Fatalf("ComputeMerkleRoot: %v", err)
	}
	blk.Header.MerkleRoot = root
	blk.Hash = blk.Header.Hash()
	created := []codec.UTXO{{Txid: fundingTx.Txid, Vout: 0, To: kp.Address, Amount: inAmt}}
	if err := s.ApplyBlockAtomic(blk, nil, created); err != nil {
		t.Fatalf("ApplyBlockAtomic: %v", err)
	}

	tx := &codec.Transaction{
		Inputs:    []codec.TxInput{{Txid: fundingTx.Txid, Vout: 0, Pubkey: kp.PubkeyHex()}},
		Outputs:   []codec.TxOutput{{To: outTo, Amount: outAmt}},
		Timestamp: time.Now().Unix(),
	}
	tx.Txid = tx.ComputeTxid()
	tx.EthHash = tx.ComputeEthHash()
	sig, err := kp.Sign(tx.SigningDigest())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tx.Inputs[0].Signature = sig
	return tx
}

func TestPoolAdmitsValidTx(t *testing.T) {
	v, s := newTestValidator(t)
	kp, _ := keys.GenerateKeyPair()
	tx := fundAndSign(t, s, kp, codec.AmountFromUint64(2_000_000_000_000_000_000),
		codec.AmountFromUint64(1_500_000_000_000_000_000), "0x00000000000000000000000000000000000bee")

	var relayed []AdmittedEvent
	pool := NewPool(v, 0, 0, zap.NewNop(), func(e AdmittedEvent) { relayed = append(relayed, e) })

	if err := pool.Admit(tx); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if pool.Len() != 1 {
		t.Errorf("pool length = %d, want 1", pool.Len())
	}
	if len(relayed) != 1 || relayed[0].Tx.Txid != tx.Txid {
		t.Errorf("expected exactly one relay event for %s, got %v", tx.Txid, relayed)
	}
}

func TestPoolRejectsDuplicateAdmission(t *testing.T) {
	v, s := newTestValidator(t)
	kp, _ := keys.GenerateKeyPair()
	tx := fundAndSign(t, s, kp, codec.AmountFromUint64(2_000_000_000_000_000_000),
		codec.AmountFromUint64(1_500_000_000_000_000_000), "0x00000000000000000000000000000000000bee")

	pool := NewPool(v, 0, 0, zap.NewNop(), nil)
	if err := pool.Admit(tx); err != nil {
		t.Fatalf("first Admit: %v", err)
	}
	if err := pool.Admit(tx); err == nil {
		t.Error("expected second admission of the same tx to be rejected")
	}
}

func TestPoolRejectsInPoolDoubleSpend(t *testing.T) {
	v, s := newTestValidator(t)
	kp, _ := keys.GenerateKeyPair()

	fundingTx := &codec.Transaction{
		Outputs:   []codec.TxOutput{{To: kp.Address, Amount: codec.AmountFromUint64(5_000_000_000_000_000_000)}},
		Timestamp: chain.GenesisTimestamp,
	}
	fundingTx.Txid = fundingTx.ComputeTxid()
	fundingTx.EthHash = fundingTx.ComputeEthHash()
	hdr := codec.BlockHeader{Index: 0, Timestamp: chain.GenesisTimestamp}
	blk := &codec.Block{Header: hdr, Transactions: []*codec.Transaction{fundingTx}}
	root, _ := blk.ComputeMerkleRoot()
	blk.Header.MerkleRoot = root
	blk.Hash = blk.Header.Hash()
	created := []codec.UTXO{{Txid: fundingTx.Txid, Vout: 0, To: kp.Address, Amount: codec.AmountFromUint64(5_000_000_000_000_000_000)}}
	if err := s.ApplyBlockAtomic(blk, nil, created); err != nil {
		t.Fatalf("ApplyBlockAtomic: %v", err)
	}

	build := func(outAmt codec.Amount, to string) *codec.Transaction {
		tx := &codec.Transaction{
			Inputs:    []codec.TxInput{{Txid: fundingTx.Txid, Vout: 0, Pubkey: kp.PubkeyHex()}},
			Outputs:   []codec.TxOutput{{To: to, Amount: outAmt}},
			Timestamp: time.Now().Unix(),
		}
		tx.Txid = tx.ComputeTxid()
		tx.EthHash = tx.ComputeEthHash()
		sig, err := kp.Sign(tx.SigningDigest())
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		tx.Inputs[0].Signature = sig
		return tx
	}

	txA := build(codec.AmountFromUint64(1_000_000_000_000_000_000), "0x00000000000000000000000000000000000aaa")
	txB := build(codec.AmountFromUint64(2_000_000_000_000_000_000), "0x00000000000000000000000000000000000bbb")

	pool := NewPool(v, 0, 0, zap.NewNop(), nil)
	if err := pool.Admit(txA); err != nil {
		t.Fatalf("Admit txA: %v", err)
	}
	if err := pool.Admit(txB); err == nil {
		t.Error("expected txB to be rejected as an in-pool double-spend of the same input")
	}
}

func TestPoolEvictsOnCountOverflow(t *testing.T) {
	v, s := newTestValidator(t)

	var txs []*codec.Transaction
	for i := 0; i < 3; i++ {
		kp, _ := keys.GenerateKeyPair()
		tx := fundAndSign(t, s, kp, codec.AmountFromUint64(2_000_000_000_000_000_000),
			codec.AmountFromUint64(uint64(1_000_000_000_000_000_000+i*100_000_000_000_000_000)),
			"0x00000000000000000000000000000000000bee")
		txs = append(txs, tx)
	}

	pool := NewPool(v, 2, 0, zap.NewNop(), nil)
	for _, tx := range txs {
		if err := pool.Admit(tx); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}
	if pool.Len() != 2 {
		t.Errorf("pool length = %d, want 2 after overflow eviction", pool.Len())
	}
}

func TestPoolReturnRequeuesWithoutDuplicating(t *testing.T) {
	v, s := newTestValidator(t)
	kp, _ := keys.GenerateKeyPair()
	tx := fundAndSign(t, s, kp, codec.AmountFromUint64(2_000_000_000_000_000_000),
		codec.AmountFromUint64(1_500_000_000_000_000_000), "0x00000000000000000000000000000000000bee")

	pool := NewPool(v, 0, 0, zap.NewNop(), nil)
	if err := pool.Admit(tx); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	snapshot := pool.Snapshot()
	pool.Remove(tx.Txid)
	if pool.Len() != 0 {
		t.Fatalf("pool length = %d, want 0 after Remove", pool.Len())
	}
	pool.Return(snapshot)
	if pool.Len() != 1 {
		t.Errorf("pool length = %d, want 1 after Return", pool.Len())
	}
	pool.Return(snapshot)
	if pool.Len() != 1 {
		t.Errorf("pool length = %d after double Return, want 1 (no duplicates)", pool.Len())
	}
}
