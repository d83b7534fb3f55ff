package miner

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"netcoin/internal/chain"
	"netcoin/internal/codec"
	"netcoin/internal/keys"
	"netcoin/internal/mempool"
	"netcoin/internal/store"
)

func newTestMiner(t *testing.T, address string) (*Miner, *store.BoltStore) {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "miner_test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	store.SetAddressResolver(keys.AddressFromPubkeyHex)

	v := chain.NewValidator(s, nil)
	pool := mempool.NewPool(v, 0, 0, zap.NewNop(), nil)
	// difficulty 0 keeps the nonce search trivial and deterministic.
	m := New(s, v, pool, address, 0, zap.NewNop(), nil)
	return m, s
}

func TestMinerMinesGenesisBlock(t *testing.T) {
	addr := "0x00000000000000000000000000000000000bee"
	m, s := newTestMiner(t, addr)

	blk, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if blk == nil {
		t.Fatal("expected a mined block, got nil")
	}
	if blk.Header.Index != 0 {
		t.Errorf("first mined block index = %d, want 0", blk.Header.Index)
	}
	if !blk.Transactions[0].IsCoinbase() {
		t.Error("first transaction is not a coinbase")
	}
	wantReward := chain.Reward(0)
	if blk.Transactions[0].Outputs[0].Amount.Cmp(wantReward) != 0 {
		t.Errorf("coinbase amount = %s, want %s", blk.Transactions[0].Outputs[0].Amount.BigInt(), wantReward.BigInt())
	}

	tip, ok := s.GetTip()
	if !ok || tip != blk.Hash {
		t.Errorf("store tip = %q, want %q", tip, blk.Hash)
	}
	if !m.WasRecentlyMined(blk.Hash) {
		t.Error("expected the mined block's hash to be recorded in recentlyMined")
	}
}

func TestMinerMinesSecondBlockOnTopOfFirst(t *testing.T) {
	addr := "0x00000000000000000000000000000000000bee"
	m, s := newTestMiner(t, addr)

	first, err := m.Run()
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	second, err := m.Run()
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.Header.Index != 1 {
		t.Errorf("second mined block index = %d, want 1", second.Header.Index)
	}
	if codec.HashHex(second.Header.PreviousHash) != first.Hash {
		t.Errorf("second block's previous_hash = %s, want %s", codec.HashHex(second.Header.PreviousHash), first.Hash)
	}
	tip, _ := s.GetTip()
	if tip != second.Hash {
		t.Errorf("store tip = %q, want %q", tip, second.Hash)
	}
}

func TestMinerIncludesMempoolTransactions(t *testing.T) {
	addr := "0x00000000000000000000000000000000000bee"
	m, s := newTestMiner(t, addr)

	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	fundingTx := &codec.Transaction{
		Outputs:   []codec.TxOutput{{To: kp.Address, Amount: codec.AmountFromUint64(2_000_000_000_000_000_000)}},
		Timestamp: chain.GenesisTimestamp,
	}
	fundingTx.Txid = fundingTx.ComputeTxid()
	fundingTx.EthHash = fundingTx.ComputeEthHash()
	hdr := codec.BlockHeader{Index: 0, Timestamp: chain.GenesisTimestamp}
	fundingBlk := &codec.Block{Header: hdr, Transactions: []*codec.Transaction{fundingTx}}
	root, _ := fundingBlk.ComputeMerkleRoot()
	fundingBlk.Header.MerkleRoot = root
	fundingBlk.Hash = fundingBlk.Header.Hash()
	created := []codec.UTXO{{Txid: fundingTx.Txid, Vout: 0, To: kp.Address, Amount: codec.AmountFromUint64(2_000_000_000_000_000_000)}}
	if err := s.ApplyBlockAtomic(fundingBlk, nil, created); err != nil {
		t.Fatalf("ApplyBlockAtomic: %v", err)
	}

	spend := &codec.Transaction{
		Inputs:    []codec.TxInput{{Txid: fundingTx.Txid, Vout: 0, Pubkey: kp.PubkeyHex()}},
		Outputs:   []codec.TxOutput{{To: "0x00000000000000000000000000000000000aaa", Amount: codec.AmountFromUint64(1_500_000_000_000_000_000)}},
		Timestamp: chain.GenesisTimestamp + 1,
	}
	spend.Txid = spend.ComputeTxid()
	spend.EthHash = spend.ComputeEthHash()
	sig, err := kp.Sign(spend.SigningDigest())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	spend.Inputs[0].Signature = sig

	if err := m.pool.Admit(spend); err != nil {
		t.Fatalf("pool.Admit: %v", err)
	}

	blk, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if blk.Header.Index != 1 {
		t.Fatalf("mined block index = %d, want 1", blk.Header.Index)
	}
	if len(blk.Transactions) != 2 {
		t.Fatalf("expected coinbase + 1 spend, got %d transactions", len(blk.Transactions))
	}
	if blk.Transactions[1].Txid != spend.Txid {
		t.Errorf("second transaction = %s, want %s", blk.Transactions[1].Txid, spend.Txid)
	}
	if m.pool.Len() != 0 {
		t.Errorf("pool length = %d after mining, want 0", m.pool.Len())
	}
}
