package p2p

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"netcoin/internal/chain"
	"netcoin/internal/codec"
	"netcoin/internal/keys"
	"netcoin/internal/mempool"
	"netcoin/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.BoltStore) {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "p2p_test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	store.SetAddressResolver(keys.AddressFromPubkeyHex)

	v := chain.NewValidator(s, nil)
	reorg := chain.NewReorgEngine(s, v, zap.NewNop())
	pool := mempool.NewPool(v, 0, 0, zap.NewNop(), nil)
	m := NewManager(s, v, reorg, pool, zap.NewNop(), nil)
	return m, s
}

func makeBlock(t *testing.T, index uint64, prevHash [32]byte, minerAddr string) *codec.Block {
	t.Helper()
	coinbase := &codec.Transaction{
		Outputs:   []codec.TxOutput{{To: minerAddr, Amount: chain.Reward(index)}},
		Timestamp: chain.GenesisTimestamp + int64(index),
	}
	coinbase.Txid = coinbase.ComputeTxid()
	coinbase.EthHash = coinbase.ComputeEthHash()

	blk := &codec.Block{
		Header: codec.BlockHeader{
			Index:        index,
			PreviousHash: prevHash,
			Timestamp:    chain.GenesisTimestamp + int64(index),
		},
		Transactions: []*codec.Transaction{coinbase},
	}
	root, err := blk.ComputeMerkleRoot()
	if err != nil {
		t.Fatalf("ComputeMerkleRoot: %v", err)
	}
	blk.Header.MerkleRoot = root
	blk.Hash = blk.Header.Hash()
	return blk
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func TestHandshakeExchangesVerAckAndSyncsHeaders(t *testing.T) {
	mgrA, sA := newTestManager(t)
	mgrB, _ := newTestManager(t)

	addrA := "0x00000000000000000000000000000000000aaa"
	genesis := makeBlock(t, 0, [32]byte{}, addrA)
	if err := sA.ApplyBlockAtomic(genesis, nil, []codec.UTXO{{Txid: genesis.Transactions[0].Txid, Vout: 0, To: addrA, Amount: genesis.Transactions[0].Outputs[0].Amount}}); err != nil {
		t.Fatalf("ApplyBlockAtomic: %v", err)
	}

	addrListenA, err := mgrA.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("mgrA.Listen: %v", err)
	}
	if _, err := mgrB.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("mgrB.Listen: %v", err)
	}
	defer mgrA.Stop()
	defer mgrB.Stop()

	if err := mgrB.Dial(addrListenA); err != nil {
		t.Fatalf("mgrB.Dial: %v", err)
	}

	// B has no headers of its own; the GetHeaders(nil) that B sends on
	// receiving A's Version should eventually hand B the genesis block.
	waitFor(t, 3*time.Second, func() bool {
		_, ok := mgrB.store.GetTip()
		return ok
	})
	tip, ok := mgrB.store.GetTip()
	if !ok || tip != genesis.Hash {
		t.Errorf("mgrB tip = %q, ok=%v, want %q", tip, ok, genesis.Hash)
	}
}

func TestBlockRelayAppliesValidBlock(t *testing.T) {
	mgrA, sA := newTestManager(t)
	mgrB, sB := newTestManager(t)

	addrA := "0x00000000000000000000000000000000000aaa"
	genesis := makeBlock(t, 0, [32]byte{}, addrA)
	created := []codec.UTXO{{Txid: genesis.Transactions[0].Txid, Vout: 0, To: addrA, Amount: genesis.Transactions[0].Outputs[0].Amount}}
	if err := sA.ApplyBlockAtomic(genesis, nil, created); err != nil {
		t.Fatalf("sA.ApplyBlockAtomic: %v", err)
	}
	if err := sB.ApplyBlockAtomic(genesis, nil, created); err != nil {
		t.Fatalf("sB.ApplyBlockAtomic: %v", err)
	}

	addrListenA, err := mgrA.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("mgrA.Listen: %v", err)
	}
	if _, err := mgrB.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("mgrB.Listen: %v", err)
	}
	defer mgrA.Stop()
	defer mgrB.Stop()

	if err := mgrB.Dial(addrListenA); err != nil {
		t.Fatalf("mgrB.Dial: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return mgrA.PeerCount() == 1 && mgrB.PeerCount() == 1 })

	block1, err := sA.GetHeader(genesis.Hash)
	if err != nil {
		t.Fatalf("GetHeader: %v", err)
	}
	prevHash, _ := codec.HashFromHex(genesis.Hash)
	blk1 := makeBlock(t, block1.Index+1, prevHash, addrA)

	mgrA.BroadcastBlock(blk1)

	waitFor(t, 3*time.Second, func() bool {
		tip, ok := sB.GetTip()
		return ok && tip == blk1.Hash
	})
}

func TestOrphanBlockReconnectsOnParentArrival(t *testing.T) {
	mgr, s := newTestManager(t)

	addrA := "0x00000000000000000000000000000000000aaa"
	genesis := makeBlock(t, 0, [32]byte{}, addrA)
	created := []codec.UTXO{{Txid: genesis.Transactions[0].Txid, Vout: 0, To: addrA, Amount: genesis.Transactions[0].Outputs[0].Amount}}
	if err := s.ApplyBlockAtomic(genesis, nil, created); err != nil {
		t.Fatalf("ApplyBlockAtomic: %v", err)
	}

	genesisHashBytes, _ := codec.HashFromHex(genesis.Hash)
	block1 := makeBlock(t, 1, genesisHashBytes, addrA)
	block1HashBytes, _ := codec.HashFromHex(block1.Hash)
	block2 := makeBlock(t, 2, block1HashBytes, addrA)

	mgr.handleBlock(&Peer{id: "test", logger: zap.NewNop(), manager: mgr}, &codec.PeerMessage{Type: codec.MsgBlock, Block: block2})
	if !mgr.orphans.Contains(block2.Hash) {
		t.Fatal("expected block2 to be parked in the orphan pool")
	}

	mgr.handleBlock(&Peer{id: "test", logger: zap.NewNop(), manager: mgr}, &codec.PeerMessage{Type: codec.MsgBlock, Block: block1})

	tip, ok := s.GetTip()
	if !ok || tip != block2.Hash {
		t.Errorf("store tip = %q, want %q (orphan should have reconnected)", tip, block2.Hash)
	}
	if mgr.orphans.Contains(block2.Hash) {
		t.Error("expected block2 to be removed from the orphan pool after reconnecting")
	}
}

// TestCompetingChainTriggersReorg covers spec.md §8 scenario 4 (peer
// race / reorg): a two-block side chain off genesis, delivered after a
// shorter chain is already the tip, must overtake it via
// chain.ReorgEngine.TryReorg rather than being silently ignored or
// corrupting the store with an unconditional apply.
func TestCompetingChainTriggersReorg(t *testing.T) {
	mgr, s := newTestManager(t)
	peer := &Peer{id: "test", logger: zap.NewNop(), manager: mgr}

	addrA := "0x00000000000000000000000000000000000aaa"
	addrB := "0x00000000000000000000000000000000000bbb"
	genesis := makeBlock(t, 0, [32]byte{}, addrA)
	created := []codec.UTXO{{Txid: genesis.Transactions[0].Txid, Vout: 0, To: addrA, Amount: genesis.Transactions[0].Outputs[0].Amount}}
	if err := s.ApplyBlockAtomic(genesis, nil, created); err != nil {
		t.Fatalf("ApplyBlockAtomic: %v", err)
	}
	genesisHashBytes, _ := codec.HashFromHex(genesis.Hash)

	// Main chain: a single block extending genesis.
	blockA1 := makeBlock(t, 1, genesisHashBytes, addrA)
	mgr.handleBlock(peer, &codec.PeerMessage{Type: codec.MsgBlock, Block: blockA1})
	if tip, ok := s.GetTip(); !ok || tip != blockA1.Hash {
		t.Fatalf("store tip = %q, want %q after the first block", tip, blockA1.Hash)
	}

	// Side chain: two blocks off the same genesis, strictly more
	// cumulative work than the one-block main chain.
	blockB1 := makeBlock(t, 1, genesisHashBytes, addrB)
	blockB1HashBytes, _ := codec.HashFromHex(blockB1.Hash)
	blockB2 := makeBlock(t, 2, blockB1HashBytes, addrB)

	mgr.handleBlock(peer, &codec.PeerMessage{Type: codec.MsgBlock, Block: blockB1})
	mgr.handleBlock(peer, &codec.PeerMessage{Type: codec.MsgBlock, Block: blockB2})

	tip, ok := s.GetTip()
	if !ok || tip != blockB2.Hash {
		t.Errorf("store tip = %q, want %q (heavier side chain should have won the reorg)", tip, blockB2.Hash)
	}
	height, ok := s.Height()
	if !ok || height != 2 {
		t.Errorf("store height = %d (ok=%v), want 2", height, ok)
	}
	if mgr.sideBlocks.Contains(blockB1.Hash) || mgr.sideBlocks.Contains(blockB2.Hash) {
		t.Error("expected the winning side-chain blocks to be removed from sideBlocks after the reorg")
	}
}
