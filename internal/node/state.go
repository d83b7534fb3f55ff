// Package node implements NodeState (spec.md §5): the single coarse-mutex
// struct holding every piece of shared mutable state the rest of the
// process reads — the store handle, an in-memory chain mirror, the
// mempool, the eth-hash-to-internal-txid index, the peer-manager handle,
// the miner handle, and node start time. No teacher equivalent exists
// (p2pool has no single shared-state struct of this shape; its state is
// scattered across the sharechain, stratum server, and work generator);
// built directly from spec.md §5's itemized field list, following the
// teacher's general preference for small structs with explicit fields
// over generic containers.
package node

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"netcoin/internal/chain"
	"netcoin/internal/codec"
	"netcoin/internal/mempool"
	"netcoin/internal/metrics"
	"netcoin/internal/miner"
	"netcoin/internal/p2p"
	"netcoin/internal/store"
)

// MaxMirrorSize bounds the in-memory recently-accepted-block mirror so
// it doesn't grow without bound on a long-running node; it exists purely
// as a fast "last N blocks" view for the status endpoint, not as a
// source of truth (that's always the store).
const MaxMirrorSize = 1000

// State is the node's single coarse-mutex shared-state container
// (spec.md §5). Long-running operations (crypto, RLP decoding, coin
// selection, network I/O) must never be performed while holding mu; the
// convention throughout is snapshot -> compute -> reacquire -> commit.
type State struct {
	Store     store.Store
	Validator *chain.Validator
	Reorg     *chain.ReorgEngine
	Pool      *mempool.Pool
	Manager   *p2p.Manager
	Miner     *miner.Miner

	MinerAddress string
	StartTime    time.Time

	logger *zap.Logger

	mu            sync.Mutex
	mirror        []string
	ethToInternal map[string]string
}

func NewState(s store.Store, v *chain.Validator, reorg *chain.ReorgEngine, pool *mempool.Pool, mgr *p2p.Manager, mnr *miner.Miner, minerAddress string, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{
		Store:         s,
		Validator:     v,
		Reorg:         reorg,
		Pool:          pool,
		Manager:       mgr,
		Miner:         mnr,
		MinerAddress:  minerAddress,
		StartTime:     time.Now(),
		logger:        logger,
		ethToInternal: make(map[string]string),
	}
}

// RecordAccepted appends an accepted block's hash to the in-memory
// mirror (mined locally or via peer relay/reorg) and updates the height
// gauge.
func (st *State) RecordAccepted(block *codec.Block) {
	st.mu.Lock()
	st.mirror = append(st.mirror, block.Hash)
	if len(st.mirror) > MaxMirrorSize {
		st.mirror = st.mirror[len(st.mirror)-MaxMirrorSize:]
	}
	st.mu.Unlock()

	for _, tx := range block.Transactions {
		if tx.EthHash != "" {
			st.RecordEthMapping(tx.EthHash, tx.Txid)
		}
	}
	metrics.ChainHeight.Set(float64(block.Header.Index))
}

// Mirror returns a copy of the in-memory recently-accepted-block hash
// list, oldest first.
func (st *State) Mirror() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]string, len(st.mirror))
	copy(out, st.mirror)
	return out
}

// RecordEthMapping indexes an external (Keccak-256) transaction hash to
// its internal txid, including for mempool-pending transactions the
// store's durable eh: index doesn't know about yet (spec.md §5:
// eth_to_internal_tx is part of NodeState precisely so a pending
// transaction's mapping is visible before it's mined).
func (st *State) RecordEthMapping(ethHash, txid string) {
	st.mu.Lock()
	st.ethToInternal[ethHash] = txid
	st.mu.Unlock()
}

// LookupEthMapping resolves an external hash to an internal txid,
// consulting the in-memory map first (covers pending transactions) and
// falling back to the store's durable eh: index.
func (st *State) LookupEthMapping(ethHash string) (string, bool) {
	st.mu.Lock()
	txid, ok := st.ethToInternal[ethHash]
	st.mu.Unlock()
	if ok {
		return txid, true
	}
	tx, err := st.Store.GetTxByEth(ethHash)
	if err != nil {
		return "", false
	}
	return tx.Txid, true
}

// Uptime returns how long the node has been running.
func (st *State) Uptime() time.Duration {
	return time.Since(st.StartTime)
}

// RunMiner drives the miner's build-search-apply loop continuously
// until stopCh is closed, honoring its own return-nil-on-cancellation
// contract by simply looping again (spec.md §4.6 rule 6: "return the
// pending transactions to the mempool and restart").
func (st *State) RunMiner(stopCh <-chan struct{}) {
	if st.Miner == nil {
		return
	}
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		block, err := st.Miner.Run()
		if err != nil {
			st.logger.Warn("miner run failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if block == nil {
			continue
		}
		metrics.BlocksMined.Inc()
	}
}
