// Package mempool implements the pending-transaction pool (spec.md §4.5):
// an ordered accepted list, a TTL-bounded seen-transaction dedup map, and
// size/byte-bound eviction by fee-per-byte.
//
// The teacher has no mempool (p2pool shares are accept-once, never
// pending), so this is grounded on the *shape* of PubSub's
// peerLimiters map (internal/p2p/pubsub.go: a mutex-guarded, capped,
// evictable map) generalized into a TTL cache via
// hashicorp/golang-lru/v2's expirable.LRU, and on
// internal/node/events.go's event-struct pattern for the admission
// notification shape.
package mempool

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"netcoin/internal/chain"
	"netcoin/internal/codec"
)

// SeenTxTTL is how long a txid is remembered for dedup purposes after
// first admission (spec.md §4.5).
const SeenTxTTL = 3600 * time.Second

// AdmittedEvent signals that a transaction was accepted into the pool and
// should be relayed to every connected peer exactly once.
type AdmittedEvent struct {
	Tx *codec.Transaction
}

// Pool holds the node's pending transactions.
type Pool struct {
	mu  sync.Mutex
	txs []*codec.Transaction

	seen *lru.LRU[string, int64]

	validator *chain.Validator
	logger    *zap.Logger

	maxCount int
	maxBytes int64

	onAdmit func(AdmittedEvent)
}

// NewPool builds an empty pool. maxCount/maxBytes <= 0 mean "unbounded"
// for that dimension. onAdmit, if non-nil, is called (outside the pool's
// lock) once per successful admission — the relay-to-every-peer hook.
func NewPool(validator *chain.Validator, maxCount int, maxBytes int64, logger *zap.Logger, onAdmit func(AdmittedEvent)) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		seen:      lru.NewLRU[string, int64](0, nil, SeenTxTTL),
		validator: validator,
		logger:    logger,
		maxCount:  maxCount,
		maxBytes:  maxBytes,
		onAdmit:   onAdmit,
	}
}

// Admit runs the spec.md §4.5 admission rules and, on success, adds tx to
// the pool and fires the relay hook exactly once.
func (p *Pool) Admit(tx *codec.Transaction) error {
	p.mu.Lock()

	if p.seen.Contains(tx.Txid) {
		p.mu.Unlock()
		return fmt.Errorf("mempool: tx %s already seen", tx.Txid)
	}

	now := time.Now().Unix()
	if verr := p.validator.ValidateTx(tx, now); verr != nil {
		p.mu.Unlock()
		return fmt.Errorf("mempool: %w", verr)
	}

	for _, existing := range p.txs {
		if inputsCollide(existing, tx) {
			p.mu.Unlock()
			return fmt.Errorf("mempool: tx %s double-spends an input already in the pool", tx.Txid)
		}
	}

	p.txs = append(p.txs, tx)
	p.seen.Add(tx.Txid, now)
	p.evictOverflow()

	p.mu.Unlock()

	if p.onAdmit != nil {
		p.onAdmit(AdmittedEvent{Tx: tx})
	}
	return nil
}

// inputsCollide reports whether a and b reference any (txid,vout) in
// common.
func inputsCollide(a, b *codec.Transaction) bool {
	spent := make(map[string]struct{}, len(a.Inputs))
	for _, in := range a.Inputs {
		spent[fmt.Sprintf("%s:%d", in.Txid, in.Vout)] = struct{}{}
	}
	for _, in := range b.Inputs {
		if _, ok := spent[fmt.Sprintf("%s:%d", in.Txid, in.Vout)]; ok {
			return true
		}
	}
	return false
}

// evictOverflow drops the lowest fee-per-byte transactions until both
// bounds are satisfied. Caller must hold p.mu.
func (p *Pool) evictOverflow() {
	for p.overflowing() && len(p.txs) > 0 {
		worst := p.lowestFeeRateIndex()
		p.txs = append(p.txs[:worst], p.txs[worst+1:]...)
	}
}

func (p *Pool) overflowing() bool {
	if p.maxCount > 0 && len(p.txs) > p.maxCount {
		return true
	}
	if p.maxBytes > 0 && p.totalBytesLocked() > p.maxBytes {
		return true
	}
	return false
}

func (p *Pool) totalBytesLocked() int64 {
	var total int64
	for _, tx := range p.txs {
		total += int64(len(tx.Encode()))
	}
	return total
}

// lowestFeeRateIndex returns the index of the transaction with the lowest
// fee-per-byte, computed against the validator's store for input amounts.
// A transaction whose fee cannot be recomputed (e.g. an input was since
// spent elsewhere) is treated as fee-rate zero — first in line to evict.
func (p *Pool) lowestFeeRateIndex() int {
	worst := 0
	worstRate := -1.0
	for i, tx := range p.txs {
		rate := p.feeRate(tx)
		if worstRate < 0 || rate < worstRate {
			worst = i
			worstRate = rate
		}
	}
	return worst
}

func (p *Pool) feeRate(tx *codec.Transaction) float64 {
	size := len(tx.Encode())
	if size == 0 {
		return 0
	}
	var totalIn, totalOut codec.Amount
	for _, in := range tx.Inputs {
		utxo, err := p.validator.Store().GetUTXO(in.Txid, in.Vout)
		if err != nil {
			return 0
		}
		sum, overflow := totalIn.Add(utxo.Amount)
		if overflow {
			return 0
		}
		totalIn = sum
	}
	for _, out := range tx.Outputs {
		sum, overflow := totalOut.Add(out.Amount)
		if overflow {
			return 0
		}
		totalOut = sum
	}
	if totalIn.Cmp(totalOut) < 0 {
		return 0
	}
	fee, _ := totalIn.Sub(totalOut)
	feeF, _ := new(big.Float).SetInt(fee.BigInt()).Float64()
	return feeF / float64(size)
}

// Snapshot returns a copy of the pool's current transactions in
// admission order, for the miner's candidate-block build. It does not
// remove them — callers that successfully mine a block are responsible
// for calling Remove for each included transaction.
func (p *Pool) Snapshot() []*codec.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*codec.Transaction, len(p.txs))
	copy(out, p.txs)
	return out
}

// Remove drops a transaction from the pool (normally because it was just
// mined into a block). It stays in the seen-tx dedup set until its TTL
// expires.
func (p *Pool) Remove(txid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, tx := range p.txs {
		if tx.Txid == txid {
			p.txs = append(p.txs[:i], p.txs[i+1:]...)
			return
		}
	}
}

// Return re-queues transactions a failed mining attempt pulled out of the
// pool (spec.md §4.5: "transactions are returned to it if mining fails").
func (p *Pool) Return(txs []*codec.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	present := make(map[string]struct{}, len(p.txs))
	for _, tx := range p.txs {
		present[tx.Txid] = struct{}{}
	}
	for _, tx := range txs {
		if _, ok := present[tx.Txid]; !ok {
			p.txs = append(p.txs, tx)
		}
	}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

func (p *Pool) TotalBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBytesLocked()
}
