package chain

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"netcoin/internal/codec"
	"netcoin/internal/store"
)

// ReorgEngine performs spec.md §4.4.5 reorganizations. There is no teacher
// equivalent (p2pool's sharechain is accept-only, longest-chain, with no
// rollback) — this follows the spec's five numbered steps directly, using
// the same small-struct, explicit-step idiom as the rest of this package.
type ReorgEngine struct {
	store     store.Store
	validator *Validator
	logger    *zap.Logger
}

func NewReorgEngine(s store.Store, v *Validator, logger *zap.Logger) *ReorgEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReorgEngine{store: s, validator: v, logger: logger}
}

// workForDifficulty approximates cumulative proof-of-work as 16^difficulty
// (each hex nibble of required leading zeros divides the search space
// by 16), the same exponential-weighting idea as Bitcoin's
// chainwork but expressed directly against this ledger's nibble-count
// difficulty.
func workForDifficulty(difficulty uint32) *big.Int {
	return new(big.Int).Exp(big.NewInt(16), big.NewInt(int64(difficulty)), nil)
}

// TryReorg considers switching the main chain to candidateBlocks, an
// ordered, contiguous run of already-fetched-but-not-yet-main blocks
// ending at a would-be new tip. candidateBlocks[0].Header.PreviousHash
// must name a block already on the main chain (the fork point) — callers
// (the p2p sync layer, which holds the orphan/side-block pool) are
// responsible for assembling a contiguous run back to a known main-chain
// ancestor before calling this.
//
// Returns (true, nil) if the reorg was performed, (false, nil) if the
// candidate chain was not better than the current main chain, and a
// non-nil error for any rejection (fork not found, depth cap, checkpoint
// crossing, or a candidate block failing validation).
func (r *ReorgEngine) TryReorg(candidateBlocks []*codec.Block) (bool, error) {
	if len(candidateBlocks) == 0 {
		return false, fmt.Errorf("chain: empty candidate chain")
	}

	first := candidateBlocks[0]
	if first.Header.Index == 0 {
		return false, fmt.Errorf("chain: cannot reorg past genesis")
	}
	forkHeight := first.Header.Index - 1
	forkHash := codec.HashHex(first.Header.PreviousHash)

	forkBlock, err := r.store.GetBlock(forkHash)
	if err != nil {
		return false, fail(FailurePreviousNotFound, "fork point %s not found on main chain", forkHash)
	}
	if forkBlock.Header.Index != forkHeight {
		return false, fmt.Errorf("chain: fork point height mismatch: stored %d, expected %d", forkBlock.Header.Index, forkHeight)
	}

	for i, blk := range candidateBlocks {
		wantIndex := forkHeight + 1 + uint64(i)
		if blk.Header.Index != wantIndex {
			return false, fmt.Errorf("chain: candidate chain is not contiguous at position %d", i)
		}
		if i > 0 {
			prevHex := codec.HashHex(blk.Header.PreviousHash)
			if prevHex != candidateBlocks[i-1].Hash {
				return false, fmt.Errorf("chain: candidate chain is not linked at position %d", i)
			}
		}
	}

	mainTipHash, ok := r.store.GetTip()
	if !ok {
		return false, fmt.Errorf("chain: store has no tip")
	}
	mainTipHeader, err := r.store.GetHeader(mainTipHash)
	if err != nil {
		return false, fmt.Errorf("chain: reading main tip header: %w", err)
	}
	mainHeight := mainTipHeader.Index

	rollbackDepth := mainHeight - forkHeight
	if mainHeight > forkHeight && rollbackDepth > ReorgDepthCap {
		return false, fail(FailureSecurityConstraint, "rollback depth %d exceeds cap %d", rollbackDepth, ReorgDepthCap)
	}

	policy := r.validator.checkpoints
	if policy.CrossesCheckpoint(forkHeight, mainHeight) {
		return false, fail(FailureCheckpoint, "rollback from %d to %d would cross a checkpoint", mainHeight, forkHeight)
	}

	candidateWork := big.NewInt(0)
	for _, blk := range candidateBlocks {
		candidateWork.Add(candidateWork, workForDifficulty(blk.Header.Difficulty))
	}
	mainWork := big.NewInt(0)
	oldBlocks, err := r.store.GetBlocksRange(forkHeight+1, mainHeight)
	if err != nil {
		return false, fmt.Errorf("chain: reading main-chain range: %w", err)
	}
	for _, blk := range oldBlocks {
		mainWork.Add(mainWork, workForDifficulty(blk.Header.Difficulty))
	}

	cmp := candidateWork.Cmp(mainWork)
	newTipHash := candidateBlocks[len(candidateBlocks)-1].Hash
	if cmp < 0 || (cmp == 0 && newTipHash >= mainTipHash) {
		return false, nil
	}

	if err := r.rollbackTo(forkHeight, mainHeight, forkHash); err != nil {
		return false, fmt.Errorf("chain: rolling back to fork point: %w", err)
	}

	if err := r.applyChain(candidateBlocks); err != nil {
		// Restore the original tip: roll the partially applied candidate
		// blocks back off, then re-apply the saved original blocks.
		if rerr := r.restoreOriginal(forkHeight, forkHash, oldBlocks); rerr != nil {
			r.logger.Error("reorg: failed to restore original chain after a failed candidate re-apply",
				zap.Error(err), zap.Error(rerr))
			return false, fmt.Errorf("chain: candidate re-apply failed (%v) and restoring the original chain also failed: %w", err, rerr)
		}
		return false, fmt.Errorf("chain: candidate re-apply failed, original chain restored: %w", err)
	}

	r.logger.Info("reorg completed",
		zap.Uint64("fork_height", forkHeight),
		zap.Uint64("old_tip_height", mainHeight),
		zap.Uint64("new_tip_height", candidateBlocks[len(candidateBlocks)-1].Header.Index),
		zap.String("new_tip", newTipHash))
	return true, nil
}

// rollbackTo walks the main chain back from (tipHeight) down to
// (forkHeight+1), undoing each block in turn.
func (r *ReorgEngine) rollbackTo(forkHeight, tipHeight uint64, forkHash string) error {
	cur, ok := r.store.GetTip()
	if !ok {
		return fmt.Errorf("chain: store has no tip")
	}
	for h := tipHeight; h > forkHeight; h-- {
		blk, err := r.store.GetBlock(cur)
		if err != nil {
			return fmt.Errorf("chain: reading block at height %d: %w", h, err)
		}
		restore, err := r.restoreUTXOsFor(blk)
		if err != nil {
			return fmt.Errorf("chain: computing restore set for block %s: %w", cur, err)
		}
		parentHash := codec.HashHex(blk.Header.PreviousHash)
		newTip := parentHash
		if h == forkHeight+1 {
			newTip = forkHash
		}
		if err := r.store.RollbackBlockAtomic(blk, restore, newTip); err != nil {
			return fmt.Errorf("chain: rolling back block %s: %w", cur, err)
		}
		cur = parentHash
	}
	return nil
}

// restoreUTXOsFor reconstructs the UTXOs a block's non-coinbase
// transactions spent, by reading each input's originating transaction
// (still present in the store — only the block being rolled back had its
// own tx entries removed).
func (r *ReorgEngine) restoreUTXOsFor(block *codec.Block) ([]codec.UTXO, error) {
	var restore []codec.UTXO
	for _, tx := range block.Transactions {
		for _, in := range tx.Inputs {
			prev, err := r.store.GetTx(in.Txid)
			if err != nil {
				return nil, fmt.Errorf("reading origin tx %s for input: %w", in.Txid, err)
			}
			if int(in.Vout) >= len(prev.Outputs) {
				return nil, fmt.Errorf("origin tx %s has no output %d", in.Txid, in.Vout)
			}
			out := prev.Outputs[in.Vout]
			restore = append(restore, codec.UTXO{Txid: in.Txid, Vout: in.Vout, To: out.To, Amount: out.Amount})
		}
	}
	return restore, nil
}

// applyChain validates and applies candidateBlocks in order.
func (r *ReorgEngine) applyChain(blocks []*codec.Block) error {
	for _, blk := range blocks {
		if verr := r.validator.ValidateBlock(blk); verr != nil {
			return verr
		}
		spent, created, err := r.validator.ComputeDelta(blk)
		if err != nil {
			return err
		}
		if err := r.store.ApplyBlockAtomic(blk, spent, created); err != nil {
			return err
		}
	}
	return nil
}

// restoreOriginal rolls back whatever prefix of the candidate chain made
// it into the store, then re-applies the saved original blocks from
// fork+1 back up to the original tip.
func (r *ReorgEngine) restoreOriginal(forkHeight uint64, forkHash string, oldBlocks []*codec.Block) error {
	tip, ok := r.store.GetTip()
	if !ok {
		return fmt.Errorf("chain: store has no tip during restore")
	}
	header, err := r.store.GetHeader(tip)
	if err != nil {
		return err
	}
	if err := r.rollbackTo(forkHeight, header.Index, forkHash); err != nil {
		return err
	}
	return r.applyChain(oldBlocks)
}
