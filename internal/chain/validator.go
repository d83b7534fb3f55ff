// Package chain implements the ledger validator (spec.md §4.4): ordered,
// cheapest-first transaction and block checks, a closed failure taxonomy,
// block-reward computation, checkpoint policy, and reorg handling.
//
// Grounded on the teacher's internal/sharechain.Validator shape (a struct
// wrapping the store, ValidateShare as an ordered chain of early returns
// each producing a *ValidationError), generalized from share rules to
// spec.md §4.4.1/§4.4.2's ledger rules.
package chain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"netcoin/internal/codec"
	"netcoin/internal/keys"
	"netcoin/internal/store"
)

// FailureCode is the closed validation-failure taxonomy of spec.md §4.4.6.
type FailureCode string

const (
	FailureHashMismatch       FailureCode = "hash_mismatch"
	FailurePoW                FailureCode = "pow"
	FailureMerkle             FailureCode = "merkle"
	FailureTimestampOld       FailureCode = "timestamp_old"
	FailureTimestampFuture    FailureCode = "timestamp_future"
	FailurePreviousNotFound   FailureCode = "previous_not_found"
	FailureEmptyBlock         FailureCode = "empty_block"
	FailureInvalidCoinbase    FailureCode = "invalid_coinbase"
	FailureSignature          FailureCode = "signature"
	FailureUTXONotFound       FailureCode = "utxo_not_found"
	FailureUTXOOwnership      FailureCode = "utxo_ownership"
	FailureDuplicateInput     FailureCode = "duplicate_input"
	FailureInsufficientFee    FailureCode = "insufficient_fee"
	FailureCheckpoint         FailureCode = "checkpoint"
	FailureSecurityConstraint FailureCode = "security_constraint"
	FailureOther              FailureCode = "other"
)

// ValidationError is a rejected transaction or block, carrying the
// taxonomy code the status endpoint's counters key on.
type ValidationError struct {
	Code   FailureCode
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed [%s]: %s", e.Code, e.Reason)
}

func fail(code FailureCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Transaction-level limits, spec.md §4.4.1.
const (
	MaxTxSize     = 100_000
	MaxTxInputs   = 1000
	MaxTxOutputs  = 1000
	MaxFutureSkew = int64(7200) // seconds

	// GenesisTimestamp is the lower bound for any block timestamp
	// (spec.md §4.4.2 rule 3); also the genesis block's own timestamp.
	GenesisTimestamp int64 = 1_738_800_000

	// ReorgDepthCap is the 51%-attack guard of spec.md §4.4.5 rule 2.
	ReorgDepthCap = 100

	// HalvingInterval and MaxHalvings parameterize block_reward (reward.go).
	HalvingInterval = 210_000
	MaxHalvings     = 33
)

var (
	// DustLimit is the minimum output amount (spec.md §6: 10^12 base
	// units). Exported so the EIP-155 adapter can avoid creating a
	// change output the validator would reject as dust.
	DustLimit  = codec.AmountFromUint64(1_000_000_000_000)   // 10^12
	baseFee    = codec.AmountFromUint64(100_000_000_000_000) // 10^14
	perByteFee = codec.AmountFromUint64(200_000_000_000)     // 2*10^11
)

// MinimumFee is the consensus minimum fee for a transaction of the given
// encoded byte size (spec.md §6: base fee 10^14 base units, per-byte fee
// 2·10^11 base units). Exported so other adapters building ledger
// transactions from a non-native source (the EIP-155 adapter's
// gas_price×gas_limit check, spec.md §4.9 rule 5) can reuse the exact
// formula ValidateTx enforces, instead of duplicating it and risking
// drift.
func MinimumFee(txSizeBytes int) (codec.Amount, error) {
	perByteCost := new(big.Int).Mul(perByteFee.BigInt(), big.NewInt(int64(txSizeBytes)))
	minFeeBig := new(big.Int).Add(baseFee.BigInt(), perByteCost)
	return codec.AmountFromBigInt(minFeeBig)
}

// Validator holds the dependencies needed to check transactions and blocks
// against the store's current state.
type Validator struct {
	store       store.Store
	checkpoints *CheckpointPolicy
	now         func() time.Time
}

// NewValidator builds a Validator. checkpoints may be nil (no checkpoints
// configured — identical behavior modulo the checkpoint filter, per
// spec.md §4.4.4).
func NewValidator(s store.Store, checkpoints *CheckpointPolicy) *Validator {
	if checkpoints == nil {
		checkpoints = NewCheckpointPolicy(nil)
	}
	return &Validator{store: s, checkpoints: checkpoints, now: time.Now}
}

// ValidateTx runs every spec.md §4.4.1 check. blockTimestamp is the
// timestamp of the transaction's containing block for mempool admission,
// callers pass the current wall-clock time as a stand-in for "the block
// this transaction would end up in."
func (v *Validator) ValidateTx(tx *codec.Transaction, blockTimestamp int64) *ValidationError {
	raw := tx.Encode()
	if len(raw) > MaxTxSize {
		return fail(FailureOther, "transaction size %d exceeds %d bytes", len(raw), MaxTxSize)
	}
	if _, err := codec.DecodeTransaction(raw); err != nil {
		return fail(FailureOther, "transaction does not round-trip: %v", err)
	}

	if len(tx.Inputs) > MaxTxInputs {
		return fail(FailureOther, "too many inputs: %d > %d", len(tx.Inputs), MaxTxInputs)
	}
	if len(tx.Outputs) > MaxTxOutputs {
		return fail(FailureOther, "too many outputs: %d > %d", len(tx.Outputs), MaxTxOutputs)
	}

	now := v.now().Unix()
	if tx.Timestamp > now+MaxFutureSkew {
		return fail(FailureTimestampFuture, "tx timestamp %d is more than %ds ahead of now", tx.Timestamp, MaxFutureSkew)
	}
	if tx.Timestamp > blockTimestamp {
		return fail(FailureTimestampFuture, "tx timestamp %d exceeds containing block timestamp %d", tx.Timestamp, blockTimestamp)
	}

	isCoinbase := tx.IsCoinbase()
	if !isCoinbase {
		for _, out := range tx.Outputs {
			if out.To == "" {
				return fail(FailureOther, "output has empty recipient")
			}
			if out.Amount.Cmp(DustLimit) < 0 {
				return fail(FailureOther, "output amount below dust limit")
			}
		}
	}

	seen := make(map[string]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		key := in.Txid + ":" + fmt.Sprint(in.Vout)
		if _, dup := seen[key]; dup {
			return fail(FailureDuplicateInput, "input %s referenced twice in one transaction", key)
		}
		seen[key] = struct{}{}
	}

	if isCoinbase {
		return nil
	}

	digest := tx.SigningDigest()
	var totalIn codec.Amount
	for _, in := range tx.Inputs {
		utxo, err := v.store.GetUTXO(in.Txid, in.Vout)
		if err != nil {
			return fail(FailureUTXONotFound, "input %s:%d: %v", in.Txid, in.Vout, err)
		}

		if strings.HasPrefix(in.Signature, keys.EthSigPrefix) {
			// EIP-155 recovery at ingress already bound the public key to
			// the sender address; no further native signature check.
		} else if err := keys.VerifyNative(in.Pubkey, in.Signature, digest); err != nil {
			return fail(FailureSignature, "input %s:%d: %v", in.Txid, in.Vout, err)
		}

		owner, err := keys.AddressFromPubkeyHex(in.Pubkey)
		if err != nil || !strings.EqualFold(owner, utxo.To) {
			return fail(FailureUTXOOwnership, "input %s:%d does not belong to signing key", in.Txid, in.Vout)
		}

		sum, overflow := totalIn.Add(utxo.Amount)
		if overflow {
			return fail(FailureOther, "input amount overflow")
		}
		totalIn = sum
	}

	var totalOut codec.Amount
	for _, out := range tx.Outputs {
		sum, overflow := totalOut.Add(out.Amount)
		if overflow {
			return fail(FailureOther, "output amount overflow")
		}
		totalOut = sum
	}

	if totalIn.Cmp(totalOut) < 0 {
		return fail(FailureInsufficientFee, "inputs %s below outputs %s", totalIn.BigInt(), totalOut.BigInt())
	}
	fee, _ := totalIn.Sub(totalOut) // safe: totalIn >= totalOut checked above

	minFee, err := MinimumFee(len(raw))
	if err != nil {
		return fail(FailureOther, "minimum fee computation overflow")
	}
	if fee.Cmp(minFee) < 0 {
		return fail(FailureInsufficientFee, "fee %s below minimum %s", fee.BigInt(), minFee.BigInt())
	}

	return nil
}

// ValidateBlockShape runs the prefix of ValidateBlock's checks that depend
// only on the block's own bytes (hash, PoW, timestamp bounds, Merkle root,
// coinbase positioning) and never on the current UTXO set or chain tip. The
// p2p layer uses this to sanity-check a competing-chain block before it's
// known to be reachable from the main chain, deferring the UTXO- and
// tip-dependent checks in the remainder of ValidateBlock to
// ReorgEngine.applyChain, which runs them against the correct historical
// state once the candidate chain's fork point is found.
func (v *Validator) ValidateBlockShape(block *codec.Block) *ValidationError {
	if block.Header.Hash() != block.Hash {
		return fail(FailureHashMismatch, "declared hash %s != computed %s", block.Hash, block.Header.Hash())
	}
	if !block.Header.MeetsDifficulty() {
		return fail(FailurePoW, "hash %s does not meet difficulty %d", block.Hash, block.Header.Difficulty)
	}

	now := v.now().Unix()
	if block.Header.Timestamp < GenesisTimestamp {
		return fail(FailureTimestampOld, "block timestamp %d before genesis %d", block.Header.Timestamp, GenesisTimestamp)
	}
	if block.Header.Timestamp > now+MaxFutureSkew {
		return fail(FailureTimestampFuture, "block timestamp %d is more than %ds ahead of now", block.Header.Timestamp, MaxFutureSkew)
	}

	root, err := block.ComputeMerkleRoot()
	if err != nil {
		return fail(FailureMerkle, "computing merkle root: %v", err)
	}
	if root != block.Header.MerkleRoot {
		return fail(FailureMerkle, "declared merkle root does not match transactions")
	}

	if len(block.Transactions) == 0 {
		return fail(FailureEmptyBlock, "block has no transactions")
	}
	if !block.Transactions[0].IsCoinbase() {
		return fail(FailureInvalidCoinbase, "first transaction is not a coinbase")
	}
	for i, tx := range block.Transactions[1:] {
		if tx.IsCoinbase() {
			return fail(FailureInvalidCoinbase, "transaction %d is an unexpected second coinbase", i+1)
		}
	}
	return nil
}

// ValidateBlock runs every spec.md §4.4.2 check, in cheapest-first order.
func (v *Validator) ValidateBlock(block *codec.Block) *ValidationError {
	if verr := v.ValidateBlockShape(block); verr != nil {
		return verr
	}

	if block.Header.Index > 0 {
		prevHex := codec.HashHex(block.Header.PreviousHash)
		if _, err := v.store.GetHeader(prevHex); err != nil {
			return fail(FailurePreviousNotFound, "parent header %s not found", prevHex)
		}
	}

	var totalFees codec.Amount
	for _, tx := range block.Transactions[1:] {
		if verr := v.ValidateTx(tx, block.Header.Timestamp); verr != nil {
			return verr
		}
		fee, err := v.txFee(tx)
		if err != nil {
			return fail(FailureOther, "recomputing fee for %s: %v", tx.Txid, err)
		}
		sum, overflow := totalFees.Add(fee)
		if overflow {
			return fail(FailureOther, "fee total overflow")
		}
		totalFees = sum
	}

	maxCoinbase, _ := Reward(block.Header.Index).Add(totalFees)
	var coinbaseOut codec.Amount
	for _, out := range block.Transactions[0].Outputs {
		sum, overflow := coinbaseOut.Add(out.Amount)
		if overflow {
			return fail(FailureInvalidCoinbase, "coinbase output amount overflow")
		}
		coinbaseOut = sum
	}
	if coinbaseOut.Cmp(maxCoinbase) > 0 {
		return fail(FailureInvalidCoinbase, "coinbase pays %s, exceeds reward+fees %s", coinbaseOut.BigInt(), maxCoinbase.BigInt())
	}

	seen := make(map[string]struct{})
	for _, tx := range block.Transactions[1:] {
		for _, in := range tx.Inputs {
			key := in.Txid + ":" + fmt.Sprint(in.Vout)
			if _, dup := seen[key]; dup {
				return fail(FailureDuplicateInput, "input %s spent twice within block", key)
			}
			seen[key] = struct{}{}
		}
	}

	if err := v.checkpoints.CheckBlock(block.Header.Index, block.Hash); err != nil {
		return fail(FailureCheckpoint, "%v", err)
	}

	return nil
}

// txFee recomputes inputs-minus-outputs for an already-input-validated
// transaction (used when summing a block's total fees for the coinbase
// ceiling check).
func (v *Validator) txFee(tx *codec.Transaction) (codec.Amount, error) {
	var totalIn, totalOut codec.Amount
	for _, in := range tx.Inputs {
		utxo, err := v.store.GetUTXO(in.Txid, in.Vout)
		if err != nil {
			return codec.ZeroAmount, err
		}
		sum, overflow := totalIn.Add(utxo.Amount)
		if overflow {
			return codec.ZeroAmount, fmt.Errorf("chain: input amount overflow")
		}
		totalIn = sum
	}
	for _, out := range tx.Outputs {
		sum, overflow := totalOut.Add(out.Amount)
		if overflow {
			return codec.ZeroAmount, fmt.Errorf("chain: output amount overflow")
		}
		totalOut = sum
	}
	fee, underflow := totalIn.Sub(totalOut)
	if underflow {
		return codec.ZeroAmount, fmt.Errorf("chain: inputs below outputs")
	}
	return fee, nil
}

// TxFee exposes txFee for callers outside the package (the HTTP query
// surface's /mempool total-fees field) that need a transaction's fee
// without duplicating the inputs-minus-outputs arithmetic.
func (v *Validator) TxFee(tx *codec.Transaction) (codec.Amount, error) {
	return v.txFee(tx)
}

// Store exposes the validator's backing store for callers (the mempool's
// fee-rate eviction) that need read-only access without duplicating the
// store handle.
func (v *Validator) Store() store.Store {
	return v.store
}

// ComputeDelta derives the spent and created UTXO sets a block's
// application would produce, for callers (miner, p2p block acceptance,
// reorg re-apply) that must pass them to store.ApplyBlockAtomic.
func (v *Validator) ComputeDelta(block *codec.Block) (spent, created []codec.UTXO, err error) {
	for _, tx := range block.Transactions {
		for _, in := range tx.Inputs {
			spent = append(spent, codec.UTXO{Txid: in.Txid, Vout: in.Vout})
		}
		for vout, out := range tx.Outputs {
			created = append(created, codec.UTXO{Txid: tx.Txid, Vout: uint32(vout), To: out.To, Amount: out.Amount})
		}
	}
	return spent, created, nil
}
