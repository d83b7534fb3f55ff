package ethrpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"netcoin/internal/chain"
	"netcoin/internal/codec"
	"netcoin/internal/keys"
)

func (s *Server) handleClientVersion(params json.RawMessage) (interface{}, *Error) {
	return "netcoin/1.0", nil
}

func (s *Server) handleNetVersion(params json.RawMessage) (interface{}, *Error) {
	return fmt.Sprintf("%d", keys.ChainID), nil
}

func (s *Server) handleChainID(params json.RawMessage) (interface{}, *Error) {
	return fmt.Sprintf("0x%x", keys.ChainID), nil
}

func (s *Server) handleBlockNumber(params json.RawMessage) (interface{}, *Error) {
	height, _ := s.state.Store.Height()
	return hexUint(height), nil
}

func (s *Server) handleGetBalance(params json.RawMessage) (interface{}, *Error) {
	var args []string
	if err := decodeParams(params, &args); err != nil || len(args) < 1 {
		return nil, invalidParams("expected [address, blockTag]")
	}
	bal, err := s.state.Store.AddressBalance(args[0])
	if err != nil {
		return nil, applicationError(err.Error())
	}
	return bal.HexString(), nil
}

// handleGetTransactionCount reports the address's transaction count as a
// nonce proxy: netcoin has no account nonce (UTXO model), but Ethereum
// wallets use this value to pick the next nonce, and a monotonically
// increasing send count serves that purpose adequately.
func (s *Server) handleGetTransactionCount(params json.RawMessage) (interface{}, *Error) {
	var args []string
	if err := decodeParams(params, &args); err != nil || len(args) < 1 {
		return nil, invalidParams("expected [address, blockTag]")
	}
	count, err := s.state.Store.AddressTxCount(args[0])
	if err != nil {
		return nil, applicationError(err.Error())
	}
	return hexUint(count), nil
}

// handleGasPrice returns a suggested gas price derived from the real
// minimum-fee formula (chain.MinimumFee) divided by the synthetic gas
// limit every netcoin transaction is quoted at, rather than an arbitrary
// constant: a wallet that multiplies gasPrice*gasLimit for a typical-sized
// transaction lands close to the consensus minimum fee.
func (s *Server) handleGasPrice(params json.RawMessage) (interface{}, *Error) {
	minFee, err := chain.MinimumFee(approxTxSizeBytes)
	if err != nil {
		return nil, applicationError(err.Error())
	}
	gasPrice := new(big.Int).Div(minFee.BigInt(), big.NewInt(syntheticGasLimit))
	return fmt.Sprintf("0x%x", gasPrice), nil
}

func (s *Server) handleEstimateGas(params json.RawMessage) (interface{}, *Error) {
	return hexUint(syntheticGasLimit), nil
}

// approxTxSizeBytes and syntheticGasLimit are the two constants tying
// netcoin's UTXO fee model to the Ethereum gas model: there is no EVM, so
// gas is never metered, but wallets expect gasPrice/gasLimit numbers that
// roughly reconcile with eth_sendRawTransaction's real fee check.
const (
	approxTxSizeBytes = 250
	syntheticGasLimit = 21000
)

func (s *Server) handleCall(params json.RawMessage) (interface{}, *Error) {
	// No EVM: contract calls have nothing to execute against.
	return "0x", nil
}

func (s *Server) handleGetCode(params json.RawMessage) (interface{}, *Error) {
	// No contracts ever exist on netcoin.
	return "0x", nil
}

// handleSendRawTransaction implements spec.md §4.9's nine-step flow:
// decode, reject contract-creation/non-empty-data, recover the sender,
// compute the fee, greedily select UTXOs, build and sign the ledger
// transaction, re-verify the fee against the real encoded size, admit to
// the mempool, index, and broadcast.
func (s *Server) handleSendRawTransaction(params json.RawMessage) (interface{}, *Error) {
	var args []string
	if err := decodeParams(params, &args); err != nil || len(args) < 1 {
		return nil, invalidParams("expected [signedTxData]")
	}
	raw, err := hexToBytes(args[0])
	if err != nil {
		return nil, invalidParams("malformed hex data")
	}

	rawTx, ethHash, err := decodeRawTx(raw)
	if err != nil {
		return nil, invalidParams(err.Error())
	}

	if len(rawTx.To) == 0 {
		return nil, applicationError("contract creation is not supported")
	}
	if len(rawTx.Data) != 0 {
		return nil, applicationError("transactions with calldata are not supported")
	}

	chainID := keys.ChainIDFromV(rawTx.V)
	if chainID == nil || chainID.Cmp(big.NewInt(keys.ChainID)) != 0 {
		return nil, applicationError(fmt.Sprintf("wrong chain id: expected %d", keys.ChainID))
	}

	sigHash, err := signingHash(rawTx, keys.ChainID)
	if err != nil {
		return nil, applicationError(err.Error())
	}
	sender, err := keys.RecoverEIP155(sigHash, rawTx.V, leftPad32(rawTx.R), leftPad32(rawTx.S))
	if err != nil {
		return nil, applicationError(fmt.Sprintf("recover sender: %v", err))
	}

	gasCost := new(big.Int).Mul(rawTx.GasPrice, new(big.Int).SetUint64(rawTx.Gas))
	fee, err := codec.AmountFromBigInt(gasCost)
	if err != nil {
		return nil, applicationError("fee overflows amount range")
	}
	value, err := codec.AmountFromBigInt(rawTx.Value)
	if err != nil {
		return nil, applicationError("value overflows amount range")
	}
	needed, overflow := value.Add(fee)
	if overflow {
		return nil, applicationError("value+fee overflows amount range")
	}

	selected, total, err := selectUTXOs(s.state.Store, sender.Address, needed)
	if err != nil {
		return nil, applicationError(err.Error())
	}

	sigField := fmt.Sprintf("%s%s:%s:%s", keys.EthSigPrefix, rawTx.V.Text(16),
		fmt.Sprintf("%x", leftPad32(rawTx.R)), fmt.Sprintf("%x", leftPad32(rawTx.S)))

	tx := &codec.Transaction{
		Timestamp: time.Now().Unix(),
	}
	for _, u := range selected {
		tx.Inputs = append(tx.Inputs, codec.TxInput{
			Txid:      u.Txid,
			Vout:      u.Vout,
			Pubkey:    sender.UncompressedPubkeyHex,
			Signature: sigField,
		})
	}
	tx.Outputs = append(tx.Outputs, codec.TxOutput{To: ethAddressHex(rawTx.To), Amount: value})
	change, underflow := total.Sub(needed)
	if underflow {
		return nil, applicationError("coin selection underflow")
	}
	if change.Cmp(chain.DustLimit) >= 0 {
		tx.Outputs = append(tx.Outputs, codec.TxOutput{To: sender.Address, Amount: change})
	}

	tx.Txid = tx.ComputeTxid()
	// The external hash eth_sendRawTransaction callers will query by is the
	// hash of the raw RLP bytes they submitted, not the internal
	// signingEncode hash ComputeEthHash would produce (SPEC_FULL.md's open
	// question decision).
	tx.EthHash = ethHash

	minFee, err := chain.MinimumFee(len(tx.Encode()))
	if err != nil {
		return nil, applicationError(err.Error())
	}
	if fee.Cmp(minFee) < 0 {
		return nil, applicationError("gasPrice*gas below the minimum fee for this transaction's size")
	}

	if err := s.state.Pool.Admit(tx); err != nil {
		return nil, applicationError(err.Error())
	}
	s.state.RecordEthMapping(tx.EthHash, tx.Txid)

	return tx.EthHash, nil
}

// selectUTXOs greedily accumulates address's unspent outputs until their
// sum meets or exceeds needed, stopping as soon as it does (spec.md §4.9
// rule 4: "select UTXOs... greedily, in any order the store returns them").
func selectUTXOs(st interface {
	IterateUTXOs(address string, fn func(*codec.UTXO) bool) error
}, address string, needed codec.Amount) ([]*codec.UTXO, codec.Amount, error) {
	var selected []*codec.UTXO
	var total codec.Amount
	err := st.IterateUTXOs(address, func(u *codec.UTXO) bool {
		selected = append(selected, u)
		sum, overflow := total.Add(u.Amount)
		if !overflow {
			total = sum
		}
		return total.Cmp(needed) < 0
	})
	if err != nil {
		return nil, codec.Amount{}, fmt.Errorf("ethrpc: iterate utxos: %w", err)
	}
	if total.Cmp(needed) < 0 {
		return nil, codec.Amount{}, fmt.Errorf("ethrpc: insufficient funds for %s", address)
	}
	return selected, total, nil
}

func (s *Server) handleGetTransactionByHash(params json.RawMessage) (interface{}, *Error) {
	var args []string
	if err := decodeParams(params, &args); err != nil || len(args) < 1 {
		return nil, invalidParams("expected [txHash]")
	}
	txid, ok := s.state.LookupEthMapping(args[0])
	if !ok {
		return nil, nil
	}
	tx, err := s.state.Store.GetTx(txid)
	if err != nil {
		// Not mined yet: serve it from the mempool if it is pending there.
		tx = nil
		for _, pending := range s.state.Pool.Snapshot() {
			if pending.Txid == txid {
				tx = pending
				break
			}
		}
		if tx == nil {
			return nil, nil
		}
	}
	return ethTxJSON(tx, args[0]), nil
}

// handleGetTransactionReceipt reports the containing block's height and
// hash via the store's l: index (internal/store's supplement to spec.md
// §3's keyspace), since spec.md §4.9 requires the receipt to carry them.
func (s *Server) handleGetTransactionReceipt(params json.RawMessage) (interface{}, *Error) {
	var args []string
	if err := decodeParams(params, &args); err != nil || len(args) < 1 {
		return nil, invalidParams("expected [txHash]")
	}
	txid, ok := s.state.LookupEthMapping(args[0])
	if !ok {
		return nil, nil
	}
	tx, err := s.state.Store.GetTx(txid)
	if err != nil {
		// Not in the store (e.g. still pending in the mempool): a receipt
		// only exists once the transaction is in a block.
		return nil, nil
	}
	height, blockHash, err := s.state.Store.GetTxLocation(txid)
	if err != nil {
		return nil, nil
	}
	return map[string]interface{}{
		"transactionHash":   args[0],
		"transactionIndex":  "0x0",
		"blockHash":         blockHash,
		"blockNumber":       hexUint(height),
		"from":              senderOf(tx),
		"to":                recipientOf(tx),
		"gasUsed":           hexUint(syntheticGasLimit),
		"cumulativeGasUsed": hexUint(syntheticGasLimit),
		"contractAddress":   nil,
		"logs":              []interface{}{},
		"status":            "0x1",
	}, nil
}

func (s *Server) handleGetBlockByNumber(params json.RawMessage) (interface{}, *Error) {
	var args []json.RawMessage
	if err := decodeParams(params, &args); err != nil || len(args) < 1 {
		return nil, invalidParams("expected [blockTag, fullTx]")
	}
	var tag string
	if err := json.Unmarshal(args[0], &tag); err != nil {
		return nil, invalidParams("malformed block tag")
	}
	currentHeight, _ := s.state.Store.Height()
	height, err := resolveBlockHeight(tag, currentHeight)
	if err != nil {
		return nil, invalidParams("malformed block tag")
	}
	blk, err := s.state.Store.GetBlockByHeight(height)
	if err != nil {
		return nil, nil
	}
	return ethBlockJSON(blk), nil
}

func (s *Server) handleGetBlockByHash(params json.RawMessage) (interface{}, *Error) {
	var args []string
	if err := decodeParams(params, &args); err != nil || len(args) < 1 {
		return nil, invalidParams("expected [blockHash, fullTx]")
	}
	blk, err := s.state.Store.GetBlock(args[0])
	if err != nil {
		return nil, nil
	}
	return ethBlockJSON(blk), nil
}

func hexUint(v uint64) string { return fmt.Sprintf("0x%x", v) }

func ethBlockJSON(blk *codec.Block) map[string]interface{} {
	txHashes := make([]string, len(blk.Transactions))
	for i, tx := range blk.Transactions {
		if tx.EthHash != "" {
			txHashes[i] = tx.EthHash
		} else {
			txHashes[i] = tx.Txid
		}
	}
	return map[string]interface{}{
		"number":       hexUint(blk.Header.Index),
		"hash":         blk.Hash,
		"parentHash":   "0x" + codec.HashHex(blk.Header.PreviousHash),
		"timestamp":    hexUint(uint64(blk.Header.Timestamp)),
		"transactions": txHashes,
	}
}

func ethTxJSON(tx *codec.Transaction, ethHash string) map[string]interface{} {
	return map[string]interface{}{
		"hash":      ethHash,
		"from":      senderOf(tx),
		"to":        recipientOf(tx),
		"value":     valueOf(tx).HexString(),
		"gas":       hexUint(syntheticGasLimit),
		"gasPrice":  hexUint(0),
		"nonce":     "0x0",
		"input":     "0x",
	}
}

func senderOf(tx *codec.Transaction) string {
	if len(tx.Inputs) == 0 {
		return ""
	}
	addr, err := keys.AddressFromPubkeyHex(tx.Inputs[0].Pubkey)
	if err != nil {
		return ""
	}
	return addr
}

func recipientOf(tx *codec.Transaction) string {
	if len(tx.Outputs) == 0 {
		return ""
	}
	return tx.Outputs[0].To
}

func valueOf(tx *codec.Transaction) codec.Amount {
	if len(tx.Outputs) == 0 {
		return codec.ZeroAmount
	}
	return tx.Outputs[0].Amount
}
