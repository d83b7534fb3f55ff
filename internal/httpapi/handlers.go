package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"netcoin/internal/chain"
	"netcoin/internal/codec"
	"netcoin/internal/metrics"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": reason})
}

// handleDashboard is a stub: spec.md's dashboard HTML itself is an
// explicit Non-goal (out of scope), but the route exists per spec.md §6.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte("<html><body><h1>netcoin</h1><p>see /status, /counts, /mempool</p></body></html>"))
}

// handleBlockchain serves the full block list as base64-over-canonical-
// binary (spec.md §4.8). /blockchain, /blockchain/memory and
// /blockchain/db all serve the same main-chain view: the store is the
// only backing representation netcoin keeps (no separate "in-memory vs
// database" split the teacher's sharechain has).
func (s *Server) handleBlockchain(w http.ResponseWriter, r *http.Request) {
	height, ok := s.state.Store.Height()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"blocks": []string{}})
		return
	}
	s.writeBlockRange(w, 0, height)
}

func (s *Server) handleBlockchainRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err1 := strconv.ParseUint(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseUint(q.Get("to"), 10, 64)
	if err1 != nil || err2 != nil || from > to {
		writeError(w, http.StatusBadRequest, "invalid from/to range")
		return
	}
	s.writeBlockRange(w, from, to)
}

func (s *Server) writeBlockRange(w http.ResponseWriter, from, to uint64) {
	blocks, err := s.state.Store.GetBlocksRange(from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	encoded := make([]string, len(blocks))
	for i, b := range blocks {
		encoded[i] = base64.StdEncoding.EncodeToString(b.Encode())
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": encoded})
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	blocks, _ := s.state.Store.Height()
	txCount, err := s.state.Store.CountTransactions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.state.Store.TotalOutputValue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"blocks":       blocks + 1,
		"transactions": txCount,
		"total_volume": total.HexString(),
	})
}

// handleStatus returns the runtime snapshot (spec.md §4.8): height, peer
// list, mempool sizes, whether mining is on and its payout address,
// uptime, recent block hashes, subnet diversity. Validation-failure
// counters are not in this response; they are served only by /metrics.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	height, _ := s.state.Store.Height()
	var peerAddrs []string
	if s.state.Manager != nil {
		peerAddrs = s.state.Manager.PeerAddrs()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"height":           height,
		"peers":            peerAddrs,
		"peer_count":       len(peerAddrs),
		"subnet_diversity": subnetDiversity(peerAddrs),
		"mempool_count":    s.state.Pool.Len(),
		"mempool_bytes":    s.state.Pool.TotalBytes(),
		"mining":           s.state.Miner != nil,
		"miner_address":    s.state.MinerAddress,
		"uptime_seconds":   int64(s.state.Uptime().Seconds()),
		"recent_blocks":    s.state.Mirror(),
	})
}

// subnetDiversity buckets peer addresses by their /24-equivalent prefix
// (the text before the last dot, for IPv4 host:port strings), a coarse
// Sybil-resistance signal spec.md §4.8 names without specifying an exact
// algorithm.
func subnetDiversity(addrs []string) map[string]int {
	out := make(map[string]int)
	for _, a := range addrs {
		host := a
		for i := len(a) - 1; i >= 0; i-- {
			if a[i] == ':' {
				host = a[:i]
				break
			}
		}
		last := -1
		for i := len(host) - 1; i >= 0; i-- {
			if host[i] == '.' {
				last = i
				break
			}
		}
		prefix := host
		if last >= 0 {
			prefix = host[:last]
		}
		out[prefix]++
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	height, _ := s.state.Store.Height()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"height":    height,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleMempool(w http.ResponseWriter, r *http.Request) {
	txs := s.state.Pool.Snapshot()
	encoded := make([]string, len(txs))
	var totalFees codec.Amount
	for i, tx := range txs {
		encoded[i] = base64.StdEncoding.EncodeToString(tx.Encode())
		if fee, err := s.state.Validator.TxFee(tx); err == nil {
			if sum, overflow := totalFees.Add(fee); !overflow {
				totalFees = sum
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":            len(txs),
		"transactions_b64": encoded,
		"total_fees":       totalFees.HexString(),
	})
}

// handleSubmitTx serves both POST /tx and POST /tx/relay: same decoder,
// same admission checks (spec.md §4.8).
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	tx, err := codec.DecodeTransaction(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed transaction encoding")
		return
	}
	if err := s.state.Pool.Admit(tx); err != nil {
		var verr *chain.ValidationError
		if errors.As(err, &verr) {
			metrics.RecordRejection(verr)
			writeJSON(w, http.StatusOK, map[string]string{"status": "error", "reason": string(verr.Code)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "txid": tx.Txid})
}

// handleMiningSubmit runs a base64-encoded block through the validator
// identically to a peer-delivered block (spec.md §4.8).
func (s *Server) handleMiningSubmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BlockB64 string `json:"block_b64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.BlockB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed base64 block")
		return
	}
	blk, err := codec.DecodeBlock(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed block encoding")
		return
	}
	tip, haveTip := s.state.Store.GetTip()
	extendsTip := !haveTip || codec.HashHex(blk.Header.PreviousHash) == tip

	if !extendsTip {
		// blk doesn't build on the current tip: it's a competing chain of
		// depth one from this submitter's point of view, not a plain
		// extension. Let the reorg engine decide whether it's heavier than
		// the current main chain instead of unconditionally overwriting it
		// (spec.md §4.4.5).
		applied, err := s.state.Reorg.TryReorg([]*codec.Block{blk})
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "error", "reason": err.Error()})
			return
		}
		if !applied {
			writeJSON(w, http.StatusOK, map[string]string{"status": "rejected", "reason": "not heavier than the current main chain"})
			return
		}
		metrics.ReorgsApplied.Inc()
		s.state.RecordAccepted(blk)
		metrics.BlocksAccepted.Inc()
		if s.state.Manager != nil {
			s.state.Manager.BroadcastBlock(blk)
		}
		height, _ := s.state.Store.Height()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "hash": blk.Hash, "height": height})
		return
	}

	if verr := s.state.Validator.ValidateBlock(blk); verr != nil {
		metrics.RecordRejection(verr)
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "reason": string(verr.Code)})
		return
	}
	spent, created, err := s.state.Validator.ComputeDelta(blk)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.state.Store.ApplyBlockAtomic(blk, spent, created); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, tx := range blk.Transactions {
		if !tx.IsCoinbase() {
			s.state.Pool.Remove(tx.Txid)
		}
	}
	s.state.RecordAccepted(blk)
	metrics.BlocksAccepted.Inc()
	if s.state.Manager != nil {
		s.state.Manager.BroadcastBlock(blk)
	}
	height, _ := s.state.Store.Height()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "hash": blk.Hash, "height": height})
}

func (s *Server) handleGetTx(w http.ResponseWriter, r *http.Request) {
	txid := mux.Vars(r)["txid"]
	tx, err := s.state.Store.GetTx(txid)
	if err != nil {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tx_b64": base64.StdEncoding.EncodeToString(tx.Encode()),
		"txid":   tx.Txid,
	})
}

func (s *Server) handleAddressBalance(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	bal, err := s.state.Store.AddressBalance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": addr, "balance": bal.HexString()})
}

func (s *Server) handleAddressUTXOs(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	var utxos []*codec.UTXO
	err := s.state.Store.IterateUTXOs(addr, func(u *codec.UTXO) bool {
		utxos = append(utxos, u)
		return true
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, len(utxos))
	for i, u := range utxos {
		out[i] = map[string]any{"txid": u.Txid, "vout": u.Vout, "amount": u.Amount.HexString()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddressInfo(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["addr"]
	bal, err := s.state.Store.AddressBalance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	received, err := s.state.Store.AddressReceived(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sent, err := s.state.Store.AddressSent(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	count, err := s.state.Store.AddressTxCount(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":           bal.HexString(),
		"received":          received.HexString(),
		"sent":              sent.HexString(),
		"transaction_count": hexUint(count),
	})
}

func (s *Server) handleEthMapping(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	txid, ok := s.state.LookupEthMapping(hash)
	writeJSON(w, http.StatusOK, map[string]any{
		"eth_hash":      hash,
		"internal_txid": txid,
		"found":         ok,
	})
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
