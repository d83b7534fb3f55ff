package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"netcoin/internal/chain"
	"netcoin/internal/codec"
	"netcoin/internal/keys"
	"netcoin/internal/mempool"
	"netcoin/internal/node"
	"netcoin/internal/store"
)

const testMinerAddr = "0x00000000000000000000000000000000000bee"

func newTestServer(t *testing.T) (*Server, *store.BoltStore) {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "http_test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	store.SetAddressResolver(keys.AddressFromPubkeyHex)

	v := chain.NewValidator(s, nil)
	reorg := chain.NewReorgEngine(s, v, zap.NewNop())
	pool := mempool.NewPool(v, 0, 0, zap.NewNop(), nil)
	st := node.NewState(s, v, reorg, pool, nil, nil, testMinerAddr, zap.NewNop())
	return NewServer(st, zap.NewNop()), s
}

func seedGenesis(t *testing.T, s *store.BoltStore, minerAddr string) *codec.Block {
	t.Helper()
	tx := &codec.Transaction{
		Outputs:   []codec.TxOutput{{To: minerAddr, Amount: chain.Reward(0)}},
		Timestamp: chain.GenesisTimestamp,
	}
	tx.Txid = tx.ComputeTxid()
	tx.EthHash = tx.ComputeEthHash()
	blk := &codec.Block{
		Header:       codec.BlockHeader{Index: 0, Timestamp: chain.GenesisTimestamp},
		Transactions: []*codec.Transaction{tx},
	}
	root, err := blk.ComputeMerkleRoot()
	if err != nil {
		t.Fatalf("ComputeMerkleRoot: %v", err)
	}
	blk.Header.MerkleRoot = root
	blk.Hash = blk.Header.Hash()

	created := []codec.UTXO{{Txid: tx.Txid, Vout: 0, To: minerAddr, Amount: tx.Outputs[0].Amount}}
	if err := s.ApplyBlockAtomic(blk, nil, created); err != nil {
		t.Fatalf("ApplyBlockAtomic: %v", err)
	}
	return blk
}

func TestHealthEndpoint(t *testing.T) {
	srv, s := newTestServer(t)
	seedGenesis(t, s, testMinerAddr)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["height"].(float64) != 0 {
		t.Errorf("height = %v, want 0", body["height"])
	}
}

func TestCountsEndpoint(t *testing.T) {
	srv, s := newTestServer(t)
	seedGenesis(t, s, testMinerAddr)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/counts", nil))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["blocks"].(float64) != 1 {
		t.Errorf("blocks = %v, want 1", body["blocks"])
	}
	if body["transactions"].(float64) != 1 {
		t.Errorf("transactions = %v, want 1", body["transactions"])
	}
}

func TestAddressBalanceEndpoint(t *testing.T) {
	srv, s := newTestServer(t)
	blk := seedGenesis(t, s, testMinerAddr)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/address/"+testMinerAddr+"/balance", nil)
	srv.Router().ServeHTTP(rr, req)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	wantHex := blk.Transactions[0].Outputs[0].Amount.HexString()
	if body["balance"] != wantHex {
		t.Errorf("balance = %v, want %s", body["balance"], wantHex)
	}
}

func TestMempoolEndpointEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/mempool", nil))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["count"].(float64) != 0 {
		t.Errorf("count = %v, want 0", body["count"])
	}
}

func TestSubmitTxRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tx", http.NoBody)
	srv.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestEthMappingEndpointNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/eth_mapping/0xdeadbeef", nil)
	srv.Router().ServeHTTP(rr, req)
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["found"] != false {
		t.Errorf("found = %v, want false", body["found"])
	}
}
