package ethrpc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"go.uber.org/zap"

	"netcoin/internal/chain"
	"netcoin/internal/codec"
	"netcoin/internal/keys"
	"netcoin/internal/mempool"
	"netcoin/internal/node"
	"netcoin/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.BoltStore) {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "ethrpc_test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	store.SetAddressResolver(keys.AddressFromPubkeyHex)

	v := chain.NewValidator(s, nil)
	reorg := chain.NewReorgEngine(s, v, zap.NewNop())
	pool := mempool.NewPool(v, 0, 0, zap.NewNop(), nil)
	st := node.NewState(s, v, reorg, pool, nil, nil, "0x00000000000000000000000000000000000bee", zap.NewNop())
	return NewServer(st, zap.NewNop()), s
}

// seedUTXO writes a single spendable UTXO to addr as if it were mined in a
// genesis block, without going through the miner/validator (the test only
// needs a spendable balance, not a consensus-valid chain).
func seedUTXO(t *testing.T, s *store.BoltStore, addr string, amount codec.Amount) *codec.Transaction {
	t.Helper()
	tx := &codec.Transaction{
		Outputs:   []codec.TxOutput{{To: addr, Amount: amount}},
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

	created := []codec.UTXO{{Txid: tx.Txid, Vout: 0, To: addr, Amount: amount}}
	if err := s.ApplyBlockAtomic(blk, nil, created); err != nil {
		t.Fatalf("ApplyBlockAtomic: %v", err)
	}
	return tx
}

func call(t *testing.T, srv *Server, method string, params interface{}) map[string]interface{} {
	t.Helper()
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	reqBody, err := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: method, Params: paramsRaw})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(reqBody))
	srv.ServeHTTP(rr, req)

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v body=%s", err, rr.Body.String())
	}
	return resp
}

func TestChainIDAndNetVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := call(t, srv, "eth_chainId", []interface{}{})
	if resp["result"] != "0x22b8" {
		t.Errorf("eth_chainId = %v, want 0x22b8", resp["result"])
	}

	resp = call(t, srv, "net_version", []interface{}{})
	if resp["result"] != "8888" {
		t.Errorf("net_version = %v, want 8888", resp["result"])
	}
}

func TestMethodNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := call(t, srv, "eth_nonexistent", []interface{}{})
	if resp["error"] == nil {
		t.Fatal("expected an error for an unknown method")
	}
}

func TestGetBalanceAndBlockNumber(t *testing.T) {
	srv, s := newTestServer(t)
	addr := "0x00000000000000000000000000000000000cab"
	tx := seedUTXO(t, s, addr, codec.AmountFromUint64(5_000_000))

	resp := call(t, srv, "eth_getBalance", []interface{}{addr, "latest"})
	if resp["result"] != tx.Outputs[0].Amount.HexString() {
		t.Errorf("eth_getBalance = %v, want %s", resp["result"], tx.Outputs[0].Amount.HexString())
	}

	resp = call(t, srv, "eth_blockNumber", []interface{}{})
	if resp["result"] != "0x0" {
		t.Errorf("eth_blockNumber = %v, want 0x0", resp["result"])
	}
}

// signRawEIP155Tx builds and signs a 9-field legacy transaction the way a
// real Ethereum-compatible wallet would, returning its RLP-encoded bytes.
func signRawEIP155Tx(t *testing.T, priv *ecdsa.PrivateKey, nonce uint64, to []byte, value, gasPrice *big.Int, gas uint64) []byte {
	t.Helper()
	list := signingList{
		Nonce: nonce, GasPrice: gasPrice, Gas: gas, To: to, Value: value, Data: nil,
		ChainID: big.NewInt(keys.ChainID), Zero1: big.NewInt(0), Zero2: big.NewInt(0),
	}
	enc, err := rlp.EncodeToBytes(list)
	if err != nil {
		t.Fatalf("rlp encode signing list: %v", err)
	}
	hash := gethcrypto.Keccak256(enc)

	sig, err := gethcrypto.Sign(hash, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	r := new(big.Int).SetBytes(sig[0:32])
	s := new(big.Int).SetBytes(sig[32:64])
	recID := int64(sig[64])
	v := new(big.Int).Add(big.NewInt(keys.ChainID*2+35), big.NewInt(recID))

	signed := rawEthTx{
		Nonce: nonce, GasPrice: gasPrice, Gas: gas, To: to, Value: value, Data: nil,
		V: v, R: r, S: s,
	}
	raw, err := rlp.EncodeToBytes(signed)
	if err != nil {
		t.Fatalf("rlp encode signed tx: %v", err)
	}
	return raw
}

func TestSendRawTransaction(t *testing.T) {
	srv, s := newTestServer(t)

	kp, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	seedUTXO(t, s, kp.Address, codec.AmountFromUint64(5_000_000_000_000_000))

	to := make([]byte, 20)
	to[19] = 0x42
	// gasPrice chosen comfortably above chain.MinimumFee(size)/gasLimit so
	// the fee re-verification inside handleSendRawTransaction passes.
	raw := signRawEIP155Tx(t, kp.Private, 0, to, big.NewInt(1_000_000_000_000), big.NewInt(20_000_000_000), 21000)

	resp := call(t, srv, "eth_sendRawTransaction", []interface{}{"0x" + hexString(raw)})
	if resp["error"] != nil {
		t.Fatalf("eth_sendRawTransaction returned error: %v", resp["error"])
	}
	ethHash, ok := resp["result"].(string)
	if !ok || ethHash == "" {
		t.Fatalf("expected a result hash, got %v", resp["result"])
	}

	if got := srv.state.Pool.Len(); got != 1 {
		t.Fatalf("mempool length = %d, want 1", got)
	}

	receipt := call(t, srv, "eth_getTransactionReceipt", []interface{}{ethHash})
	// Still pending (not yet mined): no location index entry exists yet,
	// so the receipt must report null rather than error.
	if receipt["result"] != nil {
		t.Errorf("receipt for an unmined tx should be null, got %v", receipt["result"])
	}

	txResp := call(t, srv, "eth_getTransactionByHash", []interface{}{ethHash})
	if txResp["error"] != nil {
		t.Fatalf("eth_getTransactionByHash returned error: %v", txResp["error"])
	}
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}
	return string(out)
}
