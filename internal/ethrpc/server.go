package ethrpc

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"netcoin/internal/node"
)

// Server is the Ethereum-compatible JSON-RPC endpoint, wired against the
// same node.State the HTTP query surface and P2P layer share (spec.md §5:
// every external surface reads/writes through one NodeState).
type Server struct {
	state  *node.State
	logger *zap.Logger
}

func NewServer(state *node.State, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{state: state, logger: logger}
}

type methodFunc func(s *Server, params json.RawMessage) (interface{}, *Error)

// methods is the dispatch table keyed by JSON-RPC method name, the same
// "name string -> handler func" shape internal/p2p/manager.go uses for its
// wire-message switch, generalized to JSON-RPC's method field.
var methods = map[string]methodFunc{
	"web3_clientVersion":          (*Server).handleClientVersion,
	"net_version":                 (*Server).handleNetVersion,
	"eth_chainId":                 (*Server).handleChainID,
	"eth_blockNumber":              (*Server).handleBlockNumber,
	"eth_getBalance":              (*Server).handleGetBalance,
	"eth_getTransactionCount":     (*Server).handleGetTransactionCount,
	"eth_gasPrice":                (*Server).handleGasPrice,
	"eth_estimateGas":             (*Server).handleEstimateGas,
	"eth_sendRawTransaction":      (*Server).handleSendRawTransaction,
	"eth_getTransactionByHash":    (*Server).handleGetTransactionByHash,
	"eth_getTransactionReceipt":   (*Server).handleGetTransactionReceipt,
	"eth_getBlockByNumber":        (*Server).handleGetBlockByNumber,
	"eth_getBlockByHash":          (*Server).handleGetBlockByHash,
	"eth_call":                    (*Server).handleCall,
	"eth_getCode":                 (*Server).handleGetCode,
}

// ServeHTTP decodes one JSON-RPC request, dispatches it, and encodes the
// response. Batched requests (a JSON array) are not supported (spec.md's
// Non-goals exclude batch JSON-RPC).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, newError(nil, CodeInvalidParams, "malformed JSON-RPC request"))
		return
	}

	fn, ok := methods[req.Method]
	if !ok {
		writeResponse(w, newError(req.ID, CodeMethodNotFound, "method not found: "+req.Method))
		return
	}

	result, rpcErr := fn(s, req.Params)
	if rpcErr != nil {
		writeResponse(w, &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
	} else {
		writeResponse(w, newResult(req.ID, result))
	}

	s.logger.Debug("json-rpc call",
		zap.String("method", req.Method),
		zap.Duration("elapsed", time.Since(start)))
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func invalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

func applicationError(msg string) *Error {
	return &Error{Code: CodeApplicationErr, Message: msg}
}
