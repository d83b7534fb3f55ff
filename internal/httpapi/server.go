// Package httpapi implements the node's HTTP query and submission
// surface (spec.md §4.8, §6, port 19533).
//
// Grounded on orbas1-Synnergy's walletserver: a router built with
// gorilla/mux, a small Controller-equivalent struct wrapping the
// service it serves (here, internal/node.State directly, since netcoin
// has no separate service layer to wrap), and a logging middleware
// applied once via r.Use — adapted to go.uber.org/zap instead of that
// example's logrus, for consistency with the rest of netcoin's ambient
// logging stack.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"netcoin/internal/metrics"
	"netcoin/internal/node"
)

// Server wraps the shared node state and exposes an http.Handler.
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

// Router builds the mux.Router for the full endpoint list (spec.md §6).
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/blockchain", s.handleBlockchain).Methods(http.MethodGet)
	r.HandleFunc("/blockchain/memory", s.handleBlockchain).Methods(http.MethodGet)
	r.HandleFunc("/blockchain/db", s.handleBlockchain).Methods(http.MethodGet)
	r.HandleFunc("/blockchain/range", s.handleBlockchainRange).Methods(http.MethodGet)
	r.HandleFunc("/counts", s.handleCounts).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/mempool", s.handleMempool).Methods(http.MethodGet)
	r.HandleFunc("/tx", s.handleSubmitTx).Methods(http.MethodPost)
	r.HandleFunc("/tx/relay", s.handleSubmitTx).Methods(http.MethodPost)
	r.HandleFunc("/tx/{txid}", s.handleGetTx).Methods(http.MethodGet)
	r.HandleFunc("/mining/submit", s.handleMiningSubmit).Methods(http.MethodPost)
	r.HandleFunc("/address/{addr}/balance", s.handleAddressBalance).Methods(http.MethodGet)
	r.HandleFunc("/address/{addr}/utxos", s.handleAddressUTXOs).Methods(http.MethodGet)
	r.HandleFunc("/address/{addr}/info", s.handleAddressInfo).Methods(http.MethodGet)
	r.HandleFunc("/eth_mapping/{hash}", s.handleEthMapping).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
