// Command netcoind runs a full netcoin node: the bbolt ledger store, the
// validator/reorg engine, the mempool, the P2P transport, an optional
// miner, the HTTP query surface, and the Ethereum-compatible JSON-RPC
// adapter, all sharing one internal/node.State.
//
// No teacher cmd/ entrypoint exists (arejula27-p2pool-go has no main
// package at all, just internal/node/events.go's event-struct
// definitions); this file is grounded on orbas1-Synnergy's cmd/*/main.go
// wiring shape (load config, construct the domain objects in dependency
// order, start listeners, block) generalized with the signal.Notify
// graceful-shutdown pattern its cmd/cli node commands use.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"netcoin/internal/chain"
	"netcoin/internal/codec"
	"netcoin/internal/config"
	"netcoin/internal/ethrpc"
	"netcoin/internal/httpapi"
	"netcoin/internal/keys"
	"netcoin/internal/mempool"
	"netcoin/internal/miner"
	"netcoin/internal/node"
	"netcoin/internal/p2p"
	"netcoin/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		logger.Fatal("create data dir", zap.Error(err))
	}

	s, err := store.NewBoltStore(filepath.Join(cfg.DataDir, "netcoin.db"), logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer s.Close()
	store.SetAddressResolver(keys.AddressFromPubkeyHex)

	wallet, err := keys.LoadOrCreateWallet(cfg.WalletPath)
	if err != nil {
		logger.Fatal("load wallet", zap.Error(err))
	}
	minerAddress := cfg.MinerAddress
	if minerAddress == "" {
		minerAddress = wallet.Address
	}

	validator := chain.NewValidator(s, nil)
	reorg := chain.NewReorgEngine(s, validator, logger)

	var mgr *p2p.Manager
	pool := mempool.NewPool(validator, 0, 0, logger, func(ev mempool.AdmittedEvent) {
		if mgr != nil {
			mgr.BroadcastTx(ev.Tx)
		}
	})

	var mnr *miner.Miner
	st := node.NewState(s, validator, reorg, pool, nil, nil, minerAddress, logger)

	mgr = p2p.NewManager(s, validator, reorg, pool, logger, func(blk *codec.Block) {
		st.RecordAccepted(blk)
	})

	if cfg.Mine {
		mnr = miner.New(s, validator, pool, minerAddress, cfg.Difficulty, logger, func(blk *codec.Block) {
			st.RecordAccepted(blk)
			mgr.BroadcastBlock(blk)
		})
		mgr.SetMiner(mnr)
	}
	st.Manager = mgr
	st.Miner = mnr

	boundP2P, err := mgr.Listen(cfg.P2PAddr)
	if err != nil {
		logger.Fatal("p2p listen", zap.Error(err))
	}
	logger.Info("p2p listening", zap.String("addr", boundP2P))

	dialSeeds(mgr, cfg, logger)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpapi.NewServer(st, logger).Router()}
	rpcSrv := &http.Server{Addr: cfg.RPCAddr, Handler: ethrpc.NewServer(st, logger)}

	go func() {
		logger.Info("http query surface listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("json-rpc listening", zap.String("addr", cfg.RPCAddr))
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("json-rpc server stopped", zap.Error(err))
		}
	}()

	stopMiner := make(chan struct{})
	if cfg.Mine {
		go st.RunMiner(stopMiner)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	close(stopMiner)
	mgr.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	_ = rpcSrv.Shutdown(ctx)
}

// dialSeeds resolves DNS seeds plus any saved peers file, dials up to
// cfg.MaxOutboundPeers of them alongside the operator-supplied -seeds
// list, and then saves the connected peers every five minutes (spec.md
// §4.7).
func dialSeeds(mgr *p2p.Manager, cfg *config.Config, logger *zap.Logger) {
	disco := p2p.NewDiscovery(cfg.DataDir, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	candidates := append(append([]string{}, cfg.Seeds...), disco.Candidates(ctx)...)
	dialed := 0
	for _, addr := range candidates {
		if dialed >= cfg.MaxOutboundPeers {
			break
		}
		if err := mgr.Dial(addr); err != nil {
			logger.Debug("dial candidate failed", zap.String("addr", addr), zap.Error(err))
			continue
		}
		dialed++
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if err := disco.SavePeers(mgr.PeerAddrs()); err != nil {
				logger.Warn("save peers", zap.Error(err))
			}
		}
	}()
}
