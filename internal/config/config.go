// Package config loads netcoind's startup configuration. Per spec.md §9
// ("config-file format" is an explicit Non-goal) there is no file parser;
// configuration is command-line flags with environment-variable fallbacks,
// generalizing the env-var-with-a-default pattern used throughout the
// pack's cmd/ entries (e.g. orbas1-Synnergy's dexserver/explorer/
// xchainserver main.go, all `os.Getenv(X); if empty { default }`) by
// layering the standard `flag` package on top at flags > env > default
// precedence, since netcoind (unlike those HTTP-only servers) also needs
// P2P/mining-specific startup knobs that don't fit a bare env var model.
package config

import (
	"flag"
	"os"
	"strconv"
)

// Defaults match spec.md §6's external interface section.
const (
	DefaultHTTPAddr = ":19533"
	DefaultRPCAddr  = ":8545"
	DefaultP2PAddr  = "0.0.0.0:8335"
	DefaultDataDir  = "./data"
	DefaultWallet   = "./wallet.json"
	DefaultPeersOut = 8

	// DefaultDifficulty is the leading-zero-nibble count every mined and
	// accepted block must meet. spec.md's Open Questions section leaves
	// retargeting undefined; this node treats difficulty as a fixed
	// operator-set constant (see DESIGN.md).
	DefaultDifficulty = 4
)

// Config holds every startup knob netcoind needs. Fields mirror spec.md
// §6's "Persistent layout" and §5's concurrency/resource model (dial
// caps, mining toggle).
type Config struct {
	HTTPAddr string // GET query surface (C8), default :19533
	RPCAddr  string // JSON-RPC (C9), default :8545
	P2PAddr  string // P2P listen address (C7), default 0.0.0.0:8335

	DataDir    string // bbolt ledger store directory
	WalletPath string // wallet JSON file {secret_key, address}
	PeersFile  string // parsed but not read: discovery always uses DataDir/peers.json

	Seeds []string // extra P2P addresses to dial at startup, beyond DNS seeds

	Mine         bool   // whether to run the miner loop
	MinerAddress string // coinbase payout address when mining
	Difficulty   uint32 // leading-zero-nibble PoW target, fixed (no retargeting)

	MaxOutboundPeers int
}

// Load parses flags (falling back to environment variables, falling back
// to defaults) into a Config. Call once from cmd/netcoind/main.go;
// accepts the flag.FlagSet's argument list so it's testable without
// touching os.Args or the package-level flag.CommandLine.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("netcoind", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.HTTPAddr, "http", envOr("NETCOIN_HTTP_ADDR", DefaultHTTPAddr), "HTTP query surface bind address")
	fs.StringVar(&cfg.RPCAddr, "rpc", envOr("NETCOIN_RPC_ADDR", DefaultRPCAddr), "JSON-RPC bind address")
	fs.StringVar(&cfg.P2PAddr, "p2p", envOr("NETCOIN_P2P_ADDR", DefaultP2PAddr), "P2P listen address")
	fs.StringVar(&cfg.DataDir, "data-dir", envOr("NETCOIN_DATA_DIR", DefaultDataDir), "ledger store directory")
	fs.StringVar(&cfg.WalletPath, "wallet", envOr("NETCOIN_WALLET_PATH", DefaultWallet), "wallet JSON file path")
	fs.StringVar(&cfg.PeersFile, "peers-file", envOr("NETCOIN_PEERS_FILE", "peers.json"), "persisted peers file name")
	fs.BoolVar(&cfg.Mine, "mine", envOrBool("NETCOIN_MINE", false), "run the miner loop")
	fs.StringVar(&cfg.MinerAddress, "miner-address", os.Getenv("NETCOIN_MINER_ADDRESS"), "coinbase payout address (defaults to the node's own wallet address)")
	fs.IntVar(&cfg.MaxOutboundPeers, "max-outbound-peers", envOrInt("NETCOIN_MAX_OUTBOUND_PEERS", DefaultPeersOut), "outbound P2P dial cap")
	var difficulty int
	fs.IntVar(&difficulty, "difficulty", envOrInt("NETCOIN_DIFFICULTY", DefaultDifficulty), "fixed proof-of-work difficulty (leading zero hex nibbles)")

	var seedsFlag string
	fs.StringVar(&seedsFlag, "seeds", os.Getenv("NETCOIN_SEEDS"), "comma-separated list of P2P addresses to dial at startup")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Seeds = splitNonEmpty(seedsFlag, ',')
	cfg.Difficulty = uint32(difficulty)
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
