package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != DefaultHTTPAddr || cfg.RPCAddr != DefaultRPCAddr || cfg.P2PAddr != DefaultP2PAddr {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Mine {
		t.Error("expected mining disabled by default")
	}
	if cfg.MaxOutboundPeers != DefaultPeersOut {
		t.Errorf("MaxOutboundPeers = %d, want %d", cfg.MaxOutboundPeers, DefaultPeersOut)
	}
	if cfg.Difficulty != DefaultDifficulty {
		t.Errorf("Difficulty = %d, want %d", cfg.Difficulty, DefaultDifficulty)
	}
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	t.Setenv("NETCOIN_HTTP_ADDR", ":9999")
	t.Setenv("NETCOIN_MINE", "true")

	cfg, err := Load([]string{"-http", ":7777", "-mine=false"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7777" {
		t.Errorf("HTTPAddr = %q, want flag value :7777 to win over env", cfg.HTTPAddr)
	}
	if cfg.Mine {
		t.Error("expected -mine=false flag to win over NETCOIN_MINE=true env")
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("NETCOIN_RPC_ADDR", ":8888")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCAddr != ":8888" {
		t.Errorf("RPCAddr = %q, want env override :8888", cfg.RPCAddr)
	}
}

func TestLoadSeedsSplitting(t *testing.T) {
	cfg, err := Load([]string{"-seeds", "10.0.0.1:8335,10.0.0.2:8335,"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Seeds) != 2 || cfg.Seeds[0] != "10.0.0.1:8335" || cfg.Seeds[1] != "10.0.0.2:8335" {
		t.Errorf("Seeds = %v, want two trimmed entries", cfg.Seeds)
	}
}

