package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// DNSSeeds are the hard-coded DNS-seed hostnames resolved on startup
// (spec.md §4.7: "DNS-seed lookups... a hard-coded list of host:port").
var DNSSeeds = []string{
	"seed1.netcoin.example.",
	"seed2.netcoin.example.",
}

// DefaultP2PPort is appended to a bare DNS-seed A/AAAA result that
// carries no port of its own.
const DefaultP2PPort = 8335

const peersFileName = "peers.json"

// savedPeer is one entry in the persisted peers file.
type savedPeer struct {
	Addr     string `json:"addr"`
	LastSeen int64  `json:"last_seen"`
}

// Discovery resolves and persists candidate peer addresses: DNS seeds
// plus a saved-peers JSON file, the union dialed outbound up to
// MaxOutboundPeers. Grounded structurally on the teacher's Discovery
// (one type owning all peer-address sourcing for the node), with mDNS/
// Kademlia replaced per spec.md §4.7 by DNS-seed + persisted-file
// sourcing.
type Discovery struct {
	dataDir string
	logger  *zap.Logger

	resolver *dns.Client
}

func NewDiscovery(dataDir string, logger *zap.Logger) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{
		dataDir:  dataDir,
		logger:   logger,
		resolver: new(dns.Client),
	}
}

// Candidates returns the union of DNS-seed addresses and saved peers,
// deduplicated, in no particular priority order.
func (d *Discovery) Candidates(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string

	for _, addr := range d.resolveSeeds(ctx) {
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	for _, sp := range d.loadSavedPeers() {
		if _, ok := seen[sp.Addr]; !ok {
			seen[sp.Addr] = struct{}{}
			out = append(out, sp.Addr)
		}
	}
	return out
}

func (d *Discovery) resolveSeeds(ctx context.Context) []string {
	var out []string
	for _, seed := range DNSSeeds {
		msg := new(dns.Msg)
		msg.SetQuestion(seed, dns.TypeA)
		resp, _, err := d.resolver.ExchangeContext(ctx, msg, "8.8.8.8:53")
		if err != nil {
			d.logger.Debug("dns seed lookup failed", zap.String("seed", seed), zap.Error(err))
			continue
		}
		for _, ans := range resp.Answer {
			if a, ok := ans.(*dns.A); ok {
				out = append(out, fmt.Sprintf("%s:%d", a.A.String(), DefaultP2PPort))
			}
		}
	}
	return out
}

func (d *Discovery) peersPath() string {
	return filepath.Join(d.dataDir, peersFileName)
}

func (d *Discovery) loadSavedPeers() []savedPeer {
	raw, err := os.ReadFile(d.peersPath())
	if err != nil {
		return nil
	}
	var peers []savedPeer
	if err := json.Unmarshal(raw, &peers); err != nil {
		d.logger.Warn("malformed peers file", zap.Error(err))
		return nil
	}
	return peers
}

// SavePeers persists the given addresses with the current time as their
// last-seen timestamp (spec.md §4.7: "Peers are saved periodically with
// a last-seen timestamp").
func (d *Discovery) SavePeers(addrs []string) error {
	existing := d.loadSavedPeers()
	byAddr := make(map[string]savedPeer, len(existing))
	for _, p := range existing {
		byAddr[p.Addr] = p
	}
	now := time.Now().Unix()
	for _, a := range addrs {
		byAddr[a] = savedPeer{Addr: a, LastSeen: now}
	}
	merged := make([]savedPeer, 0, len(byAddr))
	for _, p := range byAddr {
		merged = append(merged, p)
	}

	if err := os.MkdirAll(d.dataDir, 0700); err != nil {
		return fmt.Errorf("p2p: create data dir: %w", err)
	}
	raw, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("p2p: marshal peers file: %w", err)
	}
	if err := os.WriteFile(d.peersPath(), raw, 0600); err != nil {
		return fmt.Errorf("p2p: write peers file: %w", err)
	}
	return nil
}
