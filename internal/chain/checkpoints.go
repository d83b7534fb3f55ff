package chain

import "fmt"

// Checkpoint pins a known-good block at a given height (spec.md §4.4.4).
// Checkpoints are a local policy, not a consensus rule: a node configured
// with an empty list behaves identically modulo this filter.
type Checkpoint struct {
	Height      uint64
	Hash        string
	Description string
}

// CheckpointPolicy enforces a hard-coded checkpoint list.
type CheckpointPolicy struct {
	byHeight map[uint64]Checkpoint
}

// NewCheckpointPolicy builds a policy from a checkpoint list; nil or empty
// is a valid "no checkpoints configured" policy.
func NewCheckpointPolicy(checkpoints []Checkpoint) *CheckpointPolicy {
	p := &CheckpointPolicy{byHeight: make(map[uint64]Checkpoint, len(checkpoints))}
	for _, c := range checkpoints {
		p.byHeight[c.Height] = c
	}
	return p
}

// DefaultCheckpoints is a hard-coded checkpoint list; cmd/netcoind does
// not pass it to the validator. Its genesis entry has an empty hash, and
// CheckBlock and CrossesCheckpoint skip empty hashes, so as shipped it
// pins no block.
var DefaultCheckpoints = []Checkpoint{
	{Height: 0, Hash: "", Description: "genesis"},
}

// CheckBlock reports an error if height has a non-empty checkpoint hash
// that does not equal hash.
func (p *CheckpointPolicy) CheckBlock(height uint64, hash string) error {
	cp, ok := p.byHeight[height]
	if !ok || cp.Hash == "" {
		return nil
	}
	if cp.Hash != hash {
		return fmt.Errorf("block at height %d (%q) does not match checkpoint %q (%s)", height, hash, cp.Hash, cp.Description)
	}
	return nil
}

// CrossesCheckpoint reports whether rolling the main chain back from
// tipHeight to forkHeight (exclusive) would cross a checkpointed height
// with a non-empty hash — spec.md §4.4.5 rule 2's other rollback guard.
func (p *CheckpointPolicy) CrossesCheckpoint(forkHeight, tipHeight uint64) bool {
	for h := forkHeight + 1; h <= tipHeight; h++ {
		if cp, ok := p.byHeight[h]; ok && cp.Hash != "" {
			return true
		}
	}
	return false
}
