package node

import (
	"netcoin/internal/codec"
)

// Event types for the orchestrator's notification callbacks, adapted
// from the teacher's internal/node/events.go event-struct pattern (one
// small struct per state-change kind, passed by value through a
// callback rather than a generic event bus).

// BlockMinedEvent signals that this node's miner produced and applied a
// new block.
type BlockMinedEvent struct {
	Block *codec.Block
}

// BlockAcceptedEvent signals that a peer-supplied block was validated
// and applied to the main chain (including via reorg).
type BlockAcceptedEvent struct {
	Block *codec.Block
}

// TxAdmittedEvent signals that a transaction was accepted into the
// mempool and should be relayed.
type TxAdmittedEvent struct {
	Tx *codec.Transaction
}
