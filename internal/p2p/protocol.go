// Package p2p implements the peer manager (spec.md §4.7): raw TCP
// transport with a length-delimited frame codec carrying the canonical
// binary encoding of a codec.PeerMessage, a per-peer reader/writer actor
// pair, version handshake, header sync, block/tx relay, an orphan pool,
// and peer-address discovery.
//
// Grounded on the teacher's internal/p2p/node.go Node/registry/notifiee
// shape and internal/p2p/sync.go's Syncer (stream-deadline, io.LimitReader
// idiom), adapted from a libp2p host and streams to a raw net.TCPConn and
// a 4-byte length prefix, and from CBOR ShareMsg framing to codec's
// fixed-width PeerMessage encoding.
package p2p

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxFrameSize bounds a single incoming frame (spec.md §5: 100_000-byte
// transaction cap plus block/header overhead; generous headroom for a
// full block of transactions).
const MaxFrameSize = 8 * 1024 * 1024

// FrameReadTimeout bounds how long a read waits for a complete frame
// before the connection is considered dead.
const FrameReadTimeout = 60 * time.Second

// writeFrame writes a 4-byte big-endian length prefix followed by
// payload to conn.
func writeFrame(conn net.Conn, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("p2p: write frame header: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("p2p: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame from conn, applying
// FrameReadTimeout to the whole read.
func readFrame(conn net.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(FrameReadTimeout))
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("p2p: frame of %d bytes exceeds cap %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
