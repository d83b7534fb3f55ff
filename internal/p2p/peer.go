package p2p

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"netcoin/internal/codec"
)

// outboundQueueSize bounds the per-peer outbound message queue; when a
// peer can't keep up, send drops new messages rather than letting the
// queue grow without bound. The peer stays connected.
const outboundQueueSize = 256

// Peer is one connected remote node: a reader goroutine decoding inbound
// frames and dispatching to the Manager, and a writer goroutine draining
// a bounded outbound queue. Grounded on the teacher's Node (one
// reader/handler per libp2p stream) generalized to own the whole
// connection rather than a multiplexed stream.
type Peer struct {
	conn    net.Conn
	addr    string
	id      string
	logger  *zap.Logger
	manager *Manager

	out      chan *codec.PeerMessage
	done     chan struct{}
	closeOne sync.Once

	mu          sync.Mutex
	height      uint64
	versioned   bool
	lastSeen    time.Time
	outbound    bool
	inFlightGet map[string]struct{}
}

func newPeer(conn net.Conn, outbound bool, m *Manager, logger *zap.Logger) *Peer {
	addr := conn.RemoteAddr().String()
	return &Peer{
		conn:        conn,
		addr:        addr,
		id:          addr,
		logger:      logger,
		manager:     m,
		out:         make(chan *codec.PeerMessage, outboundQueueSize),
		done:        make(chan struct{}),
		outbound:    outbound,
		lastSeen:    time.Now(),
		inFlightGet: make(map[string]struct{}),
	}
}

// run starts the reader and writer goroutines and blocks until both have
// terminated, then deregisters the peer.
func (p *Peer) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); p.readLoop() }()
	go func() { defer wg.Done(); p.writeLoop() }()
	wg.Wait()
	p.manager.removePeer(p.id)
}

func (p *Peer) readLoop() {
	defer p.stop()
	for {
		raw, err := readFrame(p.conn)
		if err != nil {
			p.logger.Debug("peer read error", zap.String("peer", p.id), zap.Error(err))
			return
		}
		msg, err := codec.DecodePeerMessage(raw)
		if err != nil {
			p.logger.Debug("peer sent undecodable frame", zap.String("peer", p.id), zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.lastSeen = time.Now()
		p.mu.Unlock()
		p.manager.dispatch(p, msg)
	}
}

func (p *Peer) writeLoop() {
	defer p.stop()
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.out:
			if err := writeFrame(p.conn, msg.Encode()); err != nil {
				p.logger.Debug("peer write error", zap.String("peer", p.id), zap.Error(err))
				return
			}
		}
	}
}

// send enqueues msg for delivery; drops it if the peer's outbound queue
// is full rather than blocking the caller.
func (p *Peer) send(msg *codec.PeerMessage) {
	select {
	case p.out <- msg:
	default:
		p.logger.Warn("peer outbound queue full, dropping message", zap.String("peer", p.id))
	}
}

func (p *Peer) stop() {
	p.closeOne.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

func (p *Peer) setHeight(h uint64) {
	p.mu.Lock()
	p.height = h
	p.mu.Unlock()
}

func (p *Peer) getHeight() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.height
}

func (p *Peer) markVersioned() {
	p.mu.Lock()
	p.versioned = true
	p.mu.Unlock()
}

func (p *Peer) tryReserveGetData(hash string, cap int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inFlightGet[hash]; ok {
		return false
	}
	if len(p.inFlightGet) >= cap {
		return false
	}
	p.inFlightGet[hash] = struct{}{}
	return true
}

func (p *Peer) releaseGetData(hash string) {
	p.mu.Lock()
	delete(p.inFlightGet, hash)
	p.mu.Unlock()
}
