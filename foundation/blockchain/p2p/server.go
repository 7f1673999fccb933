package p2p

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/archlabs/blockchain/foundation/blockchain/state"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CentralNode is the bootstrap address a fresh node introduces itself to.
const CentralNode = "127.0.0.1:2001"

// TransactionThreshold is the mempool size that triggers a mining node to
// assemble a candidate block.
const TransactionThreshold = 10

// maxConnections bounds concurrent inbound handlers.
const maxConnections = 32

// Socket deadlines for one-shot exchanges.
const (
	connectTimeout = 5 * time.Second
	writeTimeout   = 5 * time.Second
)

// discoveryInterval is how often DNS seeding augments the peer set.
const discoveryInterval = 5 * time.Minute

// Config represents the configuration required to run the server.
type Config struct {
	State       *state.State
	NodeAddr    string
	CentralAddr string
	Seeder      *Seeder
	EvHandler   state.EventHandler
}

// Server accepts one-shot peer connections and drives the synchronization
// state machine. Every inbound connection carries a single self-describing
// message; outbound sends are one-shot connects.
type Server struct {
	state       *state.State
	nodeAddr    string
	centralAddr string
	seeder      *Seeder
	evHandler   state.EventHandler

	transit transit
	conns   atomic.Int32
	wg      sync.WaitGroup
}

// NewServer constructs the p2p server for the given node identity.
func NewServer(cfg Config) *Server {
	centralAddr := cfg.CentralAddr
	if centralAddr == "" {
		centralAddr = CentralNode
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	return &Server{
		state:       cfg.State,
		nodeAddr:    cfg.NodeAddr,
		centralAddr: centralAddr,
		seeder:      cfg.Seeder,
		evHandler:   ev,
	}
}

// Run binds the TCP port and serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.nodeAddr)
	if err != nil {
		return err
	}

	s.evHandler("p2p: server: listening on %s", s.nodeAddr)

	// A node that is not the central one introduces itself so the chain
	// can catch up.
	if s.nodeAddr != s.centralAddr {
		s.state.KnownPeers().Add(s.centralAddr)
		s.sendVersion(s.centralAddr)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.discoveryOperations(ctx)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.evHandler("p2p: server: accept: %s", err)
			continue
		}

		if s.conns.Load() >= maxConnections {
			s.evHandler("p2p: server: rejecting %s: connection limit reached", conn.RemoteAddr())
			conn.Close()
			continue
		}

		s.conns.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.conns.Add(-1)
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection reads the single message a connection carries and
// dispatches it. Transient failures drop the connection.
func (s *Server) handleConnection(conn net.Conn) {
	msg, err := ReadMessage(conn)
	if err != nil {
		s.evHandler("p2p: server: %s: reading message: %s", conn.RemoteAddr(), err)
		return
	}

	if from := msg.From(); from != "" && from != s.nodeAddr {
		s.state.KnownPeers().Add(from)
	}

	switch m := msg.(type) {
	case Version:
		s.handleVersion(m)
	case GetBlocks:
		s.handleGetBlocks(m)
	case Inv:
		s.handleInv(m)
	case GetData:
		s.handleGetData(m)
	case BlockMsg:
		s.handleBlock(m)
	case TxMsg:
		s.handleTx(m)
	}
}

// =============================================================================

// handleVersion compares chain heights and starts catch-up on whichever
// side is behind.
func (s *Server) handleVersion(m Version) {
	s.evHandler("p2p: version from %s: height[%d]", m.AddrFrom, m.BestHeight)

	local := s.bestHeight()
	switch {
	case m.BestHeight > local:
		s.send(m.AddrFrom, GetBlocks{AddrFrom: s.nodeAddr})
	case m.BestHeight < local:
		s.sendVersion(m.AddrFrom)
	}
}

// handleGetBlocks advertises the full chain, genesis first, so the
// requester can apply blocks in parent order.
func (s *Server) handleGetBlocks(m GetBlocks) {
	hashes, err := s.state.BlockHashes()
	if err != nil {
		s.evHandler("p2p: get blocks: %s", err)
		return
	}

	for i, j := 0, len(hashes)-1; i < j; i, j = i+1, j-1 {
		hashes[i], hashes[j] = hashes[j], hashes[i]
	}

	s.send(m.AddrFrom, Inv{AddrFrom: s.nodeAddr, Kind: InvBlock, Items: hashes})
}

// handleInv reacts to advertised inventory: unknown transactions are
// requested; block lists are drained one request at a time.
func (s *Server) handleInv(m Inv) {
	s.evHandler("p2p: inv from %s: kind[%d] items[%d]", m.AddrFrom, m.Kind, len(m.Items))

	switch m.Kind {
	case InvBlock:
		s.transit.Add(m.Items)
		if hash, ok := s.transit.Next(); ok {
			s.send(m.AddrFrom, GetData{AddrFrom: s.nodeAddr, Kind: InvBlock, ID: hash})
		}

	case InvTx:
		for _, id := range m.Items {
			if !s.state.Mempool().Contains(id) {
				s.send(m.AddrFrom, GetData{AddrFrom: s.nodeAddr, Kind: InvTx, ID: id})
			}
		}
	}
}

// handleGetData serves a single block or pooled transaction. Unknown items
// are dropped.
func (s *Server) handleGetData(m GetData) {
	switch m.Kind {
	case InvBlock:
		block, err := s.state.BlockByHash(m.ID)
		if err != nil {
			s.evHandler("p2p: get data: block %s unknown", m.ID)
			return
		}
		s.send(m.AddrFrom, BlockMsg{AddrFrom: s.nodeAddr, Block: block})

	case InvTx:
		tx, exists := s.state.Mempool().Get(m.ID)
		if !exists {
			s.evHandler("p2p: get data: tx %s not pooled", m.ID)
			return
		}
		s.send(m.AddrFrom, TxMsg{AddrFrom: s.nodeAddr, Tx: tx})
	}
}

// handleBlock folds a delivered block into the chain, then keeps the
// catch-up going or rebuilds the UTXO set when the transfer completes.
func (s *Server) handleBlock(m BlockMsg) {
	err := s.state.AcceptBlock(m.Block)
	switch {
	case errors.Is(err, state.ErrBlockExists):
	case err != nil:
		s.evHandler("p2p: block %s rejected: %s", m.Block.Hash(), err)
	}

	if hash, ok := s.transit.Next(); ok {
		s.send(m.AddrFrom, GetData{AddrFrom: s.nodeAddr, Kind: InvBlock, ID: hash})
		return
	}

	if s.transit.FinishIfDrained() {
		if err := s.state.ReindexUTXO(); err != nil {
			s.evHandler("p2p: reindex after catch-up: %s", err)
		}
	}
}

// handleTx admits a delivered transaction, relays it onward, and kicks the
// miner once the mempool crosses the threshold.
func (s *Server) handleTx(m TxMsg) {
	pool := s.state.Mempool()

	if !pool.Contains(m.Tx.ID) {
		if err := s.state.SubmitTx(m.Tx); err != nil {
			s.evHandler("p2p: tx %s rejected: %s", m.Tx.ID, err)
			return
		}

		inv := Inv{AddrFrom: s.nodeAddr, Kind: InvTx, Items: []chainhash.Hash{m.Tx.ID}}
		for _, peerAddr := range s.state.KnownPeers().KnownPeers(s.nodeAddr) {
			if peerAddr == m.AddrFrom {
				continue
			}
			s.send(peerAddr, inv)
		}
	}

	if s.state.IsMiner() && pool.Count() >= TransactionThreshold && s.state.Worker != nil {
		s.evHandler("p2p: mempool reached %d, signaling miner", pool.Count())
		s.state.Worker.SignalStartMining()
	}
}

// =============================================================================

// BroadcastBlock advertises a freshly mined block to every known peer.
func (s *Server) BroadcastBlock(block database.Block) {
	inv := Inv{AddrFrom: s.nodeAddr, Kind: InvBlock, Items: []chainhash.Hash{block.Hash()}}
	for _, peerAddr := range s.state.KnownPeers().KnownPeers(s.nodeAddr) {
		s.send(peerAddr, inv)
	}
}

// discoveryOperations periodically merges DNS seeded candidates into the
// peer set and introduces this node to fresh ones.
func (s *Server) discoveryOperations(ctx context.Context) {
	if s.seeder == nil {
		return
	}

	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()

	s.runDiscovery()

	for {
		select {
		case <-ticker.C:
			s.runDiscovery()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) runDiscovery() {
	peers := s.state.KnownPeers()

	for _, addr := range s.seeder.Discover() {
		if addr == s.nodeAddr || peers.Contains(addr) {
			continue
		}
		if peers.Add(addr) {
			s.evHandler("p2p: discovery: added peer %s", addr)
			s.sendVersion(addr)
		}
	}
}

// =============================================================================

// bestHeight reads the tip height, zero when no chain exists yet.
func (s *Server) bestHeight() uint32 {
	height, err := s.state.BestHeight()
	if err != nil {
		return 0
	}
	return height
}

// sendVersion introduces this node to a peer.
func (s *Server) sendVersion(addr string) {
	s.send(addr, Version{
		AddrFrom:   s.nodeAddr,
		Protocol:   ProtocolVersion,
		BestHeight: s.bestHeight(),
	})
}

// send performs a one-shot delivery, removing peers that can't be reached.
func (s *Server) send(addr string, m Message) {
	if err := Send(addr, m); err != nil {
		s.evHandler("p2p: send to %s: %s", addr, err)
		s.state.KnownPeers().Remove(addr)
	}
}

// Send dials a peer, writes one framed message, and closes the connection.
func Send(addr string, m Message) error {
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return WriteMessage(conn, m)
}
