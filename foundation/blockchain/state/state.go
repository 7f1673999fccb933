// Package state is the core API for the blockchain node and implements all
// the business rules and processing: mining, block acceptance, fork
// resolution, and the queries the application layers build on.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/archlabs/blockchain/foundation/blockchain/difficulty"
	"github.com/archlabs/blockchain/foundation/blockchain/fees"
	"github.com/archlabs/blockchain/foundation/blockchain/mempool"
	"github.com/archlabs/blockchain/foundation/blockchain/peer"
	"github.com/archlabs/blockchain/foundation/blockchain/signature"
	"github.com/archlabs/blockchain/foundation/blockchain/utxo"
)

// ErrChainExists is returned when creating a genesis over an existing chain.
var ErrChainExists = errors.New("blockchain already exists")

// EventHandler defines a function that is called when events occur in the
// processing of blocks and transactions.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by
// any package providing support for background mining.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining() (done func())
}

// =============================================================================

// Config represents the configuration required to start the state engine.
type Config struct {
	Storage       database.Storage
	Fees          *fees.Engine
	KnownPeers    *peer.Set
	MinerAddress  string
	MempoolMaxTxs int
	EvHandler     EventHandler
}

// State manages the blockchain database and the derived UTXO set. All
// mutating operations take the exclusive lock; queries take the shared
// lock. The lock ordering is state before store, never the inverse.
type State struct {
	mu sync.RWMutex

	storage    database.Storage
	utxo       *utxo.Set
	mempool    *mempool.Mempool
	knownPeers *peer.Set
	fees       *fees.Engine
	evHandler  EventHandler

	minerAddress string
	minerPKH     [20]byte

	// Worker is assigned by the worker package at startup.
	Worker Worker
}

// New constructs the state engine over the store, which may not hold a
// chain yet.
func New(cfg Config) (*State, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	// A missing tip is tolerated: a fresh node acquires its chain from
	// the network, starting with the genesis block.
	if _, err := cfg.Storage.Tip(); err != nil && !errors.Is(err, database.ErrNoTip) {
		return nil, fmt.Errorf("opening chain: %w", err)
	}

	maxTxs := cfg.MempoolMaxTxs
	if maxTxs == 0 {
		maxTxs = mempool.DefaultMaxTxs
	}

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewSet()
	}

	s := State{
		storage:      cfg.Storage,
		utxo:         utxo.NewSet(cfg.Storage),
		mempool:      mempool.NewWithMax(maxTxs),
		knownPeers:   knownPeers,
		fees:         cfg.Fees,
		evHandler:    ev,
		minerAddress: cfg.MinerAddress,
	}

	if cfg.MinerAddress != "" {
		pkh, err := signature.DecodeAddress(cfg.MinerAddress)
		if err != nil {
			return nil, fmt.Errorf("miner address: %w", err)
		}
		s.minerPKH = pkh
	}

	return &s, nil
}

// Genesis constructs and persists the genesis block, paying the subsidy to
// the given address. It fails when a chain already exists in the store.
func Genesis(storage database.Storage, address string) (database.Block, error) {
	if _, err := storage.Tip(); err == nil {
		return database.Block{}, ErrChainExists
	} else if !errors.Is(err, database.ErrNoTip) {
		return database.Block{}, err
	}

	pkh, err := signature.DecodeAddress(address)
	if err != nil {
		return database.Block{}, fmt.Errorf("genesis address: %w", err)
	}

	coinbase, err := database.NewCoinbaseTx(pkh, currency.BlockSubsidy)
	if err != nil {
		return database.Block{}, err
	}

	block, err := database.NewBlock(zeroHash, 0, difficulty.Genesis, []database.Tx{coinbase})
	if err != nil {
		return database.Block{}, err
	}
	if err := block.FindNonce(context.Background()); err != nil {
		return database.Block{}, err
	}

	if err := storage.WriteBlock(block.Hash(), block.Marshal()); err != nil {
		return database.Block{}, err
	}
	if err := utxo.NewSet(storage).Update(block); err != nil {
		return database.Block{}, err
	}
	if err := storage.WriteTip(block.Hash()); err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// Shutdown cleanly brings the engine down.
func (s *State) Shutdown() error {
	if s.Worker != nil {
		s.Worker.Shutdown()
	}
	return s.storage.Close()
}

// =============================================================================

// Mempool provides access to the pending transaction pool.
func (s *State) Mempool() *mempool.Mempool {
	return s.mempool
}

// KnownPeers provides access to the peer set.
func (s *State) KnownPeers() *peer.Set {
	return s.knownPeers
}

// Fees provides access to the fee engine.
func (s *State) Fees() *fees.Engine {
	return s.fees
}

// UTXO provides access to the unspent output set.
func (s *State) UTXO() *utxo.Set {
	return s.utxo
}

// MinerAddress returns the address mining rewards are paid to, empty when
// this node does not mine.
func (s *State) MinerAddress() string {
	return s.minerAddress
}

// IsMiner reports whether this node assembles blocks.
func (s *State) IsMiner() bool {
	return s.minerAddress != ""
}
