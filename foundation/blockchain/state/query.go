package state

import (
	"errors"
	"fmt"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/archlabs/blockchain/foundation/blockchain/difficulty"
	"github.com/archlabs/blockchain/foundation/blockchain/signature"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// zeroHash is the previous hash carried by the genesis block.
var zeroHash chainhash.Hash

// ErrStopWalk halts a chain walk early without reporting an error.
var ErrStopWalk = errors.New("stop walk")

// LatestBlock returns the block at the tip of the best chain.
func (s *State) LatestBlock() (database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latestBlock()
}

// BestHeight returns the height of the best chain tip.
func (s *State) BestHeight() (uint32, error) {
	block, err := s.LatestBlock()
	if err != nil {
		return 0, err
	}
	return block.Header.Height, nil
}

// BlockByHash reads a block from the store.
func (s *State) BlockByHash(hash chainhash.Hash) (database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.blockByHash(hash)
}

// BlockHashes returns the hash of every block on the best chain, tip first.
func (s *State) BlockHashes() ([]chainhash.Hash, error) {
	var hashes []chainhash.Hash

	err := s.ForEachBlock(func(block database.Block) error {
		hashes = append(hashes, block.Hash())
		return nil
	})
	if err != nil {
		return nil, err
	}

	return hashes, nil
}

// ForEachBlock walks the best chain from the tip back to genesis. Returning
// ErrStopWalk from the callback ends the walk early.
func (s *State) ForEachBlock(fn func(block database.Block) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tip, err := s.storage.Tip()
	if err != nil {
		return err
	}

	return s.walkFrom(tip, fn)
}

// Balance sums the unspent outputs owned by the address.
func (s *State) Balance(address string) (currency.Satoshi, error) {
	pkh, err := signature.DecodeAddress(address)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.utxo.Balance(pkh)
}

// FindTransaction locates a transaction anywhere on the best chain.
func (s *State) FindTransaction(txID chainhash.Hash) (database.Tx, error) {
	var found database.Tx

	err := s.ForEachBlock(func(block database.Block) error {
		for _, tx := range block.Txs {
			if tx.ID == txID {
				found = tx
				return ErrStopWalk
			}
		}
		return nil
	})
	if errors.Is(err, ErrStopWalk) {
		return found, nil
	}
	if err != nil {
		return database.Tx{}, err
	}

	return database.Tx{}, fmt.Errorf("transaction %s: %w", txID, database.ErrNotFound)
}

// ReindexUTXO rebuilds the UTXO set from the best chain.
func (s *State) ReindexUTXO() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evHandler("state: reindex: rebuilding utxo set from best chain")

	tip, err := s.storage.Tip()
	if err != nil {
		return err
	}

	return s.utxo.Reindex(func(fn func(block database.Block) error) error {
		return s.walkFrom(tip, fn)
	})
}

// =============================================================================

// latestBlock reads the tip block. Callers must hold at least a read lock.
func (s *State) latestBlock() (database.Block, error) {
	tip, err := s.storage.Tip()
	if err != nil {
		return database.Block{}, err
	}
	return s.blockByHash(tip)
}

// blockByHash reads and decodes one block. Callers must hold a lock.
func (s *State) blockByHash(hash chainhash.Hash) (database.Block, error) {
	data, err := s.storage.Block(hash)
	if err != nil {
		return database.Block{}, err
	}
	return database.UnmarshalBlock(data)
}

// walkFrom walks the chain from the given hash back to genesis. Callers
// must hold a lock.
func (s *State) walkFrom(hash chainhash.Hash, fn func(block database.Block) error) error {
	for hash != zeroHash {
		block, err := s.blockByHash(hash)
		if err != nil {
			return err
		}
		if err := fn(block); err != nil {
			return err
		}
		hash = block.Header.PrevHash
	}
	return nil
}

// nextDifficulty computes the difficulty for the block following the tip.
// Callers must hold a lock.
func (s *State) nextDifficulty(tipBlock database.Block) (uint32, error) {
	height := tipBlock.Header.Height + 1

	var window []int64
	hash := tipBlock.Hash()
	for i := 0; i < difficulty.Window && hash != zeroHash; i++ {
		block, err := s.blockByHash(hash)
		if err != nil {
			return 0, err
		}
		window = append([]int64{block.Header.Timestamp}, window...)
		hash = block.Header.PrevHash
	}

	return difficulty.Next(height, tipBlock.Header.Bits, window), nil
}
