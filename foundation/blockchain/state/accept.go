package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrBlockExists is returned when a received block is already stored.
var ErrBlockExists = errors.New("block already known")

// AcceptBlock takes a block received from a peer, validates it, and folds
// it into the chain. A block extending the tip appends; a heavier branch
// triggers a reorg; a lighter branch is stored without moving the tip.
func (s *State) AcceptBlock(block database.Block) error {
	s.evHandler("state: accept: block[%s] height[%d]", block.Hash(), block.Header.Height)

	// A mining operation in flight must stop before the chain mutates.
	if s.Worker != nil {
		done := s.Worker.SignalCancelMining()
		defer done()
	}

	if err := block.ValidateSelf(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash := block.Hash()
	if exists, err := s.storage.HasBlock(hash); err != nil {
		return err
	} else if exists {
		return ErrBlockExists
	}

	// Genesis from the network is only acceptable on an empty store.
	if block.Header.PrevHash == zeroHash {
		if block.Header.Height != 0 {
			return database.InvalidBlockError{Reason: "zero parent on non-genesis block"}
		}
		if _, err := s.storage.Tip(); !errors.Is(err, database.ErrNoTip) {
			return database.InvalidBlockError{Reason: "genesis received over existing chain"}
		}
		return s.appendBlock(block)
	}

	parent, err := s.blockByHash(block.Header.PrevHash)
	if errors.Is(err, database.ErrNotFound) {
		return database.InvalidBlockError{Reason: "unknown parent " + block.Header.PrevHash.String()}
	}
	if err != nil {
		return err
	}
	if block.Header.Height != parent.Header.Height+1 {
		return database.InvalidBlockError{
			Reason: fmt.Sprintf("height %d does not follow parent height %d", block.Header.Height, parent.Header.Height),
		}
	}

	tipBlock, err := s.latestBlock()
	if err != nil {
		return err
	}

	// The common case: the block extends the current best chain.
	if block.Header.PrevHash == tipBlock.Hash() {
		for _, tx := range block.Txs {
			if err := tx.Validate(s.utxo); err != nil {
				return err
			}
		}
		if err := checkBlockDoubleSpends(block.Txs); err != nil {
			return err
		}
		return s.appendBlock(block)
	}

	// A side branch. Validate it against the UTXO view projected along
	// its own ancestry before deciding whether it wins.
	view, err := s.viewAt(block.Header.PrevHash)
	if err != nil {
		return err
	}
	for _, tx := range block.Txs {
		if err := tx.Validate(view); err != nil {
			return err
		}
	}
	if err := checkBlockDoubleSpends(block.Txs); err != nil {
		return err
	}

	if err := s.storage.WriteBlock(hash, block.Marshal()); err != nil {
		return err
	}

	branchWork, err := s.cumulativeWork(hash)
	if err != nil {
		return err
	}
	tipWork, err := s.cumulativeWork(tipBlock.Hash())
	if err != nil {
		return err
	}

	// Ties keep the incumbent: earlier arrival wins.
	if branchWork.Cmp(tipWork) <= 0 {
		s.evHandler("state: accept: stored side block[%s], tip unchanged", hash)
		return nil
	}

	s.evHandler("state: accept: branch outweighs tip, reorganizing to block[%s]", hash)
	return s.reorganize(tipBlock.Hash(), hash)
}

// appendBlock extends the tip with an already validated block. The tip
// pointer is committed last.
func (s *State) appendBlock(block database.Block) error {
	if err := s.storage.WriteBlock(block.Hash(), block.Marshal()); err != nil {
		return err
	}
	if err := s.utxo.Update(block); err != nil {
		return err
	}
	for _, tx := range block.Txs {
		s.mempool.Delete(tx.ID)
	}
	if err := s.storage.WriteTip(block.Hash()); err != nil {
		return err
	}

	s.evHandler("state: accept: tip advanced: block[%s] height[%d]", block.Hash(), block.Header.Height)

	return nil
}

// =============================================================================

// reorganize switches the best chain from oldTip's branch to newTip's.
// Blocks on the abandoned branch are undone in reverse order, their
// transactions returned to the mempool; the adopted branch is applied in
// forward order. The tip pointer moves only after both sides are done.
func (s *State) reorganize(oldTip, newTip chainhash.Hash) error {
	ancestor, err := s.commonAncestor(oldTip, newTip)
	if err != nil {
		return err
	}

	undo, err := s.branchBlocks(oldTip, ancestor)
	if err != nil {
		return err
	}
	apply, err := s.branchBlocks(newTip, ancestor)
	if err != nil {
		return err
	}

	// Undo the abandoned branch from its tip downward.
	var reclaimed []database.Tx
	for i := len(undo) - 1; i >= 0; i-- {
		block := undo[i]
		s.evHandler("state: reorg: undo block[%s] height[%d]", block.Hash(), block.Header.Height)

		for _, tx := range block.Txs {
			if err := s.utxo.RemoveTx(tx.ID); err != nil {
				return err
			}
			if tx.IsCoinbase() {
				continue
			}
			reclaimed = append(reclaimed, tx)
			for _, in := range tx.Inputs {
				prev, err := s.findOutputFrom(oldTip, in.TxID, in.Vout)
				if err != nil {
					return err
				}
				if err := s.utxo.RestoreOutput(in.TxID, in.Vout, prev); err != nil {
					return err
				}
			}
		}
	}

	// Apply the adopted branch from the ancestor upward.
	for _, block := range apply {
		s.evHandler("state: reorg: apply block[%s] height[%d]", block.Hash(), block.Header.Height)

		if err := s.utxo.Update(block); err != nil {
			return err
		}
		for _, tx := range block.Txs {
			s.mempool.Delete(tx.ID)
		}
	}

	if err := s.storage.WriteTip(newTip); err != nil {
		return err
	}

	// Reclaimed transactions go back to the pool when they still validate
	// against the new chain; the rest are dropped silently.
	for _, tx := range reclaimed {
		if s.mempool.Contains(tx.ID) {
			continue
		}
		if err := s.admitTx(tx); err != nil {
			s.evHandler("state: reorg: dropped reclaimed tx[%s]: %s", tx.ID, err)
		}
	}

	return nil
}

// commonAncestor finds the highest block present on both branches.
func (s *State) commonAncestor(a, b chainhash.Hash) (chainhash.Hash, error) {
	seen := make(map[chainhash.Hash]struct{})

	for hash := a; hash != zeroHash; {
		seen[hash] = struct{}{}
		block, err := s.blockByHash(hash)
		if err != nil {
			return chainhash.Hash{}, err
		}
		hash = block.Header.PrevHash
	}

	for hash := b; hash != zeroHash; {
		if _, ok := seen[hash]; ok {
			return hash, nil
		}
		block, err := s.blockByHash(hash)
		if err != nil {
			return chainhash.Hash{}, err
		}
		hash = block.Header.PrevHash
	}

	return chainhash.Hash{}, errors.New("branches share no ancestor")
}

// branchBlocks collects the blocks from just above the ancestor up to and
// including the given tip, in chain order.
func (s *State) branchBlocks(tip, ancestor chainhash.Hash) ([]database.Block, error) {
	var blocks []database.Block

	for hash := tip; hash != ancestor; {
		block, err := s.blockByHash(hash)
		if err != nil {
			return nil, err
		}
		blocks = append([]database.Block{block}, blocks...)
		hash = block.Header.PrevHash
	}

	return blocks, nil
}

// cumulativeWork sums the work of every block from the given hash back to
// genesis.
func (s *State) cumulativeWork(hash chainhash.Hash) (*big.Int, error) {
	total := new(big.Int)

	err := s.walkFrom(hash, func(block database.Block) error {
		total.Add(total, block.Work())
		return nil
	})
	if err != nil {
		return nil, err
	}

	return total, nil
}

// findOutputFrom locates the output a reorged input consumed, searching the
// chain as seen from the given tip.
func (s *State) findOutputFrom(tip chainhash.Hash, txID chainhash.Hash, vout uint32) (database.TxOut, error) {
	var out database.TxOut

	err := s.walkFrom(tip, func(block database.Block) error {
		for _, tx := range block.Txs {
			if tx.ID != txID {
				continue
			}
			if int(vout) >= len(tx.Outputs) {
				return fmt.Errorf("output %s:%d out of range", txID, vout)
			}
			out = tx.Outputs[vout]
			return ErrStopWalk
		}
		return nil
	})
	if errors.Is(err, ErrStopWalk) {
		return out, nil
	}
	if err != nil {
		return database.TxOut{}, err
	}

	return database.TxOut{}, fmt.Errorf("producing transaction %s: %w", txID, database.ErrNotFound)
}

// =============================================================================

// outpointKey identifies one output for the in-memory projected view.
type outpointKey struct {
	txID chainhash.Hash
	vout uint32
}

// chainView is the UTXO set projected along an arbitrary branch, built in
// memory for validating side-branch blocks.
type chainView map[outpointKey]database.TxOut

// FetchOutput implements database.OutputFetcher over the projection.
func (v chainView) FetchOutput(txID chainhash.Hash, vout uint32) (database.TxOut, error) {
	out, ok := v[outpointKey{txID: txID, vout: vout}]
	if !ok {
		return database.TxOut{}, fmt.Errorf("output %s:%d: %w", txID, vout, database.ErrNotFound)
	}
	return out, nil
}

// viewAt rebuilds the UTXO set as it stands after the block at the given
// hash, walking its ancestry from genesis.
func (s *State) viewAt(hash chainhash.Hash) (chainView, error) {
	blocks, err := s.branchBlocks(hash, zeroHash)
	if err != nil {
		return nil, err
	}

	view := make(chainView)
	for _, block := range blocks {
		for _, tx := range block.Txs {
			if !tx.IsCoinbase() {
				for _, in := range tx.Inputs {
					delete(view, outpointKey{txID: in.TxID, vout: in.Vout})
				}
			}
			for i, out := range tx.Outputs {
				view[outpointKey{txID: tx.ID, vout: uint32(i)}] = out
			}
		}
	}

	return view, nil
}
