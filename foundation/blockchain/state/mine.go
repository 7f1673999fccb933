package state

import (
	"context"
	"errors"
	"time"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/database"
)

// ErrNoTransactions is returned when a block is requested to be mined and
// there are no transactions to include.
var ErrNoTransactions = errors.New("no transactions in mempool")

// MineNextBlock assembles a candidate from the current mempool plus a
// coinbase to the configured miner address and performs the proof of work.
// Pool entries that no longer validate are dropped instead of aborting the
// operation. The search is cancellable through the context.
func (s *State) MineNextBlock(ctx context.Context) (database.Block, error) {
	var txs []database.Tx

	s.mu.RLock()
	for _, tx := range s.mempool.Copy() {
		if err := tx.Validate(s.utxo); err != nil {
			s.evHandler("state: mine: dropping stale pool tx[%s]: %s", tx.ID, err)
			s.mempool.Delete(tx.ID)
			continue
		}
		txs = append(txs, tx)
	}
	s.mu.RUnlock()

	if len(txs) == 0 {
		return database.Block{}, ErrNoTransactions
	}

	return s.MineBlock(ctx, s.minerPKH, txs)
}

// MineBlock performs the full mining operation over the given user
// transactions, paying subsidy plus fees to the beneficiary. The block is
// persisted; the tip moves only when the new height exceeds the current
// tip's height, otherwise the block is left as a stale sibling.
func (s *State) MineBlock(ctx context.Context, beneficiary [20]byte, txs []database.Tx) (database.Block, error) {
	s.evHandler("state: mine: started: txs[%d]", len(txs))
	defer s.evHandler("state: mine: completed")

	candidate, err := s.buildCandidate(beneficiary, txs)
	if err != nil {
		return database.Block{}, err
	}

	started := time.Now()
	if err := candidate.FindNonce(ctx); err != nil {
		return database.Block{}, err
	}
	s.evHandler("state: mine: pow solved: block[%s] duration[%v]", candidate.Hash(), time.Since(started))

	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	if err := s.commitMinedBlock(candidate); err != nil {
		return database.Block{}, err
	}

	return candidate, nil
}

// buildCandidate validates the transactions, prepends the coinbase, and
// assembles the unmined block on top of the current tip.
func (s *State) buildCandidate(beneficiary [20]byte, txs []database.Tx) (database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totalFees currency.Satoshi
	for _, tx := range txs {
		if err := tx.Validate(s.utxo); err != nil {
			return database.Block{}, err
		}
		fee, err := tx.Fee(s.utxo)
		if err != nil {
			return database.Block{}, err
		}
		if totalFees, err = totalFees.Add(fee); err != nil {
			return database.Block{}, err
		}
	}

	if err := checkBlockDoubleSpends(txs); err != nil {
		return database.Block{}, err
	}

	tipBlock, err := s.latestBlock()
	if err != nil {
		return database.Block{}, err
	}

	bits, err := s.nextDifficulty(tipBlock)
	if err != nil {
		return database.Block{}, err
	}

	reward, err := currency.BlockSubsidy.Add(totalFees)
	if err != nil {
		return database.Block{}, err
	}
	coinbase, err := database.NewCoinbaseTx(beneficiary, reward)
	if err != nil {
		return database.Block{}, err
	}

	return database.NewBlock(tipBlock.Hash(), tipBlock.Header.Height+1, bits, append([]database.Tx{coinbase}, txs...))
}

// commitMinedBlock persists the solved block and advances the tip when the
// chain did not move underneath the miner. The tip pointer is written last.
func (s *State) commitMinedBlock(block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.WriteBlock(block.Hash(), block.Marshal()); err != nil {
		return err
	}

	tipBlock, err := s.latestBlock()
	if err != nil {
		return err
	}
	if block.Header.Height <= tipBlock.Header.Height {
		s.evHandler("state: mine: stale block[%s] height[%d] tip height[%d]", block.Hash(), block.Header.Height, tipBlock.Header.Height)
		return nil
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

	s.evHandler("state: mine: tip advanced: block[%s] height[%d]", block.Hash(), block.Header.Height)

	return nil
}

// checkBlockDoubleSpends rejects a transaction list where two transactions
// consume the same output.
func checkBlockDoubleSpends(txs []database.Tx) error {
	type outpoint struct {
		txID [32]byte
		vout uint32
	}

	seen := make(map[outpoint]struct{})
	for _, tx := range txs {
		if tx.IsCoinbase() {
			continue
		}
		for _, in := range tx.Inputs {
			ref := outpoint{txID: in.TxID, vout: in.Vout}
			if _, dup := seen[ref]; dup {
				return database.InvalidTransactionError{Reason: "output spent twice within block"}
			}
			seen[ref] = struct{}{}
		}
	}

	return nil
}
