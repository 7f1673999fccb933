// Package utxo maintains the unspent output set: the mapping from
// transaction id to its surviving outputs, kept in lockstep with the best
// chain.
package utxo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Entry is one surviving output of a transaction.
type Entry struct {
	Vout   uint32
	Output database.TxOut
}

// Set provides the UTXO view over the persistent store.
type Set struct {
	storage database.Storage
}

// NewSet constructs the UTXO view over the given storage.
func NewSet(storage database.Storage) *Set {
	return &Set{storage: storage}
}

// FetchOutput implements database.OutputFetcher against the current set.
func (s *Set) FetchOutput(txID chainhash.Hash, vout uint32) (database.TxOut, error) {
	entries, err := s.entries(txID)
	if err != nil {
		return database.TxOut{}, err
	}

	for _, e := range entries {
		if e.Vout == vout {
			return e.Output, nil
		}
	}

	return database.TxOut{}, fmt.Errorf("output %s:%d: %w", txID, vout, database.ErrNotFound)
}

// FindSpendable accumulates outputs owned by the key hash, in deterministic
// order (tx id ascending, then vout ascending), until the amount is met.
// The spendable map is keyed by tx id with the chosen vouts per entry.
func (s *Set) FindSpendable(pubKeyHash [20]byte, amount currency.Satoshi) (currency.Satoshi, map[chainhash.Hash][]uint32, error) {
	type owned struct {
		txID    chainhash.Hash
		entries []Entry
	}

	var candidates []owned
	err := s.storage.ForEachOutputs(func(txID chainhash.Hash, data []byte) error {
		entries, err := unmarshalEntries(data)
		if err != nil {
			return err
		}

		var mine []Entry
		for _, e := range entries {
			if e.Output.IsLockedWith(pubKeyHash) {
				mine = append(mine, e)
			}
		}
		if len(mine) > 0 {
			candidates = append(candidates, owned{txID: txID, entries: mine})
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return bytes.Compare(candidates[i].txID[:], candidates[j].txID[:]) < 0
	})

	var accumulated currency.Satoshi
	spendable := make(map[chainhash.Hash][]uint32)

	for _, c := range candidates {
		for _, e := range c.entries {
			if accumulated >= amount {
				return accumulated, spendable, nil
			}
			if accumulated, err = accumulated.Add(e.Output.Value); err != nil {
				return 0, nil, err
			}
			spendable[c.txID] = append(spendable[c.txID], e.Vout)
		}
	}

	if accumulated < amount {
		return accumulated, nil, database.InsufficientFundsError{Have: accumulated, Need: amount}
	}

	return accumulated, spendable, nil
}

// FindUTXOs returns every output owned by the key hash.
func (s *Set) FindUTXOs(pubKeyHash [20]byte) ([]database.TxOut, error) {
	var outs []database.TxOut

	err := s.storage.ForEachOutputs(func(txID chainhash.Hash, data []byte) error {
		entries, err := unmarshalEntries(data)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Output.IsLockedWith(pubKeyHash) {
				outs = append(outs, e.Output)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return outs, nil
}

// Balance sums every output owned by the key hash.
func (s *Set) Balance(pubKeyHash [20]byte) (currency.Satoshi, error) {
	outs, err := s.FindUTXOs(pubKeyHash)
	if err != nil {
		return 0, err
	}

	var total currency.Satoshi
	for _, out := range outs {
		if total, err = total.Add(out.Value); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// =============================================================================

// Update applies a block to the set: consumed outputs are deleted, entries
// emptied by the deletion are removed, and every transaction's new outputs
// are inserted.
func (s *Set) Update(block database.Block) error {
	for _, tx := range block.Txs {
		if !tx.IsCoinbase() {
			for _, in := range tx.Inputs {
				if err := s.spend(in.TxID, in.Vout); err != nil {
					return err
				}
			}
		}

		entries := make([]Entry, len(tx.Outputs))
		for i, out := range tx.Outputs {
			entries[i] = Entry{Vout: uint32(i), Output: out}
		}
		if err := s.putEntries(tx.ID, entries); err != nil {
			return err
		}
	}

	return nil
}

// RemoveTx drops a transaction's outputs from the set. Used when a block is
// undone during a reorg.
func (s *Set) RemoveTx(txID chainhash.Hash) error {
	err := s.storage.DeleteOutputs(txID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	return err
}

// RestoreOutput re-inserts a previously consumed output. Used when a block
// is undone during a reorg.
func (s *Set) RestoreOutput(txID chainhash.Hash, vout uint32, out database.TxOut) error {
	entries, err := s.entries(txID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}

	for _, e := range entries {
		if e.Vout == vout {
			return nil
		}
	}

	entries = append(entries, Entry{Vout: vout, Output: out})
	return s.putEntries(txID, entries)
}

// Reindex rebuilds the whole set from the best chain and swaps it in
// atomically. The walk callback hands back blocks from tip to genesis.
func (s *Set) Reindex(walk func(fn func(block database.Block) error) error) error {
	unspent := make(map[chainhash.Hash][]Entry)
	spent := make(map[chainhash.Hash]map[uint32]struct{})

	err := walk(func(block database.Block) error {
		for _, tx := range block.Txs {
			for i, out := range tx.Outputs {
				if consumed, ok := spent[tx.ID]; ok {
					if _, ok := consumed[uint32(i)]; ok {
						continue
					}
				}
				unspent[tx.ID] = append(unspent[tx.ID], Entry{Vout: uint32(i), Output: out})
			}

			if tx.IsCoinbase() {
				continue
			}
			for _, in := range tx.Inputs {
				if spent[in.TxID] == nil {
					spent[in.TxID] = make(map[uint32]struct{})
				}
				spent[in.TxID][in.Vout] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	entries := make(map[chainhash.Hash][]byte, len(unspent))
	for txID, outs := range unspent {
		sort.Slice(outs, func(i, j int) bool { return outs[i].Vout < outs[j].Vout })
		entries[txID] = marshalEntries(outs)
	}

	return s.storage.ReplaceOutputs(entries)
}

// Count returns the number of transactions with surviving outputs.
func (s *Set) Count() (int, error) {
	var count int
	err := s.storage.ForEachOutputs(func(chainhash.Hash, []byte) error {
		count++
		return nil
	})
	return count, err
}

// =============================================================================

// spend removes a single output, dropping the whole entry when it empties.
func (s *Set) spend(txID chainhash.Hash, vout uint32) error {
	entries, err := s.entries(txID)
	if err != nil {
		return fmt.Errorf("spending %s:%d: %w", txID, vout, err)
	}

	remaining := entries[:0]
	found := false
	for _, e := range entries {
		if e.Vout == vout {
			found = true
			continue
		}
		remaining = append(remaining, e)
	}
	if !found {
		return fmt.Errorf("spending %s:%d: %w", txID, vout, database.ErrNotFound)
	}

	if len(remaining) == 0 {
		return s.storage.DeleteOutputs(txID)
	}
	return s.putEntries(txID, remaining)
}

func (s *Set) entries(txID chainhash.Hash) ([]Entry, error) {
	data, err := s.storage.Outputs(txID)
	if err != nil {
		return nil, err
	}
	return unmarshalEntries(data)
}

func (s *Set) putEntries(txID chainhash.Hash, entries []Entry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Vout < entries[j].Vout })
	return s.storage.PutOutputs(txID, marshalEntries(entries))
}

// =============================================================================

// marshalEntries encodes the surviving output list: u32 count, then for
// each entry u32 vout, u64 value, 20 byte pub-key-hash.
func marshalEntries(entries []Entry) []byte {
	var buf bytes.Buffer

	var b [8]byte
	binary.BigEndian.PutUint32(b[:4], uint32(len(entries)))
	buf.Write(b[:4])

	for _, e := range entries {
		binary.BigEndian.PutUint32(b[:4], e.Vout)
		buf.Write(b[:4])
		binary.BigEndian.PutUint64(b[:], uint64(e.Output.Value))
		buf.Write(b[:])
		buf.Write(e.Output.PubKeyHash[:])
	}

	return buf.Bytes()
}

func unmarshalEntries(data []byte) ([]Entry, error) {
	r := bytes.NewReader(data)

	var b [8]byte
	if _, err := io.ReadFull(r, b[:4]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(b[:4])

	entries := make([]Entry, count)
	for i := range entries {
		if _, err := io.ReadFull(r, b[:4]); err != nil {
			return nil, err
		}
		entries[i].Vout = binary.BigEndian.Uint32(b[:4])

		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		entries[i].Output.Value = currency.Satoshi(binary.BigEndian.Uint64(b[:]))

		if _, err := io.ReadFull(r, entries[i].Output.PubKeyHash[:]); err != nil {
			return nil, err
		}
	}

	if r.Len() != 0 {
		return nil, errors.New("trailing bytes after output entries")
	}

	return entries, nil
}
