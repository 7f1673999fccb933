package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/archlabs/blockchain/foundation/blockchain/fees"
	"github.com/archlabs/blockchain/foundation/blockchain/signature"
	"github.com/archlabs/blockchain/foundation/blockchain/wallet"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Rough per-field serialized sizes used to estimate a transaction's final
// size before it is built. The fee must be known before output selection.
const (
	txBaseSize   = 44
	txInputSize  = 141
	txOutputSize = 32
)

// NewTransaction selects outputs owned by the sending wallet, builds the
// outputs to the recipient plus change, signs every input, and returns the
// transaction together with the fee it pays.
func (s *State) NewTransaction(from *wallet.Wallet, to string, amount currency.Satoshi, priority fees.Priority) (database.Tx, currency.Satoshi, error) {
	if amount == 0 {
		return database.Tx{}, 0, database.InvalidTransactionError{Reason: "amount must be positive"}
	}

	toPKH, err := signature.DecodeAddress(to)
	if err != nil {
		return database.Tx{}, 0, fmt.Errorf("address %q: %w", to, err)
	}
	fromPKH := from.PubKeyHash()

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Size the fee from a first selection pass covering the amount alone.
	_, provisional, err := s.utxo.FindSpendable(fromPKH, amount)
	if err != nil {
		return database.Tx{}, 0, err
	}

	inputs := 0
	for _, vouts := range provisional {
		inputs += len(vouts)
	}
	size := txBaseSize + inputs*txInputSize + 2*txOutputSize
	fee := s.fees.Calculate(size, priority)

	required, err := amount.Add(fee)
	if err != nil {
		return database.Tx{}, 0, err
	}

	accumulated, spendable, err := s.utxo.FindSpendable(fromPKH, required)
	if err != nil {
		return database.Tx{}, 0, err
	}

	tx := database.Tx{
		Outputs: []database.TxOut{{Value: amount, PubKeyHash: toPKH}},
	}

	// Inputs in deterministic order: tx id ascending, then vout ascending.
	ids := make([]chainhash.Hash, 0, len(spendable))
	for txID := range spendable {
		ids = append(ids, txID)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	for _, txID := range ids {
		vouts := spendable[txID]
		sort.Slice(vouts, func(i, j int) bool { return vouts[i] < vouts[j] })
		for _, vout := range vouts {
			tx.Inputs = append(tx.Inputs, database.TxIn{
				TxID:   txID,
				Vout:   vout,
				PubKey: from.PublicKey,
			})
		}
	}

	change, err := accumulated.Sub(required)
	if err != nil {
		return database.Tx{}, 0, err
	}
	if change > 0 {
		tx.Outputs = append(tx.Outputs, database.TxOut{Value: change, PubKeyHash: fromPKH})
	}

	key, err := from.Key()
	if err != nil {
		return database.Tx{}, 0, err
	}
	if err := tx.Sign(key, s.utxo); err != nil {
		return database.Tx{}, 0, err
	}

	s.evHandler("state: new transaction: id[%s] amount[%d] fee[%d] inputs[%d]", tx.ID, amount, fee, len(tx.Inputs))

	return tx, fee, nil
}

// SubmitTx validates a transaction against the current UTXO set and admits
// it into the mempool. Pending transactions already spending a referenced
// output reject the newcomer.
func (s *State) SubmitTx(tx database.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.admitTx(tx)
}

// admitTx runs submission under an already held lock.
func (s *State) admitTx(tx database.Tx) error {
	if tx.IsCoinbase() {
		return database.InvalidTransactionError{Reason: "coinbase cannot be submitted"}
	}

	if err := tx.Validate(s.utxo); err != nil {
		return err
	}

	// A pending transaction that already spends one of the referenced
	// outputs makes this one a double spend.
	for _, pending := range s.mempool.Copy() {
		for _, pin := range pending.Inputs {
			for _, in := range tx.Inputs {
				if pin.TxID == in.TxID && pin.Vout == in.Vout {
					return database.InvalidTransactionError{
						Reason: fmt.Sprintf("output %s:%d already spent by pending transaction", in.TxID, in.Vout),
					}
				}
			}
		}
	}

	count := s.mempool.Upsert(tx)
	s.evHandler("state: mempool: admitted tx[%s] pool[%d]", tx.ID, count)

	return nil
}
