package utxo_test

import (
	"errors"
	"testing"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/archlabs/blockchain/foundation/blockchain/storage"
	"github.com/archlabs/blockchain/foundation/blockchain/utxo"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func pkh(tag byte) [20]byte {
	var h [20]byte
	for i := range h {
		h[i] = tag
	}
	return h
}

func txID(tag byte) chainhash.Hash {
	return chainhash.DoubleHashH([]byte{tag})
}

// fundingBlock produces a block whose single transaction pays the given
// outputs. The coinbase sentinel keeps Update from looking up inputs.
func fundingBlock(id chainhash.Hash, outs ...database.TxOut) database.Block {
	tx := database.Tx{
		ID:      id,
		Inputs:  []database.TxIn{{Vout: database.CoinbaseVout, Signature: []byte{0x01}}},
		Outputs: outs,
	}
	return database.Block{Txs: []database.Tx{tx}}
}

func TestUpdateAndSpend(t *testing.T) {
	t.Log("Given the need to keep the set in lockstep with applied blocks.")
	{
		store := newStore(t)
		set := utxo.NewSet(store)

		owner := pkh(0xAA)
		fund := txID(1)
		if err := set.Update(fundingBlock(fund, database.TxOut{Value: 60, PubKeyHash: owner}, database.TxOut{Value: 40, PubKeyHash: owner})); err != nil {
			t.Fatalf("\t%s\tShould apply the funding block: %v.", failed, err)
		}
		t.Logf("\t%s\tShould apply the funding block.", success)

		balance, err := set.Balance(owner)
		if err != nil || balance != 100 {
			t.Fatalf("\t%s\tShould see a balance of 100, got %d %v.", failed, balance, err)
		}
		t.Logf("\t%s\tShould see a balance of 100.", success)

		// Spend the first output and mint a new one elsewhere.
		spendID := txID(2)
		other := pkh(0xBB)
		spend := database.Block{Txs: []database.Tx{{
			ID:      spendID,
			Inputs:  []database.TxIn{{TxID: fund, Vout: 0, PubKey: []byte{0x01}}},
			Outputs: []database.TxOut{{Value: 60, PubKeyHash: other}},
		}}}
		if err := set.Update(spend); err != nil {
			t.Fatalf("\t%s\tShould apply the spending block: %v.", failed, err)
		}

		if _, err := set.FetchOutput(fund, 0); !errors.Is(err, database.ErrNotFound) {
			t.Fatalf("\t%s\tShould have deleted the consumed output.", failed)
		}
		t.Logf("\t%s\tShould have deleted the consumed output.", success)

		if out, err := set.FetchOutput(fund, 1); err != nil || out.Value != 40 {
			t.Fatalf("\t%s\tShould keep the surviving output.", failed)
		}
		t.Logf("\t%s\tShould keep the surviving output.", success)

		if balance, _ := set.Balance(other); balance != 60 {
			t.Fatalf("\t%s\tShould credit the new owner with 60.", failed)
		}
		t.Logf("\t%s\tShould credit the new owner with 60.", success)

		// Spending the missing output again must fail.
		if err := set.Update(spend); err == nil {
			t.Fatalf("\t%s\tShould reject applying the same block twice.", failed)
		}
		t.Logf("\t%s\tShould reject applying the same block twice.", success)
	}
}

func TestFindSpendable(t *testing.T) {
	t.Log("Given the need for deterministic output selection.")
	{
		store := newStore(t)
		set := utxo.NewSet(store)
		owner := pkh(0xCC)

		for tag := byte(1); tag <= 3; tag++ {
			if err := set.Update(fundingBlock(txID(tag), database.TxOut{Value: 50, PubKeyHash: owner})); err != nil {
				t.Fatalf("\t%s\tShould fund the set: %v.", failed, err)
			}
		}

		accumulated, spendable, err := set.FindSpendable(owner, 70)
		if err != nil {
			t.Fatalf("\t%s\tShould select spendable outputs: %v.", failed, err)
		}
		if accumulated < 70 || accumulated > 100 {
			t.Fatalf("\t%s\tShould accumulate just enough, got %d.", failed, accumulated)
		}
		t.Logf("\t%s\tShould accumulate just enough.", success)

		// Selection is stable across calls.
		again, spendable2, err := set.FindSpendable(owner, 70)
		if err != nil || again != accumulated || len(spendable2) != len(spendable) {
			t.Fatalf("\t%s\tShould select the same outputs every time.", failed)
		}
		t.Logf("\t%s\tShould select the same outputs every time.", success)

		if _, _, err := set.FindSpendable(owner, 1000); err == nil {
			t.Fatalf("\t%s\tShould fail with insufficient funds.", failed)
		} else {
			var insufficient database.InsufficientFundsError
			if !errors.As(err, &insufficient) || insufficient.Have != 150 || insufficient.Need != 1000 {
				t.Fatalf("\t%s\tShould report have/need amounts, got %v.", failed, err)
			}
		}
		t.Logf("\t%s\tShould fail with insufficient funds reporting have/need.", success)
	}
}

func TestRestoreOutput(t *testing.T) {
	t.Log("Given the need to reverse entries during a reorg.")
	{
		store := newStore(t)
		set := utxo.NewSet(store)
		owner := pkh(0xDD)

		fund := txID(9)
		out := database.TxOut{Value: 25, PubKeyHash: owner}
		if err := set.Update(fundingBlock(fund, out)); err != nil {
			t.Fatalf("\t%s\tShould fund the set: %v.", failed, err)
		}

		if err := set.RemoveTx(fund); err != nil {
			t.Fatalf("\t%s\tShould remove the entry: %v.", failed, err)
		}
		if balance, _ := set.Balance(owner); balance != 0 {
			t.Fatalf("\t%s\tShould see an empty balance after removal.", failed)
		}
		t.Logf("\t%s\tShould see an empty balance after removal.", success)

		if err := set.RestoreOutput(fund, 0, out); err != nil {
			t.Fatalf("\t%s\tShould restore the output: %v.", failed, err)
		}
		if balance, _ := set.Balance(owner); balance != 25 {
			t.Fatalf("\t%s\tShould see the restored balance.", failed)
		}
		t.Logf("\t%s\tShould see the restored balance.", success)

		// Restoring twice must not double the balance.
		if err := set.RestoreOutput(fund, 0, out); err != nil {
			t.Fatalf("\t%s\tShould tolerate a repeated restore: %v.", failed, err)
		}
		if balance, _ := set.Balance(owner); balance != 25 {
			t.Fatalf("\t%s\tShould keep the balance unchanged.", failed)
		}
		t.Logf("\t%s\tShould keep the balance unchanged.", success)
	}
}

func TestReindex(t *testing.T) {
	t.Log("Given the need to rebuild the set from the chain.")
	{
		store := newStore(t)
		set := utxo.NewSet(store)
		owner := pkh(0xEE)

		blocks := []database.Block{
			fundingBlock(txID(1), database.TxOut{Value: 10, PubKeyHash: owner}),
			fundingBlock(txID(2), database.TxOut{Value: 20, PubKeyHash: owner}),
		}

		// The walk hands back blocks from the tip downward.
		walk := func(fn func(block database.Block) error) error {
			for i := len(blocks) - 1; i >= 0; i-- {
				if err := fn(blocks[i]); err != nil {
					return err
				}
			}
			return nil
		}

		if err := set.Reindex(walk); err != nil {
			t.Fatalf("\t%s\tShould rebuild the set: %v.", failed, err)
		}
		if balance, _ := set.Balance(owner); balance != 30 {
			t.Fatalf("\t%s\tShould see the full balance, got %d.", failed, balance)
		}
		t.Logf("\t%s\tShould see the full balance.", success)

		// Reindex is idempotent on a quiescent chain.
		if err := set.Reindex(walk); err != nil {
			t.Fatalf("\t%s\tShould rebuild the set again: %v.", failed, err)
		}
		if balance, _ := set.Balance(owner); balance != 30 {
			t.Fatalf("\t%s\tShould see the same balance after reindex.", failed)
		}
		t.Logf("\t%s\tShould see the same balance after reindex.", success)

		count, err := set.Count()
		if err != nil || count != 2 {
			t.Fatalf("\t%s\tShould count two entries, got %d %v.", failed, count, err)
		}
		t.Logf("\t%s\tShould count two entries.", success)
	}
}

func TestBalanceIgnoresOthers(t *testing.T) {
	t.Log("Given the need to scope balances to one owner.")
	{
		store := newStore(t)
		set := utxo.NewSet(store)

		mine, theirs := pkh(0x01), pkh(0x02)
		block := fundingBlock(txID(7),
			database.TxOut{Value: 5, PubKeyHash: mine},
			database.TxOut{Value: 7, PubKeyHash: theirs},
		)
		if err := set.Update(block); err != nil {
			t.Fatalf("\t%s\tShould fund the set: %v.", failed, err)
		}

		outs, err := set.FindUTXOs(mine)
		if err != nil || len(outs) != 1 || outs[0].Value != 5 {
			t.Fatalf("\t%s\tShould find only the owner's outputs.", failed)
		}
		t.Logf("\t%s\tShould find only the owner's outputs.", success)

		var want currency.Satoshi = 7
		if balance, _ := set.Balance(theirs); balance != want {
			t.Fatalf("\t%s\tShould keep the other owner's balance separate.", failed)
		}
		t.Logf("\t%s\tShould keep the other owner's balance separate.", success)
	}
}
