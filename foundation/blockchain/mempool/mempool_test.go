package mempool_test

import (
	"testing"

	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/archlabs/blockchain/foundation/blockchain/mempool"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func tx(tag byte) database.Tx {
	return database.Tx{ID: chainhash.DoubleHashH([]byte{tag})}
}

func TestCRUD(t *testing.T) {
	t.Log("Given the need to manage pending transactions.")
	{
		mp := mempool.New()

		first := tx(1)
		if count := mp.Upsert(first); count != 1 {
			t.Fatalf("\t%s\tShould report one pooled transaction, got %d.", failed, count)
		}
		t.Logf("\t%s\tShould report one pooled transaction.", success)

		if !mp.Contains(first.ID) {
			t.Fatalf("\t%s\tShould contain the transaction.", failed)
		}
		t.Logf("\t%s\tShould contain the transaction.", success)

		got, exists := mp.Get(first.ID)
		if !exists || got.ID != first.ID {
			t.Fatalf("\t%s\tShould get the transaction back.", failed)
		}
		t.Logf("\t%s\tShould get the transaction back.", success)

		// Upserting the same id does not grow the pool.
		if count := mp.Upsert(first); count != 1 {
			t.Fatalf("\t%s\tShould not grow on duplicate upsert, got %d.", failed, count)
		}
		t.Logf("\t%s\tShould not grow on duplicate upsert.", success)

		mp.Delete(first.ID)
		if mp.Count() != 0 {
			t.Fatalf("\t%s\tShould be empty after delete.", failed)
		}
		t.Logf("\t%s\tShould be empty after delete.", success)
	}
}

func TestInsertionOrder(t *testing.T) {
	t.Log("Given the need to keep insertion order for block assembly.")
	{
		mp := mempool.New()
		for tag := byte(1); tag <= 5; tag++ {
			mp.Upsert(tx(tag))
		}

		txs := mp.Copy()
		if len(txs) != 5 {
			t.Fatalf("\t%s\tShould copy all five transactions.", failed)
		}
		for i := range txs {
			if txs[i].ID != tx(byte(i+1)).ID {
				t.Fatalf("\t%s\tShould keep insertion order at position %d.", failed, i)
			}
		}
		t.Logf("\t%s\tShould keep insertion order.", success)

		mp.Truncate()
		if mp.Count() != 0 {
			t.Fatalf("\t%s\tShould be empty after truncate.", failed)
		}
		t.Logf("\t%s\tShould be empty after truncate.", success)
	}
}

func TestBoundedEviction(t *testing.T) {
	t.Log("Given the need to bound the pool by evicting the oldest.")
	{
		mp := mempool.NewWithMax(3)
		for tag := byte(1); tag <= 4; tag++ {
			mp.Upsert(tx(tag))
		}

		if mp.Count() != 3 {
			t.Fatalf("\t%s\tShould hold at most three transactions, got %d.", failed, mp.Count())
		}
		t.Logf("\t%s\tShould hold at most three transactions.", success)

		if mp.Contains(tx(1).ID) {
			t.Fatalf("\t%s\tShould have evicted the oldest transaction.", failed)
		}
		t.Logf("\t%s\tShould have evicted the oldest transaction.", success)

		for tag := byte(2); tag <= 4; tag++ {
			if !mp.Contains(tx(tag).ID) {
				t.Fatalf("\t%s\tShould keep the newer transactions.", failed)
			}
		}
		t.Logf("\t%s\tShould keep the newer transactions.", success)
	}
}
