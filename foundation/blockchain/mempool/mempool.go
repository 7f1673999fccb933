// Package mempool maintains the bounded set of accepted, not yet mined
// transactions keyed by transaction id.
package mempool

import (
	"sync"

	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DefaultMaxTxs bounds the pool; overflow evicts the oldest transaction.
const DefaultMaxTxs = 1000

// Mempool represents the cache of pending transactions. Insertion order is
// tracked so overflow can evict the oldest entry first.
type Mempool struct {
	mu    sync.RWMutex
	pool  map[chainhash.Hash]database.Tx
	order []chainhash.Hash
	max   int
}

// New constructs a mempool with the default bound.
func New() *Mempool {
	return NewWithMax(DefaultMaxTxs)
}

// NewWithMax constructs a mempool holding at most max transactions.
func NewWithMax(max int) *Mempool {
	return &Mempool{
		pool: make(map[chainhash.Hash]database.Tx),
		max:  max,
	}
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Contains reports whether a transaction id is already pooled.
func (mp *Mempool) Contains(txID chainhash.Hash) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.pool[txID]
	return exists
}

// Get returns a pooled transaction by id.
func (mp *Mempool) Get(txID chainhash.Hash) (database.Tx, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	tx, exists := mp.pool[txID]
	return tx, exists
}

// Upsert adds or replaces a transaction, evicting the oldest entry when
// the pool is full. It returns the new pool size.
func (mp *Mempool) Upsert(tx database.Tx) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.ID]; !exists {
		if len(mp.pool) >= mp.max && len(mp.order) > 0 {
			oldest := mp.order[0]
			mp.order = mp.order[1:]
			delete(mp.pool, oldest)
		}
		mp.order = append(mp.order, tx.ID)
	}
	mp.pool[tx.ID] = tx

	return len(mp.pool)
}

// Delete removes a transaction from the pool.
func (mp *Mempool) Delete(txID chainhash.Hash) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[txID]; !exists {
		return
	}

	delete(mp.pool, txID)
	for i, id := range mp.order {
		if id == txID {
			mp.order = append(mp.order[:i], mp.order[i+1:]...)
			break
		}
	}
}

// Copy returns the pooled transactions in insertion order.
func (mp *Mempool) Copy() []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]database.Tx, 0, len(mp.pool))
	for _, id := range mp.order {
		txs = append(txs, mp.pool[id])
	}
	return txs
}

// Truncate clears all transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[chainhash.Hash]database.Tx)
	mp.order = nil
}
