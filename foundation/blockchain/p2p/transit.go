package p2p

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// transit tracks the block hashes still expected from a peer during chain
// catch-up. When the list drains, the UTXO set is rebuilt.
type transit struct {
	mu     sync.Mutex
	hashes []chainhash.Hash
	active bool
}

// Add queues hashes that still need to be requested.
func (t *transit) Add(hashes []chainhash.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(hashes) > 0 {
		t.active = true
	}
	t.hashes = append(t.hashes, hashes...)
}

// Next pops the next hash to request.
func (t *transit) Next() (chainhash.Hash, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.hashes) == 0 {
		return chainhash.Hash{}, false
	}

	hash := t.hashes[0]
	t.hashes = t.hashes[1:]
	return hash, true
}

// Empty reports whether all expected blocks have been requested.
func (t *transit) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.hashes) == 0
}

// FinishIfDrained reports true exactly once per catch-up: when a transfer
// was in progress and its list has fully drained.
func (t *transit) FinishIfDrained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active && len(t.hashes) == 0 {
		t.active = false
		return true
	}
	return false
}
