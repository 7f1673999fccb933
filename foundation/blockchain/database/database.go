// Package database defines the data model for the blockchain: transactions,
// blocks, their deterministic binary encoding, and the behavior required
// from the persistence layer.
package database

import (
	"errors"
	"fmt"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Storage represents the behavior required to be implemented by any package
// providing persistence for blocks, the tip pointer, and the UTXO namespace.
// Writes to a single key are atomic.
type Storage interface {
	WriteBlock(hash chainhash.Hash, data []byte) error
	Block(hash chainhash.Hash) ([]byte, error)
	HasBlock(hash chainhash.Hash) (bool, error)
	WriteTip(hash chainhash.Hash) error
	Tip() (chainhash.Hash, error)

	PutOutputs(txID chainhash.Hash, data []byte) error
	Outputs(txID chainhash.Hash) ([]byte, error)
	DeleteOutputs(txID chainhash.Hash) error
	ForEachOutputs(fn func(txID chainhash.Hash, data []byte) error) error
	ReplaceOutputs(entries map[chainhash.Hash][]byte) error

	Config(key string) ([]byte, error)
	PutConfig(key string, data []byte) error

	Close() error
}

// OutputFetcher looks up the output a transaction input references. The UTXO
// set provides this for unconfirmed validation; the chain itself provides it
// when validating along a branch.
type OutputFetcher interface {
	FetchOutput(txID chainhash.Hash, vout uint32) (TxOut, error)
}

// =============================================================================

// ErrNotFound is returned when a requested key does not exist in storage.
var ErrNotFound = errors.New("not found")

// ErrNoTip is returned when storage holds no chain yet.
var ErrNoTip = errors.New("blockchain not initialized")

// InsufficientFundsError reports a spend that the owner's outputs can't cover.
type InsufficientFundsError struct {
	Have currency.Satoshi
	Need currency.Satoshi
}

// Error implements the error interface.
func (e InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: have %d, need %d", e.Have, e.Need)
}

// InvalidTransactionError reports why a transaction failed validation.
type InvalidTransactionError struct {
	Reason string
}

// Error implements the error interface.
func (e InvalidTransactionError) Error() string {
	return fmt.Sprintf("invalid transaction: %s", e.Reason)
}

// InvalidBlockError reports why a block failed validation.
type InvalidBlockError struct {
	Reason string
}

// Error implements the error interface.
func (e InvalidBlockError) Error() string {
	return fmt.Sprintf("invalid block: %s", e.Reason)
}
