// Package storage implements the persistence layer on top of an embedded
// bbolt database: blocks keyed by hash, the tip pointer, the UTXO namespace,
// and a small config bucket.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	bolt "go.etcd.io/bbolt"
)

// Bucket and key names inside the database file.
var (
	blocksBucket     = []byte("blocks")
	chainstateBucket = []byte("chainstate")
	configBucket     = []byte("config")
	tipKey           = []byte("l")
)

// dbFile is the database file name inside a node's data directory.
const dbFile = "blockchain.db"

// Store provides access to the node's on-disk state. It implements the
// database.Storage interface.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the database under the given data directory.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// The file lock times out fast so a CLI command against a running
	// node reports the contention instead of hanging.
	db, err := bolt.Open(filepath.Join(dataDir, dbFile), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{blocksBucket, chainstateBucket, configBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================

// WriteBlock persists a block under its hash.
func (s *Store) WriteBlock(hash chainhash.Hash, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(hash[:], data)
	})
}

// Block reads a block by hash.
func (s *Store) Block(hash chainhash.Hash) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(hash[:])
		if v == nil {
			return database.ErrNotFound
		}
		data = append(data, v...)
		return nil
	})
	return data, err
}

// HasBlock reports whether a block exists without reading it.
func (s *Store) HasBlock(hash chainhash.Hash) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(blocksBucket).Get(hash[:]) != nil
		return nil
	})
	return exists, err
}

// WriteTip commits the best chain pointer. This is always the last write of
// any chain mutation so a crash leaves the tip on a consistent chain.
func (s *Store) WriteTip(hash chainhash.Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(tipKey, hash[:])
	})
}

// Tip reads the best chain pointer.
func (s *Store) Tip() (chainhash.Hash, error) {
	var tip chainhash.Hash
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(tipKey)
		if v == nil {
			return database.ErrNoTip
		}
		if len(v) != chainhash.HashSize {
			return errors.New("malformed tip pointer")
		}
		copy(tip[:], v)
		return nil
	})
	return tip, err
}

// =============================================================================

// PutOutputs stores the serialized surviving outputs for a transaction.
func (s *Store) PutOutputs(txID chainhash.Hash, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chainstateBucket).Put(txID[:], data)
	})
}

// Outputs reads the surviving outputs for a transaction.
func (s *Store) Outputs(txID chainhash.Hash) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(chainstateBucket).Get(txID[:])
		if v == nil {
			return database.ErrNotFound
		}
		data = append(data, v...)
		return nil
	})
	return data, err
}

// DeleteOutputs removes a transaction's entry once fully spent.
func (s *Store) DeleteOutputs(txID chainhash.Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(chainstateBucket).Delete(txID[:])
	})
}

// ForEachOutputs walks every entry in the UTXO namespace.
func (s *Store) ForEachOutputs(fn func(txID chainhash.Hash, data []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(chainstateBucket).ForEach(func(k, v []byte) error {
			if len(k) != chainhash.HashSize {
				return fmt.Errorf("malformed chainstate key of %d bytes", len(k))
			}
			var txID chainhash.Hash
			copy(txID[:], k)
			return fn(txID, v)
		})
	})
}

// ReplaceOutputs swaps the entire UTXO namespace for the provided entries
// in a single transaction. A crash mid-reindex leaves either the old or the
// new namespace, never a mix.
func (s *Store) ReplaceOutputs(entries map[chainhash.Hash][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(chainstateBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(chainstateBucket)
		if err != nil {
			return err
		}
		for txID, data := range entries {
			if err := b.Put(txID[:], data); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================

// Config reads a config value by key.
func (s *Store) Config(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(configBucket).Get([]byte(key))
		if v == nil {
			return database.ErrNotFound
		}
		data = append(data, v...)
		return nil
	})
	return data, err
}

// PutConfig writes a config value under a key.
func (s *Store) PutConfig(key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(configBucket).Put([]byte(key), data)
	})
}
