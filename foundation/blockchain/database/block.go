package database

import (
	"context"
	"math/big"
	"time"

	"github.com/archlabs/blockchain/foundation/blockchain/difficulty"
	"github.com/archlabs/blockchain/foundation/blockchain/merkle"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// cancelCheckMask bounds how many nonces are tried between looks at the
// cancellation signal while mining.
const cancelCheckMask = 1<<16 - 1

// BlockHeader carries everything the proof of work commits to. The block
// hash is the double SHA-256 of its serialized form.
type BlockHeader struct {
	PrevHash   chainhash.Hash
	MerkleRoot chainhash.Hash
	Timestamp  int64
	Bits       uint32
	Nonce      uint64
	Height     uint32
}

// Block is a header plus the ordered transaction list it commits to. The
// first transaction must be the coinbase.
type Block struct {
	Header BlockHeader
	Txs    []Tx
}

// NewBlock assembles an unmined block over the transactions. The merkle
// root is computed here; the nonce is found by FindNonce.
func NewBlock(prevHash chainhash.Hash, height uint32, bits uint32, txs []Tx) (Block, error) {
	if len(txs) == 0 {
		return Block{}, InvalidBlockError{Reason: "block must contain at least one transaction"}
	}

	root, err := txMerkleRoot(txs)
	if err != nil {
		return Block{}, err
	}

	b := Block{
		Header: BlockHeader{
			PrevHash:   prevHash,
			MerkleRoot: root,
			Timestamp:  time.Now().UTC().Unix(),
			Bits:       bits,
			Height:     height,
		},
		Txs: txs,
	}

	return b, nil
}

// Hash returns the block's identity: the double SHA-256 of the header.
func (b Block) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(b.Header.Marshal())
}

// Work returns how much work the block's stated difficulty represents.
// Cumulative work over a branch decides fork resolution.
func (b Block) Work() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(b.Header.Bits))
}

// FindNonce enumerates nonces from zero until the header hash meets the
// stated difficulty or the context is cancelled.
func (b *Block) FindNonce(ctx context.Context) error {
	for nonce := uint64(0); ; nonce++ {
		if nonce&cancelCheckMask == 0 && ctx.Err() != nil {
			return ctx.Err()
		}

		b.Header.Nonce = nonce
		if HashMeetsDifficulty(b.Hash(), b.Header.Bits) {
			return nil
		}
	}
}

// HashMeetsDifficulty reports whether the hash, read as a big-endian
// integer, carries at least bits leading zero bits. The boundary value with
// exactly bits leading zeros is accepted.
func HashMeetsDifficulty(hash chainhash.Hash, bits uint32) bool {
	value := new(big.Int).SetBytes(hash[:])
	return value.BitLen() <= 256-int(bits)
}

// ValidateSelf runs every check that needs no chain context: the stated
// difficulty is in range and solved, the merkle root matches the
// transactions, and the coinbase sits first and only first.
func (b Block) ValidateSelf() error {
	if !difficulty.InRange(b.Header.Bits) {
		return InvalidBlockError{Reason: "difficulty out of range"}
	}
	if !HashMeetsDifficulty(b.Hash(), b.Header.Bits) {
		return InvalidBlockError{Reason: "header hash does not meet stated difficulty"}
	}

	if len(b.Txs) == 0 {
		return InvalidBlockError{Reason: "empty transaction list"}
	}
	if !b.Txs[0].IsCoinbase() {
		return InvalidBlockError{Reason: "first transaction is not coinbase"}
	}
	for _, tx := range b.Txs[1:] {
		if tx.IsCoinbase() {
			return InvalidBlockError{Reason: "coinbase appears mid-list"}
		}
	}

	root, err := txMerkleRoot(b.Txs)
	if err != nil {
		return err
	}
	if root != b.Header.MerkleRoot {
		return InvalidBlockError{Reason: "merkle root does not match transactions"}
	}

	return nil
}

// MerkleProof returns the membership proof for the transaction at index.
func (b Block) MerkleProof(index int) ([]merkle.ProofStep, error) {
	tree, err := txTree(b.Txs)
	if err != nil {
		return nil, err
	}
	return tree.Proof(index)
}

// txMerkleRoot commits to the ordered transaction list.
func txMerkleRoot(txs []Tx) (chainhash.Hash, error) {
	tree, err := txTree(txs)
	if err != nil {
		return chainhash.Hash{}, err
	}
	return tree.Root(), nil
}

func txTree(txs []Tx) (*merkle.Tree, error) {
	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.Marshal()
	}
	return merkle.NewTree(leaves)
}
