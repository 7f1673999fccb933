// Package merkle provides the commitment over a block's ordered transaction
// list and membership proofs against that commitment.
package merkle

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNoLeaves is returned when a tree is requested over an empty list.
var ErrNoLeaves = errors.New("cannot construct tree with no leaves")

// ProofStep is one hop of a membership proof: the sibling hash and the side
// it sits on when the pair is concatenated.
type ProofStep struct {
	Sibling chainhash.Hash
	IsRight bool
}

// Tree holds every level of the merkle tree, leaves first. Leaf hashes are
// the double SHA-256 of the leaf bytes; internal nodes hash left||right.
// An odd level duplicates its last node before pairing.
type Tree struct {
	levels [][]chainhash.Hash
}

// NewTree hashes the ordered leaves and folds them up to a single root.
func NewTree(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	level := make([]chainhash.Hash, len(leaves))
	for i, leaf := range leaves {
		level[i] = chainhash.DoubleHashH(leaf)
	}

	t := Tree{levels: [][]chainhash.Hash{level}}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		next := make([]chainhash.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashPair(level[i], level[i+1]))
		}

		t.levels = append(t.levels, next)
		level = next
	}

	return &t, nil
}

// Root returns the single remaining hash at the top of the tree.
func (t *Tree) Root() chainhash.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// RootHex returns the root in 0x prefixed hex for logs and display.
func (t *Tree) RootHex() string {
	root := t.Root()
	return hexutil.Encode(root[:])
}

// Proof returns the sibling path for the leaf at the given index. Replaying
// the path with VerifyProof re-derives the root.
func (t *Tree) Proof(index int) ([]ProofStep, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, errors.New("leaf index out of range")
	}

	var steps []ProofStep
	for _, level := range t.levels[:len(t.levels)-1] {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		if index%2 == 0 {
			steps = append(steps, ProofStep{Sibling: level[index+1], IsRight: true})
		} else {
			steps = append(steps, ProofStep{Sibling: level[index-1], IsRight: false})
		}

		index /= 2
	}

	return steps, nil
}

// VerifyProof replays the proof from the raw leaf bytes and reports whether
// the derived root matches the expected one.
func VerifyProof(leaf []byte, steps []ProofStep, root chainhash.Hash) bool {
	hash := chainhash.DoubleHashH(leaf)

	for _, step := range steps {
		if step.IsRight {
			hash = hashPair(hash, step.Sibling)
		} else {
			hash = hashPair(step.Sibling, hash)
		}
	}

	return hash == root
}

// hashPair commits to an ordered pair of child hashes.
func hashPair(left, right chainhash.Hash) chainhash.Hash {
	data := make([]byte, 0, chainhash.HashSize*2)
	data = append(data, left[:]...)
	data = append(data, right[:]...)
	return chainhash.DoubleHashH(data)
}
