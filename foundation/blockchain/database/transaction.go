package database

import (
	"crypto/ecdsa"
	"fmt"
	"math"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/signature"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
)

// CoinbaseVout is the sentinel output index carried by a coinbase input.
const CoinbaseVout uint32 = math.MaxUint32

// TxIn references a previous output and carries the proof of ownership:
// the signature over the spending transaction and the raw public key the
// referenced output is locked to.
type TxIn struct {
	TxID      chainhash.Hash
	Vout      uint32
	Signature []byte
	PubKey    []byte
}

// IsCoinbase reports whether the input is the minting sentinel.
func (in TxIn) IsCoinbase() bool {
	return in.TxID == chainhash.Hash{} && in.Vout == CoinbaseVout
}

// TxOut locks a value to the hash of a public key.
type TxOut struct {
	Value      currency.Satoshi
	PubKeyHash [20]byte
}

// IsLockedWith reports whether the output is spendable by the key hash.
func (out TxOut) IsLockedWith(pubKeyHash [20]byte) bool {
	return out.PubKeyHash == pubKeyHash
}

// =============================================================================

// Tx is a transfer of value: an ordered list of inputs consuming previous
// outputs and an ordered list of new outputs. The id is the double SHA-256
// of the signed serialized form with the id field zeroed, so two identical
// transfers carrying different signatures have distinct ids.
type Tx struct {
	ID      chainhash.Hash
	Inputs  []TxIn
	Outputs []TxOut
}

// NewCoinbaseTx mints the block reward plus the collected fees to the miner.
// The input carries an arbitrary unique payload in place of a signature.
func NewCoinbaseTx(pubKeyHash [20]byte, reward currency.Satoshi) (Tx, error) {
	nonce, err := uuid.NewRandom()
	if err != nil {
		return Tx{}, err
	}

	tx := Tx{
		Inputs: []TxIn{{
			Vout:      CoinbaseVout,
			Signature: nonce[:],
		}},
		Outputs: []TxOut{{
			Value:      reward,
			PubKeyHash: pubKeyHash,
		}},
	}
	tx.ID = tx.computeID()

	return tx, nil
}

// IsCoinbase reports whether this transaction mints new coins.
func (tx Tx) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].IsCoinbase()
}

// OutputValue sums the transaction's outputs with overflow checking.
func (tx Tx) OutputValue() (currency.Satoshi, error) {
	var total currency.Satoshi
	for _, out := range tx.Outputs {
		var err error
		if total, err = total.Add(out.Value); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// InputValue sums the referenced outputs' values with overflow checking.
func (tx Tx) InputValue(fetcher OutputFetcher) (currency.Satoshi, error) {
	var total currency.Satoshi
	for _, in := range tx.Inputs {
		out, err := fetcher.FetchOutput(in.TxID, in.Vout)
		if err != nil {
			return 0, err
		}
		if total, err = total.Add(out.Value); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// Fee returns the difference between referenced input value and output value.
func (tx Tx) Fee(fetcher OutputFetcher) (currency.Satoshi, error) {
	if tx.IsCoinbase() {
		return 0, nil
	}

	in, err := tx.InputValue(fetcher)
	if err != nil {
		return 0, err
	}
	out, err := tx.OutputValue()
	if err != nil {
		return 0, err
	}

	return in.Sub(out)
}

// Size returns the serialized length in bytes; fee rates are quoted per byte.
func (tx Tx) Size() int {
	return len(tx.Marshal())
}

// =============================================================================

// SigningDigest builds the digest every input signs: a trimmed copy with the
// id zeroed, every signature emptied, and every input's pub-key field
// replaced by the pub-key-hash of the output it references.
func (tx Tx) SigningDigest(fetcher OutputFetcher) ([32]byte, error) {
	trimmed := Tx{
		Inputs:  make([]TxIn, len(tx.Inputs)),
		Outputs: tx.Outputs,
	}

	for i, in := range tx.Inputs {
		prev, err := fetcher.FetchOutput(in.TxID, in.Vout)
		if err != nil {
			return [32]byte{}, err
		}

		trimmed.Inputs[i] = TxIn{
			TxID:   in.TxID,
			Vout:   in.Vout,
			PubKey: prev.PubKeyHash[:],
		}
	}

	return signature.Hash(trimmed.Marshal()), nil
}

// Sign places a signature from the controlling key into every input and
// stamps the final transaction id.
func (tx *Tx) Sign(privateKey *ecdsa.PrivateKey, fetcher OutputFetcher) error {
	digest, err := tx.SigningDigest(fetcher)
	if err != nil {
		return err
	}

	for i := range tx.Inputs {
		sig, err := signature.Sign(privateKey, digest)
		if err != nil {
			return err
		}
		tx.Inputs[i].Signature = sig
	}

	tx.ID = tx.computeID()
	return nil
}

// VerifySignatures checks every input's signature against the reconstructed
// digest and checks the provided public key hashes to the referenced
// output's pub-key-hash.
func (tx Tx) VerifySignatures(fetcher OutputFetcher) error {
	if tx.IsCoinbase() {
		return nil
	}

	digest, err := tx.SigningDigest(fetcher)
	if err != nil {
		return err
	}

	for i, in := range tx.Inputs {
		prev, err := fetcher.FetchOutput(in.TxID, in.Vout)
		if err != nil {
			return err
		}

		if signature.Hash160(in.PubKey) != prev.PubKeyHash {
			return InvalidTransactionError{Reason: "public key does not match referenced output"}
		}
		if !signature.Verify(in.PubKey, digest, in.Signature) {
			return InvalidTransactionError{Reason: fmt.Sprintf("signature verification failed for input %d", i)}
		}
	}

	return nil
}

// Validate runs the full transaction checks against the provided view of
// spendable outputs: referenced outputs exist, no output is referenced twice,
// signatures verify, and value in covers value out.
func (tx Tx) Validate(fetcher OutputFetcher) error {
	if tx.IsCoinbase() {
		if len(tx.Outputs) != 1 {
			return InvalidTransactionError{Reason: "coinbase must have exactly one output"}
		}
		return nil
	}

	seen := make(map[TxIn]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		ref := TxIn{TxID: in.TxID, Vout: in.Vout}
		if _, dup := seen[ref]; dup {
			return InvalidTransactionError{Reason: "duplicate input reference"}
		}
		seen[ref] = struct{}{}
	}

	if err := tx.VerifySignatures(fetcher); err != nil {
		return err
	}

	in, err := tx.InputValue(fetcher)
	if err != nil {
		return InvalidTransactionError{Reason: "referenced output missing: " + err.Error()}
	}
	out, err := tx.OutputValue()
	if err != nil {
		return InvalidTransactionError{Reason: err.Error()}
	}
	if out > in {
		return InvalidTransactionError{Reason: "outputs exceed inputs"}
	}

	return nil
}

// computeID hashes the serialized transaction with the id field zeroed.
func (tx Tx) computeID() chainhash.Hash {
	unstamped := tx
	unstamped.ID = chainhash.Hash{}
	return signature.DoubleHash(unstamped.Marshal())
}
