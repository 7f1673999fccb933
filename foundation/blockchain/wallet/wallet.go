// Package wallet manages the signing keys: key generation, address
// derivation, and the wallet.dat file, optionally encrypted with a
// passphrase derived key.
package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/archlabs/blockchain/foundation/blockchain/signature"
)

// Wallet holds one key pair. The fields are exported for the file codec;
// PrivateKey is the raw P-256 scalar, PublicKey the compressed point.
type Wallet struct {
	PrivateKey []byte
	PublicKey  []byte
}

// New generates a fresh key pair.
func New() (*Wallet, error) {
	privateKey, err := signature.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	return &Wallet{
		PrivateKey: signature.PrivateKeyBytes(privateKey),
		PublicKey:  signature.PublicKeyBytes(privateKey),
	}, nil
}

// Key reconstructs the ECDSA private key for signing.
func (w *Wallet) Key() (*ecdsa.PrivateKey, error) {
	return signature.ParsePrivateKey(w.PrivateKey)
}

// PubKeyHash returns RIPEMD160(SHA256(public key)).
func (w *Wallet) PubKeyHash() [20]byte {
	return signature.Hash160(w.PublicKey)
}

// Address returns the base58check encoded address for this wallet.
func (w *Wallet) Address() string {
	return signature.EncodeAddress(w.PubKeyHash())
}

// ValidateAddress reports whether the address decodes with an intact
// checksum and the expected version byte.
func ValidateAddress(address string) bool {
	_, err := signature.DecodeAddress(address)
	return err == nil
}
