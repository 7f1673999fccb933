// Package signature provides the cryptographic primitives for the blockchain:
// hashing, ECDSA signing over NIST P-256, and base58check address payloads.
package signature

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressVersion is the version byte carried by every address payload.
const AddressVersion byte = 0x00

// SignatureLength is the byte length of an encoded signature: the R and S
// values are each padded to 32 bytes.
const SignatureLength = 64

// ErrInvalidKey is returned when key material can't be parsed.
var ErrInvalidKey = errors.New("invalid key material")

// =============================================================================

// Hash returns the SHA-256 digest of the data.
func Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// DoubleHash returns the double SHA-256 digest of the data.
func DoubleHash(data []byte) chainhash.Hash {
	return chainhash.DoubleHashH(data)
}

// Hash160 returns RIPEMD160(SHA256(data)), the 20 byte form every output
// locks value to.
func Hash160(data []byte) [20]byte {
	var pkh [20]byte
	copy(pkh[:], btcutil.Hash160(data))
	return pkh
}

// =============================================================================

// GenerateKey creates a new P-256 private key for signing transactions.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// PublicKeyBytes returns the compressed encoding of the key's public half.
// Addresses and signature checks are always derived from this form.
func PublicKeyBytes(privateKey *ecdsa.PrivateKey) []byte {
	return elliptic.MarshalCompressed(elliptic.P256(), privateKey.PublicKey.X, privateKey.PublicKey.Y)
}

// PrivateKeyBytes returns the raw scalar for persisting the key.
func PrivateKeyBytes(privateKey *ecdsa.PrivateKey) []byte {
	return privateKey.D.Bytes()
}

// ParsePrivateKey reconstructs a P-256 private key from its raw scalar.
func ParsePrivateKey(data []byte) (*ecdsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, ErrInvalidKey
	}

	d := new(big.Int).SetBytes(data)
	if d.Sign() <= 0 || d.Cmp(elliptic.P256().Params().N) >= 0 {
		return nil, ErrInvalidKey
	}

	privateKey := ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: elliptic.P256()},
		D:         d,
	}
	privateKey.PublicKey.X, privateKey.PublicKey.Y = elliptic.P256().ScalarBaseMult(d.Bytes())

	return &privateKey, nil
}

// Sign signs a 32 byte digest and returns the fixed width R||S encoding.
func Sign(privateKey *ecdsa.PrivateKey, digest [32]byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, privateKey, digest[:])
	if err != nil {
		return nil, err
	}

	sig := make([]byte, SignatureLength)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	return sig, nil
}

// Verify reports whether sig is a valid signature of the digest by the
// compressed public key.
func Verify(pubKey []byte, digest [32]byte, sig []byte) bool {
	if len(sig) != SignatureLength {
		return false
	}

	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pubKey)
	if x == nil {
		return false
	}

	publicKey := ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])

	return ecdsa.Verify(&publicKey, digest[:], r, s)
}

// =============================================================================

// EncodeAddress wraps a pub-key-hash in the versioned base58check envelope.
func EncodeAddress(pubKeyHash [20]byte) string {
	return base58.CheckEncode(pubKeyHash[:], AddressVersion)
}

// DecodeAddress unwraps a base58check address back to its pub-key-hash. The
// checksum and version byte are verified in the process.
func DecodeAddress(address string) ([20]byte, error) {
	var pkh [20]byte

	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return pkh, err
	}
	if version != AddressVersion {
		return pkh, errors.New("unknown address version")
	}
	if len(payload) != len(pkh) {
		return pkh, errors.New("wrong payload length")
	}

	copy(pkh[:], payload)
	return pkh, nil
}

// HashString returns the 0x prefixed hex form of a hash for display.
func HashString(hash chainhash.Hash) string {
	return hexutil.Encode(hash[:])
}
