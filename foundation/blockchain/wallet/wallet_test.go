package wallet_test

import (
	"path/filepath"
	"testing"

	"github.com/archlabs/blockchain/foundation/blockchain/wallet"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func TestCreateAndReload(t *testing.T) {
	t.Log("Given the need to persist wallets across runs.")
	{
		path := filepath.Join(t.TempDir(), "wallet.dat")

		ws, err := wallet.Load(path, "")
		if err != nil {
			t.Fatalf("\t%s\tShould start with an empty wallet file: %v.", failed, err)
		}
		t.Logf("\t%s\tShould start with an empty wallet file.", success)

		address, err := ws.Create()
		if err != nil {
			t.Fatalf("\t%s\tShould create a wallet: %v.", failed, err)
		}
		if !wallet.ValidateAddress(address) {
			t.Fatalf("\t%s\tShould produce a valid address.", failed)
		}
		t.Logf("\t%s\tShould produce a valid address.", success)

		reloaded, err := wallet.Load(path, "")
		if err != nil {
			t.Fatalf("\t%s\tShould reload the wallet file: %v.", failed, err)
		}
		if _, err := reloaded.Wallet(address); err != nil {
			t.Fatalf("\t%s\tShould find the created wallet after reload.", failed)
		}
		t.Logf("\t%s\tShould find the created wallet after reload.", success)

		w, _ := reloaded.Wallet(address)
		if w.Address() != address {
			t.Fatalf("\t%s\tShould derive the same address from the key pair.", failed)
		}
		t.Logf("\t%s\tShould derive the same address from the key pair.", success)

		if _, err := reloaded.Wallet("unknown"); err == nil {
			t.Fatalf("\t%s\tShould fail for an unknown address.", failed)
		}
		t.Logf("\t%s\tShould fail for an unknown address.", success)
	}
}

func TestEncryptedWallet(t *testing.T) {
	t.Log("Given the need to protect the wallet file with a passphrase.")
	{
		path := filepath.Join(t.TempDir(), "wallet.dat")

		ws, err := wallet.Load(path, "correct horse")
		if err != nil {
			t.Fatalf("\t%s\tShould start an encrypted wallet file: %v.", failed, err)
		}
		address, err := ws.Create()
		if err != nil {
			t.Fatalf("\t%s\tShould create a wallet: %v.", failed, err)
		}

		reloaded, err := wallet.Load(path, "correct horse")
		if err != nil {
			t.Fatalf("\t%s\tShould decrypt with the right passphrase: %v.", failed, err)
		}
		if _, err := reloaded.Wallet(address); err != nil {
			t.Fatalf("\t%s\tShould find the wallet after decryption.", failed)
		}
		t.Logf("\t%s\tShould decrypt with the right passphrase.", success)

		if _, err := wallet.Load(path, "wrong"); err == nil {
			t.Fatalf("\t%s\tShould refuse the wrong passphrase.", failed)
		}
		t.Logf("\t%s\tShould refuse the wrong passphrase.", success)

		if _, err := wallet.Load(path, ""); err == nil {
			t.Fatalf("\t%s\tShould refuse to read ciphertext as plaintext.", failed)
		}
		t.Logf("\t%s\tShould refuse to read ciphertext as plaintext.", success)
	}
}

func TestValidateAddress(t *testing.T) {
	t.Log("Given the need to validate addresses.")
	{
		w, err := wallet.New()
		if err != nil {
			t.Fatalf("\t%s\tShould create a wallet: %v.", failed, err)
		}

		address := w.Address()
		if !wallet.ValidateAddress(address) {
			t.Fatalf("\t%s\tShould accept a derived address.", failed)
		}
		t.Logf("\t%s\tShould accept a derived address.", success)

		if wallet.ValidateAddress("not-an-address") {
			t.Fatalf("\t%s\tShould reject garbage.", failed)
		}
		t.Logf("\t%s\tShould reject garbage.", success)

		last := address[len(address)-1]
		replacement := byte('1')
		if last == replacement {
			replacement = '2'
		}
		if wallet.ValidateAddress(address[:len(address)-1] + string(replacement)) {
			t.Fatalf("\t%s\tShould reject a corrupted checksum.", failed)
		}
		t.Logf("\t%s\tShould reject a corrupted checksum.", success)
	}
}

func TestAddressesSorted(t *testing.T) {
	t.Log("Given the need to list addresses deterministically.")
	{
		path := filepath.Join(t.TempDir(), "wallet.dat")
		ws, err := wallet.Load(path, "")
		if err != nil {
			t.Fatalf("\t%s\tShould open the wallet file: %v.", failed, err)
		}

		for i := 0; i < 3; i++ {
			if _, err := ws.Create(); err != nil {
				t.Fatalf("\t%s\tShould create wallet %d: %v.", failed, i, err)
			}
		}

		addresses := ws.Addresses()
		if len(addresses) != 3 {
			t.Fatalf("\t%s\tShould list three addresses.", failed)
		}
		for i := 1; i < len(addresses); i++ {
			if addresses[i-1] >= addresses[i] {
				t.Fatalf("\t%s\tShould list addresses in sorted order.", failed)
			}
		}
		t.Logf("\t%s\tShould list addresses in sorted order.", success)
	}
}
