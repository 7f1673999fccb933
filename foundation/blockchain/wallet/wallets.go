package wallet

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sort"
)

// File is the wallet file name in the working directory.
const File = "wallet.dat"

// Wallets is the collection of key pairs persisted to the wallet file,
// keyed by address.
type Wallets struct {
	Wallets    map[string]*Wallet
	path       string
	passphrase string
}

// Load reads the wallet file, starting empty if it does not exist yet.
// A non-empty passphrase decrypts the file and is used for later saves.
func Load(path string, passphrase string) (*Wallets, error) {
	ws := Wallets{
		Wallets:    make(map[string]*Wallet),
		path:       path,
		passphrase: passphrase,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &ws, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading wallet file: %w", err)
	}

	if passphrase != "" {
		if data, err = decrypt(data, passphrase); err != nil {
			return nil, fmt.Errorf("decrypting wallet file: %w", err)
		}
	}

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ws.Wallets); err != nil {
		return nil, fmt.Errorf("decoding wallet file: %w", err)
	}

	return &ws, nil
}

// Create adds a fresh key pair and persists the file. The new address is
// returned.
func (ws *Wallets) Create() (string, error) {
	w, err := New()
	if err != nil {
		return "", err
	}

	address := w.Address()
	ws.Wallets[address] = w

	if err := ws.Save(); err != nil {
		return "", err
	}

	return address, nil
}

// Addresses returns every known address in sorted order.
func (ws *Wallets) Addresses() []string {
	addresses := make([]string, 0, len(ws.Wallets))
	for address := range ws.Wallets {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses
}

// Wallet returns the key pair controlling an address.
func (ws *Wallets) Wallet(address string) (*Wallet, error) {
	w, exists := ws.Wallets[address]
	if !exists {
		return nil, fmt.Errorf("no wallet for address %s", address)
	}
	return w, nil
}

// Save writes the collection back to disk, encrypting when a passphrase
// was provided.
func (ws *Wallets) Save() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ws.Wallets); err != nil {
		return fmt.Errorf("encoding wallet file: %w", err)
	}

	data := buf.Bytes()
	if ws.passphrase != "" {
		var err error
		if data, err = encrypt(data, ws.passphrase); err != nil {
			return fmt.Errorf("encrypting wallet file: %w", err)
		}
	}

	if err := os.WriteFile(ws.path, data, 0o600); err != nil {
		return fmt.Errorf("writing wallet file: %w", err)
	}

	return nil
}
