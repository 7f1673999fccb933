// Package commands contains the node's CLI surface. Each command wires the
// blockchain packages it needs; startnode runs the full network service.
package commands

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/archlabs/blockchain/foundation/blockchain/fees"
	"github.com/archlabs/blockchain/foundation/blockchain/state"
	"github.com/archlabs/blockchain/foundation/blockchain/storage"
	"github.com/archlabs/blockchain/foundation/blockchain/wallet"
	"github.com/spf13/cobra"
)

// Defaults for the node identity when the environment does not override it.
const (
	defaultNodeAddr = "127.0.0.1:2001"
	defaultNodeID   = "2001"
)

var rootCmd = &cobra.Command{
	Use:           "node",
	Short:         "UTXO blockchain node",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI, printing failures to stderr with a non-zero exit.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// =============================================================================

// nodeAddr returns the address this node binds and identifies itself with.
func nodeAddr() string {
	if addr := os.Getenv("NODE_ADDRESS"); addr != "" {
		return addr
	}
	return defaultNodeAddr
}

// nodeID selects the data directory so nodes on one machine stay isolated.
func nodeID() string {
	if id := os.Getenv("NODE_ID"); id != "" {
		return id
	}
	return defaultNodeID
}

// dataDir is where this node's database lives.
func dataDir() string {
	return dataDirFor(nodeID())
}

// dataDirFor builds the data directory for a node id. Distinct node ids
// never share a directory.
func dataDirFor(id string) string {
	return filepath.Join("data", "node_"+id)
}

// portOf extracts the port from a host:port address.
func portOf(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil {
		return port
	}
	return "2001"
}

// walletPassphrase returns the optional wallet encryption passphrase.
func walletPassphrase() string {
	return os.Getenv("NODE_WALLET_PASSPHRASE")
}

// dnsSeeds returns the configured seed host names.
func dnsSeeds() []string {
	raw := os.Getenv("NODE_DNS_SEEDS")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// defaultPort is the port peers are assumed to listen on, taken from this
// node's own address.
func defaultPort() string {
	return portOf(nodeAddr())
}

// openWallets loads the wallet file from the working directory.
func openWallets() (*wallet.Wallets, error) {
	return wallet.Load(wallet.File, walletPassphrase())
}

// openState opens the store and constructs the state engine for the
// short-lived CLI commands.
func openState() (*state.State, *storage.Store, error) {
	store, err := storage.Open(dataDir())
	if err != nil {
		return nil, nil, err
	}

	feeEngine, err := fees.New(store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	st, err := state.New(state.Config{
		Storage: store,
		Fees:    feeEngine,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	return st, store, nil
}
