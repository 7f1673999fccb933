package commands

import (
	"fmt"
	"time"

	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/archlabs/blockchain/foundation/blockchain/signature"
	"github.com/archlabs/blockchain/foundation/blockchain/state"
	"github.com/archlabs/blockchain/foundation/blockchain/storage"
	"github.com/archlabs/blockchain/foundation/blockchain/wallet"
	"github.com/spf13/cobra"
)

var createBlockchainCmd = &cobra.Command{
	Use:   "createblockchain <address>",
	Short: "Initialize a new chain, paying the genesis reward to the address",
	Args:  cobra.ExactArgs(1),
	RunE:  createBlockchainRun,
}

var getBalanceCmd = &cobra.Command{
	Use:   "getbalance <address>",
	Short: "Print the balance of the address",
	Args:  cobra.ExactArgs(1),
	RunE:  getBalanceRun,
}

var printChainCmd = &cobra.Command{
	Use:   "printchain",
	Short: "Print all blocks from the tip back to genesis",
	Args:  cobra.NoArgs,
	RunE:  printChainRun,
}

var reindexUTXOCmd = &cobra.Command{
	Use:   "reindexutxo",
	Short: "Rebuild the UTXO index from the best chain",
	Args:  cobra.NoArgs,
	RunE:  reindexUTXORun,
}

func init() {
	rootCmd.AddCommand(createBlockchainCmd)
	rootCmd.AddCommand(getBalanceCmd)
	rootCmd.AddCommand(printChainCmd)
	rootCmd.AddCommand(reindexUTXOCmd)
}

func createBlockchainRun(cmd *cobra.Command, args []string) error {
	address := args[0]
	if !wallet.ValidateAddress(address) {
		return fmt.Errorf("invalid address: %s", address)
	}

	store, err := storage.Open(dataDir())
	if err != nil {
		return err
	}
	defer store.Close()

	block, err := state.Genesis(store, address)
	if err != nil {
		return err
	}

	fmt.Printf("Done! Genesis block: %s\n", signature.HashString(block.Hash()))
	return nil
}

func getBalanceRun(cmd *cobra.Command, args []string) error {
	address := args[0]
	if !wallet.ValidateAddress(address) {
		return fmt.Errorf("invalid address: %s", address)
	}

	st, store, err := openState()
	if err != nil {
		return err
	}
	defer store.Close()

	balance, err := st.Balance(address)
	if err != nil {
		return err
	}

	fmt.Printf("Balance of '%s': %d\n", address, balance)
	return nil
}

func printChainRun(cmd *cobra.Command, args []string) error {
	st, store, err := openState()
	if err != nil {
		return err
	}
	defer store.Close()

	return st.ForEachBlock(func(block database.Block) error {
		fmt.Printf("============ Block %s ============\n", signature.HashString(block.Hash()))
		fmt.Printf("Height:     %d\n", block.Header.Height)
		fmt.Printf("Prev:       %s\n", signature.HashString(block.Header.PrevHash))
		fmt.Printf("Merkle:     %s\n", signature.HashString(block.Header.MerkleRoot))
		fmt.Printf("Timestamp:  %s\n", time.Unix(block.Header.Timestamp, 0).UTC().Format(time.RFC3339))
		fmt.Printf("Difficulty: %d\n", block.Header.Bits)
		fmt.Printf("Nonce:      %d\n", block.Header.Nonce)
		fmt.Printf("PoW valid:  %v\n", database.HashMeetsDifficulty(block.Hash(), block.Header.Bits))
		for _, tx := range block.Txs {
			fmt.Printf("  tx %s inputs[%d] outputs[%d]\n", signature.HashString(tx.ID), len(tx.Inputs), len(tx.Outputs))
		}
		fmt.Println()
		return nil
	})
}

func reindexUTXORun(cmd *cobra.Command, args []string) error {
	st, store, err := openState()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := st.ReindexUTXO(); err != nil {
		return err
	}

	count, err := st.UTXO().Count()
	if err != nil {
		return err
	}

	fmt.Printf("Done! There are %d transactions in the UTXO set.\n", count)
	return nil
}
