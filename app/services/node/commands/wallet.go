package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var createWalletCmd = &cobra.Command{
	Use:   "createwallet",
	Short: "Create a new wallet and print its address",
	Args:  cobra.NoArgs,
	RunE:  createWalletRun,
}

var listAddressesCmd = &cobra.Command{
	Use:   "listaddresses",
	Short: "Print local wallet addresses",
	Args:  cobra.NoArgs,
	RunE:  listAddressesRun,
}

func init() {
	rootCmd.AddCommand(createWalletCmd)
	rootCmd.AddCommand(listAddressesCmd)
}

func createWalletRun(cmd *cobra.Command, args []string) error {
	wallets, err := openWallets()
	if err != nil {
		return err
	}

	address, err := wallets.Create()
	if err != nil {
		return err
	}

	fmt.Printf("Your new address: %s\n", address)
	return nil
}

func listAddressesRun(cmd *cobra.Command, args []string) error {
	wallets, err := openWallets()
	if err != nil {
		return err
	}

	for _, address := range wallets.Addresses() {
		fmt.Println(address)
	}
	return nil
}
