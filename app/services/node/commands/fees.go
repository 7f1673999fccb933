package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/fees"
	"github.com/archlabs/blockchain/foundation/blockchain/storage"
	"github.com/spf13/cobra"
)

var feeStatusCmd = &cobra.Command{
	Use:   "feestatus",
	Short: "Show the current fee mode and estimates",
	Args:  cobra.NoArgs,
	RunE:  feeStatusRun,
}

var estimateFeeCmd = &cobra.Command{
	Use:   "estimatefee <priority>",
	Short: "Estimate the fee for a priority at the reference size",
	Args:  cobra.ExactArgs(1),
	RunE:  estimateFeeRun,
}

var setFeeModeCmd = &cobra.Command{
	Use:   "setfeemode <dynamic|amount>",
	Short: "Switch between dynamic fees and a fixed amount",
	Args:  cobra.ExactArgs(1),
	RunE:  setFeeModeRun,
}

func init() {
	rootCmd.AddCommand(feeStatusCmd)
	rootCmd.AddCommand(estimateFeeCmd)
	rootCmd.AddCommand(setFeeModeCmd)
}

// openFees opens the store just far enough to reach the fee engine.
func openFees() (*fees.Engine, *storage.Store, error) {
	store, err := storage.Open(dataDir())
	if err != nil {
		return nil, nil, err
	}

	engine, err := fees.New(store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	return engine, store, nil
}

func feeStatusRun(cmd *cobra.Command, args []string) error {
	engine, store, err := openFees()
	if err != nil {
		return err
	}
	defer store.Close()

	status := engine.Status()
	fmt.Printf("Fee mode: %s (enabled: %v)\n", status.Mode, status.Enabled)
	fmt.Printf("Estimates at %d bytes:\n", fees.ReferenceSize)
	for _, p := range fees.Priorities() {
		fmt.Printf("  %-6s %d\n", p, status.Estimates[p.String()])
	}
	return nil
}

func estimateFeeRun(cmd *cobra.Command, args []string) error {
	priority, err := fees.ParsePriority(args[0])
	if err != nil {
		return err
	}

	engine, store, err := openFees()
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Println(engine.Estimate(priority))
	return nil
}

func setFeeModeRun(cmd *cobra.Command, args []string) error {
	engine, store, err := openFees()
	if err != nil {
		return err
	}
	defer store.Close()

	mode := strings.ToLower(args[0])
	if mode == fees.ModeDynamic {
		if err := engine.SetDynamic(); err != nil {
			return err
		}
		fmt.Println("Fee mode set to dynamic.")
		return nil
	}

	amount, err := strconv.ParseUint(mode, 10, 64)
	if err != nil {
		return fmt.Errorf("fee mode must be 'dynamic' or a fixed amount, got %q", args[0])
	}
	if err := engine.SetFixed(currency.Satoshi(amount)); err != nil {
		return err
	}

	fmt.Printf("Fee mode set to fixed (%d).\n", amount)
	return nil
}
