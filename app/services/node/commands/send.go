package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/archlabs/blockchain/foundation/blockchain/fees"
	"github.com/archlabs/blockchain/foundation/blockchain/p2p"
	"github.com/archlabs/blockchain/foundation/blockchain/signature"
	"github.com/archlabs/blockchain/foundation/blockchain/wallet"
	"github.com/spf13/cobra"
)

var sendPriority string

var sendCmd = &cobra.Command{
	Use:   "send <from> <to> <amount> <mine>",
	Short: "Send satoshis between addresses, mining immediately or broadcasting",
	Args:  cobra.ExactArgs(4),
	RunE:  sendRun,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendPriority, "priority", "normal", "Transaction priority: low, normal, high or urgent.")
}

func sendRun(cmd *cobra.Command, args []string) error {
	from, to := args[0], args[1]

	if !wallet.ValidateAddress(from) {
		return fmt.Errorf("invalid from address: %s", from)
	}
	if !wallet.ValidateAddress(to) {
		return fmt.Errorf("invalid to address: %s", to)
	}

	amount, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[2], err)
	}

	mineNow, err := strconv.ParseUint(args[3], 10, 8)
	if err != nil || mineNow > 1 {
		return fmt.Errorf("mine flag must be 0 or 1, got %q", args[3])
	}

	priority, err := fees.ParsePriority(sendPriority)
	if err != nil {
		return err
	}

	wallets, err := openWallets()
	if err != nil {
		return err
	}
	w, err := wallets.Wallet(from)
	if err != nil {
		return err
	}

	st, store, err := openState()
	if err != nil {
		return err
	}
	defer store.Close()

	tx, fee, err := st.NewTransaction(w, to, currency.Satoshi(amount), priority)
	if err != nil {
		return err
	}

	fmt.Printf("Created transaction %s (fee %d)\n", signature.HashString(tx.ID), fee)

	if mineNow == 1 {
		block, err := st.MineBlock(context.Background(), w.PubKeyHash(), []database.Tx{tx})
		if err != nil {
			return err
		}
		fmt.Printf("Success! Mined block %s\n", signature.HashString(block.Hash()))
		return nil
	}

	// Without immediate mining, hand the transaction to the network.
	if err := broadcastTx(tx); err != nil {
		return err
	}

	fmt.Println("Success! Transaction broadcast to the network.")
	return nil
}

// broadcastTx delivers the signed transaction to every reachable peer,
// always including the central node.
func broadcastTx(tx database.Tx) error {
	self := nodeAddr()
	targets := make(map[string]struct{})

	seeder := p2p.NewSeeder(dnsSeeds(), defaultPort(), func(v string, args ...any) {})
	for _, addr := range seeder.Discover() {
		targets[addr] = struct{}{}
	}
	delete(targets, self)
	targets[p2p.CentralNode] = struct{}{}

	var delivered int
	var lastErr error
	for addr := range targets {
		msg := p2p.TxMsg{AddrFrom: self, Tx: tx}
		if err := p2p.Send(addr, msg); err != nil {
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return fmt.Errorf("no peer reachable: %w", lastErr)
	}
	return nil
}
