package state_test

import (
	"context"
	"errors"
	"testing"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/archlabs/blockchain/foundation/blockchain/fees"
	"github.com/archlabs/blockchain/foundation/blockchain/state"
	"github.com/archlabs/blockchain/foundation/blockchain/storage"
	"github.com/archlabs/blockchain/foundation/blockchain/wallet"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// node bundles everything a test chain needs.
type node struct {
	st    *state.State
	store *storage.Store
	w     *wallet.Wallet
	addr  string
}

// newNode creates a wallet and a chain whose genesis pays that wallet.
func newNode(t *testing.T) *node {
	t.Helper()

	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	w, err := wallet.New()
	if err != nil {
		t.Fatalf("creating wallet: %v", err)
	}

	if _, err := state.Genesis(store, w.Address()); err != nil {
		t.Fatalf("creating genesis: %v", err)
	}

	feeEngine, err := fees.New(store)
	if err != nil {
		t.Fatalf("creating fee engine: %v", err)
	}

	st, err := state.New(state.Config{
		Storage: store,
		Fees:    feeEngine,
	})
	if err != nil {
		t.Fatalf("creating state: %v", err)
	}

	return &node{st: st, store: store, w: w, addr: w.Address()}
}

// sideBlock mines a block on an arbitrary parent outside the engine, the
// way a competing node would.
func sideBlock(t *testing.T, parent database.Block, beneficiary [20]byte) database.Block {
	t.Helper()

	coinbase, err := database.NewCoinbaseTx(beneficiary, currency.BlockSubsidy)
	if err != nil {
		t.Fatalf("building coinbase: %v", err)
	}

	block, err := database.NewBlock(parent.Hash(), parent.Header.Height+1, 4, []database.Tx{coinbase})
	if err != nil {
		t.Fatalf("assembling block: %v", err)
	}
	if err := block.FindNonce(context.Background()); err != nil {
		t.Fatalf("mining block: %v", err)
	}

	return block
}

func TestGenesisBalance(t *testing.T) {
	t.Log("Given a fresh chain paying the genesis reward to address A.")
	{
		n := newNode(t)

		balance, err := n.st.Balance(n.addr)
		if err != nil {
			t.Fatalf("\t%s\tShould read the balance: %v.", failed, err)
		}
		if balance != 5_000_000_000 {
			t.Fatalf("\t%s\tShould see 5000000000 satoshis, got %d.", failed, balance)
		}
		t.Logf("\t%s\tShould see 5000000000 satoshis.", success)

		if _, err := state.Genesis(n.store, n.addr); !errors.Is(err, state.ErrChainExists) {
			t.Fatalf("\t%s\tShould refuse a second genesis.", failed)
		}
		t.Logf("\t%s\tShould refuse a second genesis.", success)
	}
}

func TestSimpleSend(t *testing.T) {
	t.Log("Given the need to send coins and mine the transfer.")
	{
		n := newNode(t)

		recipient, err := wallet.New()
		if err != nil {
			t.Fatalf("\t%s\tShould create recipient wallet: %v.", failed, err)
		}

		const amount = 1_000_000_000
		tx, fee, err := n.st.NewTransaction(n.w, recipient.Address(), amount, fees.Normal)
		if err != nil {
			t.Fatalf("\t%s\tShould build the transaction: %v.", failed, err)
		}
		t.Logf("\t%s\tShould build the transaction.", success)

		block, err := n.st.MineBlock(context.Background(), n.w.PubKeyHash(), []database.Tx{tx})
		if err != nil {
			t.Fatalf("\t%s\tShould mine the block: %v.", failed, err)
		}
		t.Logf("\t%s\tShould mine the block.", success)

		if height, _ := n.st.BestHeight(); height != 1 {
			t.Fatalf("\t%s\tShould advance the tip to height 1.", failed)
		}
		t.Logf("\t%s\tShould advance the tip to height 1.", success)

		balanceA, _ := n.st.Balance(n.addr)
		balanceB, _ := n.st.Balance(recipient.Address())

		if balanceB != amount {
			t.Fatalf("\t%s\tShould credit B with %d, got %d.", failed, amount, balanceB)
		}
		t.Logf("\t%s\tShould credit B with the amount.", success)

		// A paid amount+fee from the subsidy, then earned subsidy+fee as
		// the miner, so both sides together hold two full subsidies.
		total, err := balanceA.Add(balanceB)
		if err != nil || total != 2*currency.BlockSubsidy {
			t.Fatalf("\t%s\tShould conserve value across the transfer, got %d.", failed, total)
		}
		t.Logf("\t%s\tShould conserve value across the transfer.", success)

		if block.Txs[0].Outputs[0].Value != currency.BlockSubsidy+fee {
			t.Fatalf("\t%s\tShould pay the coinbase the subsidy plus fees.", failed)
		}
		t.Logf("\t%s\tShould pay the coinbase the subsidy plus fees.", success)
	}
}

func TestDoubleSpendRejected(t *testing.T) {
	t.Log("Given two transactions spending the same sole output.")
	{
		n := newNode(t)

		r1, _ := wallet.New()
		r2, _ := wallet.New()

		tx1, _, err := n.st.NewTransaction(n.w, r1.Address(), 1_000_000_000, fees.Normal)
		if err != nil {
			t.Fatalf("\t%s\tShould build the first transaction: %v.", failed, err)
		}
		if err := n.st.SubmitTx(tx1); err != nil {
			t.Fatalf("\t%s\tShould admit the first transaction: %v.", failed, err)
		}
		t.Logf("\t%s\tShould admit the first transaction.", success)

		tx2, _, err := n.st.NewTransaction(n.w, r2.Address(), 2_000_000_000, fees.Normal)
		if err != nil {
			t.Fatalf("\t%s\tShould build the second transaction: %v.", failed, err)
		}

		err = n.st.SubmitTx(tx2)
		if err == nil {
			t.Fatalf("\t%s\tShould reject the second spend of the same output.", failed)
		}
		var invalid database.InvalidTransactionError
		if !errors.As(err, &invalid) {
			t.Fatalf("\t%s\tShould fail with InvalidTransaction, got %v.", failed, err)
		}
		t.Logf("\t%s\tShould reject the second spend with InvalidTransaction.", success)
	}
}

func TestStaleMinedBlock(t *testing.T) {
	t.Log("Given a block mined after the chain moved on.")
	{
		n := newNode(t)

		genesis, err := n.st.LatestBlock()
		if err != nil {
			t.Fatalf("\t%s\tShould read the genesis block: %v.", failed, err)
		}

		// A competitor extends the chain first.
		other, _ := wallet.New()
		b1 := sideBlock(t, genesis, other.PubKeyHash())
		if err := n.st.AcceptBlock(b1); err != nil {
			t.Fatalf("\t%s\tShould accept the competitor's block: %v.", failed, err)
		}
		t.Logf("\t%s\tShould accept the competitor's block.", success)

		if err := n.st.AcceptBlock(b1); !errors.Is(err, state.ErrBlockExists) {
			t.Fatalf("\t%s\tShould treat a repeated block as already known.", failed)
		}
		t.Logf("\t%s\tShould treat a repeated block as already known.", success)

		tipBefore, _ := n.st.LatestBlock()

		// A sibling at the same height stays a stale side block.
		b1b := sideBlock(t, genesis, n.w.PubKeyHash())
		if err := n.st.AcceptBlock(b1b); err != nil {
			t.Fatalf("\t%s\tShould store the sibling block: %v.", failed, err)
		}

		tipAfter, _ := n.st.LatestBlock()
		if tipBefore.Hash() != tipAfter.Hash() {
			t.Fatalf("\t%s\tShould keep the earlier tip on a tie.", failed)
		}
		t.Logf("\t%s\tShould keep the earlier tip on a tie.", success)
	}
}

func TestReorg(t *testing.T) {
	t.Log("Given a heavier branch arriving from another node.")
	{
		n := newNode(t)

		genesis, err := n.st.LatestBlock()
		if err != nil {
			t.Fatalf("\t%s\tShould read the genesis block: %v.", failed, err)
		}

		// This node mines a block carrying a user transaction.
		recipient, _ := wallet.New()
		tx, _, err := n.st.NewTransaction(n.w, recipient.Address(), 1_000_000_000, fees.Normal)
		if err != nil {
			t.Fatalf("\t%s\tShould build the transaction: %v.", failed, err)
		}
		if _, err := n.st.MineBlock(context.Background(), n.w.PubKeyHash(), []database.Tx{tx}); err != nil {
			t.Fatalf("\t%s\tShould mine the local block: %v.", failed, err)
		}
		t.Logf("\t%s\tShould mine the local block.", success)

		// A competing node mines two empty blocks over the same genesis.
		other, _ := wallet.New()
		b1 := sideBlock(t, genesis, other.PubKeyHash())
		b2 := sideBlock(t, b1, other.PubKeyHash())

		if err := n.st.AcceptBlock(b1); err != nil {
			t.Fatalf("\t%s\tShould store the first branch block: %v.", failed, err)
		}
		if tip, _ := n.st.BestHeight(); tip != 1 {
			t.Fatalf("\t%s\tShould keep its own tip at the tie.", failed)
		}
		t.Logf("\t%s\tShould keep its own tip at the tie.", success)

		if err := n.st.AcceptBlock(b2); err != nil {
			t.Fatalf("\t%s\tShould reorganize to the longer branch: %v.", failed, err)
		}
		t.Logf("\t%s\tShould reorganize to the longer branch.", success)

		tip, _ := n.st.LatestBlock()
		if tip.Hash() != b2.Hash() {
			t.Fatalf("\t%s\tShould end with the branch tip as best.", failed)
		}
		t.Logf("\t%s\tShould end with the branch tip as best.", success)

		// The abandoned block's transaction is back in the mempool.
		if !n.st.Mempool().Contains(tx.ID) {
			t.Fatalf("\t%s\tShould return the abandoned transaction to the mempool.", failed)
		}
		t.Logf("\t%s\tShould return the abandoned transaction to the mempool.", success)

		// The recipient's credit is gone; the branch miner holds two
		// subsidies; A holds its genesis subsidy again.
		if balance, _ := n.st.Balance(recipient.Address()); balance != 0 {
			t.Fatalf("\t%s\tShould undo the abandoned transfer, got %d.", failed, balance)
		}
		t.Logf("\t%s\tShould undo the abandoned transfer.", success)

		if balance, _ := n.st.Balance(n.addr); balance != currency.BlockSubsidy {
			t.Fatalf("\t%s\tShould restore A's genesis output, got %d.", failed, balance)
		}
		t.Logf("\t%s\tShould restore A's genesis output.", success)
	}
}

func TestReindexIdempotent(t *testing.T) {
	t.Log("Given the need to rebuild the UTXO set on a quiescent chain.")
	{
		n := newNode(t)

		before, _ := n.st.Balance(n.addr)
		if err := n.st.ReindexUTXO(); err != nil {
			t.Fatalf("\t%s\tShould reindex the set: %v.", failed, err)
		}
		if err := n.st.ReindexUTXO(); err != nil {
			t.Fatalf("\t%s\tShould reindex the set twice: %v.", failed, err)
		}

		after, _ := n.st.Balance(n.addr)
		if before != after {
			t.Fatalf("\t%s\tShould leave balances unchanged, %d vs %d.", failed, before, after)
		}
		t.Logf("\t%s\tShould leave balances unchanged.", success)
	}
}

func TestFindTransaction(t *testing.T) {
	t.Log("Given the need to locate transactions on the chain.")
	{
		n := newNode(t)

		genesis, err := n.st.LatestBlock()
		if err != nil {
			t.Fatalf("\t%s\tShould read the genesis block: %v.", failed, err)
		}

		coinbase := genesis.Txs[0]
		found, err := n.st.FindTransaction(coinbase.ID)
		if err != nil || found.ID != coinbase.ID {
			t.Fatalf("\t%s\tShould find the genesis coinbase: %v.", failed, err)
		}
		t.Logf("\t%s\tShould find the genesis coinbase.", success)

		if _, err := n.st.FindTransaction(chainhash.DoubleHashH([]byte("nope"))); err == nil {
			t.Fatalf("\t%s\tShould fail for an unknown id.", failed)
		}
		t.Logf("\t%s\tShould fail for an unknown id.", success)
	}
}

func TestRejectInvalidBlocks(t *testing.T) {
	t.Log("Given the need to reject malformed blocks from peers.")
	{
		n := newNode(t)

		genesis, err := n.st.LatestBlock()
		if err != nil {
			t.Fatalf("\t%s\tShould read the genesis block: %v.", failed, err)
		}

		other, _ := wallet.New()

		// Unknown parent.
		fakeParent := database.Block{Header: database.BlockHeader{
			PrevHash: chainhash.DoubleHashH([]byte("lost")),
			Height:   4,
		}}
		orphan := sideBlock(t, fakeParent, other.PubKeyHash())
		if err := n.st.AcceptBlock(orphan); err == nil {
			t.Fatalf("\t%s\tShould reject a block with an unknown parent.", failed)
		}
		t.Logf("\t%s\tShould reject a block with an unknown parent.", success)

		// Height mismatch.
		skewed := sideBlock(t, genesis, other.PubKeyHash())
		skewed.Header.Height = 7
		if err := skewed.FindNonce(context.Background()); err != nil {
			t.Fatalf("\t%s\tShould remine the skewed block: %v.", failed, err)
		}
		if err := n.st.AcceptBlock(skewed); err == nil {
			t.Fatalf("\t%s\tShould reject a block with the wrong height.", failed)
		}
		t.Logf("\t%s\tShould reject a block with the wrong height.", success)

		// Unsolved proof of work.
		lazy := sideBlock(t, genesis, other.PubKeyHash())
		for database.HashMeetsDifficulty(lazy.Hash(), lazy.Header.Bits) {
			lazy.Header.Nonce++
		}
		if err := n.st.AcceptBlock(lazy); err == nil {
			t.Fatalf("\t%s\tShould reject a block whose hash misses the target.", failed)
		}
		t.Logf("\t%s\tShould reject a block whose hash misses the target.", success)

		// Difficulty outside the hard bounds.
		wild := sideBlock(t, genesis, other.PubKeyHash())
		wild.Header.Bits = 13
		if err := n.st.AcceptBlock(wild); err == nil {
			t.Fatalf("\t%s\tShould reject an out of range difficulty.", failed)
		}
		t.Logf("\t%s\tShould reject an out of range difficulty.", success)
	}
}
