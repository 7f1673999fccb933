// Package worker implements the background mining workflow for the node.
// It registers itself with the state engine so block acceptance can cancel
// an in-flight proof of work.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/archlabs/blockchain/foundation/blockchain/state"
)

// Worker manages the mining workflow for the blockchain.
type Worker struct {
	state        *state.State
	wg           sync.WaitGroup
	shut         chan struct{}
	startMining  chan bool
	cancelMining chan chan struct{}
	shareBlock   func(block database.Block)
	evHandler    state.EventHandler
}

// Run creates the worker, registers it with the state engine, and starts
// the mining goroutine. The share function is called with every block this
// node mines so the network layer can announce it.
func Run(st *state.State, shareBlock func(block database.Block), ev state.EventHandler) *Worker {
	w := Worker{
		state:        st,
		shut:         make(chan struct{}),
		startMining:  make(chan bool, 1),
		cancelMining: make(chan chan struct{}, 1),
		shareBlock:   shareBlock,
		evHandler:    ev,
	}

	st.Worker = &w

	hasStarted := make(chan bool)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		hasStarted <- true
		w.miningOperations()
	}()
	<-hasStarted

	return &w
}

// Shutdown terminates the goroutine performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	done := w.SignalCancelMining()
	done()

	close(w.shut)
	w.wg.Wait()
}

// =============================================================================

// SignalStartMining starts a mining operation. If a signal is already
// pending, this call is a no-op since an operation will start regardless.
func (w *Worker) SignalStartMining() {
	select {
	case w.startMining <- true:
	default:
	}
	w.evHandler("worker: mining signaled")
}

// SignalCancelMining signals the goroutine executing the mining operation
// to stop. That goroutine will not start a new operation until the returned
// done function is called, giving the caller room to finish its own state
// changes first.
func (w *Worker) SignalCancelMining() (done func()) {
	wait := make(chan struct{})

	select {
	case w.cancelMining <- wait:
	default:
	}

	return func() { close(wait) }
}

// =============================================================================

// miningOperations handles mining requests until shutdown.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case <-w.startMining:
			if !w.isShutdown() {
				w.runMiningOperation()
			}
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}
	}
}

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

// runMiningOperation mines the mempool into a new block and shares it.
func (w *Worker) runMiningOperation() {
	w.evHandler("worker: runMiningOperation: MINING: started")
	defer w.evHandler("worker: runMiningOperation: MINING: completed")

	// If mining is cancelled mid-operation, this goroutine can't pick up
	// new work until the canceller says it may.
	var wait chan struct{}
	defer func() {
		if wait != nil {
			w.evHandler("worker: runMiningOperation: MINING: termination signal: waiting")
			<-wait
			w.evHandler("worker: runMiningOperation: MINING: termination signal: received")
		}
	}()

	// Drain any stale cancel signal before starting.
	select {
	case <-w.cancelMining:
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	// This goroutine exists to cancel the mining operation.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		select {
		case wait = <-w.cancelMining:
			w.evHandler("worker: runMiningOperation: MINING: cancel requested")
		case <-ctx.Done():
		}
	}()

	// This goroutine is performing the mining.
	go func() {
		defer func() {
			cancel()
			wg.Done()
		}()

		block, err := w.state.MineNextBlock(ctx)
		if err != nil {
			switch {
			case errors.Is(err, state.ErrNoTransactions):
				w.evHandler("worker: runMiningOperation: MINING: no transactions in mempool")
			case ctx.Err() != nil:
				w.evHandler("worker: runMiningOperation: MINING: CANCELLED: by request")
			default:
				w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
			}
			return
		}

		if w.shareBlock != nil {
			w.shareBlock(block)
		}
	}()

	wg.Wait()
}
