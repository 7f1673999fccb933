package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/archlabs/blockchain/app/services/node/handlers"
	"github.com/archlabs/blockchain/foundation/blockchain/fees"
	"github.com/archlabs/blockchain/foundation/blockchain/p2p"
	"github.com/archlabs/blockchain/foundation/blockchain/peer"
	"github.com/archlabs/blockchain/foundation/blockchain/state"
	"github.com/archlabs/blockchain/foundation/blockchain/storage"
	"github.com/archlabs/blockchain/foundation/blockchain/wallet"
	"github.com/archlabs/blockchain/foundation/blockchain/worker"
	"github.com/archlabs/blockchain/foundation/events"
	"github.com/archlabs/blockchain/foundation/logger"
	"github.com/ardanlabs/conf/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags.
var build = "develop"

var startNodeCmd = &cobra.Command{
	Use:   "startnode [miner_address]",
	Short: "Run the network service; with an address, act as a miner",
	Args:  cobra.MaximumNArgs(1),
	RunE:  startNodeRun,
}

func init() {
	rootCmd.AddCommand(startNodeCmd)
}

func startNodeRun(cmd *cobra.Command, args []string) error {
	log, err := logger.New("NODE")
	if err != nil {
		return err
	}
	defer log.Sync()

	var minerAddress string
	if len(args) == 1 {
		minerAddress = args[0]
		if !wallet.ValidateAddress(minerAddress) {
			return fmt.Errorf("invalid miner address: %s", minerAddress)
		}
	}

	if err := run(log, minerAddress); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		return err
	}

	return nil
}

func run(log *zap.SugaredLogger, minerAddress string) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Address   string        `conf:"default:127.0.0.1:2001"`
		ID        string        `conf:"default:2001"`
		Central   string        `conf:"default:127.0.0.1:2001"`
		DebugHost string        `conf:"default:0.0.0.0:7080"`
		DNSSeeds  []string      `conf:"help:seed host names for peer discovery"`
		Peers     []string      `conf:"help:known peer addresses to start with"`
		Shutdown  time.Duration `conf:"default:20s"`
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "utxo blockchain node",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	// The blockchain packages accept a function of this signature so the
	// application decides how events are logged. Raw event lines are also
	// fanned out to any websocket client connected on the debug host.
	evts := events.New()
	defer evts.Shutdown()

	ev := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...))
		evts.Send(v, args...)
	}

	store, err := storage.Open(dataDirFor(cfg.ID))
	if err != nil {
		return err
	}
	defer store.Close()

	feeEngine, err := fees.New(store)
	if err != nil {
		return err
	}

	peerSet := peer.NewSet()
	for _, host := range cfg.Peers {
		peerSet.Add(host)
	}

	st, err := state.New(state.Config{
		Storage:      store,
		Fees:         feeEngine,
		KnownPeers:   peerSet,
		MinerAddress: minerAddress,
		EvHandler:    ev,
	})
	if err != nil {
		return err
	}

	// =========================================================================
	// Network and Worker Support

	seeder := p2p.NewSeeder(cfg.DNSSeeds, portOf(cfg.Address), ev)

	srv := p2p.NewServer(p2p.Config{
		State:       st,
		NodeAddr:    cfg.Address,
		CentralAddr: cfg.Central,
		Seeder:      seeder,
		EvHandler:   ev,
	})

	w := worker.Run(st, srv.BroadcastBlock, ev)
	defer w.Shutdown()

	// =========================================================================
	// Debug Service

	debugMux := handlers.DebugMux(handlers.Config{
		Log:   log,
		State: st,
		Evts:  evts,
	})

	go func() {
		log.Infow("startup", "status", "debug router started", "host", cfg.DebugHost)
		if err := http.ListenAndServe(cfg.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start the P2P service

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Run(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		cancel()

		select {
		case <-serverErrors:
		case <-time.After(cfg.Shutdown):
			log.Infow("shutdown", "status", "forcing exit, connections still draining")
		}
	}

	return nil
}
