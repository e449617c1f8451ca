// Package main is the cbbtc-swapd daemon: it derives deposit vaults,
// watches them for CBBTC deposits, and submits gasless limit orders to an
// external settlement orderbook on their behalf.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riftresearch/cbbtc-swapd/internal/chain"
	"github.com/riftresearch/cbbtc-swapd/internal/config"
	"github.com/riftresearch/cbbtc-swapd/internal/httpapi"
	"github.com/riftresearch/cbbtc-swapd/internal/metrics"
	"github.com/riftresearch/cbbtc-swapd/internal/onchain"
	"github.com/riftresearch/cbbtc-swapd/internal/orchestrator"
	"github.com/riftresearch/cbbtc-swapd/internal/orderbook"
	"github.com/riftresearch/cbbtc-swapd/internal/ordersign"
	"github.com/riftresearch/cbbtc-swapd/internal/poller"
	"github.com/riftresearch/cbbtc-swapd/internal/slippage"
	"github.com/riftresearch/cbbtc-swapd/internal/store"
	"github.com/riftresearch/cbbtc-swapd/internal/vault"
	"github.com/riftresearch/cbbtc-swapd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// defaultSwapTTL bounds how long a minted vault waits for a deposit before
// the settlement sweep moves it to expired.
const defaultSwapTTL = 30 * time.Minute

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cbbtc-swapd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(&logging.Config{Level: cfg.LogLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	masterKey, err := vault.LoadFromFile(cfg.ServerKeyPath)
	if err != nil {
		log.Fatalf("failed to load master key: %v", err)
	}
	log.Info("master key loaded")

	st, err := store.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()
	log.Info("store opened and migrated")

	rpcURLs := map[uint64]string{1: cfg.EthRPCURL, 8453: cfg.BaseRPCURL}
	readers := make(map[uint64]*onchain.Reader)
	for _, params := range chain.All() {
		rpcURL, ok := rpcURLs[params.ChainID]
		if !ok || rpcURL == "" {
			log.Fatalf("no RPC URL configured for chain %d (%s)", params.ChainID, params.Name)
		}
		reader, err := onchain.NewReader(rpcURL, chain.Aggregator, chain.CBBTC)
		if err != nil {
			log.Fatalf("failed to connect to chain %d (%s): %v", params.ChainID, params.Name, err)
		}
		defer reader.Close()
		readers[params.ChainID] = reader
	}
	log.Infof("connected to %d chains", len(readers))

	book := orderbook.New(cfg.OrderbookBaseURL, log)
	slippageOracle := slippage.New(cfg.SlippageBaseURL)
	signer := ordersign.New(book)
	metricsRegistry := metrics.New()

	orchReaders := make(map[uint64]orchestrator.Reader, len(readers))
	for chainID, reader := range readers {
		orchReaders[chainID] = reader
	}
	orch := orchestrator.New(st, masterKey, orchReaders, book, slippageOracle, signer, log)

	httpServer := httpapi.New(st, masterKey, book, metricsRegistry, cfg.HTTPRequestTimeout, defaultSwapTTL, log)
	if err := httpServer.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatalf("failed to start http server: %v", err)
	}

	var stopPollers []func()
	for _, params := range chain.All() {
		dp := poller.NewDepositPoller(params.ChainID, params.PollingInterval, st, readers[params.ChainID], orch, metricsRegistry, log)
		pollerCtx, pollerCancel := context.WithCancel(ctx)
		go dp.Run(pollerCtx)
		stopPollers = append(stopPollers, pollerCancel)
	}

	settlementPoller := poller.NewSettlementPoller(cfg.SettlementPollInterval, st, book, metricsRegistry, log)
	settlementCtx, settlementCancel := context.WithCancel(ctx)
	go settlementPoller.Run(settlementCtx)

	log.Infof("cbbtc-swapd %s started, listening on :%d", version, cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	settlementCancel()
	for _, stop := range stopPollers {
		stop()
	}
	cancel()

	if err := httpServer.Stop(); err != nil {
		log.Errorf("error stopping http server: %v", err)
	}

	log.Info("goodbye")
}
