// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// crank is the off-chain settlement cranker: it polls for matched-but-
// unsettled order pairs and drives each one through the settlement state
// machine via the relayer's private-transfer protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/luxfi/crank/internal/config"
	"github.com/luxfi/crank/internal/ledger"
	"github.com/luxfi/crank/internal/lockmgr"
	"github.com/luxfi/crank/internal/metrics"
	"github.com/luxfi/crank/internal/mpc"
	"github.com/luxfi/crank/internal/obslog"
	"github.com/luxfi/crank/internal/orchestrator"
	"github.com/luxfi/crank/internal/relayer"
	"github.com/luxfi/crank/internal/settlement"
	"github.com/luxfi/crank/internal/store"
	"github.com/luxfi/crank/internal/supervisor"
	"github.com/google/uuid"
	"github.com/luxfi/geth/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

const clientIdentifier = "crank"

var app = &cli.App{
	Name:    clientIdentifier,
	Usage:   "off-chain settlement crank for a confidential exchange",
	Version: "1.0.0",
}

func init() {
	app.Action = run
	app.Before = func(ctx *cli.Context) error {
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		log.Crit("invalid configuration", "error", err)
		os.Exit(1)
	}
	if !cfg.CrankEnabled {
		log.Info("crank disabled via CRANK_ENABLED=false, exiting")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Crit("failed to open store", "error", err)
		os.Exit(2)
	}
	defer db.Close()

	obslog.NewWithFile(cfg.LogLevel, cfg.LogFile)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	observer := obslog.LogObserver{Log: log.Root()}

	// Each instance gets a fresh identity per process start, so a crashed
	// instance's distributed locks expire on TTL rather than being mistaken
	// for a live holder after restart.
	ownerTag := fmt.Sprintf("crank-%d-%s", os.Getpid(), uuid.NewString())
	locks := lockmgr.NewManager(db.Locks, ownerTag)

	relayerClient := relayer.New(relayer.Config{
		BaseURL:    cfg.ShadowwireAPIURL,
		APIKey:     cfg.ShadowwireAPIKey,
		MaxRetries: cfg.ShadowwireMaxRetries,
		RetryDelay: cfg.ShadowwireRetryDelay,
		Timeout:    cfg.ShadowwireTimeout,
		Metrics:    m,
	})

	machine := settlement.New(db.Settlements, observer, cfg.SettlementExpiry).WithMetrics(m)
	rollback := settlement.NewRollbackWorker(db.PendingOps, locks, relayerClient, machine, observer, ownerTag)

	var ledgerImpl ledger.Ledger = ledger.Noop{}

	orch := orchestrator.New(orchestrator.Deps{
		Ledger:        ledgerImpl,
		Locks:         locks,
		Machine:       machine,
		Rollback:      rollback,
		Transfers:     relayerClient,
		TxHistory:     db.TxHistory,
		PendingOps:    db.PendingOps,
		Observer:      observer,
		Metrics:       m,
		PollInterval:  cfg.PollingInterval,
		Cooldown:      cfg.CooldownPeriod,
		LockTimeout:   cfg.LockTTL,
		PreferPrivate: cfg.PreferPrivateTransfer,
	})

	sup := supervisor.New(orch, observer, m, cfg.ErrorThreshold, cfg.PauseDuration)
	orch.OnSuccess = sup.RecordSuccess
	orch.OnFailure = func(error) { sup.RecordFailure(ctx) }

	_ = mpc.New(mpc.Dev) // the validator is not used by the poll loop; this binary has no MPC callback endpoint

	orch.Start(ctx)
	log.Info("crank started", "pollingInterval", cfg.PollingInterval, "dbPath", cfg.DBPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	orch.Stop()
	if _, err := locks.ReleaseAll(context.Background()); err != nil {
		log.Warn("failed to release distributed locks on shutdown", "error", err)
	}
	return nil
}
