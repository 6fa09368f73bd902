package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/uhyunpark/zigzag/params"
	"github.com/uhyunpark/zigzag/pkg/api"
	"github.com/uhyunpark/zigzag/pkg/app/core/ledger"
	"github.com/uhyunpark/zigzag/pkg/app/core/settlement"
	"github.com/uhyunpark/zigzag/pkg/app/core/transaction"
	"github.com/uhyunpark/zigzag/pkg/app/exchange"
	"github.com/uhyunpark/zigzag/pkg/storage"
	"github.com/uhyunpark/zigzag/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level, err := util.ParseLevel(cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, closeLog, err := util.NewLoggerWithFile(cfg.Node.LogFile, level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer closeLog()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", level.String())

	if err := run(cfg, logger); err != nil {
		sugar.Errorw("node_failed", "err", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg params.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()

	writer, writerKey, err := cfg.OracleWriter()
	if err != nil {
		return err
	}

	// ---- State ----
	var store storage.Store
	if cfg.Node.DBPath == "" {
		store = storage.NewMemStore()
		sugar.Warnw("state_in_memory", "reason", "DB_PATH empty")
	} else {
		ps, err := storage.NewPebbleStore(cfg.Node.DBPath)
		if err != nil {
			return err
		}
		store = ps
		sugar.Infow("state_opened", "path", cfg.Node.DBPath)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// ---- Settlement ----
	domain := cfg.Domain.EIP712()
	engine := settlement.NewEngine(store,
		func(kv storage.KV) settlement.TokenLedger { return ledger.New(kv) },
		settlement.Config{
			Domain:    domain,
			Address:   cfg.Settlement.EngineAddress,
			AcceptRaw: cfg.Settlement.AcceptRawOrders,
		},
		settlement.WithLogger(logger.Named("settlement")),
		settlement.WithMetrics(settlement.NewMetrics(reg)),
	)

	app, err := exchange.NewApp(store, engine, transaction.NewVerifier(domain), logger.Named("app"), exchange.NewMetrics(reg))
	if err != nil {
		return err
	}
	app.SetMaxTxBytes(cfg.Node.MaxBlockBytes)

	var genesis *ledger.Genesis
	if cfg.Node.GenesisFile != "" {
		if genesis, err = ledger.LoadGenesis(cfg.Node.GenesisFile); err != nil {
			return err
		}
	}
	if err := app.InitChain(genesis, writer); err != nil {
		return err
	}

	if cfg.Node.TxLogFile != "" {
		wal, err := storage.NewFileWAL(cfg.Node.TxLogFile)
		if err != nil {
			sugar.Warnw("tx_log_disabled", "path", cfg.Node.TxLogFile, "err", err)
		} else {
			defer wal.Close()
			app.SetTxLog(wal)
			sugar.Infow("tx_log_opened", "path", cfg.Node.TxLogFile)
		}
	}

	sugar.Infow("node_starting",
		"chain_id", domain.ChainID.String(),
		"engine", cfg.Settlement.EngineAddress.Hex(),
		"oracle_writer", writer.Hex(),
		"accept_raw", cfg.Settlement.AcceptRawOrders,
		"height", app.Height())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, reg, logger.Named("api"))
	app.OnSettlement = apiServer.BroadcastSettlement
	app.OnBlock = apiServer.BroadcastBlock

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- apiServer.Start(cfg.Node.APIAddr)
	}()

	// ---- Oracle feeder (only when this node holds the writer key) ----
	if writerKey != nil {
		cancelFeeder := exchange.StartTimeFeeder(ctx, app, exchange.TimeFeederConfig{
			Writer:   writerKey,
			Clock:    util.RealClock{},
			Interval: cfg.Oracle.FeedInterval,
		}, sugar.Named("oracle"))
		defer cancelFeeder()
	}

	// ---- Block production ----
	producer := &exchange.Producer{
		Chain:         app,
		Clock:         util.RealClock{},
		MinBlockTime:  cfg.Node.MinBlockTime,
		MaxBlockBytes: cfg.Node.MaxBlockBytes,
		Logger:        sugar.Named("producer"),
	}
	prodErr := make(chan error, 1)
	go func() {
		prodErr <- producer.Run(ctx)
	}()

	select {
	case err := <-apiErr:
		stop()
		<-prodErr
		return err
	case err := <-prodErr:
		if errors.Is(err, context.Canceled) {
			sugar.Infow("node_stopped", "height", app.Height(), "apphash", app.AppHash().Hex())
			return nil
		}
		return err
	}
}
