package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	genesisconfig "lpvault/config"
	"lpvault/core"
	"lpvault/core/events"
	"lpvault/core/genesis"
	"lpvault/native/router"
	"lpvault/observability"
	"lpvault/observability/logging"
	telemetry "lpvault/observability/otel"
	"lpvault/services/routerd/archive"
	"lpvault/services/routerd/config"
	"lpvault/services/routerd/server"
	"lpvault/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/routerd/config.yaml", "path to routerd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ROUTERD_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("routerd", env, logging.Options{
		Level:      logging.ParseLevel(cfg.Log.Level),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	spec, err := genesisconfig.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		log.Fatalf("load genesis: %v", err)
	}

	shutdownTelemetry, err := telemetry.Start(context.Background(), telemetry.Settings{
		Service:        "routerd",
		Environment:    env,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        cfg.Telemetry.Headers,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		MetricInterval: cfg.Telemetry.MetricInterval,
		Attributes: map[string]string{
			"lpvault.chain_id": strconv.FormatUint(spec.ChainID, 10),
			"lpvault.markets":  strconv.Itoa(len(spec.Markets)),
		},
	}.ApplyEnv())
	if err != nil {
		log.Fatalf("start telemetry: %v", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	emitters := events.MultiEmitter{observability.Events()}
	var receipts *archive.Archive
	if cfg.Archive.DSN != "" {
		receipts, err = archive.Open(cfg.Archive.DSN)
		if err != nil {
			log.Fatalf("open archive: %v", err)
		}
		defer receipts.Close()
		emitters = append(emitters, receipts)
		logger.Info("receipt archive opened", logging.MaskField("dsn", cfg.Archive.DSN))
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	ledger := core.NewLedger(db, emitters)
	defer ledger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seeded, err := genesis.Initialised(ctx, ledger)
	if err != nil {
		log.Fatalf("inspect ledger: %v", err)
	}
	if !seeded {
		if err := genesis.Apply(ctx, ledger, spec); err != nil {
			log.Fatalf("apply genesis: %v", err)
		}
		logger.Info("genesis applied", slog.String("file", cfg.GenesisFile), slog.Int("markets", len(spec.Markets)))
	}

	rtr, err := router.New(ledger, genesis.RouterConfig(spec), genesis.Markets(spec))
	if err != nil {
		log.Fatalf("configure router: %v", err)
	}
	rtr.SetLogger(logger)
	rtr.SetMetrics(observability.Router())

	srvCfg := server.Config{
		Router: rtr,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Metrics:        observability.Router(),
		Logger:         logger,
		RequestTimeout: cfg.Timeouts.Request,
	}
	if receipts != nil {
		srvCfg.Receipts = receipts
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		log.Fatalf("configure server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Timeouts.ReadHeader,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("routerd listening", slog.String("addr", cfg.ListenAddress))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}
