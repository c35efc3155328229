package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/peterkariuk1/jobawu-gateway/internal/config"
	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/handler"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/cache"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/ledger"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/localstore"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/observability"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/resilience"
	"github.com/peterkariuk1/jobawu-gateway/internal/infra/smschannel"
	"github.com/peterkariuk1/jobawu-gateway/internal/port"
	"github.com/peterkariuk1/jobawu-gateway/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("queue_path", cfg.QueuePath),
		zap.Strings("trusted_senders", cfg.TrustedSenders),
		zap.Duration("probe_interval", cfg.ProbeInterval),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "jobawu-gateway")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Local queue ---
	queue, err := localstore.Open(cfg.QueuePath, logger)
	if err != nil {
		logger.Fatal("failed to open local queue", zap.Error(err))
	}
	defer queue.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("ledger-store")

	// --- Ledger store client ---
	if cfg.LedgerURL == "" {
		logger.Fatal("LEDGER_URL is required")
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	ledgerClient := ledger.NewClient(
		httpClient,
		cfg.LedgerURL,
		cfg.LedgerAPIKey,
		cfg.LedgerServiceKey,
		cb,
		resilienceCfg,
		logger,
	)

	// --- Services ---
	plotCache := cache.New[[]domain.Plot](cfg.PlotCacheTTL)
	events := make(chan domain.Event, 64)

	reconciler := service.NewReconcileService(ledgerClient, plotCache, metrics, logger)
	syncMgr := service.NewSyncManager(queue, ledgerClient, events, cfg.MaxConcurrency, metrics, logger)
	watcher := service.NewConnectivityWatcher(ledgerClient, events, cfg.ProbeInterval, logger)

	var channel port.MessageChannel
	if cfg.NSQLookupdAddr != "" {
		nsqChannel := smschannel.NewNSQChannel(cfg.NSQTopic, cfg.NSQChannel, cfg.NSQLookupdAddr, logger)
		defer nsqChannel.Close()
		channel = nsqChannel
		logger.Info("message channel enabled",
			zap.String("lookupd", cfg.NSQLookupdAddr),
			zap.String("topic", cfg.NSQTopic),
		)
	} else {
		logger.Warn("message channel: NSQ_LOOKUPD_ADDR not set, webhook ingestion only")
	}

	ingest := service.NewIngestService(
		channel,
		queue,
		reconciler,
		events,
		cfg.TrustedSenders,
		metrics,
		logger,
	)

	var authSvc *service.AuthService
	if cfg.DeviceID != "" && cfg.DeviceKeyHash != "" {
		authSvc = service.NewAuthService(cfg.DeviceID, cfg.DeviceKeyHash, cfg.JWTSecret, cfg.JWTAccessTTL, logger)
		logger.Info("device auth enabled", zap.String("device_id", cfg.DeviceID))
	} else {
		logger.Warn("device auth: DEVICE_ID/DEVICE_KEY_HASH not set, admin API is unprotected")
	}

	// --- Background pipeline ---
	runCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()

	go syncMgr.Run(runCtx)
	go watcher.Run(runCtx)

	if err := ingest.Start(); err != nil {
		logger.Fatal("failed to start ingestion listener", zap.Error(err))
	}
	defer ingest.Stop()

	// --- Router ---
	router := handler.NewRouter(ingest, syncMgr, reconciler, authSvc, queue, ledgerClient, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
