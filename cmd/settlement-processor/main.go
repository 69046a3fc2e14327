// Command settlement-processor is the single-binary entrypoint: it wires
// the chain gateway, settlements client, Redis queue store, coordinator,
// bet worker pool, settlement worker pool, reconciliation sweep, and
// internal HTTP API, then runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reecen9696/atomiq-bet-settlement/internal/api"
	"github.com/reecen9696/atomiq-bet-settlement/internal/audit"
	"github.com/reecen9696/atomiq-bet-settlement/internal/betworker"
	"github.com/reecen9696/atomiq-bet-settlement/internal/breaker"
	"github.com/reecen9696/atomiq-bet-settlement/internal/chain"
	"github.com/reecen9696/atomiq-bet-settlement/internal/config"
	"github.com/reecen9696/atomiq-bet-settlement/internal/coordinator"
	"github.com/reecen9696/atomiq-bet-settlement/internal/logging"
	"github.com/reecen9696/atomiq-bet-settlement/internal/metrics"
	"github.com/reecen9696/atomiq-bet-settlement/internal/queue"
	"github.com/reecen9696/atomiq-bet-settlement/internal/reconcile"
	"github.com/reecen9696/atomiq-bet-settlement/internal/retry"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlementsclient"
	"github.com/reecen9696/atomiq-bet-settlement/internal/settlementworker"
)

func main() {
	logger, err := logging.New()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := queue.NewRedisStore(redisClient)

	chainClients := make([]chain.RPC, len(cfg.Chain.RPCURLs))
	for i, url := range cfg.Chain.RPCURLs {
		chainClients[i] = chain.NewHTTPRPC(url, 10*time.Second)
	}
	gateway, err := chain.NewGateway(logger, chain.Config{
		HealthCheckPeriod: cfg.Chain.HealthCheckPeriod,
		RequestsPerSecond: cfg.Chain.RequestsPerSecond,
		Burst:             cfg.Chain.Burst,
	}, cfg.Chain.RPCURLs, chainClients)
	if err != nil {
		logger.Fatal("failed to build chain gateway", zap.Error(err))
	}
	defer gateway.Close()

	settlementsClient := settlementsclient.New(logger, settlementsclient.Config{
		BaseURL:    cfg.Settlements.BaseURL,
		APIKey:     cfg.Settlements.APIKey,
		Timeout:    cfg.Settlements.HTTPTimeout,
		RatePerMin: cfg.Settlements.RatePerMin,
	})

	breakerFactory := breaker.NewFactory(logger, breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	})

	collectors := metrics.New()
	auditLog := audit.New(logger, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	startBetWorkers(ctx, &wg, logger, cfg, store, gateway, breakerFactory, collectors)

	settlementPolicy := retry.DefaultSettlementPolicy()
	settlementPolicy.MaxRetries = cfg.Retry.SettlementMax

	if cfg.Coordinator.Enabled {
		startCoordinatorMode(ctx, &wg, logger, cfg, settlementsClient, gateway, settlementPolicy, collectors)
	} else {
		startLegacyMode(ctx, &wg, logger, cfg, settlementsClient, gateway, settlementPolicy)
	}

	if cfg.Reconcile.Enabled {
		sweeper := reconcile.New(logger, store, gateway, reconcile.Config{
			Enabled:       cfg.Reconcile.Enabled,
			SweepInterval: cfg.Reconcile.SweepInterval,
			MaxStuckTime:  cfg.Reconcile.MaxStuckTime,
			MaxRetries:    cfg.Reconcile.MaxRetries,
			PageSize:      cfg.Reconcile.PageSize,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
	}

	apiServer := api.NewServer(logger, api.Config{
		Addr:      fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		JWTSecret: cfg.Auth.JWTSecret,
		Retry: queue.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			BackoffMs:  cfg.Retry.BackoffBase.Milliseconds(),
			BackoffMax: cfg.Retry.BackoffMax.Milliseconds(),
		},
	}, store, auditLog)

	go func() {
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	logger.Info("settlement processor started",
		zap.Int("bet_workers", cfg.Processor.WorkerCount),
		zap.Int("settlement_workers", cfg.Processor.SettlementWorkerCount),
		zap.Bool("coordinator_enabled", cfg.Coordinator.Enabled),
		zap.Bool("reconcile_enabled", cfg.Reconcile.Enabled),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("all workers stopped cleanly")
	case <-time.After(cfg.Processor.ShutdownBudget + 10*time.Second):
		logger.Warn("shutdown budget exceeded; exiting with workers still draining")
	}
}

func startBetWorkers(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, cfg *config.Config, store queue.Store, gateway *chain.Gateway, breakers *breaker.Factory, collectors *metrics.Collectors) {
	betRetry := betworker.RetryPolicy{
		MaxRetries: cfg.Retry.MaxRetries,
		BackoffMs:  cfg.Retry.BackoffBase.Milliseconds(),
		BackoffMax: cfg.Retry.BackoffMax.Milliseconds(),
	}
	for i := 0; i < cfg.Processor.WorkerCount; i++ {
		w := &betworker.Worker{
			ID:       fmt.Sprintf("bet-%d", i),
			Store:    store,
			Chain:    gateway,
			Breakers: breakers,
			Cfg: betworker.Config{
				BatchInterval: cfg.Processor.BatchInterval,
				BatchSize:     cfg.Processor.BatchSize,
				MaxBetsPerTx:  cfg.Processor.MaxBetsPerTx,
			},
			Retry:   betRetry,
			Logger:  logger,
			Metrics: collectors,
		}
		wg.Add(1)
		go w.Run(ctx, wg)
	}
}

func startCoordinatorMode(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, cfg *config.Config, settlementsClient *settlementsclient.Client, gateway *chain.Gateway, policy retry.SettlementPolicy, collectors *metrics.Collectors) {
	co := coordinator.New(logger, settlementsClient, coordinator.Config{
		PollInterval:       cfg.Coordinator.PollInterval,
		SettlementPageSize: cfg.Coordinator.SettlementPageSize,
		BatchMinSize:       cfg.Coordinator.BatchMinSize,
		BatchMaxSize:       cfg.Coordinator.BatchMaxSize,
		ChannelBufferSize:  cfg.Coordinator.ChannelBufferSize,
	}, cfg.Processor.SettlementWorkerCount, collectors)

	wg.Add(1)
	go co.Run(ctx, wg)

	for i := 0; i < cfg.Processor.SettlementWorkerCount; i++ {
		sw := &settlementworker.Worker{
			ID:             fmt.Sprintf("settlement-%d", i),
			Chain:          gateway,
			Client:         settlementsClient,
			Policy:         policy,
			Logger:         logger,
			ShutdownBudget: cfg.Processor.ShutdownBudget,
		}
		wg.Add(1)
		go sw.Run(ctx, wg, settlementworker.ChannelSource{Ch: co.WorkChannel(i)})
	}
}

func startLegacyMode(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, cfg *config.Config, settlementsClient *settlementsclient.Client, gateway *chain.Gateway, policy retry.SettlementPolicy) {
	logger.Warn("legacy settlement polling mode enabled; retained for backward compatibility only")
	perWorker := 1
	if cfg.Processor.SettlementWorkerCount > 0 && cfg.Coordinator.SettlementPageSize/cfg.Processor.SettlementWorkerCount > 1 {
		perWorker = cfg.Coordinator.SettlementPageSize / cfg.Processor.SettlementWorkerCount
	}
	for i := 0; i < cfg.Processor.SettlementWorkerCount; i++ {
		sw := &settlementworker.Worker{
			ID:             fmt.Sprintf("settlement-%d", i),
			Chain:          gateway,
			Client:         settlementsClient,
			Policy:         policy,
			Logger:         logger,
			ShutdownBudget: cfg.Processor.ShutdownBudget,
		}
		src := settlementworker.PollSource{
			Client:       settlementsClient,
			PerWorker:    perWorker,
			PollInterval: cfg.Coordinator.PollInterval,
		}
		wg.Add(1)
		go sw.Run(ctx, wg, src)
	}
}
