// File: cmd/subnetd/main.go
package main

import (
	"context"
	"fmt"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"

	"math/big"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"blobsubnet/internal/config"
	"blobsubnet/internal/domain/ledger"
	"blobsubnet/internal/infra/chain"
	pg "blobsubnet/internal/infra/db/postgres"
	httpapi "blobsubnet/internal/infra/http"
	"blobsubnet/internal/infra/logging"
	"blobsubnet/internal/infra/metrics"
	red "blobsubnet/internal/infra/redis"
	"blobsubnet/internal/infra/sched"
	"blobsubnet/internal/infra/worker"
	"blobsubnet/internal/usecase"
)

// buildVersion/buildCommit are overridable via -ldflags "-X main.buildVersion=... -X main.buildCommit=...".
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, false)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	ledgerRepo := pg.NewLedgerRepository(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	locker := red.NewLocker(redisClient)
	statsCache := red.NewStatsCache(redisClient, cfg.Redis.StatsTTL)

	// ---- Ledger core: resume from the last snapshot, or start genesis ----
	capacityTotal, ok := new(big.Int).SetString(cfg.Ledger.CapacityTotal, 10)
	if !ok {
		logger.Fatal().Str("capacity_total", cfg.Ledger.CapacityTotal).Msg("invalid ledger.capacity_total")
	}
	creditDebitRate, ok := new(big.Int).SetString(cfg.Ledger.CreditDebitRate, 10)
	if !ok {
		logger.Fatal().Str("credit_debit_rate", cfg.Ledger.CreditDebitRate).Msg("invalid ledger.credit_debit_rate")
	}

	state := ledger.New(capacityTotal, creditDebitRate)
	if snap, found, err := ledgerRepo.LoadSnapshot(ctx); err != nil {
		logger.Fatal().Err(err).Msg("load ledger snapshot")
	} else if found {
		restored, err := ledger.Import(*snap)
		if err != nil {
			logger.Fatal().Err(err).Msg("import ledger snapshot")
		}
		state = restored
		logger.Info().Msg("ledger state restored from snapshot")
	} else {
		logger.Info().Msg("no ledger snapshot found, starting from genesis")
	}

	pool2 := worker.NewPool(4)
	pool2.Start(ctx)
	defer pool2.Stop()

	ledgerUC := usecase.NewLedgerUseCase(state, ledgerRepo, pool2, logger)

	// ---- Debit scheduler ----
	epochs := chain.NewTickerEpochSource(0)
	debitWorker := sched.NewDebitWorker(cfg.Scheduler.DebitTickInterval, ledgerUC, epochs, locker, cfg.Redis.LockTTL, logger)
	go func() {
		if err := debitWorker.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("debit worker stopped")
		}
	}()

	// ---- Metrics ----
	metrics.MustRegister()
	metrics.SetBuildInfo(buildVersion, buildCommit)
	go reportDBPoolStats(ctx, pool)

	// ---- HTTP API ----
	admin := httpapi.NewAdminAuth(cfg.Admin.JWTSecret, 24*time.Hour)
	server := httpapi.NewServer(ledgerUC, admin, logger).WithStatsCache(statsCache)
	httpServer := &stdhttp.Server{Addr: fmt.Sprintf(":%d", cfg.HTTP.Port), Handler: server.Router()}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	_ = httpServer.Shutdown(context.Background())
}

// reportDBPoolStats publishes pgxpool connection stats on a fixed tick
// until ctx is canceled.
func reportDBPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			metrics.SetDBPoolStats(stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns())
		}
	}
}
