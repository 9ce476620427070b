// File: internal/infra/sched/debit_worker.go
package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"blobsubnet/internal/infra/chain"
	"blobsubnet/internal/infra/metrics"
	red "blobsubnet/internal/infra/redis"
	"blobsubnet/internal/usecase"
)

const debitLockKey = "sched:debit_accounts"

// DebitWorker ticks DebitAccounts on an interval, advancing the shared
// epoch clock by one tick per firing. When a Locker is configured it
// holds a short-TTL distributed lock for the duration of the tick so
// that only one replica runs the accounting pass at a time.
type DebitWorker struct {
	interval time.Duration
	ledgerUC *usecase.LedgerUseCase
	epochs   *chain.TickerEpochSource
	locker   red.Locker
	lockTTL  time.Duration
	logger   *zerolog.Logger
}

// NewDebitWorker builds a worker that ticks every interval, advancing
// epochs. locker may be nil to run unconditionally (single-replica
// deployments, or tests).
func NewDebitWorker(interval time.Duration, ledgerUC *usecase.LedgerUseCase, epochs *chain.TickerEpochSource, locker red.Locker, lockTTL time.Duration, logger *zerolog.Logger) *DebitWorker {
	return &DebitWorker{
		interval: interval,
		ledgerUC: ledgerUC,
		epochs:   epochs,
		locker:   locker,
		lockTTL:  lockTTL,
		logger:   logger,
	}
}

func (w *DebitWorker) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.tick(ctx, w.epochs.Advance())
		}
	}
}

func (w *DebitWorker) tick(ctx context.Context, epoch int64) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, debitLockKey, w.lockTTL)
		if err != nil {
			w.logger.Debug().Err(err).Msg("debit worker: lock held elsewhere, skipping tick")
			return
		}
		defer func() {
			if uerr := w.locker.Unlock(ctx, debitLockKey, token); uerr != nil {
				w.logger.Warn().Err(uerr).Msg("debit worker: failed to release lock")
			}
		}()
	}

	start := time.Now()
	removed, warnings := w.ledgerUC.DebitAccounts(ctx, epoch)
	metrics.ObserveDebitTick(float64(time.Since(start).Microseconds()) / 1000)
	metrics.SetLedgerStats(w.ledgerUC.GetStats(ctx))

	if len(removed) > 0 {
		w.logger.Info().Int64("epoch", epoch).Int("removed_blobs", len(removed)).Msg("debit tick removed expired blobs")
	}
	for _, warn := range warnings {
		w.logger.Warn().Err(warn).Int64("epoch", epoch).Msg("debit tick warning")
	}
}
