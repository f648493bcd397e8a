package reconcile

import (
	"context"
	"errors"
	"time"

	"encoin-rewards/pkg/config"
	"encoin-rewards/pkg/task"
	"encoin-rewards/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	defaultBatchSize  = 100
	defaultStaleAfter = 10 * time.Minute
	defaultMaxRetry   = 5
)

// Sweeper finds journal entries that need attention and hands each one to
// the repair queue.
type Sweeper struct {
	repairer   Repairer
	enqueuer   task.Enqueuer
	staleAfter time.Duration
	batchSize  int
	maxRetry   int
	now        func() time.Time
}

func NewSweeper(cfg *config.Config, repairer Repairer, enqueuer task.Enqueuer) *Sweeper {
	s := &Sweeper{
		repairer:   repairer,
		enqueuer:   enqueuer,
		staleAfter: cfg.Reconcile.StaleAfter,
		batchSize:  cfg.Reconcile.BatchSize,
		maxRetry:   cfg.Reconcile.MaxRetry,
		now:        time.Now,
	}
	if s.staleAfter <= 0 {
		s.staleAfter = defaultStaleAfter
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxRetry <= 0 {
		s.maxRetry = defaultMaxRetry
	}
	return s
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Flagged  int64
	Pruned   int64
	Enqueued int
	Skipped  int
}

// Sweep flags pending entries older than the stale window for review,
// drops rejected entries older than the same window and queues a repair
// task for every orphaned or unconfirmed entry. Entries that already have
// a queued task are skipped. Prune and enqueue failures do not stop the
// sweep; they are joined into the returned error.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	log := zap.L().With(zap.String("task", taskname.ReconcileSweep))

	cutoff := s.now().Add(-s.staleAfter)
	flagged, err := s.repairer.FlagStale(ctx, cutoff)
	if err != nil {
		log.Error("failed to flag stale transfers", zap.Error(err))
		return res, err
	}
	res.Flagged = flagged
	if flagged > 0 {
		log.Warn("pending transfers flagged for review", zap.Int64("count", flagged))
	}

	var errs []error
	pruned, err := s.repairer.PruneRejected(ctx, cutoff)
	if err != nil {
		log.Error("failed to prune rejected transfers", zap.Error(err))
		errs = append(errs, err)
	}
	res.Pruned = pruned

	entries, err := s.repairer.RepairCandidates(ctx, s.batchSize)
	if err != nil {
		log.Error("failed to list repair candidates", zap.Error(err))
		return res, errors.Join(append(errs, err)...)
	}

	for _, entry := range entries {
		t, opts, err := NewRepairTask(entry.ID, s.maxRetry)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		_, err = s.enqueuer.Enqueue(ctx, t, opts...)
		switch {
		case errors.Is(err, asynq.ErrTaskIDConflict):
			res.Skipped++
		case err != nil:
			log.Error("failed to enqueue repair", zap.String("journal_id", entry.ID), zap.Error(err))
			errs = append(errs, err)
		default:
			res.Enqueued++
		}
	}

	if len(entries) > 0 {
		log.Info("reconciliation sweep finished",
			zap.Int("candidates", len(entries)),
			zap.Int("enqueued", res.Enqueued),
			zap.Int("skipped", res.Skipped),
		)
	}

	return res, errors.Join(errs...)
}
