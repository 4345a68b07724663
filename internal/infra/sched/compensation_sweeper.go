package sched

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"billing-saga/internal/domain/model"
	"billing-saga/internal/domain/ports/repository"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/infra/worker"
	"billing-saga/internal/usecase"
)

// CompensationSweeper retries the undo of saga runs whose compensation did not finish,
// e.g. because the provider was down while a failed run was being rolled back. It also
// undoes runs abandoned in "running", e.g. when the process died mid-saga.
type CompensationSweeper struct {
	uc         usecase.SubscribeUseCase
	runs       repository.SagaRunRepository
	spec       string
	staleAfter time.Duration
	batch      int
	workers    int
	log        *zerolog.Logger
}

func NewCompensationSweeper(uc usecase.SubscribeUseCase, runs repository.SagaRunRepository, spec string, staleAfter time.Duration, logger *zerolog.Logger) *CompensationSweeper {
	if spec == "" {
		spec = "@every 5m"
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &CompensationSweeper{uc: uc, runs: runs, spec: spec, staleAfter: staleAfter, batch: 100, workers: 4, log: logger}
}

// Start runs Sweep on the cron schedule until ctx is done. Overlapping sweeps are skipped.
func (w *CompensationSweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.spec, func() { w.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule compensation sweeper %q: %w", w.spec, err)
	}
	c.Start()
	w.log.Info().Str("schedule", w.spec).Msg("compensation sweeper started")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Sweep retries every pending compensation and every stale running run once. It returns
// how many runs it resolved (compensated, failed with nothing to undo, or succeeded).
func (w *CompensationSweeper) Sweep(ctx context.Context) int {
	pending, err := w.runs.ListByStatus(ctx, model.SagaStatusCompensationFailed, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("compensation-sweeper: list runs")
		return 0
	}
	running, err := w.runs.ListByStatus(ctx, model.SagaStatusRunning, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("compensation-sweeper: list running runs")
	}
	now := time.Now()
	for _, run := range running {
		if run.Stale(now, w.staleAfter) {
			pending = append(pending, run)
		}
	}
	if len(pending) == 0 {
		return 0
	}

	pool := worker.NewPool(min(w.workers, len(pending)), w.log)
	pool.Start(ctx)
	var done int64
	for _, run := range pending {
		id := run.ID
		err := pool.Submit(ctx, func(ctx context.Context) error {
			res, err := w.uc.Compensate(ctx, id)
			if err != nil {
				return fmt.Errorf("compensation-sweeper: retry run %s: %w", id, err)
			}
			if res.Terminal() {
				atomic.AddInt64(&done, 1)
				w.log.Info().Str("run_id", id).Str("status", string(res.Status)).Msg("compensation-sweeper: run resolved")
			}
			return nil
		})
		if err != nil {
			break
		}
	}
	pool.Stop()
	return int(done)
}
