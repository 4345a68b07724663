// File: internal/usecase/subscribe_uc.go
package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"billing-saga/internal/config"
	"billing-saga/internal/domain"
	"billing-saga/internal/domain/model"
	"billing-saga/internal/domain/ports/adapter"
	"billing-saga/internal/domain/ports/repository"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/infra/metrics"
)

// SubscribeInput is what a caller supplies to start a subscription.
// UnitAmount is in minor currency units (cents).
type SubscribeInput struct {
	Email          string `json:"email" validate:"required,email"`
	Name           string `json:"name" validate:"required,max=256"`
	PaymentMethod  string `json:"payment_method" validate:"required"`
	UnitAmount     int64  `json:"unit_amount" validate:"gt=0"`
	IdempotencyKey string `json:"-" validate:"max=200"`
}

// SubscribeResult identifies everything the saga created.
type SubscribeResult struct {
	RunID          string `json:"run_id"`
	ProductID      string `json:"product_id"`
	PriceID        string `json:"price_id"`
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
	ItemID         string `json:"item_id"`
}

// SubscribeUseCase runs the product -> price -> customer -> subscription saga.
type SubscribeUseCase interface {
	// Run executes the saga. On failure the returned error is a *domain.StepError naming
	// the step that failed, and completed steps are undone in reverse when compensation is on.
	// Re-running with the key of a succeeded run returns the recorded result without remote calls.
	Run(ctx context.Context, in SubscribeInput) (*SubscribeResult, error)

	// Compensate retries the undo of a failed run (status failed or compensation_failed), or
	// undoes a run left "running" with no progress for saga.stale_after, e.g. after a crash.
	Compensate(ctx context.Context, runID string) (*model.SagaRun, error)

	GetRun(ctx context.Context, runID string) (*model.SagaRun, error)
}

// Compile-time check
var _ SubscribeUseCase = (*subscribeUC)(nil)

type subscribeUC struct {
	provider adapter.BillingProvider
	runs     repository.SagaRunRepository
	billing  config.BillingConfig
	saga     config.SagaConfig
	dev      bool
	log      *zerolog.Logger

	now func() time.Time
}

func NewSubscribeUseCase(
	provider adapter.BillingProvider,
	runs repository.SagaRunRepository,
	billing config.BillingConfig,
	saga config.SagaConfig,
	dev bool,
	logger *zerolog.Logger,
) SubscribeUseCase {
	if logger == nil {
		logger = logging.Nop()
	}
	if saga.CompensationTimeout <= 0 {
		saga.CompensationTimeout = 30 * time.Second
	}
	if saga.StaleAfter <= 0 {
		saga.StaleAfter = 15 * time.Minute
	}
	return &subscribeUC{
		provider: provider,
		runs:     runs,
		billing:  billing,
		saga:     saga,
		dev:      dev,
		log:      logger,
		now:      time.Now,
	}
}

// sagaStep is one forward action; it records what it created on run.
type sagaStep struct {
	name model.SagaStep
	do   func(ctx context.Context, run *model.SagaRun, in SubscribeInput, key string) error
}

func (u *subscribeUC) steps() []sagaStep {
	return []sagaStep{
		{model.StepProduct, func(ctx context.Context, run *model.SagaRun, _ SubscribeInput, key string) error {
			p, err := u.provider.CreateProduct(ctx, adapter.ProductParams{
				Name:           u.billing.ProductName,
				Description:    u.billing.ProductDescription,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			run.ProductID = p.ID
			return nil
		}},
		{model.StepPrice, func(ctx context.Context, run *model.SagaRun, in SubscribeInput, key string) error {
			p, err := u.provider.CreatePrice(ctx, adapter.PriceParams{
				ProductID:      run.ProductID,
				UnitAmount:     in.UnitAmount,
				Currency:       run.Currency,
				Interval:       run.Interval,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			run.PriceID = p.ID
			return nil
		}},
		{model.StepCustomer, func(ctx context.Context, run *model.SagaRun, in SubscribeInput, key string) error {
			c, err := u.provider.CreateCustomer(ctx, adapter.CustomerParams{
				Email:          in.Email,
				Name:           in.Name,
				PaymentMethod:  in.PaymentMethod,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			run.CustomerID = c.ID
			return nil
		}},
		{model.StepSubscription, func(ctx context.Context, run *model.SagaRun, _ SubscribeInput, key string) error {
			s, err := u.provider.CreateSubscription(ctx, adapter.SubscriptionParams{
				CustomerID:     run.CustomerID,
				PriceID:        run.PriceID,
				Quantity:       1,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			run.SubscriptionID = s.ID
			if len(s.Items) > 0 {
				run.ItemID = s.Items[0].ID
			}
			return nil
		}},
	}
}

// undo maps a completed step to its compensating action. The subscription step has none:
// once it succeeds the saga has succeeded.
var undo = map[model.SagaStep]func(ctx context.Context, p adapter.BillingProvider, run *model.SagaRun) error{
	model.StepCustomer: func(ctx context.Context, p adapter.BillingProvider, run *model.SagaRun) error {
		return p.DeleteCustomer(ctx, run.CustomerID)
	},
	model.StepPrice: func(ctx context.Context, p adapter.BillingProvider, run *model.SagaRun) error {
		return p.DeactivatePrice(ctx, run.PriceID)
	},
	model.StepProduct: func(ctx context.Context, p adapter.BillingProvider, run *model.SagaRun) error {
		return p.ArchiveProduct(ctx, run.ProductID)
	},
}

func (u *subscribeUC) Run(ctx context.Context, in SubscribeInput) (*SubscribeResult, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if err := validateInput(in); err != nil {
		metrics.IncSagaRun("rejected")
		return nil, err
	}

	key := in.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	ctx = logging.WithIdempotencyKey(ctx, key)
	hash := inputHash(in)

	if prev, err := u.runs.FindByIdempotencyKey(ctx, key); err == nil {
		if prev.InputHash != hash {
			metrics.IncSagaRun("rejected")
			return nil, domain.Invalid("idempotency key reused with different parameters")
		}
		return u.replay(prev)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("lookup run: %w", err)
	}

	now := u.now()
	run := &model.SagaRun{
		ID:             ulid.Make().String(),
		IdempotencyKey: key,
		InputHash:      hash,
		Status:         model.SagaStatusRunning,
		Email:          in.Email,
		UnitAmount:     in.UnitAmount,
		Currency:       u.billing.Currency,
		Interval:       u.billing.Interval,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := u.runs.Create(ctx, run); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: a run with this idempotency key is in progress", domain.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create run: %w", err)
	}

	ctx = logging.WithRunID(ctx, run.ID)
	log := logging.With(ctx, u.log)
	defer logging.TraceDuration(log, "SubscribeUC.Run")()
	log.Info().Str("email", logging.Redact(in.Email, u.dev)).Int64("unit_amount", in.UnitAmount).Msg("subscribe saga started")

	for _, step := range u.steps() {
		start := time.Now()
		err := step.do(ctx, run, in, key+":"+string(step.name))
		metrics.ObserveSagaStep(string(step.name), err == nil, time.Since(start))
		if err != nil {
			run.Fail(step.name, err.Error())
			log.Warn().Err(err).Str("step", string(step.name)).Msg("saga step failed")
			if u.saga.Compensate {
				u.compensate(ctx, run)
			}
			u.save(ctx, run)
			metrics.IncSagaRun(string(run.Status))
			return nil, &domain.StepError{Step: string(step.name), Err: err}
		}
		run.Advance(step.name)
		u.save(ctx, run)
	}

	run.Status = model.SagaStatusSucceeded
	run.UpdatedAt = u.now()
	u.save(ctx, run)
	metrics.IncSagaRun(string(run.Status))
	log.Info().Str("subscription_id", run.SubscriptionID).Msg("subscribe saga succeeded")
	return resultOf(run), nil
}

// replay answers a repeated idempotency key from the ledger.
func (u *subscribeUC) replay(prev *model.SagaRun) (*SubscribeResult, error) {
	switch prev.Status {
	case model.SagaStatusSucceeded:
		return resultOf(prev), nil
	case model.SagaStatusRunning:
		return nil, fmt.Errorf("%w: a run with this idempotency key is in progress", domain.ErrAlreadyExists)
	default:
		return nil, domain.Stateful("run %s with this idempotency key failed at step %s; use a new key", prev.ID, prev.FailedStep)
	}
}

func (u *subscribeUC) Compensate(ctx context.Context, runID string) (*model.SagaRun, error) {
	run, err := u.runs.FindByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithRunID(ctx, run.ID)

	switch {
	case run.Status == model.SagaStatusFailed, run.Status == model.SagaStatusCompensationFailed:
	case run.Stale(u.now(), u.saga.StaleAfter):
		next := run.Next()
		if next == model.StepNone {
			// every step completed; only the final ledger write was lost
			run.Status = model.SagaStatusSucceeded
			run.UpdatedAt = u.now()
			u.save(ctx, run)
			return run, nil
		}
		logging.With(ctx, u.log).Warn().Str("cursor", string(run.Cursor)).Time("last_progress", run.UpdatedAt).Msg("abandoned saga run")
		run.Fail(next, "abandoned: no progress since "+run.UpdatedAt.UTC().Format(time.RFC3339))
	case run.Status == model.SagaStatusRunning:
		return nil, domain.Stateful("run %s is still running", run.ID)
	default:
		return nil, domain.Stateful("run %s is %s; only failed runs can be compensated", run.ID, run.Status)
	}
	u.compensate(ctx, run)
	u.save(ctx, run)
	return run, nil
}

func (u *subscribeUC) GetRun(ctx context.Context, runID string) (*model.SagaRun, error) {
	return u.runs.FindByID(ctx, runID)
}

// compensate undoes completed steps newest first. It runs on a fresh deadline so a
// cancelled request still gets cleaned up. Objects already gone count as undone.
func (u *subscribeUC) compensate(ctx context.Context, run *model.SagaRun) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.saga.CompensationTimeout)
	defer cancel()
	log := logging.With(ctx, u.log)

	completed := run.Completed()
	failed := false
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		fn, ok := undo[step]
		if !ok || run.IsCompensated(step) {
			continue
		}
		if err := fn(cctx, u.provider, run); err != nil && !errors.Is(err, domain.ErrNotFound) {
			failed = true
			metrics.IncCompensation(string(step), false)
			log.Warn().Err(err).Str("step", string(step)).Msg("compensation failed")
			continue
		}
		run.Compensated = append(run.Compensated, step)
		metrics.IncCompensation(string(step), true)
		log.Debug().Str("step", string(step)).Msg("compensated")
	}

	switch {
	case failed:
		run.Status = model.SagaStatusCompensationFailed
	case len(run.Compensated) > 0:
		run.Status = model.SagaStatusCompensated
	default:
		run.Status = model.SagaStatusFailed
	}
	run.UpdatedAt = u.now()
}

// save persists run progress, even after ctx is cancelled. A ledger failure is logged, not returned.
func (u *subscribeUC) save(ctx context.Context, run *model.SagaRun) {
	if err := u.runs.Save(context.WithoutCancel(ctx), run); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("cursor", string(run.Cursor)).Msg("persist saga run")
	}
}

// inputHash fingerprints the caller-supplied fields a key is bound to. Email compares case-insensitively.
func inputHash(in SubscribeInput) string {
	h := sha256.New()
	for _, f := range []string{strings.ToLower(in.Email), in.Name, in.PaymentMethod, strconv.FormatInt(in.UnitAmount, 10)} {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func resultOf(run *model.SagaRun) *SubscribeResult {
	return &SubscribeResult{
		RunID:          run.ID,
		ProductID:      run.ProductID,
		PriceID:        run.PriceID,
		CustomerID:     run.CustomerID,
		SubscriptionID: run.SubscriptionID,
		ItemID:         run.ItemID,
	}
}
