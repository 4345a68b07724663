package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"billing-saga/internal/domain"
	"billing-saga/internal/domain/model"
	"billing-saga/internal/domain/ports/repository"
)

var _ repository.SagaRunRepository = (*sagaRunRepo)(nil)

type sagaRunRepo struct{ pool *pgxpool.Pool }

func NewSagaRunRepo(pool *pgxpool.Pool) *sagaRunRepo {
	return &sagaRunRepo{pool: pool}
}

const sagaRunColumns = `id, idempotency_key, input_hash, status, cursor, failed_step, error, email, unit_amount, currency, interval,
  product_id, price_id, customer_id, subscription_id, item_id, compensated, created_at, updated_at`

func (r *sagaRunRepo) Create(ctx context.Context, run *model.SagaRun) error {
	const q = `
INSERT INTO saga_runs (` + sagaRunColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19);`

	_, err := execSQL(ctx, r.pool, q, run.ID, run.IdempotencyKey, run.InputHash, string(run.Status), string(run.Cursor), string(run.FailedStep), run.Error,
		run.Email, run.UnitAmount, run.Currency, run.Interval,
		run.ProductID, run.PriceID, run.CustomerID, run.SubscriptionID, run.ItemID, stepsToText(run.Compensated), run.CreatedAt, run.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		if err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *sagaRunRepo) Save(ctx context.Context, run *model.SagaRun) error {
	const q = `
UPDATE saga_runs SET
  status=$2, cursor=$3, failed_step=$4, error=$5,
  product_id=$6, price_id=$7, customer_id=$8, subscription_id=$9, item_id=$10,
  compensated=$11, updated_at=$12
WHERE id=$1;`

	cmd, err := execSQL(ctx, r.pool, q, run.ID, string(run.Status), string(run.Cursor), string(run.FailedStep), run.Error,
		run.ProductID, run.PriceID, run.CustomerID, run.SubscriptionID, run.ItemID, stepsToText(run.Compensated), run.UpdatedAt)
	if err != nil {
		if err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sagaRunRepo) FindByID(ctx context.Context, id string) (*model.SagaRun, error) {
	return r.findOne(ctx, `SELECT `+sagaRunColumns+` FROM saga_runs WHERE id=$1;`, id)
}

func (r *sagaRunRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.SagaRun, error) {
	return r.findOne(ctx, `SELECT `+sagaRunColumns+` FROM saga_runs WHERE idempotency_key=$1;`, key)
}

func (r *sagaRunRepo) findOne(ctx context.Context, q string, arg string) (*model.SagaRun, error) {
	row, err := pickRow(ctx, r.pool, q, arg)
	if err != nil {
		return nil, err
	}
	run, err := scanSagaRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	return run, nil
}

func (r *sagaRunRepo) ListByStatus(ctx context.Context, status model.SagaStatus, limit int) ([]*model.SagaRun, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + sagaRunColumns + ` FROM saga_runs WHERE status=$1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, q, string(status), limit)
	if err != nil {
		if err == domain.ErrInvalidExecContext {
			return nil, err
		}
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	var out []*model.SagaRun
	for rows.Next() {
		run, err := scanSagaRun(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, run)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func scanSagaRun(row pgx.Row) (*model.SagaRun, error) {
	var (
		run                    model.SagaRun
		status, cursor, failed string
		compensated            []string
	)
	if err := row.Scan(&run.ID, &run.IdempotencyKey, &run.InputHash, &status, &cursor, &failed, &run.Error,
		&run.Email, &run.UnitAmount, &run.Currency, &run.Interval,
		&run.ProductID, &run.PriceID, &run.CustomerID, &run.SubscriptionID, &run.ItemID,
		&compensated, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = model.SagaStatus(status)
	run.Cursor = model.SagaStep(cursor)
	run.FailedStep = model.SagaStep(failed)
	for _, s := range compensated {
		run.Compensated = append(run.Compensated, model.SagaStep(s))
	}
	return &run, nil
}

func stepsToText(steps []model.SagaStep) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, string(s))
	}
	return out
}
