package repository

import (
	"context"

	"billing-saga/internal/domain/model"
)

// SagaRunRepository is the ledger of subscribe saga runs.
type SagaRunRepository interface {
	// Create inserts a new run; ErrAlreadyExists if the idempotency key is taken.
	Create(ctx context.Context, run *model.SagaRun) error
	// Save overwrites the mutable fields of an existing run.
	Save(ctx context.Context, run *model.SagaRun) error
	FindByID(ctx context.Context, id string) (*model.SagaRun, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.SagaRun, error)
	ListByStatus(ctx context.Context, status model.SagaStatus, limit int) ([]*model.SagaRun, error)
}
