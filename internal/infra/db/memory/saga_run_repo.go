// File: internal/infra/db/memory/saga_run_repo.go
package memory

import (
	"context"
	"sort"
	"sync"

	"billing-saga/internal/domain"
	"billing-saga/internal/domain/model"
	"billing-saga/internal/domain/ports/repository"
)

var _ repository.SagaRunRepository = (*SagaRunRepo)(nil)

// SagaRunRepo keeps the run ledger in process memory. Used when no database is configured.
type SagaRunRepo struct {
	mu    sync.RWMutex
	byID  map[string]*model.SagaRun
	byKey map[string]string
}

func NewSagaRunRepo() *SagaRunRepo {
	return &SagaRunRepo{
		byID:  make(map[string]*model.SagaRun),
		byKey: make(map[string]string),
	}
}

func (r *SagaRunRepo) Create(ctx context.Context, run *model.SagaRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[run.IdempotencyKey]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := r.byID[run.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.byID[run.ID] = clone(run)
	r.byKey[run.IdempotencyKey] = run.ID
	return nil
}

func (r *SagaRunRepo) Save(ctx context.Context, run *model.SagaRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[run.ID]; !ok {
		return domain.ErrNotFound
	}
	r.byID[run.ID] = clone(run)
	return nil
}

func (r *SagaRunRepo) FindByID(ctx context.Context, id string) (*model.SagaRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(run), nil
}

func (r *SagaRunRepo) FindByIdempotencyKey(ctx context.Context, key string) (*model.SagaRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(r.byID[id]), nil
}

// ListByStatus returns up to limit runs with status, oldest first.
func (r *SagaRunRepo) ListByStatus(ctx context.Context, status model.SagaStatus, limit int) ([]*model.SagaRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.SagaRun
	for _, run := range r.byID {
		if run.Status == status {
			out = append(out, clone(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(run *model.SagaRun) *model.SagaRun {
	cp := *run
	cp.Compensated = append([]model.SagaStep(nil), run.Compensated...)
	return &cp
}
