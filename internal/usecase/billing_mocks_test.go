//go:build !integration

package usecase_test

import (
	"context"
	"sync"

	"billing-saga/internal/config"
	"billing-saga/internal/domain/model"
	"billing-saga/internal/domain/ports/adapter"
	"billing-saga/internal/domain/ports/repository"
	"billing-saga/internal/infra/adapters/payment"
	"billing-saga/internal/infra/db/memory"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/usecase"
)

// -----------------------------
// Provider: MemoryProvider plus idempotency-key capture
// -----------------------------

type recordingProvider struct {
	*payment.MemoryProvider

	mu   sync.Mutex
	Keys map[string]string // op -> idempotency key of the last call
}

var _ adapter.BillingProvider = (*recordingProvider)(nil)

func newRecordingProvider() *recordingProvider {
	return &recordingProvider{MemoryProvider: payment.NewMemoryProvider(), Keys: map[string]string{}}
}

func (p *recordingProvider) key(op, k string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Keys[op] = k
}

func (p *recordingProvider) CreateProduct(ctx context.Context, in adapter.ProductParams) (*model.Product, error) {
	p.key("CreateProduct", in.IdempotencyKey)
	return p.MemoryProvider.CreateProduct(ctx, in)
}

func (p *recordingProvider) CreatePrice(ctx context.Context, in adapter.PriceParams) (*model.Price, error) {
	p.key("CreatePrice", in.IdempotencyKey)
	return p.MemoryProvider.CreatePrice(ctx, in)
}

func (p *recordingProvider) CreateCustomer(ctx context.Context, in adapter.CustomerParams) (*model.Customer, error) {
	p.key("CreateCustomer", in.IdempotencyKey)
	return p.MemoryProvider.CreateCustomer(ctx, in)
}

func (p *recordingProvider) CreateSubscription(ctx context.Context, in adapter.SubscriptionParams) (*model.Subscription, error) {
	p.key("CreateSubscription", in.IdempotencyKey)
	return p.MemoryProvider.CreateSubscription(ctx, in)
}

func (p *recordingProvider) UpdateSubscriptionItem(ctx context.Context, in adapter.SubscriptionItemUpdate) (*model.Subscription, error) {
	p.key("UpdateSubscriptionItem", in.IdempotencyKey)
	return p.MemoryProvider.UpdateSubscriptionItem(ctx, in)
}

// -----------------------------
// Ledger: memory repo with hooks
// -----------------------------

type MockSagaRunRepo struct {
	*memory.SagaRunRepo

	SaveFunc func(ctx context.Context, run *model.SagaRun) error
}

var _ repository.SagaRunRepository = (*MockSagaRunRepo)(nil)

func NewMockSagaRunRepo() *MockSagaRunRepo {
	return &MockSagaRunRepo{SagaRunRepo: memory.NewSagaRunRepo()}
}

func (m *MockSagaRunRepo) Save(ctx context.Context, run *model.SagaRun) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, run)
	}
	return m.SagaRunRepo.Save(ctx, run)
}

// -----------------------------
// Wiring helpers
// -----------------------------

func testBilling() config.BillingConfig {
	return config.Default().Billing
}

func newSubscribe(p adapter.BillingProvider, runs repository.SagaRunRepository, compensate bool) usecase.SubscribeUseCase {
	saga := config.Default().Saga
	saga.Compensate = compensate
	return usecase.NewSubscribeUseCase(p, runs, testBilling(), saga, true, logging.Nop())
}

func calls(p *recordingProvider) []string {
	return p.CallLog()
}
