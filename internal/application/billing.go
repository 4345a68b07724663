package application

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"billing-saga/internal/config"
	"billing-saga/internal/domain/ports/adapter"
	"billing-saga/internal/domain/ports/repository"
	"billing-saga/internal/infra/adapters/payment"
	"billing-saga/internal/infra/db/memory"
	pg "billing-saga/internal/infra/db/postgres"
	red "billing-saga/internal/infra/redis"
	"billing-saga/internal/usecase"
)

// Billing wires the provider, the run ledger and the use cases for one process.
// Both cmd/app and cmd/billingctl build it from the same config.
type Billing struct {
	Provider adapter.BillingProvider
	Runs     repository.SagaRunRepository

	Subscribe     usecase.SubscribeUseCase
	Prices        usecase.PriceUseCase
	Subscriptions usecase.SubscriptionUseCase
	Portal        usecase.PortalUseCase

	Pool  *pgxpool.Pool // nil with the in-memory ledger
	Redis *red.Client   // nil when redis.url is empty
}

// Build connects every configured backend. In dev mode without a Stripe key the
// in-memory provider is used.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, withRedis bool) (*Billing, error) {
	b := &Billing{}

	switch {
	case cfg.Stripe.SecretKey != "":
		sp, err := payment.NewStripeProvider(cfg.Stripe.SecretKey,
			payment.WithBaseURL(cfg.Stripe.BaseURL),
			payment.WithCallTimeout(cfg.Stripe.CallTimeout),
			payment.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		b.Provider = sp
	case cfg.Runtime.Dev:
		logger.Warn().Msg("no stripe.secret_key in dev mode; using the in-memory provider")
		b.Provider = payment.NewMemoryProvider()
	default:
		return nil, fmt.Errorf("stripe.secret_key is required")
	}

	if cfg.Database.URL != "" {
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.Pool = pool
		b.Runs = pg.NewSagaRunRepo(pool)
	} else {
		logger.Warn().Msg("no database.url; saga runs are kept in memory")
		b.Runs = memory.NewSagaRunRepo()
	}

	if withRedis && cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.Redis = rc
	}

	b.Subscribe = usecase.NewSubscribeUseCase(b.Provider, b.Runs, cfg.Billing, cfg.Saga, cfg.Runtime.Dev, logger)
	b.Prices = usecase.NewPriceUseCase(b.Provider, cfg.Billing, logger)
	b.Subscriptions = usecase.NewSubscriptionUseCase(b.Provider, cfg.Billing.ProrationBehavior, logger)
	b.Portal = usecase.NewPortalUseCase(b.Provider, cfg.Billing.PortalReturnURL, logger)
	return b, nil
}

func (b *Billing) Close() {
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}
