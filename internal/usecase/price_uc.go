// File: internal/usecase/price_uc.go
package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"billing-saga/internal/config"
	"billing-saga/internal/domain/model"
	"billing-saga/internal/domain/ports/adapter"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/infra/metrics"
)

// CreatePriceInput adds a recurring price to an existing product.
// UnitAmount is in minor currency units (cents).
type CreatePriceInput struct {
	ProductID      string `json:"product_id" validate:"required"`
	UnitAmount     int64  `json:"unit_amount" validate:"gt=0"`
	IdempotencyKey string `json:"-" validate:"max=200"`
}

// PriceUseCase creates prices outside the subscribe saga, e.g. the target of a price change.
type PriceUseCase interface {
	Create(ctx context.Context, in CreatePriceInput) (*model.Price, error)
}

// Compile-time check
var _ PriceUseCase = (*priceUC)(nil)

type priceUC struct {
	provider adapter.BillingProvider
	billing  config.BillingConfig
	log      *zerolog.Logger
}

func NewPriceUseCase(provider adapter.BillingProvider, billing config.BillingConfig, logger *zerolog.Logger) PriceUseCase {
	if logger == nil {
		logger = logging.Nop()
	}
	return &priceUC{provider: provider, billing: billing, log: logger}
}

// Create uses the configured currency and interval, the same ones the saga prices with.
// With an idempotency key the provider call carries "<key>:create_price".
func (u *priceUC) Create(ctx context.Context, in CreatePriceInput) (*model.Price, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if err := validateInput(in); err != nil {
		return nil, err
	}

	params := adapter.PriceParams{
		ProductID:  in.ProductID,
		UnitAmount: in.UnitAmount,
		Currency:   u.billing.Currency,
		Interval:   u.billing.Interval,
	}
	if in.IdempotencyKey != "" {
		params.IdempotencyKey = in.IdempotencyKey + ":create_price"
		ctx = logging.WithIdempotencyKey(ctx, in.IdempotencyKey)
	}
	log := logging.With(ctx, u.log)

	price, err := u.provider.CreatePrice(ctx, params)
	metrics.IncPriceCreated(err == nil)
	if err != nil {
		log.Warn().Err(err).Str("product_id", in.ProductID).Msg("create price failed")
		return nil, err
	}
	log.Info().Str("price_id", price.ID).Int64("unit_amount", price.UnitAmount).Msg("price created")
	return price, nil
}
