// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"billing-saga/internal/domain"
	"billing-saga/internal/domain/model"
	"billing-saga/internal/domain/ports/adapter"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/infra/metrics"
)

// ChangePriceInput moves one subscription item to a new price.
// ItemID or CurrentPriceID selects the item; with neither, the subscription must have exactly one item.
type ChangePriceInput struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	NewPriceID     string `json:"new_price_id" validate:"required"`
	ItemID         string `json:"item_id"`
	CurrentPriceID string `json:"current_price_id"`
	IdempotencyKey string `json:"-" validate:"max=200"`
}

// SubscriptionUseCase mutates existing subscriptions.
type SubscriptionUseCase interface {
	// ChangePrice retrieves the subscription, then updates the selected item in place
	// (same item id, new price). No new item is added and the old one is not removed.
	ChangePrice(ctx context.Context, in ChangePriceInput) (*model.Subscription, error)

	Get(ctx context.Context, subscriptionID string) (*model.Subscription, error)
}

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

type subscriptionUC struct {
	provider  adapter.BillingProvider
	proration string
	log       *zerolog.Logger
}

func NewSubscriptionUseCase(provider adapter.BillingProvider, prorationBehavior string, logger *zerolog.Logger) SubscriptionUseCase {
	if logger == nil {
		logger = logging.Nop()
	}
	return &subscriptionUC{provider: provider, proration: prorationBehavior, log: logger}
}

const (
	stepGetSubscription = "get_subscription"
	stepUpdateItem      = "update_item"
)

func (u *subscriptionUC) ChangePrice(ctx context.Context, in ChangePriceInput) (*model.Subscription, error) {
	in.SubscriptionID = strings.TrimSpace(in.SubscriptionID)
	in.NewPriceID = strings.TrimSpace(in.NewPriceID)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.IdempotencyKey != "" {
		ctx = logging.WithIdempotencyKey(ctx, in.IdempotencyKey)
	}
	log := logging.With(ctx, u.log)
	defer logging.TraceDuration(log, "SubscriptionUC.ChangePrice")()

	sub, err := u.provider.GetSubscription(ctx, in.SubscriptionID)
	if err != nil {
		metrics.IncPriceChange(false)
		return nil, &domain.StepError{Step: stepGetSubscription, Err: err}
	}

	item, err := selectItem(sub, in)
	if err != nil {
		metrics.IncPriceChange(false)
		return nil, err
	}

	key := ""
	if in.IdempotencyKey != "" {
		key = in.IdempotencyKey + ":" + stepUpdateItem
	}
	updated, err := u.provider.UpdateSubscriptionItem(ctx, adapter.SubscriptionItemUpdate{
		SubscriptionID:    sub.ID,
		ItemID:            item.ID,
		PriceID:           in.NewPriceID,
		ProrationBehavior: u.proration,
		IdempotencyKey:    key,
	})
	if err != nil {
		metrics.IncPriceChange(false)
		log.Warn().Err(err).Str("subscription_id", sub.ID).Str("item_id", item.ID).Msg("price change failed")
		return nil, &domain.StepError{Step: stepUpdateItem, Err: err}
	}

	metrics.IncPriceChange(true)
	log.Info().
		Str("subscription_id", sub.ID).
		Str("item_id", item.ID).
		Str("from_price", item.PriceID).
		Str("to_price", in.NewPriceID).
		Msg("subscription price changed")
	return updated, nil
}

func (u *subscriptionUC) Get(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, domain.Invalid("subscription_id is required")
	}
	return u.provider.GetSubscription(ctx, subscriptionID)
}

// selectItem picks the item to mutate. An explicit ItemID wins over CurrentPriceID.
func selectItem(sub *model.Subscription, in ChangePriceInput) (model.SubscriptionItem, error) {
	if len(sub.Items) == 0 {
		return model.SubscriptionItem{}, domain.Stateful("subscription %s has no items", sub.ID)
	}
	switch {
	case in.ItemID != "":
		if it, ok := sub.Item(in.ItemID); ok {
			return it, nil
		}
		return model.SubscriptionItem{}, domain.NotFound("subscription item %s not found on %s", in.ItemID, sub.ID)
	case in.CurrentPriceID != "":
		var found []model.SubscriptionItem
		for _, it := range sub.Items {
			if it.PriceID == in.CurrentPriceID {
				found = append(found, it)
			}
		}
		switch len(found) {
		case 0:
			return model.SubscriptionItem{}, domain.NotFound("no item with price %s on %s", in.CurrentPriceID, sub.ID)
		case 1:
			return found[0], nil
		}
		return model.SubscriptionItem{}, domain.Stateful("subscription %s has %d items with price %s; pass item_id", sub.ID, len(found), in.CurrentPriceID)
	}
	if len(sub.Items) > 1 {
		return model.SubscriptionItem{}, domain.Stateful("subscription %s has %d items; pass item_id or current_price_id", sub.ID, len(sub.Items))
	}
	return sub.Items[0], nil
}
