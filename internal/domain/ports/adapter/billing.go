package adapter

import (
	"context"

	"billing-saga/internal/domain/model"
)

// ProductParams creates a product. IdempotencyKey, when set, makes a retried call return the
// object created by the first attempt instead of a duplicate.
type ProductParams struct {
	Name           string
	Description    string
	IdempotencyKey string
}

type PriceParams struct {
	ProductID      string
	UnitAmount     int64 // minor units
	Currency       string
	Interval       string
	IdempotencyKey string
}

// CustomerParams creates a customer with PaymentMethod attached and set as the invoice default.
type CustomerParams struct {
	Email          string
	Name           string
	PaymentMethod  string
	IdempotencyKey string
}

type SubscriptionParams struct {
	CustomerID     string
	PriceID        string
	Quantity       int64
	IdempotencyKey string
}

// SubscriptionItemUpdate replaces the price of an existing item in place.
type SubscriptionItemUpdate struct {
	SubscriptionID    string
	ItemID            string
	PriceID           string
	ProrationBehavior string // provider default when empty
	IdempotencyKey    string
}

// BillingProvider is the hex port for the remote payment provider.
// All errors are *domain.ProviderError (or wrap one) so callers can branch on the category.
type BillingProvider interface {
	Name() string

	CreateProduct(ctx context.Context, p ProductParams) (*model.Product, error)
	CreatePrice(ctx context.Context, p PriceParams) (*model.Price, error)
	CreateCustomer(ctx context.Context, p CustomerParams) (*model.Customer, error)
	CreateSubscription(ctx context.Context, p SubscriptionParams) (*model.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	UpdateSubscriptionItem(ctx context.Context, p SubscriptionItemUpdate) (*model.Subscription, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*model.PortalSession, error)

	// Compensation. Prices and products cannot be deleted once used, so they are deactivated.
	ArchiveProduct(ctx context.Context, id string) error
	DeactivatePrice(ctx context.Context, id string) error
	DeleteCustomer(ctx context.Context, id string) error
}
