package model

import (
	"math"

	"billing-saga/internal/domain"
)

const (
	CurrencyUSD   = "usd"
	IntervalMonth = "month"
)

// Product is a sellable offering at the provider.
type Product struct {
	ID          string
	Name        string
	Description string
}

// Price is immutable once created; changing amount, interval or currency means a new Price.
type Price struct {
	ID         string
	ProductID  string
	UnitAmount int64  // minor currency units (cents)
	Currency   string // ISO code, lower case
	Interval   string // recurring interval, e.g. "month"
}

// Customer is a paying customer. DefaultPaymentMethod is charged for future invoices.
type Customer struct {
	ID                   string
	Email                string
	Name                 string
	DefaultPaymentMethod string
}

// SubscriptionItem binds a price and quantity inside a subscription.
// ID is assigned by the provider and is stable across price changes.
type SubscriptionItem struct {
	ID       string
	PriceID  string
	Quantity int64
}

type Subscription struct {
	ID         string
	CustomerID string
	Status     string
	Items      []SubscriptionItem
}

// Item returns the item with the given id.
func (s *Subscription) Item(id string) (SubscriptionItem, bool) {
	for _, it := range s.Items {
		if it.ID == id {
			return it, true
		}
	}
	return SubscriptionItem{}, false
}

// PortalSession is a short-lived self-service redirect. Not persisted.
type PortalSession struct {
	ID         string
	URL        string
	CustomerID string
}

// MaxMajorUnits is the largest whole amount whose minor-unit value fits in int64.
const MaxMajorUnits = math.MaxInt64 / 100

// MinorUnits converts whole currency units to minor units (20 -> 2000).
// Amounts must be positive and at most MaxMajorUnits.
func MinorUnits(major int64) (int64, error) {
	if major <= 0 {
		return 0, domain.Invalid("amount must be greater than 0")
	}
	if major > MaxMajorUnits {
		return 0, domain.Invalid("amount must be at most %d", MaxMajorUnits)
	}
	return major * 100, nil
}
