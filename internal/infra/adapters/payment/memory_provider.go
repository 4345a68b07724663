package payment

import (
	"context"
	"fmt"
	"sync"

	"billing-saga/internal/domain"
	"billing-saga/internal/domain/model"
	"billing-saga/internal/domain/ports/adapter"
)

var _ adapter.BillingProvider = (*MemoryProvider)(nil)

// MemoryProvider is an in-process provider used in dev mode and tests.
// It honours idempotency keys the way the real provider does: a repeated key returns the first result.
type MemoryProvider struct {
	mu  sync.Mutex
	seq int64

	products      map[string]*model.Product
	prices        map[string]*model.Price
	customers     map[string]*model.Customer
	subscriptions map[string]*model.Subscription
	archived      map[string]bool // product and price ids
	idempotent    map[string]any

	// FailOn makes the named operation (e.g. "CreateCustomer") return the error instead of running.
	FailOn map[string]error
	// Calls records every operation name in order.
	Calls []string
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		products:      make(map[string]*model.Product),
		prices:        make(map[string]*model.Price),
		customers:     make(map[string]*model.Customer),
		subscriptions: make(map[string]*model.Subscription),
		archived:      make(map[string]bool),
		idempotent:    make(map[string]any),
		FailOn:        make(map[string]error),
	}
}

func (m *MemoryProvider) Name() string { return "memory" }

func (m *MemoryProvider) next(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_mem%d", prefix, m.seq)
}

// begin records the call and returns an injected failure, if any. Caller holds mu.
func (m *MemoryProvider) begin(op string) error {
	m.Calls = append(m.Calls, op)
	return m.FailOn[op]
}

func notFound(kind, id string) error {
	return &domain.ProviderError{Kind: domain.ErrNotFound, Code: "resource_missing", Message: fmt.Sprintf("No such %s: '%s'", kind, id)}
}

func rejected(format string, args ...any) error {
	return &domain.ProviderError{Kind: domain.ErrProviderValidation, Message: fmt.Sprintf(format, args...)}
}

func (m *MemoryProvider) CreateProduct(ctx context.Context, in adapter.ProductParams) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreateProduct"); err != nil {
		return nil, err
	}
	if v, ok := m.idempotent[in.IdempotencyKey].(*model.Product); ok && in.IdempotencyKey != "" {
		cp := *v
		return &cp, nil
	}
	if in.Name == "" {
		return nil, rejected("Missing required param: name.")
	}
	p := &model.Product{ID: m.next("prod"), Name: in.Name, Description: in.Description}
	m.products[p.ID] = p
	m.remember(in.IdempotencyKey, p)
	cp := *p
	return &cp, nil
}

func (m *MemoryProvider) CreatePrice(ctx context.Context, in adapter.PriceParams) (*model.Price, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreatePrice"); err != nil {
		return nil, err
	}
	if v, ok := m.idempotent[in.IdempotencyKey].(*model.Price); ok && in.IdempotencyKey != "" {
		cp := *v
		return &cp, nil
	}
	if _, ok := m.products[in.ProductID]; !ok {
		return nil, notFound("product", in.ProductID)
	}
	if in.UnitAmount <= 0 {
		return nil, rejected("Invalid positive integer")
	}
	p := &model.Price{ID: m.next("price"), ProductID: in.ProductID, UnitAmount: in.UnitAmount, Currency: in.Currency, Interval: in.Interval}
	m.prices[p.ID] = p
	m.remember(in.IdempotencyKey, p)
	cp := *p
	return &cp, nil
}

func (m *MemoryProvider) CreateCustomer(ctx context.Context, in adapter.CustomerParams) (*model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreateCustomer"); err != nil {
		return nil, err
	}
	if v, ok := m.idempotent[in.IdempotencyKey].(*model.Customer); ok && in.IdempotencyKey != "" {
		cp := *v
		return &cp, nil
	}
	if in.PaymentMethod == "" {
		return nil, rejected("No such PaymentMethod: ''")
	}
	c := &model.Customer{ID: m.next("cus"), Email: in.Email, Name: in.Name, DefaultPaymentMethod: in.PaymentMethod}
	m.customers[c.ID] = c
	m.remember(in.IdempotencyKey, c)
	cp := *c
	return &cp, nil
}

func (m *MemoryProvider) CreateSubscription(ctx context.Context, in adapter.SubscriptionParams) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreateSubscription"); err != nil {
		return nil, err
	}
	if v, ok := m.idempotent[in.IdempotencyKey].(*model.Subscription); ok && in.IdempotencyKey != "" {
		return cloneSubscription(v), nil
	}
	if _, ok := m.customers[in.CustomerID]; !ok {
		return nil, notFound("customer", in.CustomerID)
	}
	if _, ok := m.prices[in.PriceID]; !ok {
		return nil, notFound("price", in.PriceID)
	}
	qty := in.Quantity
	if qty <= 0 {
		qty = 1
	}
	s := &model.Subscription{
		ID:         m.next("sub"),
		CustomerID: in.CustomerID,
		Status:     "active",
		Items:      []model.SubscriptionItem{{ID: m.next("si"), PriceID: in.PriceID, Quantity: qty}},
	}
	m.subscriptions[s.ID] = s
	m.remember(in.IdempotencyKey, s)
	return cloneSubscription(s), nil
}

func (m *MemoryProvider) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("GetSubscription"); err != nil {
		return nil, err
	}
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, notFound("subscription", id)
	}
	return cloneSubscription(s), nil
}

func (m *MemoryProvider) UpdateSubscriptionItem(ctx context.Context, in adapter.SubscriptionItemUpdate) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("UpdateSubscriptionItem"); err != nil {
		return nil, err
	}
	s, ok := m.subscriptions[in.SubscriptionID]
	if !ok {
		return nil, notFound("subscription", in.SubscriptionID)
	}
	if _, ok := m.prices[in.PriceID]; !ok {
		return nil, notFound("price", in.PriceID)
	}
	for i := range s.Items {
		if s.Items[i].ID == in.ItemID {
			s.Items[i].PriceID = in.PriceID
			return cloneSubscription(s), nil
		}
	}
	return nil, notFound("subscription_item", in.ItemID)
}

func (m *MemoryProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*model.PortalSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreatePortalSession"); err != nil {
		return nil, err
	}
	if _, ok := m.customers[customerID]; !ok {
		return nil, notFound("customer", customerID)
	}
	id := m.next("bps")
	return &model.PortalSession{ID: id, URL: "https://billing.example.test/p/session/" + id + "?return=" + returnURL, CustomerID: customerID}, nil
}

func (m *MemoryProvider) ArchiveProduct(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("ArchiveProduct"); err != nil {
		return err
	}
	if _, ok := m.products[id]; !ok {
		return notFound("product", id)
	}
	m.archived[id] = true
	return nil
}

func (m *MemoryProvider) DeactivatePrice(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DeactivatePrice"); err != nil {
		return err
	}
	if _, ok := m.prices[id]; !ok {
		return notFound("price", id)
	}
	m.archived[id] = true
	return nil
}

func (m *MemoryProvider) DeleteCustomer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DeleteCustomer"); err != nil {
		return err
	}
	if _, ok := m.customers[id]; !ok {
		return notFound("customer", id)
	}
	delete(m.customers, id)
	return nil
}

// AddPrice creates a price outside the saga, e.g. the new price for a plan change.
func (m *MemoryProvider) AddPrice(productID string, unitAmount int64) *model.Price {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &model.Price{ID: m.next("price"), ProductID: productID, UnitAmount: unitAmount, Currency: model.CurrencyUSD, Interval: model.IntervalMonth}
	m.prices[p.ID] = p
	cp := *p
	return &cp
}

// PutSubscription stores s as is (tests use it to build odd shapes such as zero items).
func (m *MemoryProvider) PutSubscription(s *model.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[s.ID] = cloneSubscription(s)
}

func (m *MemoryProvider) Price(id string) (*model.Price, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

func (m *MemoryProvider) Customer(id string) (*model.Customer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// CallLog returns a copy of Calls.
func (m *MemoryProvider) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}

// Archived reports whether a product or price was deactivated.
func (m *MemoryProvider) Archived(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.archived[id]
}

// Count returns how many objects of kind ("product", "price", "customer", "subscription") exist.
func (m *MemoryProvider) Count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case "product":
		return len(m.products)
	case "price":
		return len(m.prices)
	case "customer":
		return len(m.customers)
	case "subscription":
		return len(m.subscriptions)
	}
	return 0
}

func (m *MemoryProvider) remember(key string, v any) {
	if key != "" {
		m.idempotent[key] = v
	}
}

func cloneSubscription(s *model.Subscription) *model.Subscription {
	cp := *s
	cp.Items = append([]model.SubscriptionItem(nil), s.Items...)
	return &cp
}
