// File: internal/infra/adapters/payment/stripe_provider.go
package payment

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"

	"billing-saga/internal/domain"
	"billing-saga/internal/domain/model"
	"billing-saga/internal/domain/ports/adapter"
	"billing-saga/internal/infra/metrics"
)

var _ adapter.BillingProvider = (*StripeProvider)(nil)

// StripeProvider implements adapter.BillingProvider on a dedicated stripe.Client.
// It never touches the package-level stripe.Key, so several providers (or test servers) can coexist.
type StripeProvider struct {
	sc      *stripe.Client
	timeout time.Duration
}

type stripeOptions struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zerolog.Logger
}

type StripeOption func(*stripeOptions)

// WithBaseURL points the client at another API host (stripe-mock, tests).
func WithBaseURL(u string) StripeOption { return func(o *stripeOptions) { o.baseURL = u } }

func WithHTTPClient(c *http.Client) StripeOption { return func(o *stripeOptions) { o.httpClient = c } }

// WithCallTimeout bounds every remote call. A timeout is a terminal failure for that call.
func WithCallTimeout(d time.Duration) StripeOption { return func(o *stripeOptions) { o.timeout = d } }

func WithLogger(l *zerolog.Logger) StripeOption { return func(o *stripeOptions) { o.logger = l } }

// NewStripeProvider builds a provider from a secret key (sk_test_... / sk_live_...).
// Network retries are disabled: a failed call is surfaced, never replayed behind the caller's back.
func NewStripeProvider(secretKey string, opts ...StripeOption) (*StripeProvider, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	o := stripeOptions{timeout: 15 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = 15 * time.Second
	}

	bc := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		HTTPClient:        o.httpClient,
	}
	if o.baseURL != "" {
		bc.URL = stripe.String(o.baseURL)
	}
	if o.logger != nil {
		bc.LeveledLogger = &stripeLogger{l: o.logger}
	}

	sc := stripe.NewClient(secretKey, stripe.WithBackends(stripe.NewBackendsWithConfig(bc)))
	return &StripeProvider{sc: sc, timeout: o.timeout}, nil
}

func (p *StripeProvider) Name() string { return "stripe" }

// call runs fn under the per-call timeout, records metrics and classifies the error.
func (p *StripeProvider) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := classify(fn(ctx))
	metrics.ObserveProviderCall(p.Name(), op, category(err), time.Since(start))
	return err
}

func (p *StripeProvider) CreateProduct(ctx context.Context, in adapter.ProductParams) (*model.Product, error) {
	params := &stripe.ProductCreateParams{
		Name:        stripe.String(in.Name),
		Description: stripe.String(in.Description),
	}
	setIdempotencyKey(&params.Params, in.IdempotencyKey)

	var out *stripe.Product
	err := p.call(ctx, "CreateProduct", func(ctx context.Context) (err error) {
		out, err = p.sc.V1Products.Create(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &model.Product{ID: out.ID, Name: out.Name, Description: out.Description}, nil
}

func (p *StripeProvider) CreatePrice(ctx context.Context, in adapter.PriceParams) (*model.Price, error) {
	params := &stripe.PriceCreateParams{
		Product:    stripe.String(in.ProductID),
		UnitAmount: stripe.Int64(in.UnitAmount),
		Currency:   stripe.String(in.Currency),
		Recurring: &stripe.PriceCreateRecurringParams{
			Interval: stripe.String(in.Interval),
		},
	}
	setIdempotencyKey(&params.Params, in.IdempotencyKey)

	var out *stripe.Price
	err := p.call(ctx, "CreatePrice", func(ctx context.Context) (err error) {
		out, err = p.sc.V1Prices.Create(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toPrice(out), nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, in adapter.CustomerParams) (*model.Customer, error) {
	params := &stripe.CustomerCreateParams{
		Email:         stripe.String(in.Email),
		Name:          stripe.String(in.Name),
		PaymentMethod: stripe.String(in.PaymentMethod),
		InvoiceSettings: &stripe.CustomerCreateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(in.PaymentMethod),
		},
	}
	setIdempotencyKey(&params.Params, in.IdempotencyKey)

	var out *stripe.Customer
	err := p.call(ctx, "CreateCustomer", func(ctx context.Context) (err error) {
		out, err = p.sc.V1Customers.Create(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	c := &model.Customer{ID: out.ID, Email: out.Email, Name: out.Name}
	if out.InvoiceSettings != nil && out.InvoiceSettings.DefaultPaymentMethod != nil {
		c.DefaultPaymentMethod = out.InvoiceSettings.DefaultPaymentMethod.ID
	}
	return c, nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, in adapter.SubscriptionParams) (*model.Subscription, error) {
	qty := in.Quantity
	if qty <= 0 {
		qty = 1
	}
	params := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionCreateItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(qty)},
		},
	}
	setIdempotencyKey(&params.Params, in.IdempotencyKey)

	var out *stripe.Subscription
	err := p.call(ctx, "CreateSubscription", func(ctx context.Context) (err error) {
		out, err = p.sc.V1Subscriptions.Create(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toSubscription(out), nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	var out *stripe.Subscription
	err := p.call(ctx, "GetSubscription", func(ctx context.Context) (err error) {
		out, err = p.sc.V1Subscriptions.Retrieve(ctx, id, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toSubscription(out), nil
}

func (p *StripeProvider) UpdateSubscriptionItem(ctx context.Context, in adapter.SubscriptionItemUpdate) (*model.Subscription, error) {
	params := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			// the item id makes this an in-place replacement, not an added line
			{ID: stripe.String(in.ItemID), Price: stripe.String(in.PriceID)},
		},
	}
	if in.ProrationBehavior != "" {
		params.ProrationBehavior = stripe.String(in.ProrationBehavior)
	}
	setIdempotencyKey(&params.Params, in.IdempotencyKey)

	var out *stripe.Subscription
	err := p.call(ctx, "UpdateSubscriptionItem", func(ctx context.Context) (err error) {
		out, err = p.sc.V1Subscriptions.Update(ctx, in.SubscriptionID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toSubscription(out), nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*model.PortalSession, error) {
	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	var out *stripe.BillingPortalSession
	err := p.call(ctx, "CreatePortalSession", func(ctx context.Context) (err error) {
		out, err = p.sc.V1BillingPortalSessions.Create(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &model.PortalSession{ID: out.ID, URL: out.URL, CustomerID: out.Customer}, nil
}

func (p *StripeProvider) ArchiveProduct(ctx context.Context, id string) error {
	return p.call(ctx, "ArchiveProduct", func(ctx context.Context) error {
		_, err := p.sc.V1Products.Update(ctx, id, &stripe.ProductUpdateParams{Active: stripe.Bool(false)})
		return err
	})
}

func (p *StripeProvider) DeactivatePrice(ctx context.Context, id string) error {
	return p.call(ctx, "DeactivatePrice", func(ctx context.Context) error {
		_, err := p.sc.V1Prices.Update(ctx, id, &stripe.PriceUpdateParams{Active: stripe.Bool(false)})
		return err
	})
}

func (p *StripeProvider) DeleteCustomer(ctx context.Context, id string) error {
	return p.call(ctx, "DeleteCustomer", func(ctx context.Context) error {
		_, err := p.sc.V1Customers.Delete(ctx, id, nil)
		return err
	})
}

func setIdempotencyKey(params *stripe.Params, key string) {
	if key != "" {
		params.SetIdempotencyKey(key)
	}
}

func toPrice(p *stripe.Price) *model.Price {
	out := &model.Price{ID: p.ID, UnitAmount: p.UnitAmount, Currency: string(p.Currency)}
	if p.Product != nil {
		out.ProductID = p.Product.ID
	}
	if p.Recurring != nil {
		out.Interval = string(p.Recurring.Interval)
	}
	return out
}

func toSubscription(s *stripe.Subscription) *model.Subscription {
	out := &model.Subscription{ID: s.ID, Status: string(s.Status)}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, it := range s.Items.Data {
			item := model.SubscriptionItem{ID: it.ID, Quantity: it.Quantity}
			if it.Price != nil {
				item.PriceID = it.Price.ID
			}
			out.Items = append(out.Items, item)
		}
	}
	return out
}

// classify maps a stripe-go error onto the domain taxonomy, keeping the provider message verbatim.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		pe := &domain.ProviderError{
			Kind:      domain.ErrProviderValidation,
			Message:   se.Msg,
			Code:      string(se.Code),
			RequestID: se.RequestID,
			Err:       err,
		}
		switch {
		case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
			pe.Kind = domain.ErrProviderAuth
		case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500 || se.Type == stripe.ErrorTypeAPI:
			pe.Kind = domain.ErrProviderTransient
		case se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound:
			pe.Kind = domain.ErrNotFound
		}
		return pe
	}

	msg := err.Error()
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "payment provider did not respond in time"
	case errors.Is(err, context.Canceled):
		msg = "request to payment provider was cancelled"
	case errors.As(err, &ne):
		msg = "payment provider unreachable: " + ne.Error()
	}
	return &domain.ProviderError{Kind: domain.ErrProviderTransient, Message: msg, Err: err}
}

func category(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrProviderAuth):
		return "auth"
	case errors.Is(err, domain.ErrProviderTransient):
		return "transient"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrProviderValidation):
		return "validation"
	}
	return "other"
}

// stripeLogger routes stripe-go's internal logging into zerolog.
type stripeLogger struct{ l *zerolog.Logger }

func (s *stripeLogger) Debugf(format string, v ...interface{}) { s.l.Debug().Msgf(format, v...) }
func (s *stripeLogger) Infof(format string, v ...interface{})  { s.l.Debug().Msgf(format, v...) }
func (s *stripeLogger) Warnf(format string, v ...interface{})  { s.l.Warn().Msgf(format, v...) }
func (s *stripeLogger) Errorf(format string, v ...interface{}) { s.l.Error().Msgf(format, v...) }
