package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billing-saga/internal/domain"
	"billing-saga/internal/domain/ports/adapter"
)

type recordedRequest struct {
	method string
	path   string
	form   map[string]string
	idem   string
}

// fakeStripe serves canned JSON per "METHOD /path" and records requests.
type fakeStripe struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]fakeResponse
	delay    time.Duration
}

type fakeResponse struct {
	status int
	body   string
}

func newFakeStripe(t *testing.T) (*fakeStripe, *StripeProvider) {
	t.Helper()
	f := &fakeStripe{routes: map[string]fakeResponse{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	p, err := NewStripeProvider("sk_test_123", WithBaseURL(srv.URL), WithCallTimeout(2*time.Second))
	require.NoError(t, err)
	return f, p
}

func (f *fakeStripe) on(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = fakeResponse{status: status, body: body}
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := map[string]string{}
	for k, v := range r.PostForm {
		form[k] = v[0]
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{method: r.Method, path: r.URL.Path, form: form, idem: r.Header.Get("Idempotency-Key")})
	resp, ok := f.routes[r.Method+" "+r.URL.Path]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Unrecognized request URL"}}`))
		return
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}

func (f *fakeStripe) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

const subscriptionJSON = `{"id":"sub_1","object":"subscription","customer":"cus_1","status":"active",
 "items":{"object":"list","data":[{"id":"si_1","object":"subscription_item","quantity":1,"price":{"id":"%s","object":"price"}}]}}`

func TestStripeProvider_CreateCalls(t *testing.T) {
	f, p := newFakeStripe(t)
	ctx := context.Background()

	f.on(http.MethodPost, "/v1/products", 200, `{"id":"prod_1","object":"product","name":"Product One","description":"Desc"}`)
	prod, err := p.CreateProduct(ctx, adapter.ProductParams{Name: "Product One", Description: "Desc", IdempotencyKey: "k:product"})
	require.NoError(t, err)
	assert.Equal(t, "prod_1", prod.ID)
	req := f.last()
	assert.Equal(t, "Product One", req.form["name"])
	assert.Equal(t, "k:product", req.idem)

	f.on(http.MethodPost, "/v1/prices", 200, `{"id":"price_1","object":"price","product":"prod_1","unit_amount":2000,"currency":"usd","recurring":{"interval":"month"}}`)
	price, err := p.CreatePrice(ctx, adapter.PriceParams{ProductID: "prod_1", UnitAmount: 2000, Currency: "usd", Interval: "month"})
	require.NoError(t, err)
	assert.Equal(t, "price_1", price.ID)
	assert.Equal(t, "prod_1", price.ProductID)
	assert.Equal(t, int64(2000), price.UnitAmount)
	assert.Equal(t, "month", price.Interval)
	req = f.last()
	assert.Equal(t, "2000", req.form["unit_amount"])
	assert.Equal(t, "month", req.form["recurring[interval]"])
	assert.Equal(t, "prod_1", req.form["product"])

	f.on(http.MethodPost, "/v1/customers", 200, `{"id":"cus_1","object":"customer","email":"a@b.com","name":"A B","invoice_settings":{"default_payment_method":"pm_test"}}`)
	cus, err := p.CreateCustomer(ctx, adapter.CustomerParams{Email: "a@b.com", Name: "A B", PaymentMethod: "pm_test"})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", cus.ID)
	assert.Equal(t, "pm_test", cus.DefaultPaymentMethod)
	req = f.last()
	assert.Equal(t, "pm_test", req.form["payment_method"])
	assert.Equal(t, "pm_test", req.form["invoice_settings[default_payment_method]"])

	f.on(http.MethodPost, "/v1/subscriptions", 200, fmt.Sprintf(subscriptionJSON, "price_1"))
	sub, err := p.CreateSubscription(ctx, adapter.SubscriptionParams{CustomerID: "cus_1", PriceID: "price_1", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "cus_1", sub.CustomerID)
	require.Len(t, sub.Items, 1)
	assert.Equal(t, "si_1", sub.Items[0].ID)
	assert.Equal(t, "price_1", sub.Items[0].PriceID)
	req = f.last()
	assert.Equal(t, "cus_1", req.form["customer"])
	assert.Equal(t, "price_1", req.form["items[0][price]"])
	assert.Equal(t, "1", req.form["items[0][quantity]"])
}

func TestStripeProvider_UpdateSubscriptionItemKeepsItemID(t *testing.T) {
	f, p := newFakeStripe(t)
	f.on(http.MethodPost, "/v1/subscriptions/sub_1", 200, fmt.Sprintf(subscriptionJSON, "price_2"))

	sub, err := p.UpdateSubscriptionItem(context.Background(), adapter.SubscriptionItemUpdate{
		SubscriptionID: "sub_1", ItemID: "si_1", PriceID: "price_2", ProrationBehavior: "none",
	})
	require.NoError(t, err)
	require.Len(t, sub.Items, 1)
	assert.Equal(t, "price_2", sub.Items[0].PriceID)

	req := f.last()
	assert.Equal(t, "si_1", req.form["items[0][id]"])
	assert.Equal(t, "price_2", req.form["items[0][price]"])
	assert.Equal(t, "none", req.form["proration_behavior"])
}

func TestStripeProvider_GetSubscriptionAndPortal(t *testing.T) {
	f, p := newFakeStripe(t)
	ctx := context.Background()

	f.on(http.MethodGet, "/v1/subscriptions/sub_1", 200, fmt.Sprintf(subscriptionJSON, "price_1"))
	sub, err := p.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "si_1", sub.Items[0].ID)

	f.on(http.MethodPost, "/v1/billing_portal/sessions", 200, `{"id":"bps_1","object":"billing_portal.session","customer":"cus_1","url":"https://billing.stripe.com/p/session/test_1"}`)
	sess, err := p.CreatePortalSession(ctx, "cus_1", "http://localhost:3000/account")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/session/test_1", sess.URL)
	assert.Equal(t, "http://localhost:3000/account", f.last().form["return_url"])
}

func TestStripeProvider_Compensation(t *testing.T) {
	f, p := newFakeStripe(t)
	ctx := context.Background()

	f.on(http.MethodPost, "/v1/products/prod_1", 200, `{"id":"prod_1","object":"product","active":false}`)
	require.NoError(t, p.ArchiveProduct(ctx, "prod_1"))
	assert.Equal(t, "false", f.last().form["active"])

	f.on(http.MethodPost, "/v1/prices/price_1", 200, `{"id":"price_1","object":"price","active":false}`)
	require.NoError(t, p.DeactivatePrice(ctx, "price_1"))
	assert.Equal(t, "false", f.last().form["active"])

	f.on(http.MethodDelete, "/v1/customers/cus_1", 200, `{"id":"cus_1","object":"customer","deleted":true}`)
	require.NoError(t, p.DeleteCustomer(ctx, "cus_1"))
	assert.Equal(t, http.MethodDelete, f.last().method)
}

func TestStripeProvider_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   error
		msg    string
	}{
		{"validation", 400, `{"error":{"type":"invalid_request_error","message":"Invalid positive integer","param":"unit_amount"}}`, domain.ErrProviderValidation, "Invalid positive integer"},
		{"missing", 400, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such customer: 'cus_x'"}}`, domain.ErrNotFound, "No such customer: 'cus_x'"},
		{"auth", 401, `{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`, domain.ErrProviderAuth, "Invalid API Key provided"},
		{"rate limit", 429, `{"error":{"type":"invalid_request_error","code":"rate_limit","message":"Too many requests"}}`, domain.ErrProviderTransient, "Too many requests"},
		{"server", 500, `{"error":{"type":"api_error","message":"Something went wrong"}}`, domain.ErrProviderTransient, "Something went wrong"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, p := newFakeStripe(t)
			f.on(http.MethodPost, "/v1/billing_portal/sessions", tc.status, tc.body)

			sess, err := p.CreatePortalSession(context.Background(), "cus_x", "http://x")
			require.Error(t, err)
			assert.Nil(t, sess)
			assert.True(t, errors.Is(err, tc.kind), "want %v, got %v", tc.kind, err)
			assert.Equal(t, tc.msg, err.Error())

			var pe *domain.ProviderError
			require.ErrorAs(t, err, &pe)
		})
	}
}

func TestStripeProvider_TimeoutIsTransient(t *testing.T) {
	f := &fakeStripe{routes: map[string]fakeResponse{}, delay: 300 * time.Millisecond}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	f.on(http.MethodPost, "/v1/products", 200, `{"id":"prod_1","object":"product"}`)

	p, err := NewStripeProvider("sk_test_123", WithBaseURL(srv.URL), WithCallTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = p.CreateProduct(context.Background(), adapter.ProductParams{Name: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderTransient)
}

func TestNewStripeProvider_RequiresKey(t *testing.T) {
	_, err := NewStripeProvider("")
	assert.Error(t, err)
}
