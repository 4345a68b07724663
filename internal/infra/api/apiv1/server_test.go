//go:build !integration

package apiv1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"billing-saga/internal/config"
	"billing-saga/internal/domain"
	"billing-saga/internal/infra/adapters/payment"
	apiv1 "billing-saga/internal/infra/api/apiv1"
	"billing-saga/internal/infra/db/memory"
	"billing-saga/internal/usecase"
)

//
// -------------------- test helpers --------------------
//

func newLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

type fixture struct {
	router   *chi.Mux
	provider *payment.MemoryProvider
}

func newFixture() *fixture {
	p := payment.NewMemoryProvider()
	cfg := config.Default()
	runs := memory.NewSagaRunRepo()

	srv := apiv1.NewServer(
		usecase.NewSubscribeUseCase(p, runs, cfg.Billing, cfg.Saga, true, newLogger()),
		usecase.NewPriceUseCase(p, cfg.Billing, newLogger()),
		usecase.NewSubscriptionUseCase(p, cfg.Billing.ProrationBehavior, newLogger()),
		usecase.NewPortalUseCase(p, cfg.Billing.PortalReturnURL, newLogger()),
		newLogger(),
	)
	r := chi.NewRouter()
	apiv1.RegisterAPIV1(r, srv)
	return &fixture{router: r, provider: p}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (f *fixture) subscribe(t *testing.T) usecase.SubscribeResult {
	t.Helper()
	rec := f.do(http.MethodPost, "/api/v1/subscribe", `{"email":"a@b.com","name":"A B","payment_method":"pm_test","amount":20}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("subscribe: %d %s", rec.Code, rec.Body.String())
	}
	var res usecase.SubscribeResult
	decodeInto(t, rec, &res)
	return res
}

//
// -------------------- tests --------------------
//

func TestSubscribe_AllPaths(t *testing.T) {
	t.Run("200 with ids, amount in whole units", func(t *testing.T) {
		f := newFixture()
		res := f.subscribe(t)
		if res.CustomerID == "" || res.SubscriptionID == "" || res.RunID == "" {
			t.Fatalf("missing ids: %+v", res)
		}
		price, ok := f.provider.Price(res.PriceID)
		if !ok || price.UnitAmount != 2000 {
			t.Fatalf("price = %+v", price)
		}
	})

	t.Run("200 with unit_amount in minor units", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/v1/subscribe", `{"email":"a@b.com","name":"A B","payment_method":"pm_test","unit_amount":1999}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		var res usecase.SubscribeResult
		decodeInto(t, rec, &res)
		if p, _ := f.provider.Price(res.PriceID); p.UnitAmount != 1999 {
			t.Fatalf("unit amount = %d", p.UnitAmount)
		}
	})

	t.Run("400 on validation with message", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/v1/subscribe", `{"email":"nope","name":"A B","payment_method":"pm_test","amount":20}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
		var e apiv1.ErrorResponse
		decodeInto(t, rec, &e)
		if e.Error != "email must be a valid email address" {
			t.Fatalf("error = %q", e.Error)
		}
	})

	t.Run("400 on both amounts", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/v1/subscribe", `{"email":"a@b.com","name":"A B","payment_method":"pm_test","amount":20,"unit_amount":2000}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("400 on amount overflow", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/v1/subscribe", `{"email":"a@b.com","name":"A B","payment_method":"pm_test","amount":184467440737095517}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
		var e apiv1.ErrorResponse
		decodeInto(t, rec, &e)
		if !strings.HasPrefix(e.Error, "amount must be at most") {
			t.Fatalf("error = %q", e.Error)
		}
		if n := len(f.provider.CallLog()); n != 0 {
			t.Fatalf("provider called %d times", n)
		}
	})

	t.Run("400 on malformed json and empty body", func(t *testing.T) {
		f := newFixture()
		if rec := f.do(http.MethodPost, "/api/v1/subscribe", `{"email":`); rec.Code != http.StatusBadRequest {
			t.Fatalf("malformed: status=%d", rec.Code)
		}
		if rec := f.do(http.MethodPost, "/api/v1/subscribe", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("empty: status=%d", rec.Code)
		}
		if rec := f.do(http.MethodPost, "/api/v1/subscribe", `{"unknown":1}`); rec.Code != http.StatusBadRequest {
			t.Fatalf("unknown field: status=%d", rec.Code)
		}
	})

	t.Run("400 with failing step on provider rejection", func(t *testing.T) {
		f := newFixture()
		f.provider.FailOn["CreateCustomer"] = &domain.ProviderError{Kind: domain.ErrProviderValidation, Message: "Your card was declined."}
		rec := f.do(http.MethodPost, "/api/v1/subscribe", `{"email":"a@b.com","name":"A B","payment_method":"pm_test","amount":20}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
		var e apiv1.ErrorResponse
		decodeInto(t, rec, &e)
		if e.Step != "customer" || !strings.Contains(e.Error, "Your card was declined.") {
			t.Fatalf("error = %+v", e)
		}
	})

	t.Run("502 on provider outage", func(t *testing.T) {
		f := newFixture()
		f.provider.FailOn["CreateProduct"] = &domain.ProviderError{Kind: domain.ErrProviderTransient, Message: "connection reset"}
		rec := f.do(http.MethodPost, "/api/v1/subscribe", `{"email":"a@b.com","name":"A B","payment_method":"pm_test","amount":20}`)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("500 hides unexpected errors", func(t *testing.T) {
		f := newFixture()
		f.provider.FailOn["CreateProduct"] = errors.New("pq: secret internals")
		rec := f.do(http.MethodPost, "/api/v1/subscribe", `{"email":"a@b.com","name":"A B","payment_method":"pm_test","amount":20}`)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "secret") {
			t.Fatalf("leaked internals: %s", rec.Body.String())
		}
	})
}

func TestCreatePrice_AllPaths(t *testing.T) {
	t.Run("200 then change-price moves the item", func(t *testing.T) {
		f := newFixture()
		res := f.subscribe(t)

		rec := f.do(http.MethodPost, "/api/v1/prices", fmt.Sprintf(`{"product_id":%q,"amount":30}`, res.ProductID))
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		var body struct {
			Price apiv1.Price `json:"price"`
		}
		decodeInto(t, rec, &body)
		if body.Price.ID == "" || body.Price.UnitAmount != 3000 || body.Price.ProductID != res.ProductID {
			t.Fatalf("price = %+v", body.Price)
		}
		if body.Price.Currency != "usd" || body.Price.Interval != "month" {
			t.Fatalf("price = %+v", body.Price)
		}

		rec = f.do(http.MethodPost, "/api/v1/subscriptions/change-price",
			fmt.Sprintf(`{"subscription_id":%q,"new_price_id":%q}`, res.SubscriptionID, body.Price.ID))
		if rec.Code != http.StatusOK {
			t.Fatalf("change-price: status=%d body=%s", rec.Code, rec.Body.String())
		}
	})

	t.Run("400 cases", func(t *testing.T) {
		cases := []struct {
			name string
			body string
		}{
			{"missing product", `{"unit_amount":3000}`},
			{"unknown product", `{"product_id":"prod_missing","unit_amount":3000}`},
			{"zero amount", `{"product_id":"prod_missing"}`},
			{"both amounts", `{"product_id":"prod_missing","amount":30,"unit_amount":3000}`},
			{"amount overflow", `{"product_id":"prod_missing","amount":184467440737095517}`},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				f := newFixture()
				if rec := f.do(http.MethodPost, "/api/v1/prices", tc.body); rec.Code != http.StatusBadRequest {
					t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
				}
			})
		}
	})
}

func TestChangePrice_AllPaths(t *testing.T) {
	t.Run("200 keeps item id", func(t *testing.T) {
		f := newFixture()
		res := f.subscribe(t)
		np := f.provider.AddPrice(res.ProductID, 3000)

		rec := f.do(http.MethodPost, "/api/v1/subscriptions/change-price",
			fmt.Sprintf(`{"subscription_id":%q,"new_price_id":%q}`, res.SubscriptionID, np.ID))
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		var body struct {
			Subscription apiv1.Subscription `json:"subscription"`
		}
		decodeInto(t, rec, &body)
		items := body.Subscription.Items
		if len(items) != 1 || items[0].ID != res.ItemID || items[0].PriceID != np.ID {
			t.Fatalf("items = %+v", items)
		}
	})

	t.Run("400 on unknown subscription", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/v1/subscriptions/change-price", `{"subscription_id":"sub_x","new_price_id":"price_x"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("400 on missing new price", func(t *testing.T) {
		f := newFixture()
		rec := f.do(http.MethodPost, "/api/v1/subscriptions/change-price", `{"subscription_id":"sub_x"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})
}

func TestPortal_AllPaths(t *testing.T) {
	f := newFixture()
	res := f.subscribe(t)

	rec := f.do(http.MethodPost, "/api/v1/portal-sessions", fmt.Sprintf(`{"customer_id":%q}`, res.CustomerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out apiv1.PortalResponse
	decodeInto(t, rec, &out)
	if out.URL == "" {
		t.Fatalf("empty url")
	}

	rec = f.do(http.MethodPost, "/api/v1/portal-sessions", `{"customer_id":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}

	// customerId is accepted as an alias
	rec = f.do(http.MethodPost, "/api/v1/portal-sessions", fmt.Sprintf(`{"customerId":%q}`, res.CustomerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("customerId: status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = f.do(http.MethodPost, "/api/v1/portal-sessions", fmt.Sprintf(`{"customer_id":%q,"customerId":%q}`, res.CustomerID, res.CustomerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("matching keys: status=%d", rec.Code)
	}
	rec = f.do(http.MethodPost, "/api/v1/portal-sessions", fmt.Sprintf(`{"customer_id":%q,"customerId":"cus_other"}`, res.CustomerID))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("disagreeing keys: status=%d", rec.Code)
	}
	var e apiv1.ErrorResponse
	decodeInto(t, rec, &e)
	if e.Error != "customer_id and customerId disagree" {
		t.Fatalf("error = %q", e.Error)
	}
}

func TestSagaRuns_GetAndCompensate(t *testing.T) {
	f := newFixture()
	res := f.subscribe(t)

	rec := f.do(http.MethodGet, "/api/v1/saga-runs/"+res.RunID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var run apiv1.SagaRun
	decodeInto(t, rec, &run)
	if run.Status != "succeeded" || run.SubscriptionID != res.SubscriptionID {
		t.Fatalf("run = %+v", run)
	}

	if rec := f.do(http.MethodGet, "/api/v1/saga-runs/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing run: status=%d", rec.Code)
	}
	// a succeeded run has nothing to compensate
	if rec := f.do(http.MethodPost, "/api/v1/saga-runs/"+res.RunID+"/compensate", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("compensate succeeded run: status=%d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		lookup bool
		want   int
	}{
		{domain.Invalid("x"), false, 400},
		{&domain.ProviderError{Kind: domain.ErrProviderValidation}, false, 400},
		{domain.Stateful("x"), false, 400},
		{domain.ErrNotFound, false, 400},
		{domain.ErrNotFound, true, 404},
		{domain.ErrAlreadyExists, false, 409},
		{&domain.ProviderError{Kind: domain.ErrProviderAuth}, false, 502},
		{&domain.StepError{Step: "price", Err: &domain.ProviderError{Kind: domain.ErrProviderTransient}}, false, 502},
		{context.Canceled, false, 500},
	}
	for _, tc := range cases {
		if got := apiv1.StatusFor(tc.err, tc.lookup); got != tc.want {
			t.Errorf("StatusFor(%v, %v) = %d, want %d", tc.err, tc.lookup, got, tc.want)
		}
	}
}
