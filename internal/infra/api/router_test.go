package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billing-saga/internal/config"
	"billing-saga/internal/infra/adapters/payment"
	"billing-saga/internal/infra/api/apiv1"
	"billing-saga/internal/infra/db/memory"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/infra/redis"
	"billing-saga/internal/usecase"
)

const subscribeBody = `{"email":"a@b.com","name":"A B","payment_method":"pm_test","amount":20}`

func newTestRouter(t *testing.T, mutate func(*config.Config, *Deps)) (http.Handler, *payment.MemoryProvider) {
	t.Helper()
	cfg := config.Default()
	p := payment.NewMemoryProvider()
	log := logging.Nop()
	srv := apiv1.NewServer(
		usecase.NewSubscribeUseCase(p, memory.NewSagaRunRepo(), cfg.Billing, cfg.Saga, true, log),
		usecase.NewPriceUseCase(p, cfg.Billing, log),
		usecase.NewSubscriptionUseCase(p, "", log),
		usecase.NewPortalUseCase(p, cfg.Billing.PortalReturnURL, log),
		log,
	)
	d := Deps{API: srv, Log: log}
	if mutate != nil {
		mutate(cfg, &d)
	}
	return NewRouter(cfg, d), p
}

func withRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func post(h http.Handler, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_HealthAndTraceID(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "trace-abc", rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	_, rc := withRedis(t)
	h, p := newTestRouter(t, func(c *config.Config, d *Deps) { d.Redis = rc })
	hdr := map[string]string{"Idempotency-Key": "order-1"}

	first := post(h, "/api/v1/subscribe", subscribeBody, hdr)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	second := post(h, "/api/v1/subscribe", subscribeBody, hdr)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, p.Count("subscription"))
}

func TestIdempotency_ConcurrentDuplicateConflicts(t *testing.T) {
	mr, rc := withRedis(t)
	h, _ := newTestRouter(t, func(c *config.Config, d *Deps) { d.Redis = rc })

	// another request holds the lock for this key
	require.NoError(t, mr.Set(redis.IdempotencyLockKey("/api/v1/subscribe:busy"), "other-token"))

	rec := post(h, "/api/v1/subscribe", subscribeBody, map[string]string{"Idempotency-Key": "busy"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdempotency_FailuresAreNotCached(t *testing.T) {
	_, rc := withRedis(t)
	h, _ := newTestRouter(t, func(c *config.Config, d *Deps) { d.Redis = rc })
	hdr := map[string]string{"Idempotency-Key": "bad-1"}

	rec := post(h, "/api/v1/subscribe", `{"email":"x","name":"A","payment_method":"pm","amount":1}`, hdr)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(h, "/api/v1/subscribe", `{"email":"x","name":"A","payment_method":"pm","amount":1}`, hdr)
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	_, rc := withRedis(t)
	h, _ := newTestRouter(t, func(c *config.Config, d *Deps) {
		c.API.RateLimit = 2
		d.Redis = rc
	})

	for i := 0; i < 2; i++ {
		rec := post(h, "/api/v1/portal-sessions", `{"customer_id":"cus_x"}`, nil)
		assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}
	rec := post(h, "/api/v1/portal-sessions", `{"customer_id":"cus_x"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRequireBearer(t *testing.T) {
	auth := NewAuthManager("s3cret", time.Hour)
	h, _ := newTestRouter(t, func(c *config.Config, d *Deps) { d.Auth = auth })

	rec := post(h, "/api/v1/portal-sessions", `{"customer_id":"cus_x"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(h, "/api/v1/portal-sessions", `{"customer_id":"cus_x"}`, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := NewAuthManager("different", time.Hour).Mint("ops")
	require.NoError(t, err)
	rec = post(h, "/api/v1/portal-sessions", `{"customer_id":"cus_x"}`, map[string]string{"Authorization": "Bearer " + other})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := auth.Mint("ops")
	require.NoError(t, err)
	rec = post(h, "/api/v1/portal-sessions", `{"customer_id":"cus_x"}`, map[string]string{"Authorization": "Bearer " + tok})
	// authorized; the unknown customer is a domain error, not an auth failure
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// health stays open
	hrec := httptest.NewRecorder()
	h.ServeHTTP(hrec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, hrec.Code)
}

func TestRecover_Returns500(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), Recover(logging.Nop()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestTimeout_SetsDeadline(t *testing.T) {
	var mu sync.Mutex
	var hasDeadline bool
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Context().Deadline()
		mu.Lock()
		hasDeadline = ok
		mu.Unlock()
	}), Timeout(time.Second))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, hasDeadline)
}
