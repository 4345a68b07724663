package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"billing-saga/internal/config"
	"billing-saga/internal/infra/api/apiv1"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/infra/redis"
)

// Deps are the optional collaborators of the HTTP layer. A nil redis client disables
// rate limiting and idempotency replay; a nil Auth disables bearer checks.
type Deps struct {
	API   *apiv1.Server
	Redis *redis.Client
	Auth  *AuthManager
	Log   *zerolog.Logger
}

// NewRouter builds the chi router with the guard middleware applied.
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(d.Log),
		Recover(d.Log),
		Timeout(cfg.HTTP.RequestTimeout),
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if d.Auth != nil {
			r.Use(RequireBearer(d.Auth, d.Log))
		}
		if d.Redis != nil {
			if cfg.API.RateLimit > 0 {
				r.Use(RateLimit(redis.NewRateLimiter(d.Redis), cfg.API.RateLimit, redis.ClientRouteKey, d.Log))
			}
			r.Use(Idempotency(redis.NewLocker(d.Redis, 1), redis.NewResponseCache(d.Redis, cfg.Redis.TTL), 2*cfg.HTTP.RequestTimeout, d.Log))
		}
		apiv1.RegisterAPIV1(r, d.API)
	})
	return r
}

// NewHTTPServer wraps h with the configured port and timeouts.
func NewHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.HTTP.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
