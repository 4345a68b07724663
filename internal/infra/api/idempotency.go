package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"billing-saga/internal/infra/logging"
	"billing-saga/internal/infra/metrics"
	"billing-saga/internal/infra/redis"
)

// ResponseStore keeps completed responses by idempotency key.
type ResponseStore interface {
	Load(ctx context.Context, key string) (redis.CachedResponse, bool, error)
	Store(ctx context.Context, key string, resp redis.CachedResponse) error
}

// Idempotency serializes requests sharing an Idempotency-Key and replays the stored
// response of a completed one. Requests without the header pass through.
func Idempotency(locker redis.Locker, store ResponseStore, lockTTL time.Duration, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hdr := r.Header.Get("Idempotency-Key")
			if hdr == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := logging.WithIdempotencyKey(r.Context(), hdr)
			l := logging.With(ctx, logger)
			key := r.URL.Path + ":" + hdr

			if resp, ok, err := store.Load(ctx, key); err != nil {
				l.Warn().Err(err).Msg("idempotency cache unavailable")
			} else if ok {
				metrics.IncCacheRequest("idempotency", "hit")
				replay(w, resp)
				return
			}
			metrics.IncCacheRequest("idempotency", "miss")

			lockKey := redis.IdempotencyLockKey(key)
			token, err := locker.TryLock(ctx, lockKey, lockTTL)
			switch {
			case errors.Is(err, redis.ErrLocked):
				writeError(w, http.StatusConflict, "a request with this Idempotency-Key is in progress")
				return
			case err != nil:
				l.Warn().Err(err).Msg("idempotency lock unavailable")
			default:
				defer func() {
					if err := locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
						l.Warn().Err(err).Msg("idempotency unlock failed")
					}
				}()
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status >= 200 && rec.status < 300 {
				resp := redis.CachedResponse{Status: rec.status, ContentType: rec.Header().Get("Content-Type"), Body: rec.body.Bytes()}
				if err := store.Store(context.WithoutCancel(ctx), key, resp); err != nil {
					l.Warn().Err(err).Msg("idempotency cache store failed")
				}
			}
		})
	}
}

func replay(w http.ResponseWriter, resp redis.CachedResponse) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// recordingWriter passes the response through and keeps a copy.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
