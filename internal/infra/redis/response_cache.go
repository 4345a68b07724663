package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// CachedResponse is a completed HTTP response kept for idempotent replay.
type CachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// ResponseCache stores responses by idempotency key.
type ResponseCache struct {
	client *Client
	ttl    time.Duration
}

func NewResponseCache(client *Client, ttl time.Duration) *ResponseCache {
	return &ResponseCache{client: client, ttl: ttl}
}

func responseKey(key string) string { return "idem:resp:" + key }

func (c *ResponseCache) Store(ctx context.Context, key string, resp CachedResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, responseKey(key), data, c.ttl)
}

// Load returns the stored response, or ok=false on a miss.
func (c *ResponseCache) Load(ctx context.Context, key string) (resp CachedResponse, ok bool, err error) {
	data, err := c.client.Get(ctx, responseKey(key))
	if errors.Is(err, ErrCacheMiss) {
		return CachedResponse{}, false, nil
	}
	if err != nil {
		return CachedResponse{}, false, err
	}
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return CachedResponse{}, false, err
	}
	return resp, true, nil
}
