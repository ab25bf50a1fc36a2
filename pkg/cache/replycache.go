// Package cache provides a Redis-backed reply cache keyed by prompt.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mushan/thinkspeak/pkg/provider"
)

// ReplyCache stores generated replies keyed by a digest of the rendered
// prompt, so repeated identical turns skip the backend entirely. Fallback
// replies are never stored.
type ReplyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReplyCache creates a Redis-backed reply cache.
func NewReplyCache(addr, password string, db int, ttl time.Duration) *ReplyCache {
	return &ReplyCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

// Key derives the deterministic cache key for a rendered prompt.
func Key(prompt string) string {
	hash := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("reply_cache:%x", hash[:16])
}

// Get retrieves a cached reply for the prompt.
// Returns the response and true if found, or zero value and false if not.
func (r *ReplyCache) Get(ctx context.Context, prompt string) (provider.Response, bool, error) {
	val, err := r.client.Get(ctx, Key(prompt)).Result()
	if err == redis.Nil {
		return provider.Response{}, false, nil
	}
	if err != nil {
		return provider.Response{}, false, fmt.Errorf("reply_cache: get: %w", err)
	}

	var resp provider.Response
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return provider.Response{}, false, fmt.Errorf("reply_cache: unmarshal: %w", err)
	}

	return resp, true, nil
}

// Set stores a reply for the prompt with the configured TTL.
func (r *ReplyCache) Set(ctx context.Context, prompt string, resp provider.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("reply_cache: marshal: %w", err)
	}

	if err := r.client.Set(ctx, Key(prompt), string(data), r.ttl).Err(); err != nil {
		return fmt.Errorf("reply_cache: set: %w", err)
	}

	return nil
}

// Ping checks the Redis connection.
func (r *ReplyCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *ReplyCache) Close() error {
	return r.client.Close()
}
