// Copyright 2025 ToolGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache is a Redis-backed response cache for read tools. It is an
// optimization only: every error path, including Redis being down, is a
// cache miss and the invocation proceeds.
package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"toolgate/platform/gateway/canonical"
	"toolgate/platform/shared/logger"
)

const keyPrefix = "respcache:"

// ResponseCache stores tool responses keyed by a fingerprint of the call.
type ResponseCache struct {
	client  *redis.Client
	ttl     time.Duration
	maxSize int
	log     *logger.Logger
}

// New creates a cache around an existing client. A nil client disables
// caching; Get always misses and Set silently drops.
func New(client *redis.Client, ttl time.Duration, maxSize int, log *logger.Logger) *ResponseCache {
	return &ResponseCache{client: client, ttl: ttl, maxSize: maxSize, log: log}
}

// Enabled reports whether a backing store is configured.
func (c *ResponseCache) Enabled() bool {
	return c.client != nil
}

// Key fingerprints one invocation. Argument maps that differ only in key
// order produce the same fingerprint; the tenant is part of the key so one
// tenant's responses are never served to another.
func (c *ResponseCache) Key(tool string, args map[string]interface{}, tenant string) (string, error) {
	digest, err := canonical.Digest(map[string]interface{}{
		"tool":   tool,
		"args":   args,
		"tenant": tenant,
	})
	if err != nil {
		return "", err
	}
	return keyPrefix + digest, nil
}

// Get returns the cached response body for key, or (nil, false) on a miss.
// Lookup errors are logged and reported as misses.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.client == nil {
		return nil, false
	}
	body, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Error("", "", "cache lookup failed, treating as miss", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return nil, false
	}
	return body, true
}

// Set stores a response body under key for the cache TTL. Bodies over the
// size ceiling are rejected; the return value reports whether the body was
// actually stored.
func (c *ResponseCache) Set(ctx context.Context, key string, body []byte) bool {
	if c.client == nil {
		return false
	}
	if c.maxSize > 0 && len(body) > c.maxSize {
		return false
	}
	if err := c.client.Set(ctx, key, body, c.ttl).Err(); err != nil {
		c.log.Error("", "", "cache store failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return false
	}
	return true
}

// Delete removes a single entry.
func (c *ResponseCache) Delete(ctx context.Context, key string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Error("", "", "cache delete failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// Clear removes every cached response. Used by the admin surface after a
// tool's backing data changes out of band.
func (c *ResponseCache) Clear(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, nil
	}

	var removed int64
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			removed += n
			if err != nil {
				return removed, err
			}
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
