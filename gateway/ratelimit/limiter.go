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

// Package ratelimit enforces per-subject, per-tool invocation budgets over
// fixed windows backed by Redis. Without Redis, limiting is disabled and
// every request is admitted; a Redis error admits the request rather than
// failing it.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"toolgate/platform/shared/logger"
)

// LimitError reports a rejected request together with when the window resets.
type LimitError struct {
	Subject string
	Tool    string
	Limit   int
	ResetAt time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit of %d exceeded for %s on %s", e.Limit, e.Subject, e.Tool)
}

// Status describes the current window for response headers.
type Status struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts invocations per (subject, tool) in fixed windows.
type Limiter struct {
	client       *redis.Client
	window       time.Duration
	defaultLimit int
	log          *logger.Logger
}

// New creates a limiter from a Redis URL. An empty URL or a bad one returns
// a disabled limiter rather than an error: the gateway serves without
// limiting instead of refusing to start.
func New(redisURL string, window time.Duration, defaultLimit int, log *logger.Logger) *Limiter {
	l := &Limiter{window: window, defaultLimit: defaultLimit, log: log}
	if redisURL == "" {
		log.Warn("", "", "REDIS_URL not set, rate limiting disabled", nil)
		return l
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Error("", "", "invalid REDIS_URL, rate limiting disabled", map[string]interface{}{"error": err.Error()})
		return l
	}
	l.client = redis.NewClient(opt)
	return l
}

// NewWithClient creates a limiter around an existing client. A nil client
// disables limiting.
func NewWithClient(client *redis.Client, window time.Duration, defaultLimit int, log *logger.Logger) *Limiter {
	return &Limiter{client: client, window: window, defaultLimit: defaultLimit, log: log}
}

// Enabled reports whether a backing store is configured.
func (l *Limiter) Enabled() bool {
	return l.client != nil
}

// Check admits or rejects one invocation of tool by subject. limit <= 0
// falls back to the default limit. Rejection is a *LimitError; every other
// outcome, including Redis being unreachable, admits the request.
func (l *Limiter) Check(ctx context.Context, subject, tool string, limit int) (Status, error) {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	status := Status{Limit: limit, Remaining: limit, ResetAt: time.Now().Add(l.window)}

	if l.client == nil {
		return status, nil
	}

	key := fmt.Sprintf("ratelimit:%s:%s", subject, tool)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		// Fail open: a degraded Redis must not take the gateway with it
		l.log.Error("", "", "rate limit check failed, admitting request", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return status, nil
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			l.log.Error("", "", "failed to set rate limit window expiry", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}

	if ttl, err := l.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		status.ResetAt = time.Now().Add(ttl)
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	status.Remaining = remaining

	if int(count) > limit {
		return status, &LimitError{
			Subject: subject,
			Tool:    tool,
			Limit:   limit,
			ResetAt: status.ResetAt,
		}
	}
	return status, nil
}

// Close releases the Redis connection.
func (l *Limiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}
