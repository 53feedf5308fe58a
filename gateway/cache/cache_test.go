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

package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"toolgate/platform/shared/logger"
)

func newTestCache(t *testing.T, maxSize int) (*ResponseCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Minute, maxSize, logger.New("cache-test")), mr
}

// TestSetAndGet covers the basic hit path
func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(t, 1024)
	ctx := context.Background()

	key, err := c.Key("kb.search", map[string]interface{}{"q": "outage"}, "acme")
	if err != nil {
		t.Fatal(err)
	}

	body := []byte(`{"results":["doc-1"]}`)
	if !c.Set(ctx, key, body) {
		t.Fatal("expected Set to store")
	}

	got, hit := c.Get(ctx, key)
	if !hit {
		t.Fatal("expected a hit")
	}
	if !bytes.Equal(got, body) {
		t.Errorf("expected %s, got %s", body, got)
	}
}

// TestKeyArgumentOrderIndependence verifies the fingerprint ignores map order
func TestKeyArgumentOrderIndependence(t *testing.T) {
	c, _ := newTestCache(t, 1024)

	k1, err := c.Key("kb.search", map[string]interface{}{"q": "outage", "limit": 10}, "acme")
	if err != nil {
		t.Fatal(err)
	}
	k2, err := c.Key("kb.search", map[string]interface{}{"limit": 10, "q": "outage"}, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Error("equal arguments should fingerprint identically")
	}
}

// TestKeyTenantIsolation verifies tenants never share entries
func TestKeyTenantIsolation(t *testing.T) {
	c, _ := newTestCache(t, 1024)
	args := map[string]interface{}{"q": "outage"}

	k1, _ := c.Key("kb.search", args, "acme")
	k2, _ := c.Key("kb.search", args, "globex")
	if k1 == k2 {
		t.Error("different tenants must produce different keys")
	}
}

// TestGetMissAfterTTL verifies expiry
func TestGetMissAfterTTL(t *testing.T) {
	c, mr := newTestCache(t, 1024)
	ctx := context.Background()

	key, _ := c.Key("kb.search", map[string]interface{}{"q": "outage"}, "acme")
	c.Set(ctx, key, []byte("body"))

	mr.FastForward(2 * time.Minute)

	if _, hit := c.Get(ctx, key); hit {
		t.Error("expected a miss after TTL")
	}
}

// TestSetOversizeRejected verifies the size ceiling
func TestSetOversizeRejected(t *testing.T) {
	c, _ := newTestCache(t, 16)
	ctx := context.Background()

	key, _ := c.Key("kb.search", map[string]interface{}{"q": "outage"}, "acme")
	if c.Set(ctx, key, bytes.Repeat([]byte("x"), 17)) {
		t.Fatal("oversize body should be rejected")
	}
	if _, hit := c.Get(ctx, key); hit {
		t.Error("rejected body must not be retrievable")
	}
}

// TestErrorsAreMisses verifies a dead Redis degrades to misses
func TestErrorsAreMisses(t *testing.T) {
	c, mr := newTestCache(t, 1024)
	ctx := context.Background()

	key, _ := c.Key("kb.search", map[string]interface{}{"q": "outage"}, "acme")
	c.Set(ctx, key, []byte("body"))
	mr.Close()

	if _, hit := c.Get(ctx, key); hit {
		t.Error("expected a miss when Redis is unreachable")
	}
	if c.Set(ctx, key, []byte("body")) {
		t.Error("Set against a dead Redis should report not stored")
	}
}

// TestDeleteAndClear covers the admin eviction paths
func TestDeleteAndClear(t *testing.T) {
	c, _ := newTestCache(t, 1024)
	ctx := context.Background()

	k1, _ := c.Key("kb.search", map[string]interface{}{"q": "a"}, "acme")
	k2, _ := c.Key("kb.search", map[string]interface{}{"q": "b"}, "acme")
	c.Set(ctx, k1, []byte("one"))
	c.Set(ctx, k2, []byte("two"))

	c.Delete(ctx, k1)
	if _, hit := c.Get(ctx, k1); hit {
		t.Error("deleted entry should miss")
	}
	if _, hit := c.Get(ctx, k2); !hit {
		t.Fatal("other entry should survive Delete")
	}

	removed, err := c.Clear(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("expected Clear to remove 1 entry, got %d", removed)
	}
	if _, hit := c.Get(ctx, k2); hit {
		t.Error("Clear should have emptied the cache")
	}
}

// TestDisabledCache verifies nil-client behavior
func TestDisabledCache(t *testing.T) {
	c := New(nil, time.Minute, 1024, logger.New("cache-test"))
	ctx := context.Background()

	if c.Enabled() {
		t.Error("nil client should report disabled")
	}
	if c.Set(ctx, "respcache:x", []byte("body")) {
		t.Error("disabled cache should not store")
	}
	if _, hit := c.Get(ctx, "respcache:x"); hit {
		t.Error("disabled cache should always miss")
	}
	if removed, err := c.Clear(ctx); err != nil || removed != 0 {
		t.Errorf("disabled Clear should be a no-op, got %d, %v", removed, err)
	}
}
