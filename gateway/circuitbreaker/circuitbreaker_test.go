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

package circuitbreaker

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenRequests: 2,
	}
}

// TestBreakerOpensAtThreshold verifies Closed -> Open at the failure threshold
func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("http://tool.local", testConfig())

	b.RecordFailure()
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("breaker should stay closed below threshold")
	}

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open at threshold")
	}
	if got := b.Status().State; got != "open" {
		t.Errorf("expected state open, got %s", got)
	}
}

// TestBreakerSuccessResetsFailureCount verifies non-consecutive failures
// never open the breaker
func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("http://tool.local", testConfig())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if !b.Allow() {
		t.Error("success between failures should have reset the count")
	}
}

// TestBreakerHalfOpenRecovery walks Open -> HalfOpen -> Closed
func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker("http://tool.local", testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(60 * time.Millisecond)

	// First Allow after the recovery timeout is a probe
	if !b.Allow() {
		t.Fatal("expected probe to be admitted after recovery timeout")
	}
	if got := b.Status().State; got != "half-open" {
		t.Fatalf("expected half-open, got %s", got)
	}

	// Second probe fits the budget, a third does not
	if !b.Allow() {
		t.Fatal("expected second probe to be admitted")
	}
	if b.Allow() {
		t.Fatal("probe budget exceeded")
	}

	b.RecordSuccess()
	b.RecordSuccess()
	if got := b.Status().State; got != "closed" {
		t.Errorf("expected closed after probe successes, got %s", got)
	}
	if !b.Allow() {
		t.Error("closed breaker should admit requests")
	}
}

// TestBreakerHalfOpenFailureReopens verifies one failed probe reopens
func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("http://tool.local", testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe to be admitted")
	}
	b.RecordFailure()

	if got := b.Status().State; got != "open" {
		t.Errorf("expected open after failed probe, got %s", got)
	}
	if b.Allow() {
		t.Error("reopened breaker should reject immediately")
	}
}

// TestBreakerReset verifies the admin reset path
func TestBreakerReset(t *testing.T) {
	b := NewBreaker("http://tool.local", testConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	b.Reset()

	if !b.Allow() {
		t.Error("reset breaker should admit requests")
	}
	if got := b.Status().State; got != "closed" {
		t.Errorf("expected closed after reset, got %s", got)
	}
}

// TestRegistryIsolation verifies breakers are per endpoint
func TestRegistryIsolation(t *testing.T) {
	r := NewRegistry(testConfig())

	a := r.For("http://tool-a.local")
	for i := 0; i < 3; i++ {
		a.RecordFailure()
	}

	if r.For("http://tool-a.local").Allow() {
		t.Error("tool-a breaker should be open")
	}
	if !r.For("http://tool-b.local").Allow() {
		t.Error("tool-b breaker should be unaffected")
	}
}

// TestRegistryForReturnsSameBreaker verifies lazy creation is stable
func TestRegistryForReturnsSameBreaker(t *testing.T) {
	r := NewRegistry(testConfig())
	if r.For("http://tool.local") != r.For("http://tool.local") {
		t.Error("expected the same breaker instance per endpoint")
	}
}

// TestRegistryStates verifies the admin snapshot covers all breakers
func TestRegistryStates(t *testing.T) {
	r := NewRegistry(testConfig())
	r.For("http://tool-a.local")
	b := r.For("http://tool-b.local")
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	states := r.States()
	if len(states) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(states))
	}
	byEndpoint := make(map[string]string, len(states))
	for _, s := range states {
		byEndpoint[s.Endpoint] = s.State
	}
	if byEndpoint["http://tool-a.local"] != "closed" {
		t.Errorf("expected tool-a closed, got %s", byEndpoint["http://tool-a.local"])
	}
	if byEndpoint["http://tool-b.local"] != "open" {
		t.Errorf("expected tool-b open, got %s", byEndpoint["http://tool-b.local"])
	}
}

// TestConfigDefaults verifies zero-value config is usable
func TestConfigDefaults(t *testing.T) {
	b := NewBreaker("http://tool.local", Config{})
	if !b.Allow() {
		t.Error("default-config breaker should start closed")
	}
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	if b.Allow() {
		t.Error("default threshold of 5 should have opened the breaker")
	}
}
