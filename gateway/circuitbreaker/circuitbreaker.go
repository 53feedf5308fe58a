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

// Package circuitbreaker isolates failing tool endpoints so a dead backend
// sheds load fast instead of tying up the request path with timeouts.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	// Closed passes all requests through.
	Closed State = iota
	// Open rejects requests until the recovery timeout elapses.
	Open
	// HalfOpen admits a bounded number of probe requests.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// OpenError is returned when a request is rejected by an open breaker.
type OpenError struct {
	Endpoint string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %q is open", e.Endpoint)
}

// Config tunes breaker transitions. The zero value is replaced by defaults.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker from Closed.
	FailureThreshold int
	// RecoveryTimeout is how long an open breaker waits before admitting
	// probes.
	RecoveryTimeout time.Duration
	// HalfOpenRequests is both the probe budget in HalfOpen and the
	// success count needed to close again.
	HalfOpenRequests int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = 3
	}
	return c
}

// Breaker guards a single tool endpoint. All transitions happen under the
// breaker's own mutex, so one endpoint's state never blocks another's.
type Breaker struct {
	endpoint string
	cfg      Config

	mu                sync.Mutex
	state             State
	failures          int
	lastFailure       time.Time
	halfOpenProbes    int
	halfOpenSuccesses int
}

// NewBreaker creates a closed breaker for an endpoint.
func NewBreaker(endpoint string, cfg Config) *Breaker {
	return &Breaker{endpoint: endpoint, cfg: cfg.withDefaults(), state: Closed}
}

// Allow reports whether a request may proceed. An open breaker whose
// recovery timeout has elapsed moves to HalfOpen and starts admitting
// probes; HalfOpen admits at most HalfOpenRequests in-flight probes.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.lastFailure) < b.cfg.RecoveryTimeout {
			return false
		}
		b.state = HalfOpen
		b.halfOpenProbes = 1
		b.halfOpenSuccesses = 0
		return true
	case HalfOpen:
		if b.halfOpenProbes >= b.cfg.HalfOpenRequests {
			return false
		}
		b.halfOpenProbes++
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful invocation. Enough successes in
// HalfOpen close the breaker and reset its counters.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenRequests {
			b.state = Closed
			b.failures = 0
			b.halfOpenProbes = 0
			b.halfOpenSuccesses = 0
		}
	case Closed:
		b.failures = 0
	}
}

// RecordFailure reports a failed invocation. A HalfOpen breaker reopens on
// any failure; a Closed breaker opens once the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	switch b.state {
	case HalfOpen:
		b.state = Open
		b.halfOpenProbes = 0
		b.halfOpenSuccesses = 0
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
		}
	}
}

// Reset forces the breaker back to Closed. Used by the admin surface.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.halfOpenProbes = 0
	b.halfOpenSuccesses = 0
}

// Status is a point-in-time snapshot of a breaker for the admin surface.
type Status struct {
	Endpoint    string    `json:"endpoint"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Status returns the breaker's current snapshot.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Endpoint:    b.endpoint,
		State:       b.state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

// Registry holds one breaker per tool endpoint, created lazily.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry; every breaker it creates shares cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for endpoint, creating it on first use.
func (r *Registry) For(endpoint string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[endpoint]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[endpoint]; ok {
		return b
	}
	b = NewBreaker(endpoint, r.cfg)
	r.breakers[endpoint] = b
	return b
}

// States returns a snapshot of every known breaker.
func (r *Registry) States() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Status())
	}
	return out
}
