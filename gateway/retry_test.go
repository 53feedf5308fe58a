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

package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

// TestRetryEventualSuccess verifies transient failures are absorbed
func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	err := fastRetry(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

// TestRetryBudgetExhausted verifies the last error surfaces unwrapped
func TestRetryBudgetExhausted(t *testing.T) {
	sentinel := errors.New("still down")
	calls := 0
	err := fastRetry(3).Do(context.Background(), func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("expected the last error back, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}

// TestRetryNonRetryablePredicate verifies a vetoed error stops immediately
func TestRetryNonRetryablePredicate(t *testing.T) {
	fatal := errors.New("schema mismatch")
	p := fastRetry(5)
	p.Retryable = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Errorf("expected fatal error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

// TestRetryContextCancellation verifies Do stops waiting when ctx ends
func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 10, InitialBackoff: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error { return errors.New("down") })
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

// TestRetryZeroAttempts verifies the budget floor of one attempt
func TestRetryZeroAttempts(t *testing.T) {
	calls := 0
	_ = RetryPolicy{}.Do(context.Background(), func() error {
		calls++
		return errors.New("down")
	})
	if calls != 1 {
		t.Errorf("expected one attempt with a zero-value policy, got %d", calls)
	}
}
