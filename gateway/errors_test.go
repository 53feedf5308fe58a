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
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"toolgate/platform/gateway/auth"
	"toolgate/platform/gateway/circuitbreaker"
	"toolgate/platform/gateway/policy"
	"toolgate/platform/gateway/ratelimit"
)

// TestStatusForError pins the error taxonomy to transport status codes
func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid token", fmt.Errorf("%w: junk", auth.ErrInvalidToken), http.StatusUnauthorized},
		{"key not found", auth.ErrKeyNotFound, http.StatusUnauthorized},
		{"bad signature", auth.ErrSignatureInvalid, http.StatusUnauthorized},
		{"claims rejected", auth.ErrClaimsRejected, http.StatusUnauthorized},
		{"policy denial", &policy.DenialError{Action: "x.invoke", Reason: "missing role"}, http.StatusForbidden},
		{"policy misconfigured", policy.ErrMisconfigured, http.StatusForbidden},
		{"unknown tool", fmt.Errorf("%w: %q", ErrUnknownTool, "ghost.tool"), http.StatusNotFound},
		{"rate limited", &ratelimit.LimitError{Subject: "a", Tool: "t", Limit: 1, ResetAt: time.Now()}, http.StatusTooManyRequests},
		{"circuit open", &circuitbreaker.OpenError{Endpoint: "http://t"}, http.StatusInternalServerError},
		{"tool timeout", &ToolTimeoutError{Tool: "t", Timeout: "10s"}, http.StatusInternalServerError},
		{"tool failure", &ToolInvocationError{Tool: "t", Status: 502}, http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusForError(tt.err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
