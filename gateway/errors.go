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

	"toolgate/platform/gateway/auth"
	"toolgate/platform/gateway/circuitbreaker"
	"toolgate/platform/gateway/policy"
	"toolgate/platform/gateway/ratelimit"
)

// ErrUnknownTool is returned when the requested tool is not in the catalog.
var ErrUnknownTool = errors.New("unknown tool")

// ToolTimeoutError reports an endpoint that did not answer within the
// invocation deadline, after the retry budget was spent.
type ToolTimeoutError struct {
	Tool    string
	Timeout string
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("tool %q timed out after %s", e.Tool, e.Timeout)
}

// ToolInvocationError reports an endpoint that answered with a failure.
type ToolInvocationError struct {
	Tool   string
	Status int
	Cause  error
}

func (e *ToolInvocationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %q invocation failed: %v", e.Tool, e.Cause)
	}
	return fmt.Sprintf("tool %q invocation failed with status %d", e.Tool, e.Status)
}

func (e *ToolInvocationError) Unwrap() error { return e.Cause }

// StatusForError translates a terminal pipeline error into the HTTP status
// the caller sees. Components below the handler edge never deal in status
// codes.
func StatusForError(err error) int {
	var denial *policy.DenialError
	var limit *ratelimit.LimitError
	var open *circuitbreaker.OpenError

	switch {
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrKeyNotFound),
		errors.Is(err, auth.ErrSignatureInvalid),
		errors.Is(err, auth.ErrClaimsRejected):
		return http.StatusUnauthorized
	case errors.As(err, &denial), errors.Is(err, policy.ErrMisconfigured):
		return http.StatusForbidden
	case errors.Is(err, ErrUnknownTool):
		return http.StatusNotFound
	case errors.As(err, &limit):
		return http.StatusTooManyRequests
	case errors.As(err, &open):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
