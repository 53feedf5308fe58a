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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Invoker forwards one invocation to a tool endpoint with a fixed deadline.
// Retry sits above it; the invoker makes exactly one attempt per call.
type Invoker struct {
	client  *http.Client
	timeout time.Duration
}

// NewInvoker creates an invoker with a per-call timeout.
func NewInvoker(timeout time.Duration) *Invoker {
	return &Invoker{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Invoke POSTs the invocation to the tool endpoint's /execute path and
// returns the raw response body. The body carries the caller's arguments
// spread at the top level plus the verified claim map under "claims".
// A deadline overrun is a *ToolTimeoutError; any other failure, including
// a non-2xx answer, is a *ToolInvocationError.
func (inv *Invoker) Invoke(ctx context.Context, tool *ToolDescriptor, args map[string]interface{}, claims map[string]interface{}) ([]byte, error) {
	payload := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		payload[k] = v
	}
	payload["claims"] = claims

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ToolInvocationError{Tool: tool.Name, Cause: fmt.Errorf("marshal request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	url := strings.TrimSuffix(tool.Endpoint, "/") + "/execute"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &ToolInvocationError{Tool: tool.Name, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := inv.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return nil, &ToolTimeoutError{Tool: tool.Name, Timeout: inv.timeout.String()}
		}
		return nil, &ToolInvocationError{Tool: tool.Name, Cause: err}
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ToolInvocationError{Tool: tool.Name, Cause: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ToolInvocationError{Tool: tool.Name, Status: resp.StatusCode}
	}
	return payloadBytes, nil
}

func isClientTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	return errors.As(err, &t) && t.Timeout()
}
