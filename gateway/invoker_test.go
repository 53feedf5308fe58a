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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func readTool(endpoint string) *ToolDescriptor {
	return &ToolDescriptor{Name: "kb.search", Endpoint: endpoint, SideEffect: SideEffectRead}
}

// TestInvokeForwardsRequest verifies the forwarded body shape, the /execute
// path and the response passthrough
func TestInvokeForwardsRequest(t *testing.T) {
	var receivedPath string
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode forwarded body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":["doc-1"]}`))
	}))
	defer srv.Close()

	inv := NewInvoker(time.Second)
	claims := map[string]interface{}{"sub": "agent-7", "tenant_id": "acme"}
	body, err := inv.Invoke(context.Background(), readTool(srv.URL),
		map[string]interface{}{"q": "outage"}, claims)
	if err != nil {
		t.Fatal(err)
	}

	if receivedPath != "/execute" {
		t.Errorf("expected POST to /execute, got %q", receivedPath)
	}
	if received["q"] != "outage" {
		t.Errorf("arguments not spread at the top level: %v", received)
	}
	forwarded, ok := received["claims"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a claims object, got %v", received["claims"])
	}
	if forwarded["sub"] != "agent-7" || forwarded["tenant_id"] != "acme" {
		t.Errorf("claims not forwarded: %v", forwarded)
	}
	if string(body) != `{"results":["doc-1"]}` {
		t.Errorf("unexpected body: %s", body)
	}
}

// TestInvokeNonSuccessStatus verifies 5xx answers classify as invocation errors
func TestInvokeNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewInvoker(time.Second).Invoke(context.Background(), readTool(srv.URL), nil, nil)
	var invErr *ToolInvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected ToolInvocationError, got %v", err)
	}
	if invErr.Status != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", invErr.Status)
	}
}

// TestInvokeTimeout verifies a slow endpoint classifies as a timeout
func TestInvokeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewInvoker(20*time.Millisecond).Invoke(context.Background(), readTool(srv.URL), nil, nil)
	var timeoutErr *ToolTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected ToolTimeoutError, got %v", err)
	}
}

// TestInvokeUnreachableEndpoint verifies connection failures classify cleanly
func TestInvokeUnreachableEndpoint(t *testing.T) {
	_, err := NewInvoker(time.Second).Invoke(context.Background(),
		readTool("http://127.0.0.1:1"), nil, nil)
	var invErr *ToolInvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected ToolInvocationError, got %v", err)
	}
}
