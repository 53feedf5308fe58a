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
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"toolgate/platform/gateway/auth"
	"toolgate/platform/gateway/cache"
	"toolgate/platform/gateway/circuitbreaker"
	"toolgate/platform/gateway/policy"
	"toolgate/platform/shared/logger"
)

// Server exposes the pipeline and its admin surface over HTTP.
type Server struct {
	pipeline  *Pipeline
	verifier  *auth.Verifier
	policy    *policy.Engine
	breakers  *circuitbreaker.Registry
	cache     *cache.ResponseCache
	adminRole string
	log       *logger.Logger
}

// NewServer creates the HTTP surface around an assembled pipeline.
func NewServer(pipeline *Pipeline, verifier *auth.Verifier, engine *policy.Engine, breakers *circuitbreaker.Registry, respCache *cache.ResponseCache, adminRole string, log *logger.Logger) *Server {
	return &Server{
		pipeline:  pipeline,
		verifier:  verifier,
		policy:    engine,
		breakers:  breakers,
		cache:     respCache,
		adminRole: adminRole,
		log:       log,
	}
}

// RegisterRoutes registers the invocation and admin endpoints
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/invoke", s.handleInvoke).Methods("POST")
	r.HandleFunc("/admin/policy/refresh", s.handlePolicyRefresh).Methods("POST")
	r.HandleFunc("/admin/circuit-breakers", s.handleBreakerStates).Methods("GET")
	r.HandleFunc("/admin/cache", s.handleCacheClear).Methods("DELETE")
}

const (
	msgMissingAuthHeader = "Missing authorization header"
	msgNotBearerScheme   = "Unsupported authorization scheme"
)

// bearerToken extracts the token from an Authorization header. A non-empty
// denial names what was wrong with the header; both cases are 401s.
func bearerToken(r *http.Request) (token, denial string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", msgMissingAuthHeader
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", msgNotBearerScheme
	}
	return token, ""
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	gatewayActiveRequests.Inc()
	defer gatewayActiveRequests.Dec()

	status := http.StatusOK
	defer func() {
		gatewayRequestsTotal.WithLabelValues(r.Method, "/invoke", strconv.Itoa(status)).Inc()
		gatewayRequestDuration.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = http.StatusBadRequest
		sendError(w, "Invalid request body", status)
		return
	}
	if req.ToolName == "" {
		status = http.StatusBadRequest
		sendError(w, "tool_name field is required", status)
		return
	}

	bearer, denial := bearerToken(r)
	if denial != "" {
		status = http.StatusUnauthorized
		s.pipeline.RecordUnauthenticated(r.Context(), req, strings.ToLower(denial))
		sendError(w, denial, status)
		return
	}

	envelope, rlStatus, err := s.pipeline.Execute(r.Context(), bearer, req)
	if err != nil {
		status = StatusForError(err)
		if status == http.StatusTooManyRequests {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rlStatus.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rlStatus.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rlStatus.ResetAt.Unix(), 10))
		}
		sendError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		s.log.Error("", "", "failed to encode invoke response", map[string]interface{}{"error": err.Error()})
	}
}

// requireAdmin verifies the caller and checks the configured admin role.
func (s *Server) requireAdmin(r *http.Request) (int, string) {
	bearer, denial := bearerToken(r)
	if denial != "" {
		return http.StatusUnauthorized, denial
	}
	principal, err := s.verifier.Verify(r.Context(), bearer)
	if err != nil {
		return http.StatusUnauthorized, "Authentication failed: " + err.Error()
	}
	for _, role := range principal.Roles {
		if role == s.adminRole {
			return http.StatusOK, ""
		}
	}
	return http.StatusForbidden, "admin role required"
}

func (s *Server) handlePolicyRefresh(w http.ResponseWriter, r *http.Request) {
	if status, msg := s.requireAdmin(r); status != http.StatusOK {
		sendError(w, msg, status)
		return
	}

	if err := s.policy.RefreshNow(); err != nil {
		sendError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"version": s.policy.Current().Version,
	})
}

func (s *Server) handleBreakerStates(w http.ResponseWriter, r *http.Request) {
	if status, msg := s.requireAdmin(r); status != http.StatusOK {
		sendError(w, msg, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"breakers": s.breakers.States(),
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if status, msg := s.requireAdmin(r); status != http.StatusOK {
		sendError(w, msg, status)
		return
	}

	removed, err := s.cache.Clear(r.Context())
	if err != nil {
		sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"removed": removed,
	})
}

// sendError sends a JSON error response
func sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
