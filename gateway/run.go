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
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"toolgate/platform/gateway/audit"
	"toolgate/platform/gateway/auth"
	"toolgate/platform/gateway/cache"
	"toolgate/platform/gateway/circuitbreaker"
	"toolgate/platform/gateway/policy"
	"toolgate/platform/gateway/ratelimit"
	"toolgate/platform/gateway/signing"
	"toolgate/platform/shared/logger"
)

// Application readiness state for health checks
var appReady atomic.Bool

// Global router and server - health checks pass immediately while
// initialization happens
var (
	globalRouter *mux.Router
	globalCORS   *cors.Cors
)

// initServerImmediately starts the HTTP server with just /health so load
// balancer health checks pass while the slower initialization (Redis,
// policy compile, JWKS warm-up) proceeds. Remaining routes are added after
// initialization completes.
func initServerImmediately(port string) {
	globalRouter = mux.NewRouter()

	globalCORS = cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	globalRouter.HandleFunc("/health", readinessAwareHealthHandler).Methods("GET")

	go func() {
		handler := globalCORS.Handler(globalRouter)
		log.Printf("ToolGate gateway starting on port %s (status: starting)", port)
		if err := http.ListenAndServe(":"+port, handler); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Small delay to ensure the listener accepts connections before
	// initialization work begins
	time.Sleep(50 * time.Millisecond)
}

// readinessAwareHealthHandler returns health status based on initialization state
func readinessAwareHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "starting"
	if appReady.Load() {
		status = "healthy"
	}
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"service":   "toolgate-gateway",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// Run is the exported entry point for the gateway service. It blocks until
// SIGINT/SIGTERM, then drains the audit sink before exiting.
func Run() {
	appLog := logger.New("toolgate-gateway")

	port := getEnv("GATEWAY_PORT", "8080")
	initServerImmediately(port)

	// Policy engine compiles the initial snapshot; a gateway with no
	// policy must not start serving
	policySource := policy.ParseSource(getEnv("POLICY_SOURCE", "policies.json"))
	policyTTL := time.Duration(getEnvInt("POLICY_TTL_SECONDS", 300)) * time.Second
	engine, err := policy.NewEngine(policySource, policyTTL, appLog)
	if err != nil {
		log.Fatalf("Policy initialization failed: %v", err)
	}

	keys := auth.NewKeySet(
		getEnv("JWKS_URL", "http://localhost:8089/jwks.json"),
		time.Duration(getEnvInt("JWKS_TTL_SECONDS", 300))*time.Second,
	)
	verifier := auth.NewVerifier(keys, auth.Config{
		Issuer:   getEnv("JWT_ISSUER", ""),
		Audience: getEnv("JWT_AUDIENCE", ""),
	}, engine)

	catalog, err := LoadCatalog(getEnv("TOOLS_CONFIG", "tools.yaml"))
	if err != nil {
		log.Fatalf("Tool catalog load failed: %v", err)
	}
	appLog.Info("", "", "tool catalog loaded", map[string]interface{}{"tools": catalog.Names()})

	// One Redis client backs both the limiter and the response cache;
	// neither is required for the gateway to serve
	var redisClient *redis.Client
	if redisURL := getEnv("REDIS_URL", ""); redisURL != "" {
		if opt, err := redis.ParseURL(redisURL); err != nil {
			appLog.Error("", "", "invalid REDIS_URL, rate limiting and caching disabled", map[string]interface{}{"error": err.Error()})
		} else {
			redisClient = redis.NewClient(opt)
		}
	} else {
		appLog.Warn("", "", "REDIS_URL not set, rate limiting and caching disabled", nil)
	}

	limiter := ratelimit.NewWithClient(redisClient,
		time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60))*time.Second,
		getEnvInt("RATE_LIMIT_DEFAULT", 100),
		appLog,
	)
	respCache := cache.New(redisClient,
		time.Duration(getEnvInt("CACHE_TTL_SECONDS", 60))*time.Second,
		getEnvInt("CACHE_MAX_BYTES", 1<<20),
		appLog,
	)

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		RecoveryTimeout:  time.Duration(getEnvInt("BREAKER_RECOVERY_SECONDS", 30)) * time.Second,
		HalfOpenRequests: getEnvInt("BREAKER_HALFOPEN_REQUESTS", 3),
	})

	sink, err := audit.NewSink(
		getEnv("AUDIT_SINK", "console://"),
		time.Duration(getEnvInt("AUDIT_RETENTION_HOURS", 720))*time.Hour,
		appLog,
	)
	if err != nil {
		log.Fatalf("Audit sink initialization failed: %v", err)
	}
	recorder := audit.NewRecorder(sink, appLog)

	var signer *signing.Signer
	if getEnv("SIGNING_ENABLED", "false") == "true" {
		signer, err = signing.New()
		if err != nil {
			log.Fatalf("Signer initialization failed: %v", err)
		}
		appLog.Info("", "", "response signing enabled", map[string]interface{}{"key_id": signer.KeyID()})
	}

	pipeline := NewPipeline(PipelineDeps{
		Verifier: verifier,
		Policy:   engine,
		Limiter:  limiter,
		Breakers: breakers,
		Cache:    respCache,
		Catalog:  catalog,
		Invoker:  NewInvoker(time.Duration(getEnvInt("TOOL_TIMEOUT_SECONDS", 10)) * time.Second),
		Retry: RetryPolicy{
			MaxAttempts:    getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
			Jitter:         0.1,
		},
		Recorder: recorder,
		Signer:   signer,
		Log:      appLog,
	})

	server := NewServer(pipeline, verifier, engine, breakers, respCache,
		getEnv("ADMIN_ROLE", "gateway-admin"), appLog)

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	engine.StartPeriodicRefresh(refreshCtx)

	// /health was registered in initServerImmediately() - now add the rest
	globalRouter.Handle("/metrics", promhttp.Handler()).Methods("GET")
	server.RegisterRoutes(globalRouter)

	appReady.Store(true)
	appLog.Info("", "", "gateway initialization complete", map[string]interface{}{"port": port})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	appLog.Info("", "", "shutdown signal received, draining audit sink", nil)
	appReady.Store(false)
	stopRefresh()
	if err := recorder.Close(); err != nil {
		appLog.Error("", "", "audit sink close failed", map[string]interface{}{"error": err.Error()})
	}
	_ = limiter.Close()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
