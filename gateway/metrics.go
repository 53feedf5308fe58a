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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Gateway Prometheus metrics
var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	gatewayRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "toolgate_request_duration_milliseconds",
			Help:    "Gateway request duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
		},
	)
	gatewayActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "toolgate_active_requests",
			Help: "Number of requests currently in flight",
		},
	)
	gatewayDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_denials_total",
			Help: "Requests rejected before reaching a tool endpoint, by pipeline stage",
		},
		[]string{"stage"},
	)
	gatewayCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_cache_total",
			Help: "Response cache outcomes for read tools",
		},
		[]string{"outcome"},
	)
	gatewayToolFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_tool_failures_total",
			Help: "Tool invocation failures after retry, by tool",
		},
		[]string{"tool"},
	)
)

// gatewayMetricsOnce ensures metrics are registered only once
var gatewayMetricsOnce sync.Once

func init() {
	registerGatewayMetrics()
}

// registerGatewayMetrics registers all gateway metrics once (safe for multiple calls)
func registerGatewayMetrics() {
	gatewayMetricsOnce.Do(func() {
		_ = prometheus.Register(gatewayRequestsTotal)
		_ = prometheus.Register(gatewayRequestDuration)
		_ = prometheus.Register(gatewayActiveRequests)
		_ = prometheus.Register(gatewayDenialsTotal)
		_ = prometheus.Register(gatewayCacheTotal)
		_ = prometheus.Register(gatewayToolFailuresTotal)
	})
}
