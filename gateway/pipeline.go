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
	"time"

	"github.com/google/uuid"

	"toolgate/platform/gateway/audit"
	"toolgate/platform/gateway/auth"
	"toolgate/platform/gateway/cache"
	"toolgate/platform/gateway/circuitbreaker"
	"toolgate/platform/gateway/policy"
	"toolgate/platform/gateway/ratelimit"
	"toolgate/platform/gateway/signing"
	"toolgate/platform/shared/logger"
)

// InvokeRequest is the caller's invocation envelope.
type InvokeRequest struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	// Context carries the caller-supplied attributes evaluated by ABAC
	// constraints.
	Context map[string]interface{} `json:"context,omitempty"`
}

// Pipeline runs the admission stages for one invocation. Each stage's
// failure short-circuits the rest, except the audit record, which is
// written for every terminal outcome.
type Pipeline struct {
	verifier *auth.Verifier
	policy   *policy.Engine
	limiter  *ratelimit.Limiter
	breakers *circuitbreaker.Registry
	cache    *cache.ResponseCache
	catalog  *Catalog
	invoker  *Invoker
	retry    RetryPolicy
	recorder *audit.Recorder
	signer   *signing.Signer
	log      *logger.Logger
}

// PipelineDeps carries the assembled components into NewPipeline.
type PipelineDeps struct {
	Verifier *auth.Verifier
	Policy   *policy.Engine
	Limiter  *ratelimit.Limiter
	Breakers *circuitbreaker.Registry
	Cache    *cache.ResponseCache
	Catalog  *Catalog
	Invoker  *Invoker
	Retry    RetryPolicy
	Recorder *audit.Recorder
	// Signer is nil when response signing is disabled.
	Signer *signing.Signer
	Log    *logger.Logger
}

// NewPipeline wires the admission stages together.
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		verifier: deps.Verifier,
		policy:   deps.Policy,
		limiter:  deps.Limiter,
		breakers: deps.Breakers,
		cache:    deps.Cache,
		catalog:  deps.Catalog,
		invoker:  deps.Invoker,
		retry:    deps.Retry,
		recorder: deps.Recorder,
		signer:   deps.Signer,
		log:      deps.Log,
	}
}

// RateLimitStatus is re-exported for the handler's 429 headers.
type RateLimitStatus = ratelimit.Status

// Execute runs one invocation through every stage and returns the response
// envelope. On error the envelope is nil and the returned rate-limit status
// is only meaningful for *ratelimit.LimitError.
func (p *Pipeline) Execute(ctx context.Context, bearer string, req InvokeRequest) (map[string]interface{}, RateLimitStatus, error) {
	start := time.Now()
	requestID := uuid.New().String()
	var rlStatus RateLimitStatus

	principal, err := p.verifier.Verify(ctx, bearer)
	if err != nil {
		gatewayDenialsTotal.WithLabelValues("auth").Inc()
		p.auditTerminal(ctx, req, audit.Anonymous, "", audit.DecisionDenied, err, nil, start, false)
		return nil, rlStatus, err
	}
	actor := audit.Actor{Subject: principal.Subject, Tenant: principal.Tenant, Roles: principal.Roles}

	tool, err := p.catalog.Lookup(req.ToolName)
	if err != nil {
		gatewayDenialsTotal.WithLabelValues("catalog").Inc()
		p.auditTerminal(ctx, req, actor, "", audit.DecisionDenied, err, nil, start, false)
		return nil, rlStatus, err
	}

	if err := p.policy.Authorize(tool.Name+".invoke", principal.Roles, req.Context); err != nil {
		gatewayDenialsTotal.WithLabelValues("policy").Inc()
		p.auditTerminal(ctx, req, actor, tool.SideEffect, audit.DecisionDenied, err, nil, start, false)
		return nil, rlStatus, err
	}

	rlStatus, err = p.limiter.Check(ctx, principal.Subject, tool.Name, tool.RateLimit)
	if err != nil {
		gatewayDenialsTotal.WithLabelValues("ratelimit").Inc()
		p.auditTerminal(ctx, req, actor, tool.SideEffect, audit.DecisionRejected, err, nil, start, false)
		return nil, rlStatus, err
	}

	breaker := p.breakers.For(tool.Endpoint)
	if !breaker.Allow() {
		gatewayDenialsTotal.WithLabelValues("breaker").Inc()
		err := &circuitbreaker.OpenError{Endpoint: tool.Endpoint}
		p.auditTerminal(ctx, req, actor, tool.SideEffect, audit.DecisionRejected, err, nil, start, false)
		return nil, rlStatus, err
	}

	var cacheKey string
	if tool.Cacheable() && p.cache.Enabled() {
		cacheKey, err = p.cache.Key(tool.Name, req.Arguments, principal.Tenant)
		if err != nil {
			p.log.Error(principal.Tenant, requestID, "cache key derivation failed, skipping cache", map[string]interface{}{
				"tool":  tool.Name,
				"error": err.Error(),
			})
			cacheKey = ""
		}
		if cacheKey != "" {
			if body, hit := p.cache.Get(ctx, cacheKey); hit {
				// The breaker admitted this request; a cached answer
				// still settles that slot, or a half-open breaker
				// would strand its probe budget on cached reads.
				breaker.RecordSuccess()
				gatewayCacheTotal.WithLabelValues("hit").Inc()
				envelope, err := p.respond(requestID, tool, body, true, start)
				if err != nil {
					return nil, rlStatus, err
				}
				p.auditTerminal(ctx, req, actor, tool.SideEffect, audit.DecisionAllowed, nil, body, start, true)
				return envelope, rlStatus, nil
			}
			gatewayCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	var body []byte
	invokeErr := p.retry.Do(ctx, func() error {
		var attemptErr error
		body, attemptErr = p.invoker.Invoke(ctx, tool, req.Arguments, principal.Claims)
		return attemptErr
	})
	if invokeErr != nil {
		breaker.RecordFailure()
		gatewayToolFailuresTotal.WithLabelValues(tool.Name).Inc()
		p.auditTerminal(ctx, req, actor, tool.SideEffect, audit.DecisionFailed, invokeErr, nil, start, false)
		return nil, rlStatus, invokeErr
	}
	breaker.RecordSuccess()

	if cacheKey != "" {
		if p.cache.Set(ctx, cacheKey, body) {
			gatewayCacheTotal.WithLabelValues("store").Inc()
		}
	}

	envelope, err := p.respond(requestID, tool, body, false, start)
	if err != nil {
		p.auditTerminal(ctx, req, actor, tool.SideEffect, audit.DecisionFailed, err, body, start, false)
		return nil, rlStatus, err
	}
	p.auditTerminal(ctx, req, actor, tool.SideEffect, audit.DecisionAllowed, nil, body, start, false)
	return envelope, rlStatus, nil
}

// RecordUnauthenticated writes the audit record for a request rejected
// before verification could run, with the concrete denial reason.
func (p *Pipeline) RecordUnauthenticated(ctx context.Context, req InvokeRequest, reason string) {
	gatewayDenialsTotal.WithLabelValues("auth").Inc()
	event := audit.NewEvent(req.ToolName, "", audit.Anonymous, req.Arguments, nil)
	event.Decision = audit.DecisionDenied
	event.Reason = reason
	p.recorder.Record(ctx, event)
}

// respond builds the response envelope, signing it when a signer is wired.
func (p *Pipeline) respond(requestID string, tool *ToolDescriptor, body []byte, cached bool, start time.Time) (map[string]interface{}, error) {
	var result interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		// Tool endpoints are expected to speak JSON
		return nil, &ToolInvocationError{Tool: tool.Name, Cause: err}
	}

	envelope := map[string]interface{}{
		"request_id": requestID,
		"tool":       tool.Name,
		"result":     result,
		"cached":     cached,
		"latency_ms": float64(time.Since(start).Microseconds()) / 1000.0,
	}
	if p.signer == nil {
		return envelope, nil
	}

	signed, err := p.signer.Sign(envelope)
	if err != nil {
		// Signing trouble must not lose the response
		p.log.Error("", requestID, "response signing failed, returning unsigned", map[string]interface{}{
			"tool":  tool.Name,
			"error": err.Error(),
		})
		return envelope, nil
	}
	return signed, nil
}

// auditTerminal writes the one audit record every invocation ends with.
func (p *Pipeline) auditTerminal(ctx context.Context, req InvokeRequest, actor audit.Actor, sideEffect string, decision audit.Decision, terminalErr error, result []byte, start time.Time, cacheHit bool) {
	event := audit.NewEvent(req.ToolName, sideEffect, actor, req.Arguments, result)
	event.Decision = decision
	event.LatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	event.CacheHit = cacheHit
	if terminalErr != nil {
		var denial *policy.DenialError
		if errors.As(terminalErr, &denial) {
			event.Reason = denial.Reason
		}
		event.Error = terminalErr.Error()
	}
	p.recorder.Record(ctx, event)
}
