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

/*
Command gateway runs the ToolGate invocation gateway.

Every tool call from an agent passes through the gateway, where it is
authenticated, authorized, throttled, shielded by a circuit breaker,
optionally cached, and audited before being forwarded to the tool endpoint.

# Usage

	gateway

# Environment Variables

Required:
  - JWKS_URL: identity provider key-set URL
  - POLICY_SOURCE: policy document path, or "inline:" followed by JSON
  - TOOLS_CONFIG: tool catalog YAML path

Optional:
  - GATEWAY_PORT: HTTP server port (default: 8080)
  - REDIS_URL: Redis URL for rate limiting and the response cache
  - JWT_ISSUER, JWT_AUDIENCE: claim checks applied during verification
  - AUDIT_SINK: console://, http(s)://, redis://, postgres:// or bus://
  - SIGNING_ENABLED: "true" to sign response envelopes
  - ADMIN_ROLE: role required for /admin endpoints (default: gateway-admin)

# Example

	export JWKS_URL="https://idp.example.com/.well-known/jwks.json"
	export POLICY_SOURCE="/etc/toolgate/policies.json"
	export TOOLS_CONFIG="/etc/toolgate/tools.yaml"
	./gateway
*/
package main
