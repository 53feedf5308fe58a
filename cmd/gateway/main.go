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

// Package main is the entry point for the ToolGate gateway service.
//
// The gateway is the admission layer between agent callers and tool
// endpoints:
// - Verifies bearer tokens against the identity provider's key set
// - Enforces RBAC/ABAC policy per tool action
// - Applies rate limits and per-endpoint circuit breaking
// - Caches read-tool responses and audits every invocation
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	GATEWAY_PORT - HTTP server port (default: 8080)
//	JWKS_URL - identity provider key-set URL
//	POLICY_SOURCE - policy document path or inline JSON
//	TOOLS_CONFIG - tool catalog YAML path
package main

import (
	"toolgate/platform/gateway"
)

func main() {
	gateway.Run()
}
