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
Package gateway is the admission pipeline between agent callers and tool
endpoints.

One invocation flows through the stages in a fixed order: token
verification, policy authorization for "<tool>.invoke", rate limiting,
circuit-breaker pre-check, cache lookup for read tools, the endpoint call
itself under a deadline with bounded retry, breaker outcome recording,
cache store, optional response signing, and finally the audit record. Any
stage's failure short-circuits the rest, except the audit record, which is
written for every terminal outcome.

The package also carries the HTTP surface: POST /invoke for callers, the
/admin endpoints for operators, /health and /metrics for the platform.
Sub-packages implement the individual stages and are usable on their own.
*/
package gateway
