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

// Package audit records one event per terminal invocation outcome. Payloads
// are never stored, only canonical digests, so the trail can be retained
// longer than the data it describes.
package audit

import (
	"time"

	"github.com/google/uuid"

	"toolgate/platform/gateway/canonical"
)

// Decision is the terminal outcome class of an invocation.
type Decision string

const (
	DecisionAllowed  Decision = "allowed"
	DecisionDenied   Decision = "denied"
	DecisionRejected Decision = "rejected" // rate limit, open breaker
	DecisionFailed   Decision = "failed"   // tool invocation error
)

// Actor identifies who attempted the invocation. Unauthenticated requests
// are recorded with an anonymous actor rather than dropped.
type Actor struct {
	Subject string   `json:"subject"`
	Tenant  string   `json:"tenant,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// Anonymous is the actor recorded when token verification fails.
var Anonymous = Actor{Subject: "anonymous"}

// Event is one audit record. Arguments and results appear only as sha256
// digests of their canonical JSON form.
type Event struct {
	ID           string   `json:"id"`
	Timestamp    string   `json:"timestamp"`
	Tool         string   `json:"tool"`
	SideEffect   string   `json:"side_effect,omitempty"`
	Actor        Actor    `json:"actor"`
	ArgsDigest   string   `json:"args_digest,omitempty"`
	ResultDigest string   `json:"result_digest,omitempty"`
	Decision     Decision `json:"decision"`
	Reason       string   `json:"reason,omitempty"`
	Error        string   `json:"error,omitempty"`
	LatencyMS    float64  `json:"latency_ms"`
	CacheHit     bool     `json:"cache_hit,omitempty"`
}

// NewEvent builds an event with a fresh id and timestamp, digesting the
// arguments and result body. A digest failure leaves the field empty; the
// event is still recorded.
func NewEvent(tool, sideEffect string, actor Actor, args map[string]interface{}, result []byte) Event {
	e := Event{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Tool:       tool,
		SideEffect: sideEffect,
		Actor:      actor,
	}
	if args != nil {
		if digest, err := canonical.Digest(args); err == nil {
			e.ArgsDigest = digest
		}
	}
	if len(result) > 0 {
		e.ResultDigest = canonical.DigestBytes(result)
	}
	return e
}
