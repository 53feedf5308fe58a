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

package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Document is the wire shape of a policy source. It is what operators author
// (inline or as a file) and what Compile turns into an immutable Snapshot.
type Document struct {
	RolesRequired  map[string]RoleGateDoc     `json:"roles_required"`
	ABAC           map[string][]ConstraintDoc `json:"abac"`
	IDPRoleMapping RoleMappingDoc             `json:"idp_role_mapping"`
}

// RoleGateDoc is an RBAC gate: any-of and/or all-of role sets.
// Both may be present; they combine with AND semantics.
type RoleGateDoc struct {
	Any []string `json:"any,omitempty"`
	All []string `json:"all,omitempty"`
}

// ConstraintDoc is a single ABAC constraint on one attribute.
// Exactly one of Equals or In must be set.
type ConstraintDoc struct {
	Attr   string   `json:"attr"`
	Equals *string  `json:"equals,omitempty"`
	In     []string `json:"in,omitempty"`
}

// RoleMappingDoc describes how roles are normalized from raw IdP claims.
type RoleMappingDoc struct {
	From        []string `json:"from"`
	PrefixStrip []string `json:"prefix_strip,omitempty"`
	Lowercase   bool     `json:"lowercase"`
}

// roleGate is the compiled form of a RoleGateDoc.
type roleGate struct {
	any map[string]struct{}
	all []string
}

// constraint is the compiled form of a ConstraintDoc.
type constraint struct {
	attr      string
	equals    string
	hasEquals bool
	in        map[string]struct{}
}

// wildcardGate is a trailing-wildcard pattern (e.g. "ops.*") compiled to its
// literal prefix ("ops.").
type wildcardGate struct {
	pattern string
	prefix  string
	gate    *roleGate
}

// Snapshot is an immutable compiled policy. Once published it is never
// mutated; refresh produces a new Snapshot and swaps the pointer consumers
// read. All methods are safe for concurrent use without locking.
type Snapshot struct {
	Version    int64
	CompiledAt time.Time

	exact     map[string]*roleGate
	wildcards []wildcardGate // sorted by prefix length, longest first
	abac      map[string][]constraint
	mapping   RoleMappingDoc
}

// Compile parses and validates a policy source document into a Snapshot.
func Compile(data []byte, version int64) (*Snapshot, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse policy document: %v", ErrMisconfigured, err)
	}

	snap := &Snapshot{
		Version:    version,
		CompiledAt: time.Now().UTC(),
		exact:      make(map[string]*roleGate),
		abac:       make(map[string][]constraint),
		mapping:    doc.IDPRoleMapping,
	}

	for pattern, gateDoc := range doc.RolesRequired {
		if pattern == "" {
			return nil, fmt.Errorf("%w: empty action pattern", ErrMisconfigured)
		}
		if len(gateDoc.Any) == 0 && len(gateDoc.All) == 0 {
			return nil, fmt.Errorf("%w: pattern %q has neither any nor all roles", ErrMisconfigured, pattern)
		}

		gate := &roleGate{any: make(map[string]struct{})}
		for _, r := range gateDoc.Any {
			gate.any[r] = struct{}{}
		}
		gate.all = append(gate.all, gateDoc.All...)

		if strings.HasSuffix(pattern, "*") {
			prefix := strings.TrimSuffix(pattern, "*")
			if strings.Contains(prefix, "*") {
				return nil, fmt.Errorf("%w: pattern %q: only a trailing wildcard is supported", ErrMisconfigured, pattern)
			}
			snap.wildcards = append(snap.wildcards, wildcardGate{pattern: pattern, prefix: prefix, gate: gate})
		} else {
			snap.exact[pattern] = gate
		}
	}

	// Longest prefix wins when several wildcards match
	sort.Slice(snap.wildcards, func(i, j int) bool {
		return len(snap.wildcards[i].prefix) > len(snap.wildcards[j].prefix)
	})

	for action, constraints := range doc.ABAC {
		if action == "" {
			return nil, fmt.Errorf("%w: empty ABAC action", ErrMisconfigured)
		}
		compiled := make([]constraint, 0, len(constraints))
		for _, c := range constraints {
			if c.Attr == "" {
				return nil, fmt.Errorf("%w: ABAC constraint for %q names no attribute", ErrMisconfigured, action)
			}
			if (c.Equals == nil) == (len(c.In) == 0) {
				return nil, fmt.Errorf("%w: ABAC constraint on %q.%s needs exactly one of equals/in", ErrMisconfigured, action, c.Attr)
			}
			cc := constraint{attr: c.Attr}
			if c.Equals != nil {
				cc.equals = *c.Equals
				cc.hasEquals = true
			} else {
				cc.in = make(map[string]struct{}, len(c.In))
				for _, v := range c.In {
					cc.in[v] = struct{}{}
				}
			}
			compiled = append(compiled, cc)
		}
		snap.abac[action] = compiled
	}

	return snap, nil
}

// gateFor resolves the RBAC gate for an action: exact match wins, otherwise
// the longest trailing-wildcard prefix. Nil means no RBAC gate applies.
func (s *Snapshot) gateFor(action string) *roleGate {
	if gate, ok := s.exact[action]; ok {
		return gate
	}
	for _, w := range s.wildcards {
		if strings.HasPrefix(action, w.prefix) {
			return w.gate
		}
	}
	return nil
}

// NormalizeRoles applies the snapshot's role-normalization recipe to a raw
// claim map: read the configured claim paths, strip prefixes, optionally
// case-fold, deduplicate.
func (s *Snapshot) NormalizeRoles(claims map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var roles []string

	for _, path := range s.mapping.From {
		for _, raw := range claimValues(claims, path) {
			role := raw
			for _, prefix := range s.mapping.PrefixStrip {
				role = strings.TrimPrefix(role, prefix)
			}
			if s.mapping.Lowercase {
				role = strings.ToLower(role)
			}
			if role == "" {
				continue
			}
			if _, dup := seen[role]; dup {
				continue
			}
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
	}
	return roles
}

// claimValues walks a dotted claim path (e.g. "realm_access.roles") and
// returns the string values found there, handling both a single string and a
// string array.
func claimValues(claims map[string]interface{}, path string) []string {
	var current interface{} = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}

	switch v := current.(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}
