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
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"toolgate/platform/shared/logger"
)

// ErrMisconfigured indicates an empty action or a snapshot that failed to
// compile. During refresh it is reported to the operator; the last-good
// snapshot keeps serving.
var ErrMisconfigured = errors.New("policy misconfigured")

// DenialError carries the human-readable reason an authorization was denied.
type DenialError struct {
	Action string
	Reason string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("authorization denied for %q: %s", e.Action, e.Reason)
}

// Source identifies where the policy document is read from: an inline JSON
// document or a file path, re-read on every refresh.
type Source struct {
	Inline string
	Path   string
}

// ParseSource interprets a POLICY_SOURCE value. Values starting with
// "inline:" carry the document itself; anything else is a file path.
func ParseSource(value string) Source {
	if doc, ok := strings.CutPrefix(value, "inline:"); ok {
		return Source{Inline: doc}
	}
	return Source{Path: value}
}

func (s Source) read() ([]byte, error) {
	if s.Inline != "" {
		return []byte(s.Inline), nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read policy source %s: %w", s.Path, err)
	}
	return data, nil
}

// Engine resolves RBAC/ABAC decisions from a compiled, versioned snapshot.
//
// The current snapshot sits behind an atomic pointer: readers never lock and
// never observe a half-updated snapshot. RefreshNow recompiles from the
// source and swaps the pointer; a compile failure leaves the previous
// snapshot live.
type Engine struct {
	source       Source
	refreshEvery time.Duration
	log          *logger.Logger

	snap    atomic.Pointer[Snapshot]
	version atomic.Int64
}

// NewEngine compiles the initial snapshot from source. Unlike later
// refreshes, the initial compile must succeed: a gateway with no policy at
// all must not start serving.
func NewEngine(source Source, refreshEvery time.Duration, log *logger.Logger) (*Engine, error) {
	e := &Engine{
		source:       source,
		refreshEvery: refreshEvery,
		log:          log,
	}
	if err := e.RefreshNow(); err != nil {
		return nil, err
	}
	return e, nil
}

// Current returns the live snapshot. The returned value is immutable.
func (e *Engine) Current() *Snapshot {
	return e.snap.Load()
}

// RefreshNow re-reads the source, compiles a new snapshot and atomically
// publishes it. On failure the previous snapshot keeps serving and the error
// is returned (and logged) for the operator.
func (e *Engine) RefreshNow() error {
	data, err := e.source.read()
	if err != nil {
		e.log.Error("", "", "policy refresh failed to read source", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}

	version := e.version.Add(1)
	snap, err := Compile(data, version)
	if err != nil {
		e.log.Error("", "", "policy refresh failed to compile, keeping previous snapshot", map[string]interface{}{
			"error":   err.Error(),
			"serving": e.servingVersion(),
		})
		return err
	}

	e.snap.Store(snap)
	e.log.Info("", "", "policy snapshot published", map[string]interface{}{"version": snap.Version})
	return nil
}

func (e *Engine) servingVersion() int64 {
	if s := e.snap.Load(); s != nil {
		return s.Version
	}
	return 0
}

// StartPeriodicRefresh refreshes on an interval until ctx is cancelled.
// Refresh failures are logged; in-flight requests keep the last-good
// snapshot.
func (e *Engine) StartPeriodicRefresh(ctx context.Context) {
	if e.refreshEvery <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(e.refreshEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = e.RefreshNow()
			}
		}
	}()
}

// NormalizeRoles applies the live snapshot's role-normalization recipe.
// This is the single place roles are derived from claims; the verifier
// delegates here rather than duplicating the recipe.
func (e *Engine) NormalizeRoles(claims map[string]interface{}) []string {
	return e.Current().NormalizeRoles(claims)
}

// Authorize checks action against the live snapshot for a principal holding
// roles, with caller-supplied request attributes.
//
// Resolution: exact action match wins, otherwise the longest trailing-
// wildcard prefix; no match means no RBAC gate and evaluation proceeds to
// ABAC only. A missing attribute required by an ABAC constraint is a denial,
// never a skip.
func (e *Engine) Authorize(action string, roles []string, attrs map[string]interface{}) error {
	if action == "" {
		return fmt.Errorf("%w: empty action", ErrMisconfigured)
	}

	snap := e.Current()
	if snap == nil {
		return fmt.Errorf("%w: no snapshot loaded", ErrMisconfigured)
	}

	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	if gate := snap.gateFor(action); gate != nil {
		for _, required := range gate.all {
			if _, ok := roleSet[required]; !ok {
				return &DenialError{Action: action, Reason: fmt.Sprintf("missing required role %q", required)}
			}
		}
		if len(gate.any) > 0 {
			matched := false
			for r := range roleSet {
				if _, ok := gate.any[r]; ok {
					matched = true
					break
				}
			}
			if !matched {
				return &DenialError{Action: action, Reason: "none of the permitted roles held"}
			}
		}
	}

	for _, c := range snap.abac[action] {
		value, present := attrs[c.attr]
		if !present {
			return &DenialError{Action: action, Reason: fmt.Sprintf("required attribute %q not supplied", c.attr)}
		}
		str := attrString(value)
		if c.hasEquals {
			if str != c.equals {
				return &DenialError{Action: action, Reason: fmt.Sprintf("attribute %q must equal %q", c.attr, c.equals)}
			}
			continue
		}
		if _, ok := c.in[str]; !ok {
			return &DenialError{Action: action, Reason: fmt.Sprintf("attribute %q not in permitted set", c.attr)}
		}
	}

	return nil
}

// attrString renders an attribute value for comparison. Constraint values
// are authored as strings, so non-string attributes compare by their
// default formatting.
func attrString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
