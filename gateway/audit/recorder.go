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

package audit

import (
	"context"

	"toolgate/platform/shared/logger"
)

// Recorder is the request path's view of the audit trail. Sink failures are
// logged and swallowed: a broken audit backend must never fail or delay a
// caller's request.
type Recorder struct {
	sink Sink
	log  *logger.Logger
}

// NewRecorder wraps a sink.
func NewRecorder(sink Sink, log *logger.Logger) *Recorder {
	return &Recorder{sink: sink, log: log}
}

// Record emits one event and returns its id.
func (r *Recorder) Record(ctx context.Context, event Event) string {
	if err := r.sink.Emit(ctx, event); err != nil {
		r.log.Error(event.Actor.Tenant, event.ID, "audit sink emit failed", map[string]interface{}{
			"tool":  event.Tool,
			"error": err.Error(),
		})
	}
	return event.ID
}

// Close releases the underlying sink.
func (r *Recorder) Close() error {
	return r.sink.Close()
}
