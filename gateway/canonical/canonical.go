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

// Package canonical produces deterministic JSON serializations and content
// digests. Two payloads that are equal after key ordering always yield the
// same bytes, which is what makes audit digests, cache fingerprints and
// detached signatures reproducible.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// JSON returns the canonical (key-sorted) JSON serialization of v.
//
// The value is round-tripped through generic JSON types so that struct field
// order and map iteration order cannot leak into the output: encoding/json
// always emits map keys in sorted order.
func JSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical: normalize: %w", err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical: remarshal: %w", err)
	}
	return out, nil
}

// Digest returns the hex-encoded SHA-256 of the canonical serialization of v.
func Digest(v interface{}) (string, error) {
	canon, err := JSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// DigestBytes returns the hex-encoded SHA-256 of raw bytes. Used for opaque
// payloads (tool responses) that are already serialized.
func DigestBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
