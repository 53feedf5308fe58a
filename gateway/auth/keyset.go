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

package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// jwksDocument is the JWKS wire format served by the identity provider.
type jwksDocument struct {
	Keys []jwkKey `json:"keys"`
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet caches the identity provider's JWKS document locally. The cache is
// refreshed at most once per TTL; a lookup for an unknown key id triggers
// exactly one forced refresh before failing, which handles key rotation
// without a network call on every request.
type KeySet struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewKeySet creates a key set cache for a JWKS URL.
func NewKeySet(url string, ttl time.Duration) *KeySet {
	return &KeySet{
		url: url,
		ttl: ttl,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Key returns the public key for kid. When the key id is absent from the
// cached set, one forced refresh is performed and the lookup retried once;
// a second miss is ErrKeyNotFound.
func (ks *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.keys == nil || time.Since(ks.fetchedAt) >= ks.ttl {
		if err := ks.refreshLocked(ctx); err != nil {
			// Stale keys keep serving if the TTL refresh fails
			if ks.keys == nil {
				return nil, err
			}
		}
	}

	if key, ok := ks.keys[kid]; ok {
		return key, nil
	}

	// Rotation recovery: one forced refresh, one retry
	if err := ks.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if key, ok := ks.keys[kid]; ok {
		return key, nil
	}

	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

// refreshLocked fetches and parses the JWKS document. Caller holds ks.mu.
func (ks *KeySet) refreshLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return fmt.Errorf("build key-set request: %w", err)
	}

	resp, err := ks.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch key set: unexpected status %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			// One bad key must not poison the rest of the set
			continue
		}
		keys[k.Kid] = pub
	}

	ks.keys = keys
	ks.fetchedAt = time.Now()
	return nil
}

// rsaPublicKey decodes the base64url modulus and exponent of a JWK entry.
func (k jwkKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus for kid %s: %w", k.Kid, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent for kid %s: %w", k.Kid, err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, fmt.Errorf("zero exponent for kid %s", k.Kid)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
