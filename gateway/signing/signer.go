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

// Package signing attaches detached ed25519 signatures to response
// envelopes so downstream consumers can prove a response transited the
// gateway unmodified.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"toolgate/platform/gateway/canonical"
)

// ErrSignatureMismatch is returned by Verify when the envelope was altered
// or signed by a different key.
var ErrSignatureMismatch = errors.New("envelope signature mismatch")

const (
	signatureField = "signature"
	signedAtField  = "signed_at"
)

// Signature is the detached signature block embedded in a signed envelope.
type Signature struct {
	KeyID string `json:"key_id"`
	Alg   string `json:"alg"`
	Sig   string `json:"sig"`
}

// Signer signs response envelopes with the current ed25519 key. Rotation
// swaps the key under the write lock; in-flight signs finish with the key
// they started with.
type Signer struct {
	mu    sync.RWMutex
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

// New creates a signer with a freshly generated key pair.
func New() (*Signer, error) {
	s := &Signer{}
	if err := s.Rotate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithKey creates a signer from an existing private key.
func NewWithKey(priv ed25519.PrivateKey, keyID string) *Signer {
	return &Signer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		keyID: keyID,
	}
}

// Rotate generates and installs a new key pair.
func (s *Signer) Rotate() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.priv = priv
	s.pub = pub
	s.keyID = uuid.New().String()
	return nil
}

// KeyID returns the current key's identifier.
func (s *Signer) KeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyID
}

// PublicKey returns the current verification key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pub
}

// Sign stamps the envelope with a signing timestamp and a detached
// signature over its canonical JSON form. The input map is not modified.
func (s *Signer) Sign(envelope map[string]interface{}) (map[string]interface{}, error) {
	signed := make(map[string]interface{}, len(envelope)+2)
	for k, v := range envelope {
		signed[k] = v
	}
	signed[signedAtField] = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := canonical.JSON(signed)
	if err != nil {
		return nil, fmt.Errorf("canonicalize envelope: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	signed[signatureField] = Signature{
		KeyID: s.keyID,
		Alg:   "ed25519",
		Sig:   base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, payload)),
	}
	return signed, nil
}

// Verify checks a signed envelope against pub. The signature block is
// removed from the canonical form before recomputing the payload, exactly
// mirroring Sign.
func Verify(envelope map[string]interface{}, pub ed25519.PublicKey) error {
	raw, ok := envelope[signatureField]
	if !ok {
		return fmt.Errorf("%w: envelope carries no signature", ErrSignatureMismatch)
	}

	var sig Signature
	switch v := raw.(type) {
	case Signature:
		sig = v
	case map[string]interface{}:
		sig.KeyID, _ = v["key_id"].(string)
		sig.Alg, _ = v["alg"].(string)
		sig.Sig, _ = v["sig"].(string)
	default:
		return fmt.Errorf("%w: malformed signature block", ErrSignatureMismatch)
	}

	if sig.Alg != "ed25519" {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrSignatureMismatch, sig.Alg)
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sig.Sig)
	if err != nil {
		return fmt.Errorf("%w: undecodable signature", ErrSignatureMismatch)
	}

	unsigned := make(map[string]interface{}, len(envelope))
	for k, v := range envelope {
		if k == signatureField {
			continue
		}
		unsigned[k] = v
	}
	payload, err := canonical.JSON(unsigned)
	if err != nil {
		return fmt.Errorf("canonicalize envelope: %w", err)
	}

	if !ed25519.Verify(pub, payload, sigBytes) {
		return ErrSignatureMismatch
	}
	return nil
}
