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

// Package auth verifies bearer tokens against a cached JWKS key set and
// turns their claims into a request-scoped Principal.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failure modes. Handlers map all of these to 401.
var (
	// ErrInvalidToken covers a malformed header or token structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrKeyNotFound means no cached key matched even after one forced
	// key-set refresh.
	ErrKeyNotFound = errors.New("signing key not found")
	// ErrSignatureInvalid means the token was well-formed but not signed
	// by the resolved key.
	ErrSignatureInvalid = errors.New("token signature invalid")
	// ErrClaimsRejected covers wrong issuer, wrong audience or expiry.
	ErrClaimsRejected = errors.New("token claims rejected")
)

// Principal is the verified identity of a caller for one request.
// Immutable once constructed.
type Principal struct {
	Subject string
	Tenant  string
	Roles   []string
	// Claims is the raw claim map, kept opaque for attribute lookups.
	Claims map[string]interface{}
}

// RoleNormalizer derives normalized role strings from a raw claim map.
// The policy engine implements this; the verifier deliberately does not
// carry its own copy of the recipe.
type RoleNormalizer interface {
	NormalizeRoles(claims map[string]interface{}) []string
}

// Config holds the claim checks applied during verification.
type Config struct {
	Issuer      string
	Audience    string
	TenantClaim string // defaults to "tenant_id"
}

// Verifier validates bearer tokens using the cached key set.
type Verifier struct {
	keys  *KeySet
	cfg   Config
	roles RoleNormalizer
}

// NewVerifier creates a Verifier.
func NewVerifier(keys *KeySet, cfg Config, roles RoleNormalizer) *Verifier {
	if cfg.TenantClaim == "" {
		cfg.TenantClaim = "tenant_id"
	}
	return &Verifier{keys: keys, cfg: cfg, roles: roles}
}

// Verify validates a bearer token and returns the Principal it asserts.
//
// The unverified header is parsed first to obtain the key id, the key is
// resolved from the local cache (with at most one forced refresh on a miss),
// and only then is the signature checked together with issuer, audience and
// expiry.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: token header carries no key id", ErrInvalidToken)
	}

	key, err := v.keys.Key(ctx, kid)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyNotFound, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrClaimsRejected)
	}

	rawClaims := map[string]interface{}(claims)
	return &Principal{
		Subject: subject,
		Tenant:  getClaimString(claims, v.cfg.TenantClaim),
		Roles:   v.roles.NormalizeRoles(rawClaims),
		Claims:  rawClaims,
	}, nil
}

// classifyParseError maps jwt/v5 validation errors onto this package's
// failure taxonomy.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrClaimsRejected, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}
