// Package identity acquires caller identities for policy evaluation. Requests
// are routed to the first provider claiming the provider key; remote providers
// cache tokens in the secure store and only reuse them while they are fresh
// and cover the requested scopes.
package identity

import (
	"context"
	"strings"
	"time"
)

// Principal identifies an authenticated caller
type Principal struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"displayName"`
	Roles       []string          `json:"roles"`
	Claims      map[string]string `json:"claims,omitempty"`
}

// HasRole performs a case-insensitive role membership check
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Token is an access or refresh token with its validity window
type Token struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
	Scopes    []string  `json:"scopes,omitempty"`
}

// Covers reports whether the token's granted scopes are a superset of the
// requested scopes
func (t *Token) Covers(scopes []string) bool {
	for _, want := range scopes {
		found := false
		for _, have := range t.Scopes {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Result is an acquired identity: the principal plus optional tokens
type Result struct {
	Principal    Principal `json:"principal"`
	AccessToken  *Token    `json:"accessToken,omitempty"`
	RefreshToken *Token    `json:"refreshToken,omitempty"`
}

// Request describes one identity acquisition
type Request struct {
	ProviderKey string
	Tenant      string
	Username    string
	Scopes      []string
	RequireMFA  bool
	Parameters  map[string]string
}

// Parameter performs a case-insensitive parameter lookup
func (r *Request) Parameter(key string) (string, bool) {
	for k, v := range r.Parameters {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Provider authenticates requests it can handle
type Provider interface {
	// CanHandle reports whether this provider serves the given provider key
	CanHandle(providerKey string) bool

	// Acquire authenticates and returns the resulting identity
	Acquire(ctx context.Context, req Request) (*Result, error)
}
