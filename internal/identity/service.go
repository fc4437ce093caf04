package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os/user"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wieslawsoltes/packagingtools/internal/models"
	"github.com/wieslawsoltes/packagingtools/internal/securestore"
)

// MinTokenValidity is how much remaining lifetime a cached token needs
const MinTokenValidity = time.Minute

// Service routes identity requests across registered providers, falling back
// to the local service-account provider when nothing else claims the key.
type Service struct {
	providers []Provider
	fallback  Provider
}

// NewService creates an identity service
func NewService(providers ...Provider) *Service {
	return &Service{providers: providers, fallback: &LocalProvider{}}
}

// Acquire routes the request to the first matching provider
func (s *Service) Acquire(ctx context.Context, req Request) (*Result, error) {
	for _, p := range s.providers {
		if p.CanHandle(req.ProviderKey) {
			return p.Acquire(ctx, req)
		}
	}
	return s.fallback.Acquire(ctx, req)
}

// LocalProvider returns a service-account principal for the process user
type LocalProvider struct{}

// CanHandle accepts the local provider key
func (p *LocalProvider) CanHandle(providerKey string) bool {
	return providerKey == "" || providerKey == "local"
}

// Acquire builds a principal for the current process user, with no tokens
func (p *LocalProvider) Acquire(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := req.Username
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		} else {
			name = "service-account"
		}
	}
	return &Result{Principal: Principal{
		ID:          "local:" + name,
		DisplayName: name,
		Roles:       []string{"builder"},
	}}, nil
}

// Authenticator performs the actual directory round-trip for DirectoryProvider
type Authenticator func(ctx context.Context, req Request) (*Result, error)

// DirectoryProvider authenticates against a directory/SSO backend and caches
// results in the secure store keyed by provider+tenant+username.
type DirectoryProvider struct {
	Key          string
	Authenticate Authenticator
	Store        *securestore.Store
	Now          func() time.Time
}

// CanHandle matches the provider's key
func (p *DirectoryProvider) CanHandle(providerKey string) bool {
	return providerKey == p.Key
}

// Acquire returns a cached identity when it is still valid, otherwise
// authenticates and refreshes the cache. If MFA is required and no code was
// supplied, acquisition fails instead of downgrading.
func (p *DirectoryProvider) Acquire(ctx context.Context, req Request) (*Result, error) {
	if req.RequireMFA {
		if code, ok := req.Parameter("mfaCode"); !ok || code == "" {
			return nil, &models.PackagingError{
				Type: models.ErrIdentity,
				Err:  fmt.Errorf("provider %s requires MFA but no mfaCode parameter was supplied", p.Key),
			}
		}
	}

	cacheID := p.cacheID(req)
	if cached := p.lookupCache(cacheID, req); cached != nil {
		logrus.Debugf("Identity cache hit for %s", cacheID)
		return cached, nil
	}

	result, err := p.Authenticate(ctx, req)
	if err != nil {
		return nil, &models.PackagingError{Type: models.ErrIdentity, Err: err}
	}
	p.storeCache(cacheID, result)
	return result, nil
}

func (p *DirectoryProvider) cacheID(req Request) string {
	return fmt.Sprintf("identity.%s.%s.%s", p.Key, req.Tenant, req.Username)
}

// lookupCache returns nil on any failure; cache problems are a miss, never an
// error on the acquisition path
func (p *DirectoryProvider) lookupCache(cacheID string, req Request) *Result {
	if p.Store == nil {
		return nil
	}
	secret, err := p.Store.TryGet(cacheID)
	if err != nil || secret == nil {
		return nil
	}

	var cached Result
	if err := json.Unmarshal(secret.Payload, &cached); err != nil {
		return nil
	}
	token := cached.AccessToken
	if token == nil {
		return nil
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if token.ExpiresAt.Sub(now()) <= MinTokenValidity {
		return nil
	}
	if !token.Covers(req.Scopes) {
		return nil
	}
	return &cached
}

func (p *DirectoryProvider) storeCache(cacheID string, result *Result) {
	if p.Store == nil || result.AccessToken == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	expires := result.AccessToken.ExpiresAt
	if _, err := p.Store.Put(cacheID, payload, securestore.Options{
		ExpiresAt: &expires,
		Metadata:  map[string]string{securestore.KindTag: "identity.token"},
	}); err != nil {
		logrus.Debugf("Failed to cache identity %s: %v", cacheID, err)
	}
}
