// Package auth adapts credential checks to the streamable HTTP transport's
// pre-dispatch hook. It extracts credentials from the request and hands them
// to a caller-supplied validator; whether a credential is good is decided by
// the validator, not by this package.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/mcp-engine/pkg/transport"
)

var (
	// ErrMissingCredentials rejects a request that carries no credential.
	ErrMissingCredentials = errors.New("auth: missing credentials")
	// ErrUnknownCredentials rejects a credential the validator did not map
	// to a user.
	ErrUnknownCredentials = errors.New("auth: unknown credentials")
)

// UserInfo describes the authenticated caller.
type UserInfo struct {
	// ID is the unique user identifier
	ID string `json:"id"`

	Username string   `json:"username,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`

	// Attributes contains additional user metadata
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	// ExpiresAt bounds how long a cached validation stays usable
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Validator checks a credential and returns the caller it belongs to.
type Validator func(ctx context.Context, credential string) (*UserInfo, error)

type contextKey struct{}

// ContextWithUserInfo attaches user to ctx.
func ContextWithUserInfo(ctx context.Context, user *UserInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserInfoFromContext returns the caller admitted by an authorizer. Handlers
// see it through the context of the session's connection.
func UserInfoFromContext(ctx context.Context) (*UserInfo, bool) {
	user, ok := ctx.Value(contextKey{}).(*UserInfo)
	return user, ok && user != nil
}

// challengeError rejects a request and carries the WWW-Authenticate value.
type challengeError struct {
	cause     error
	challenge string
}

func (e *challengeError) Error() string     { return e.cause.Error() }
func (e *challengeError) Unwrap() error     { return e.cause }
func (e *challengeError) Challenge() string { return e.challenge }

// Option configures an authorizer.
type Option func(*authorizer)

// WithResourceMetadata adds resource_metadata to the challenge so clients
// can discover the authorization server.
func WithResourceMetadata(url string) Option {
	return func(a *authorizer) {
		a.metadataURL = url
	}
}

// WithCache remembers successful validations for ttl, or until the user's
// ExpiresAt when that comes first.
func WithCache(ttl time.Duration, maxSize int) Option {
	return func(a *authorizer) {
		a.cache = newTokenCache(ttl, maxSize)
	}
}

type authorizer struct {
	scheme      string
	extract     func(r *http.Request) string
	validate    Validator
	metadataURL string
	cache       *tokenCache
}

// Bearer returns an authorizer reading "Authorization: Bearer <token>".
func Bearer(validate Validator, opts ...Option) transport.Authorizer {
	return newAuthorizer("Bearer", func(r *http.Request) string {
		h := r.Header.Get("Authorization")
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}, validate, opts)
}

// APIKey returns an authorizer reading the key from header, for example
// "X-API-Key".
func APIKey(header string, validate Validator, opts ...Option) transport.Authorizer {
	return newAuthorizer("ApiKey", func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(header))
	}, validate, opts)
}

func newAuthorizer(scheme string, extract func(*http.Request) string, validate Validator, opts []Option) *authorizer {
	a := &authorizer{scheme: scheme, extract: extract, validate: validate}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize implements transport.Authorizer.
func (a *authorizer) Authorize(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	credential := a.extract(r)
	if credential == "" {
		return nil, a.reject(ErrMissingCredentials, "")
	}

	if user, ok := a.cache.get(credential); ok {
		return ContextWithUserInfo(ctx, user), nil
	}
	user, err := a.validate(ctx, credential)
	if err != nil {
		return nil, a.reject(err, "invalid_token")
	}
	if user == nil {
		return nil, a.reject(ErrUnknownCredentials, "invalid_token")
	}
	a.cache.set(credential, user)
	return ContextWithUserInfo(ctx, user), nil
}

func (a *authorizer) reject(cause error, code string) error {
	var params []string
	if a.metadataURL != "" {
		params = append(params, `resource_metadata="`+a.metadataURL+`"`)
	}
	if code != "" {
		params = append(params, `error="`+code+`"`)
	}
	challenge := a.scheme
	if len(params) > 0 {
		challenge += " " + strings.Join(params, ", ")
	}
	return &challengeError{cause: cause, challenge: challenge}
}

// tokenCache keeps validated credentials in memory. A nil cache never hits.
type tokenCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type cacheEntry struct {
	user      *UserInfo
	expiresAt time.Time
}

func newTokenCache(ttl time.Duration, maxSize int) *tokenCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &tokenCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *tokenCache) get(credential string) (*UserInfo, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[credential]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, credential)
		return nil, false
	}
	return entry.user, true
}

func (c *tokenCache) set(credential string, user *UserInfo) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiresAt := now.Add(c.ttl)
	if user.ExpiresAt != nil && user.ExpiresAt.Before(expiresAt) {
		expiresAt = *user.ExpiresAt
	}
	if !now.Before(expiresAt) {
		return
	}
	if len(c.entries) >= c.maxSize {
		for k, e := range c.entries {
			if !now.Before(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxSize {
			return
		}
	}
	c.entries[credential] = cacheEntry{user: user, expiresAt: expiresAt}
}
