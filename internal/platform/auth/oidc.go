package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// EventLogger receives structured verification events.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

const (
	// GoogleJWKSURL serves the keys signing Google-issued OIDC tokens (Cloud Scheduler, Tasks, IAP).
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

	defaultJWKSTTL          = 15 * time.Minute
	defaultJWKSFetchTimeout = 5 * time.Second
)

// JWKSCache fetches a JSON Web Key Set on demand and keeps it until Cache-Control max-age expires.
// An unknown kid forces one refresh so key rotation is picked up without waiting for expiry.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu     sync.RWMutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time

	refreshMu sync.Mutex
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client used to fetch JWKS documents.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSClock injects a custom time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache constructs a JWKS cache for the provided URL.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// Keyfunc returns a jwt.Keyfunc backed by the cache.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key resolves the public key for kid, refreshing the set when it is stale or lacks the kid.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if key, ok := c.cachedKey(kid, c.now()); ok {
		return key, nil
	}
	if err := c.refresh(ctx, kid); err != nil {
		return nil, err
	}
	if key, ok := c.cachedKey(kid, c.now()); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) cachedKey(kid string, now time.Time) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !now.Before(c.expiry) {
		return nil, false
	}
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *JWKSCache) refresh(ctx context.Context, kid string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// another caller may have refreshed while we waited
	if _, ok := c.cachedKey(kid, c.now()); ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultJWKSFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}

	c.mu.Lock()
	c.keys = keys
	c.expiry = c.now().Add(ttl)
	c.mu.Unlock()
	return nil
}

func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// ServiceIdentity is the verified caller of an internal route (a scheduler or another service).
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// OIDCValidator guards /internal routes with Google-signed OIDC tokens.
type OIDCValidator struct {
	cache  *JWKSCache
	logger EventLogger
}

// NewOIDCValidator constructs an OIDCValidator. logger may be nil.
func NewOIDCValidator(cache *JWKSCache, logger EventLogger) *OIDCValidator {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &OIDCValidator{cache: cache, logger: logger}
}

// RequireOIDC enforces an RS256 token for audience issued by one of issuers, optionally limited to
// the given service account emails.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string, allowedEmails ...string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if audience == "" || v == nil || v.cache == nil {
				respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "oidc verification not configured")
				return
			}
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "oidc token missing")
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					v.logger(ctx, "security_event", map[string]any{"kind": "oidc_jwks_unavailable", "error": err.Error()})
					respondAuthError(ctx, w, http.StatusServiceUnavailable, "verification_unavailable", "oidc keys unavailable")
					return
				}
				v.reject(ctx, w, "token_invalid")
				return
			}
			issuer, _ := claims["iss"].(string)
			if len(issuers) > 0 && !containsString(issuers, issuer) {
				v.reject(ctx, w, "issuer_mismatch")
				return
			}
			if !claims.VerifyAudience(audience, true) {
				v.reject(ctx, w, "audience_mismatch")
				return
			}
			email, _ := claims["email"].(string)
			if len(allowedEmails) > 0 && !containsString(allowedEmails, email) {
				v.reject(ctx, w, "caller_not_allowed")
				return
			}

			subject, _ := claims["sub"].(string)
			identity := &ServiceIdentity{Subject: subject, Email: email, Issuer: issuer}
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) reject(ctx context.Context, w http.ResponseWriter, reason string) {
	v.logger(ctx, "security_event", map[string]any{"kind": "oidc_rejected", "reason": reason})
	respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "oidc token verification failed")
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) == target {
			return true
		}
	}
	return false
}
