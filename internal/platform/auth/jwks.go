package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"golang.org/x/sync/singleflight"
)

var (
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport and decoding failures.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// Logger is the printf-style sink used for key rotation and rejection logs.
type Logger interface {
	Printf(format string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

const (
	defaultJWKSValidity     = 15 * time.Minute
	defaultJWKSFetchTimeout = 5 * time.Second
	// An unknown kid triggers at most one refetch per cooldown window.
	defaultJWKSMissCooldown = 30 * time.Second
)

// keySet is an immutable snapshot of one JWKS response.
type keySet struct {
	keys      map[string]jose.JSONWebKey
	fetchedAt time.Time
	expiresAt time.Time
}

// JWKSCache holds Google's signing keys, refreshing them when the response's cache lifetime
// runs out or a token names a kid it has not seen.
type JWKSCache struct {
	url          string
	client       *http.Client
	logger       Logger
	now          func() time.Time
	validity     time.Duration
	fetchTimeout time.Duration
	missCooldown time.Duration

	set     atomic.Pointer[keySet]
	refresh singleflight.Group
}

type JWKSOption func(*JWKSCache)

func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:          strings.TrimSpace(url),
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       discardLogger{},
		now:          time.Now,
		validity:     defaultJWKSValidity,
		fetchTimeout: defaultJWKSFetchTimeout,
		missCooldown: defaultJWKSMissCooldown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSValidity sets the lifetime used when the response carries no cache headers.
func WithJWKSValidity(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.validity = d
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// Keyfunc resolves RS256 verification keys by the token's kid header.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Method)
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key for kid, refetching an expired set first and retrying once on a
// miss unless the set is younger than the miss cooldown.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !c.fresh(c.set.Load()) {
		if err := c.reload(ctx, c.fresh); err != nil {
			return nil, err
		}
	}
	if key, ok := c.find(kid); ok {
		return key, nil
	}
	if err := c.reload(ctx, c.recent); err != nil {
		return nil, err
	}
	if key, ok := c.find(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) find(kid string) (any, bool) {
	set := c.set.Load()
	if set == nil {
		return nil, false
	}
	jwk, ok := set.keys[kid]
	return jwk.Key, ok
}

func (c *JWKSCache) fresh(set *keySet) bool {
	return set != nil && c.now().Before(set.expiresAt)
}

func (c *JWKSCache) recent(set *keySet) bool {
	return set != nil && c.now().Sub(set.fetchedAt) < c.missCooldown
}

// reload fetches a new set unless skip approves the current one. Concurrent callers share a
// single request.
func (c *JWKSCache) reload(ctx context.Context, skip func(*keySet) bool) error {
	_, err, _ := c.refresh.Do("jwks", func() (any, error) {
		if skip(c.set.Load()) {
			return nil, nil
		}
		set, err := c.download(ctx)
		if err != nil {
			return nil, err
		}
		c.set.Store(set)
		c.logger.Printf("auth: refreshed jwks (%d keys, valid until %s)", len(set.keys), set.expiresAt.Format(time.RFC3339))
		return nil, nil
	})
	return err
}

func (c *JWKSCache) download(ctx context.Context) (*keySet, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var doc jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	now := c.now()
	set := &keySet{keys: make(map[string]jose.JSONWebKey, len(doc.Keys)), fetchedAt: now}
	for _, jwk := range doc.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			set.keys[jwk.KeyID] = jwk
		}
	}
	if len(set.keys) == 0 {
		return nil, fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}
	lifetime := cacheLifetime(resp.Header, now)
	if lifetime <= 0 {
		lifetime = c.validity
	}
	set.expiresAt = now.Add(lifetime)
	return set, nil
}

// cacheLifetime reads max-age from Cache-Control, falling back to Expires.
func cacheLifetime(header http.Header, now time.Time) time.Duration {
	for _, directive := range strings.Split(header.Get("Cache-Control"), ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	if ts, err := http.ParseTime(header.Get("Expires")); err == nil {
		return ts.Sub(now)
	}
	return 0
}
