// Package jwks resolves session-token verification keys, either from a
// locally configured static key (PEM or JWK) or from the backend API's
// JWKS endpoint.
//
// Remote keys live in a process-wide cache with a single lastUpdatedAt
// timestamp: once any entry is older than the TTL the whole cache is
// dropped and refetched in one piece. Partial merges never happen, so a
// cancelled fetch cannot leave the cache half-updated. Concurrent
// resolutions share one in-flight fetch via singleflight.
package jwks

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	clerk "github.com/portalstack/clerk-go"
)

// CacheTTL bounds how long a fetched key set is trusted. Fixed by the
// protocol today; a future option may expose it.
const CacheTTL = 5 * time.Minute

// Retry policy for the remote fetch: capped exponential backoff with
// jitter. Applies only to the JWKS fetch, never to local checks.
const (
	retryInitialInterval = 125 * time.Millisecond
	retryMultiplier      = 2
	retryMaxAttempts     = 5
)

// localKeyID is the sentinel cache id for a configured static key, which
// never expires.
const localKeyID = "local"

// Resolver implements jwt.KeyResolver.
type Resolver struct {
	secretKey  string
	localKey   string
	apiURL     string
	httpClient *http.Client
	clock      func() time.Time
	observer   CacheObserver

	mu            sync.RWMutex
	keys          map[string]*rsa.PublicKey
	lastUpdatedAt time.Time
	localParsed   bool

	sf singleflight.Group
}

// CacheObserver receives cache hit/miss notifications, e.g. for metrics.
type CacheObserver interface {
	JWKSCacheHit()
	JWKSCacheMiss()
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithHTTPClient sets a custom HTTP client for the JWKS fetch.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// WithLocalKey configures a static verification key (PEM or JWK JSON).
// When set, the remote endpoint is never contacted.
func WithLocalKey(key string) Option {
	return func(r *Resolver) { r.localKey = key }
}

// WithAPIURL overrides the backend API base URL.
func WithAPIURL(u string) Option {
	return func(r *Resolver) { r.apiURL = strings.TrimRight(u, "/") }
}

// WithClock overrides time.Now, for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) { r.clock = clock }
}

// WithCacheObserver registers a hit/miss observer.
func WithCacheObserver(o CacheObserver) Option {
	return func(r *Resolver) { r.observer = o }
}

// New creates a key resolver authenticating to the backend API with the
// given secret key.
func New(secretKey string, opts ...Option) *Resolver {
	r := &Resolver{
		secretKey:  secretKey,
		apiURL:     clerk.DefaultAPIURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      time.Now,
		keys:       make(map[string]*rsa.PublicKey),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the verification key for kid. With a local key
// configured the kid is ignored and the static key is returned; otherwise
// the cache is consulted and, on miss or expiry, the full remote set is
// fetched and swapped in before re-checking.
func (r *Resolver) Resolve(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if r.localKey != "" {
		return r.resolveLocal()
	}

	if key, ok := r.cached(kid); ok {
		if r.observer != nil {
			r.observer.JWKSCacheHit()
		}
		return key, nil
	}
	if r.observer != nil {
		r.observer.JWKSCacheMiss()
	}

	if err := r.fetch(ctx); err != nil {
		return nil, err
	}

	if key, ok := r.cached(kid); ok {
		return key, nil
	}
	return nil, clerk.NewTokenError(clerk.JWKKidMismatch,
		fmt.Errorf("no JWK with kid %q; available kids: %s", kid, strings.Join(r.knownKids(), ", ")))
}

func (r *Resolver) resolveLocal() (*rsa.PublicKey, error) {
	r.mu.RLock()
	if r.localParsed {
		key := r.keys[localKeyID]
		r.mu.RUnlock()
		return key, nil
	}
	r.mu.RUnlock()

	key, err := ParseKey(r.localKey)
	if err != nil {
		return nil, &clerk.TokenVerificationError{
			Reason: clerk.JWKLocalMissing,
			Action: "check the configured JWT key (PEM or JWK) for corruption",
			Cause:  err,
		}
	}

	r.mu.Lock()
	r.keys = map[string]*rsa.PublicKey{localKeyID: key}
	r.localParsed = true
	r.mu.Unlock()
	return key, nil
}

// cached returns the key for kid if the cache is populated and unexpired.
// Expiry is cache-wide: one stale entry invalidates everything.
func (r *Resolver) cached(kid string) (*rsa.PublicKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.keys) == 0 {
		return nil, false
	}
	if !r.localParsed && r.clock().Sub(r.lastUpdatedAt) >= CacheTTL {
		return nil, false
	}
	key, ok := r.keys[kid]
	return key, ok
}

func (r *Resolver) knownKids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kids := make([]string, 0, len(r.keys))
	for kid := range r.keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	return kids
}

// fetch retrieves the remote key set and atomically replaces the cache.
// Concurrent callers share a single flight.
func (r *Resolver) fetch(ctx context.Context) error {
	if r.secretKey == "" {
		return &clerk.TokenVerificationError{
			Reason: clerk.JWKRemoteFailedToLoad,
			Action: "set the secret key, or configure a local JWT key",
			Cause:  fmt.Errorf("no secret key available for the JWKS fetch"),
		}
	}

	_, err, _ := r.sf.Do("jwks", func() (any, error) {
		keys, err := r.fetchWithRetry(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.keys = keys
		r.lastUpdatedAt = r.clock()
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

func (r *Resolver) fetchWithRetry(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.Multiplier = retryMultiplier
	bo.MaxElapsedTime = 0

	var keys map[string]*rsa.PublicKey
	op := func() error {
		var err error
		keys, err = r.fetchOnce(ctx)
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retryMaxAttempts-1), ctx))
	if err != nil {
		var tve *clerk.TokenVerificationError
		if errors.As(err, &tve) {
			return nil, tve
		}
		return nil, clerk.NewTokenError(clerk.JWKRemoteFailedToLoad, err)
	}
	return keys, nil
}

func (r *Resolver) fetchOnce(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.apiURL+"/v1/jwks", nil)
	if err != nil {
		return nil, fmt.Errorf("clerk/jwks: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.secretKey)
	req.Header.Set("Clerk-API-Version", clerk.APIVersion)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clerk/jwks: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// The secret key is wrong; no amount of retrying fixes that.
		return nil, backoff.Permanent(clerk.NewTokenError(clerk.SecretKeyInvalid,
			fmt.Errorf("JWKS endpoint rejected the secret key (status %d)", resp.StatusCode)))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("clerk/jwks: endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, backoff.Permanent(clerk.NewTokenError(clerk.JWKRemoteInvalid, err))
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub, err := jwk.publicKey()
		if err != nil {
			continue // skip malformed entries
		}
		keys[jwk.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, backoff.Permanent(clerk.NewTokenError(clerk.JWKRemoteMissing,
			fmt.Errorf("remote JWKS contains no usable RSA signing keys")))
	}
	return keys, nil
}

// JWK JSON types.

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k *jwk) publicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// ParseKey parses a static verification key from either a JWK JSON object
// or a PEM block (PKIX or PKCS#1). A bare base64 body without PEM armor
// is re-wrapped as a public key block first.
func ParseKey(material string) (*rsa.PublicKey, error) {
	material = strings.TrimSpace(material)
	if strings.HasPrefix(material, "{") {
		var k jwk
		if err := json.Unmarshal([]byte(material), &k); err != nil {
			return nil, fmt.Errorf("clerk/jwks: parse JWK: %w", err)
		}
		if k.Kty != "RSA" {
			return nil, fmt.Errorf("clerk/jwks: unsupported JWK kty %q", k.Kty)
		}
		return k.publicKey()
	}

	if !strings.HasPrefix(material, "-----BEGIN") {
		material = "-----BEGIN PUBLIC KEY-----\n" + material + "\n-----END PUBLIC KEY-----"
	}
	block, _ := pem.Decode([]byte(material))
	if block == nil {
		return nil, fmt.Errorf("clerk/jwks: key material is not valid PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("clerk/jwks: parse public key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("clerk/jwks: key is %T, want RSA", parsed)
	}
	return rsaKey, nil
}
