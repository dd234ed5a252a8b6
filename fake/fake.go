// Package fake provides an in-memory Clerk instance for tests.
//
// An Instance owns an RSA signing key, mints session and handshake
// tokens with it, and serves the backend API endpoints the SDK calls
// (JWKS, handshake payload exchange, machine token verification,
// session refresh) from an httptest server. Use fake.New() in unit
// tests to avoid network calls and external dependencies.
package fake

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	clerk "github.com/portalstack/clerk-go"
)

// Instance simulates one Clerk instance end to end.
type Instance struct {
	Key            *rsa.PrivateKey
	KeyID          string
	FrontendAPI    string
	SecretKey      string
	PublishableKey string
	InstanceType   clerk.InstanceType

	server *httptest.Server

	mu         sync.Mutex
	payloads   map[string][]string
	machine    map[string]machineEntry
	refreshJWT string
	jwksStatus int
	jwksCalls  int
}

type machineEntry struct {
	status int
	body   map[string]any
}

// Option configures the fake instance.
type Option func(*Instance)

// Production switches the instance to production semantics (pk_live_
// publishable key, no dev browser).
func Production() Option {
	return func(i *Instance) { i.InstanceType = clerk.InstanceProduction }
}

// WithFrontendAPI overrides the frontend API host encoded into the
// publishable key and used as token issuer.
func WithFrontendAPI(host string) Option {
	return func(i *Instance) { i.FrontendAPI = host }
}

// WithKeyID overrides the signing key id.
func WithKeyID(kid string) Option {
	return func(i *Instance) { i.KeyID = kid }
}

// New builds a running fake instance. Call Close when done.
func New(opts ...Option) *Instance {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("fake: generate rsa key: " + err.Error())
	}
	i := &Instance{
		Key:          key,
		KeyID:        "ins_fake_key_1",
		FrontendAPI:  "direct-gull-42.clerk.accounts.dev",
		SecretKey:    "sk_test_fake_secret",
		InstanceType: clerk.InstanceDevelopment,
		payloads:     make(map[string][]string),
		machine:      make(map[string]machineEntry),
	}
	for _, o := range opts {
		o(i)
	}
	i.PublishableKey = MakePublishableKey(i.InstanceType, i.FrontendAPI)
	i.server = httptest.NewServer(http.HandlerFunc(i.handle))
	return i
}

// MakePublishableKey encodes a frontend API host into the publishable
// key wire format.
func MakePublishableKey(instanceType clerk.InstanceType, host string) string {
	prefix := "pk_test_"
	if instanceType == clerk.InstanceProduction {
		prefix = "pk_live_"
	}
	return prefix + base64.StdEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(host+"$"))
}

// APIURL returns the base URL of the fake backend API.
func (i *Instance) APIURL() string { return i.server.URL }

// Close shuts down the backend API server.
func (i *Instance) Close() { i.server.Close() }

// Issuer returns the token issuer, the https origin of the frontend API.
func (i *Instance) Issuer() string { return "https://" + i.FrontendAPI }

// CookieSuffix returns the suffix derived from the publishable key.
func (i *Instance) CookieSuffix() string {
	pk, err := clerk.ParsePublishableKey(i.PublishableKey)
	if err != nil {
		panic("fake: " + err.Error())
	}
	return pk.CookieSuffix()
}

// JWKSCalls reports how many times the JWKS endpoint was hit.
func (i *Instance) JWKSCalls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.jwksCalls
}

// FailJWKS makes the JWKS endpoint answer with the given status until
// reset with status 0.
func (i *Instance) FailJWKS(status int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.jwksStatus = status
}

// SetHandshakePayload registers the directives returned for a nonce.
func (i *Instance) SetHandshakePayload(nonce string, directives []string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.payloads[nonce] = directives
}

// SetMachineToken registers a machine token that verifies successfully
// with the given response body.
func (i *Instance) SetMachineToken(token string, body map[string]any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.machine[token] = machineEntry{status: http.StatusOK, body: body}
}

// FailMachineToken registers a machine token that fails verification
// with the given status.
func (i *Instance) FailMachineToken(token string, status int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.machine[token] = machineEntry{status: status}
}

// SetRefreshJWT sets the token returned by the session refresh
// endpoint. Empty means refresh calls fail with 401.
func (i *Instance) SetRefreshJWT(jwt string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.refreshJWT = jwt
}

// TokenOption mutates the claim set of a minted token.
type TokenOption func(gojwt.MapClaims)

// WithClaim sets an arbitrary claim.
func WithClaim(name string, value any) TokenOption {
	return func(c gojwt.MapClaims) { c[name] = value }
}

// WithSubject sets the sub claim.
func WithSubject(sub string) TokenOption {
	return func(c gojwt.MapClaims) { c["sub"] = sub }
}

// WithSessionID sets the sid claim.
func WithSessionID(sid string) TokenOption {
	return func(c gojwt.MapClaims) { c["sid"] = sid }
}

// WithIssuedAt sets the iat claim.
func WithIssuedAt(t time.Time) TokenOption {
	return func(c gojwt.MapClaims) { c["iat"] = t.Unix() }
}

// WithExpiry sets the exp claim.
func WithExpiry(t time.Time) TokenOption {
	return func(c gojwt.MapClaims) { c["exp"] = t.Unix() }
}

// WithNotBefore sets the nbf claim.
func WithNotBefore(t time.Time) TokenOption {
	return func(c gojwt.MapClaims) { c["nbf"] = t.Unix() }
}

// WithIssuer overrides the iss claim.
func WithIssuer(iss string) TokenOption {
	return func(c gojwt.MapClaims) { c["iss"] = iss }
}

// WithAzp sets the azp claim.
func WithAzp(azp string) TokenOption {
	return func(c gojwt.MapClaims) { c["azp"] = azp }
}

// WithAudience sets the aud claim.
func WithAudience(aud ...string) TokenOption {
	return func(c gojwt.MapClaims) { c["aud"] = aud }
}

// WithOrganization sets the active organization claims.
func WithOrganization(id, slug, role string, permissions ...string) TokenOption {
	return func(c gojwt.MapClaims) {
		c["org_id"] = id
		c["org_slug"] = slug
		c["org_role"] = role
		c["org_permissions"] = permissions
	}
}

// SessionToken mints a signed session JWT. Defaults: current iat, one
// minute lifetime, user_1/sess_1 identity, the instance as issuer.
func (i *Instance) SessionToken(opts ...TokenOption) string {
	now := time.Now()
	claims := gojwt.MapClaims{
		"iss": i.Issuer(),
		"sub": "user_1",
		"sid": "sess_1",
		"iat": now.Unix(),
		"nbf": now.Add(-10 * time.Second).Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}
	for _, o := range opts {
		o(claims)
	}
	return i.Sign(claims)
}

// HandshakeToken mints a signed handshake JWT carrying cookie
// directives.
func (i *Instance) HandshakeToken(directives []string, opts ...TokenOption) string {
	now := time.Now()
	claims := gojwt.MapClaims{
		"iss":       i.Issuer(),
		"iat":       now.Unix(),
		"nbf":       now.Add(-10 * time.Second).Unix(),
		"exp":       now.Add(time.Minute).Unix(),
		"handshake": directives,
	}
	for _, o := range opts {
		o(claims)
	}
	return i.Sign(claims)
}

// Sign signs an arbitrary claim set with the instance key.
func (i *Instance) Sign(claims gojwt.MapClaims) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.KeyID
	signed, err := token.SignedString(i.Key)
	if err != nil {
		panic("fake: sign token: " + err.Error())
	}
	return signed
}

// --- backend API handler ---

func (i *Instance) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/v1/jwks":
		i.serveJWKS(w)
	case path == "/v1/clients/handshake_payload":
		i.serveHandshakePayload(w, r)
	case path == "/v1/api_keys/verify":
		i.serveMachineVerify(w, r, "secret")
	case path == "/v1/m2m_tokens/verify":
		i.serveMachineVerify(w, r, "token")
	case path == "/v1/oauth_applications/access_tokens/verify":
		i.serveMachineVerify(w, r, "access_token")
	case strings.HasPrefix(path, "/v1/sessions/") && strings.HasSuffix(path, "/refresh"):
		i.serveRefresh(w)
	default:
		http.NotFound(w, r)
	}
}

func (i *Instance) serveJWKS(w http.ResponseWriter) {
	i.mu.Lock()
	i.jwksCalls++
	status := i.jwksStatus
	i.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	pub := i.Key.Public().(*rsa.PublicKey)
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": i.KeyID,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (i *Instance) serveHandshakePayload(w http.ResponseWriter, r *http.Request) {
	nonce := r.URL.Query().Get("nonce")
	i.mu.Lock()
	directives, ok := i.payloads[nonce]
	i.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{"handshake payload not found"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"directives": directives})
}

func (i *Instance) serveMachineVerify(w http.ResponseWriter, r *http.Request, field string) {
	var payload map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"malformed body"}})
		return
	}
	i.mu.Lock()
	entry, ok := i.machine[payload[field]]
	i.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"errors": []string{"token not found"}})
		return
	}
	if entry.status != http.StatusOK {
		writeJSON(w, entry.status, map[string]any{"errors": []string{"verification failed"}})
		return
	}
	writeJSON(w, http.StatusOK, entry.body)
}

func (i *Instance) serveRefresh(w http.ResponseWriter) {
	i.mu.Lock()
	jwt := i.refreshJWT
	i.mu.Unlock()
	if jwt == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"errors": []string{"refresh not allowed"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "token", "jwt": jwt})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
