// Package request normalizes one inbound HTTP request into an immutable
// authentication context: every relevant cookie (suffixed and
// unsuffixed), header and query parameter, plus the derived state the
// authenticator branches on — instance type, cookie suffix usage, and
// the proxy-corrected request URL.
package request

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	clerk "github.com/portalstack/clerk-go"
	"github.com/portalstack/clerk-go/jwt"
)

// Options carries the deployment configuration the builder derives
// state from.
type Options struct {
	PublishableKey clerk.PublishableKey
	IsSatellite    bool
	Domain         string
	ProxyURL       string

	// Clock overrides time.Now, for tests of the cookie heuristic.
	Clock func() time.Time
}

// Context is the normalized view of one request. Built once, never
// mutated afterwards, discarded when request handling ends.
type Context struct {
	Request *http.Request

	PublishableKey clerk.PublishableKey
	InstanceType   clerk.InstanceType
	CookieSuffix   string
	IsSatellite    bool
	Domain         string
	ProxyURL       string

	// UsesSuffixedCookies records which cookie family this request's
	// session state lives in. Choosing wrongly would authenticate the
	// wrong session, so the decision follows a fixed branch order (see
	// usesSuffixedCookies).
	UsesSuffixedCookies bool

	// ClerkURL is the request URL corrected for X-Forwarded-* headers:
	// only path and query survive from the raw URL when a proxy rewrote
	// the origin.
	ClerkURL *url.URL

	// Headers.
	TokenInHeader string // from "Authorization: Bearer <token>", empty otherwise
	Origin        string
	Host          string
	ForwardedHost string
	Referrer      string
	UserAgent     string
	SecFetchDest  string
	Accept        string

	// Cookies, resolved to the active (suffixed or unsuffixed) family.
	SessionTokenInCookie string
	RefreshTokenInCookie string
	ClientUAT            string // raw value; "0" means signed out, "" means no client
	DevBrowserToken      string
	HandshakeToken       string
	HandshakeNonce       string

	HandshakeRedirectLoopCounter int

	// Query-parameter state.
	ClerkSynced      bool
	RedirectURLQuery string
	DevBrowserInURL  bool
}

// New builds the context. Order matters: the cookie suffix and the
// suffixed-cookie decision feed every later cookie lookup.
func New(r *http.Request, opts Options) *Context {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	c := &Context{
		Request:        r,
		PublishableKey: opts.PublishableKey,
		InstanceType:   opts.PublishableKey.InstanceType,
		IsSatellite:    opts.IsSatellite,
		Domain:         opts.Domain,
		ProxyURL:       opts.ProxyURL,
	}

	c.TokenInHeader = bearerToken(r.Header.Get("Authorization"))
	c.Origin = r.Header.Get("Origin")
	c.Host = r.Host
	c.ForwardedHost = r.Header.Get("X-Forwarded-Host")
	c.Referrer = r.Header.Get("Referer")
	c.UserAgent = r.Header.Get("User-Agent")
	c.SecFetchDest = r.Header.Get("Sec-Fetch-Dest")
	c.Accept = r.Header.Get("Accept")

	c.ClerkURL = deriveClerkURL(r)

	if !c.PublishableKey.IsZero() {
		c.CookieSuffix = c.PublishableKey.CookieSuffix()
		c.UsesSuffixedCookies = c.usesSuffixedCookies(clock())
	}

	c.SessionTokenInCookie = c.activeCookie(clerk.CookieSession)
	c.RefreshTokenInCookie = c.activeCookie(clerk.CookieRefresh)
	c.ClientUAT = c.activeCookie(clerk.CookieClientUAT)

	query := c.ClerkURL.Query()

	// Handshake state: query wins over cookie.
	c.HandshakeToken = firstNonEmpty(query.Get(clerk.QueryParamHandshake), c.activeCookie(clerk.CookieHandshake))
	c.HandshakeNonce = firstNonEmpty(query.Get(clerk.QueryParamHandshakeNonce), c.activeCookie(clerk.CookieHandshakeNonce))

	c.DevBrowserToken = firstNonEmpty(
		query.Get(clerk.QueryParamDevBrowser),
		query.Get(clerk.QueryParamDevSession),
		c.activeCookie(clerk.CookieDevBrowser),
	)
	c.DevBrowserInURL = query.Get(clerk.QueryParamDevBrowser) != "" || query.Get(clerk.QueryParamDevSession) != ""

	c.ClerkSynced = query.Get(clerk.QueryParamSynced) == "true"
	c.RedirectURLQuery = query.Get(clerk.QueryParamRedirectURL)

	if raw := c.cookie(clerk.CookieRedirectCount); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			c.HandshakeRedirectLoopCounter = n
		}
	}

	return c
}

// SessionToken returns the active session credential. A header
// credential, when present, always wins over the cookie.
func (c *Context) SessionToken() string {
	if c.TokenInHeader != "" {
		return c.TokenInHeader
	}
	return c.SessionTokenInCookie
}

// ClientUATSeconds parses the client-UAT cookie. Returns 0 for "0",
// absent, or malformed values.
func (c *Context) ClientUATSeconds() int64 {
	n, err := strconv.ParseInt(c.ClientUAT, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// HasActiveClient reports whether the browser claims a live client
// session (a non-zero client UAT).
func (c *Context) HasActiveClient() bool {
	return c.ClientUATSeconds() > 0
}

// cookie returns the unsuffixed cookie value, first occurrence wins.
func (c *Context) cookie(name string) string {
	ck, err := c.Request.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

// suffixedCookie returns the per-instance suffixed cookie value.
func (c *Context) suffixedCookie(name string) string {
	if c.CookieSuffix == "" {
		return ""
	}
	return c.cookie(clerk.SuffixedCookie(name, c.CookieSuffix))
}

// activeCookie reads from whichever family the suffix decision selected.
func (c *Context) activeCookie(name string) string {
	if c.UsesSuffixedCookies {
		return c.suffixedCookie(name)
	}
	return c.cookie(name)
}

// usesSuffixedCookies decides between the suffixed and unsuffixed cookie
// families. The branch order is deliberate and must not be reordered:
// each early return handles a distinct malformed or transitional cookie
// state, preferring the fresher instance-owned session.
func (c *Context) usesSuffixedCookies(now time.Time) bool {
	suffixedClientUAT := c.suffixedCookie(clerk.CookieClientUAT)
	clientUAT := c.cookie(clerk.CookieClientUAT)
	suffixedSession := c.suffixedCookie(clerk.CookieSession)
	session := c.cookie(clerk.CookieSession)

	// An unsuffixed session minted by some other instance (or malformed)
	// cannot be ours; whatever state this instance owns lives in the
	// suffixed family.
	if session != "" && !c.tokenBelongsToInstance(session) {
		return true
	}

	// Nothing suffixed at all.
	if suffixedClientUAT == "" && suffixedSession == "" {
		return false
	}

	sessionIat := decodedIat(session)
	suffixedSessionIat := decodedIat(suffixedSession)

	// Both families claim a signed-in client; the unsuffixed session is
	// newer, so it wins.
	if suffixedClientUAT != "0" && clientUAT != "0" && sessionIat > suffixedSessionIat {
		return false
	}

	// Suffixed family says signed out while unsuffixed does not agree;
	// the unsuffixed family is the one still being updated.
	if suffixedClientUAT == "0" && clientUAT != "0" {
		return false
	}

	// Production only: a suffixed session that has already expired while
	// the unsuffixed client-UAT went stale ("0") defers to unsuffixed.
	if c.InstanceType == clerk.InstanceProduction &&
		suffixedClientUAT != "" && suffixedClientUAT != "0" && clientUAT == "0" &&
		sessionExpired(suffixedSession, now) {
		return false
	}

	// A suffixed session without any suffixed client-UAT is an orphan.
	if suffixedClientUAT == "" && suffixedSession != "" {
		return false
	}

	return true
}

// tokenBelongsToInstance decodes the token (no signature check) and
// compares its issuer host with the instance's frontend API host.
func (c *Context) tokenBelongsToInstance(token string) bool {
	decoded, err := jwt.Decode(token)
	if err != nil {
		return false
	}
	iss, err := url.Parse(decoded.Claims.Issuer)
	if err != nil || iss.Host == "" {
		return false
	}
	return iss.Host == c.PublishableKey.FrontendAPI
}

func decodedIat(token string) int64 {
	if token == "" {
		return 0
	}
	decoded, err := jwt.Decode(token)
	if err != nil {
		return 0
	}
	return decoded.Claims.IssuedAt
}

func sessionExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}
	decoded, err := jwt.Decode(token)
	if err != nil {
		return true
	}
	return decoded.Claims.Expiry != 0 && time.Unix(decoded.Claims.Expiry, 0).Before(now)
}

// bearerToken extracts the credential from an Authorization header. Only
// the Bearer scheme is recognized; anything else yields no token rather
// than an error.
func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// deriveClerkURL rebuilds the request URL, trusting X-Forwarded-Host and
// X-Forwarded-Proto (or CloudFront-Forwarded-Proto) over the raw values.
// Only path and query are carried over from the raw URL, so forwarding
// headers can never inject into other URL components.
func deriveClerkURL(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := forwardedProto(r); proto != "" {
		scheme = proto
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = firstForwardedValue(fwd)
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
}

func forwardedProto(r *http.Request) string {
	for _, h := range []string{"X-Forwarded-Proto", "CloudFront-Forwarded-Proto"} {
		if v := r.Header.Get(h); v != "" {
			return firstForwardedValue(v)
		}
	}
	return ""
}

// firstForwardedValue takes the first entry of a comma-separated
// forwarding header.
func firstForwardedValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
