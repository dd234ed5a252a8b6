// Package handshake implements the redirect-based cookie refresh
// protocol: building redirects to the remote handshake endpoint,
// resolving handshake callbacks (nonce exchange or self-contained
// token), and guarding against redirect loops.
package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	clerk "github.com/portalstack/clerk-go"
	"github.com/portalstack/clerk-go/jwt"
	"github.com/portalstack/clerk-go/orgsync"
	"github.com/portalstack/clerk-go/request"
)

// MaxRedirectLoopCount is the number of handshake redirects tolerated
// before giving up and answering signed-out. Fixed today; a candidate
// for configuration later.
const MaxRedirectLoopCount = 3

// redirectCountMaxAge keeps the loop counter alive for roughly two
// consecutive requests and no longer.
const redirectCountMaxAge = 2

// Options configures a handshake Service.
type Options struct {
	SecretKey  string
	APIURL     string
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Resolver verifies handshake and session tokens.
	Resolver jwt.KeyResolver

	AuthorizedParties []string
	Audiences         []string

	// Matcher contributes organization activation parameters to the
	// handshake redirect. May be nil.
	Matcher *orgsync.Matcher
}

// Service drives the handshake protocol for a single request.
type Service struct {
	authCtx *request.Context
	opts    Options
	logger  *slog.Logger
}

// New builds a Service around one request's context.
func New(authCtx *request.Context, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.APIURL == "" {
		opts.APIURL = clerk.DefaultAPIURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Service{authCtx: authCtx, opts: opts, logger: logger}
}

// Eligible reports whether this request may be redirected into a
// handshake. Only browser document or iframe navigations qualify;
// programmatic fetches get a terminal signed-out answer instead, since a
// redirect would break them.
func (s *Service) Eligible() bool {
	switch s.authCtx.SecFetchDest {
	case "document", "iframe":
		return true
	case "":
		return strings.HasPrefix(s.authCtx.Accept, "text/html")
	}
	return false
}

// RedirectLoopTripped reports whether the accumulated redirect counter
// has reached the give-up threshold.
func (s *Service) RedirectLoopTripped() bool {
	return s.authCtx.HandshakeRedirectLoopCounter >= MaxRedirectLoopCount
}

// State builds the handshake decision for the given reason: a redirect
// to the remote handshake endpoint, or — once the loop guard trips — a
// terminal signed-out state.
func (s *Service) State(reason clerk.AuthReason, message string) clerk.RequestState {
	if s.RedirectLoopTripped() {
		s.logger.Warn("clerk: handshake redirect loop detected, falling back to signed-out",
			"reason", string(reason))
		headers := http.Header{}
		headers.Add("Set-Cookie", clearRedirectCountCookie())
		return clerk.SignedOut(clerk.TokenTypeSession, reason,
			"handshake redirect loop detected", headers)
	}

	headers := http.Header{}
	headers.Set("Location", s.redirectURL(reason))
	headers.Add("Set-Cookie", s.incrementRedirectCountCookie())
	return clerk.Handshake(reason, message, headers)
}

// redirectURL assembles the /v1/client/handshake URL on the frontend API
// (or the proxy standing in front of it).
func (s *Service) redirectURL(reason clerk.AuthReason) string {
	base := s.authCtx.PublishableKey.FrontendAPIURL()
	if s.authCtx.ProxyURL != "" {
		base = strings.TrimRight(s.authCtx.ProxyURL, "/")
	}

	q := url.Values{}
	q.Set("redirect_url", stripProtocolParams(s.authCtx.ClerkURL).String())
	q.Set("__clerk_api_version", clerk.APIVersion)
	q.Set(clerk.QueryParamSuffixedCookies, strconv.FormatBool(s.authCtx.UsesSuffixedCookies))
	q.Set(clerk.QueryParamHandshakeReason, string(reason))
	q.Set(clerk.QueryParamHandshakeFormat, "nonce")
	if s.authCtx.InstanceType == clerk.InstanceDevelopment && s.authCtx.DevBrowserToken != "" {
		q.Set(clerk.QueryParamDevBrowser, s.authCtx.DevBrowserToken)
	}
	s.addOrganizationSyncParams(q)

	return base + "/v1/client/handshake?" + q.Encode()
}

// addOrganizationSyncParams appends activation parameters when the
// current URL demands an organization or personal-account context.
func (s *Service) addOrganizationSyncParams(q url.Values) {
	target := s.OrganizationSyncTarget()
	if target == nil {
		return
	}
	switch {
	case target.PersonalAccount:
		q.Set("personal_account", "true")
	case target.OrganizationID != "":
		q.Set("organization_id", target.OrganizationID)
	case target.OrganizationSlug != "":
		q.Set("organization_slug", target.OrganizationSlug)
	}
}

// OrganizationSyncTarget resolves the URL's required account context, if
// any patterns are configured.
func (s *Service) OrganizationSyncTarget() *orgsync.Target {
	if s.opts.Matcher == nil || s.opts.Matcher.Empty() {
		return nil
	}
	return s.opts.Matcher.FindTarget(s.authCtx.ClerkURL)
}

// OrganizationMismatch reports whether the URL's target disagrees with
// the session's active organization claims.
func (s *Service) OrganizationMismatch(claims *clerk.SessionClaims) bool {
	target := s.OrganizationSyncTarget()
	if target == nil {
		return false
	}
	switch {
	case target.PersonalAccount:
		return claims.OrgID != ""
	case target.OrganizationID != "":
		return claims.OrgID != target.OrganizationID
	case target.OrganizationSlug != "":
		return claims.OrgSlug != target.OrganizationSlug
	}
	return false
}

// Resolve consumes a handshake callback. The directives come either from
// a server-side nonce exchange or from a self-contained handshake token;
// either way they are replayed as Set-Cookie headers and the new session
// token, if any, is verified.
func (s *Service) Resolve(ctx context.Context) (clerk.RequestState, error) {
	var directives []string
	var err error
	if s.authCtx.HandshakeNonce != "" {
		directives, err = s.exchangeNonce(ctx, s.authCtx.HandshakeNonce)
	} else {
		directives, err = s.verifyHandshakeToken(ctx, s.authCtx.HandshakeToken)
	}
	if err != nil {
		return clerk.RequestState{}, err
	}

	headers := http.Header{}
	sessionToken := ""
	for _, directive := range directives {
		headers.Add("Set-Cookie", directive)
		if name, value, ok := parseDirective(directive); ok && strings.HasPrefix(name, clerk.CookieSession) {
			sessionToken = value
		}
	}
	headers.Add("Set-Cookie", clearRedirectCountCookie())

	if s.authCtx.InstanceType == clerk.InstanceDevelopment {
		// Send the browser back to the original URL without the handshake
		// machinery in its query string.
		redirect := *s.authCtx.ClerkURL
		stripHandshakeParams(&redirect)
		headers.Set("Location", redirect.String())
		headers.Set("Cache-Control", "no-store")
	}

	if sessionToken == "" {
		return clerk.SignedOut(clerk.TokenTypeSession, clerk.ReasonSessionTokenMissing,
			"handshake directives carried no session token", headers), nil
	}

	claims, err := s.verifySessionToken(ctx, sessionToken)
	if err != nil {
		return clerk.RequestState{}, err
	}
	return clerk.SignedIn(clerk.TokenTypeSession, sessionToken, claims, headers), nil
}

// verifySessionToken verifies the freshly minted session token. In
// development, clock-skew failures get one retry with a 24-hour
// tolerance, since local machines drift.
func (s *Service) verifySessionToken(ctx context.Context, token string) (*clerk.SessionClaims, error) {
	params := &jwt.VerifyParams{
		Resolver:          s.opts.Resolver,
		AuthorizedParties: s.opts.AuthorizedParties,
		Audiences:         s.opts.Audiences,
	}
	claims, err := jwt.Verify(ctx, token, params)
	if err == nil {
		return claims, nil
	}

	if s.authCtx.InstanceType == clerk.InstanceDevelopment {
		if tve, ok := err.(*clerk.TokenVerificationError); ok && tve.Reason.RefreshEligible() {
			s.logger.Warn("clerk: clock skew detected while verifying the handshake session token; "+
				"make sure your machine's clock is set correctly",
				"reason", string(tve.Reason))
			retry := *params
			retry.ClockSkew = jwt.InflatedClockSkew
			return jwt.Verify(ctx, token, &retry)
		}
	}
	return nil, err
}

// exchangeNonce trades the handshake nonce for cookie directives via an
// authenticated backend API call.
func (s *Service) exchangeNonce(ctx context.Context, nonce string) ([]string, error) {
	endpoint := strings.TrimRight(s.opts.APIURL, "/") + "/v1/clients/handshake_payload?nonce=" + url.QueryEscape(nonce)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("clerk/handshake: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.opts.SecretKey)
	req.Header.Set("Clerk-API-Version", clerk.APIVersion)

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clerk/handshake: nonce exchange: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("clerk/handshake: nonce exchange returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Directives []string `json:"directives"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("clerk/handshake: decode payload: %w", err)
	}
	return payload.Directives, nil
}

// verifyHandshakeToken verifies a self-contained handshake JWT and
// extracts the embedded cookie directives.
func (s *Service) verifyHandshakeToken(ctx context.Context, token string) ([]string, error) {
	if token == "" {
		return nil, fmt.Errorf("clerk/handshake: no nonce or handshake token present")
	}
	decoded, err := jwt.Decode(token)
	if err != nil {
		return nil, err
	}
	key, err := s.opts.Resolver.Resolve(ctx, decoded.Header.KeyID)
	if err != nil {
		return nil, err
	}
	if err := jwt.VerifySignature(decoded, key); err != nil {
		return nil, err
	}

	raw, ok := decoded.Claims.Extra["handshake"].([]any)
	if !ok {
		return nil, clerk.NewTokenError(clerk.TokenInvalid,
			fmt.Errorf("handshake token payload carries no directives"))
	}
	directives := make([]string, 0, len(raw))
	for _, d := range raw {
		if s, ok := d.(string); ok {
			directives = append(directives, s)
		}
	}
	return directives, nil
}

func (s *Service) incrementRedirectCountCookie() string {
	next := s.authCtx.HandshakeRedirectLoopCounter + 1
	return fmt.Sprintf("%s=%d; Path=/; Max-Age=%d; SameSite=Lax", clerk.CookieRedirectCount, next, redirectCountMaxAge)
}

func clearRedirectCountCookie() string {
	return clerk.CookieRedirectCount + "=; Path=/; Max-Age=0"
}

// parseDirective splits one Set-Cookie directive into name and value.
func parseDirective(directive string) (name, value string, ok bool) {
	pair, _, _ := strings.Cut(directive, ";")
	name, value, ok = strings.Cut(pair, "=")
	return strings.TrimSpace(name), strings.TrimSpace(value), ok
}

// stripProtocolParams removes the dev-browser token from a URL used as a
// redirect target.
func stripProtocolParams(u *url.URL) *url.URL {
	clean := *u
	q := clean.Query()
	q.Del(clerk.QueryParamDevBrowser)
	q.Del(clerk.QueryParamDevSession)
	clean.RawQuery = q.Encode()
	return &clean
}

// stripHandshakeParams removes every handshake artifact from a
// redirect-back URL.
func stripHandshakeParams(u *url.URL) {
	q := u.Query()
	q.Del(clerk.QueryParamHandshake)
	q.Del(clerk.QueryParamHandshakeNonce)
	q.Del(clerk.QueryParamHandshakeReason)
	q.Del(clerk.QueryParamHandshakeFormat)
	q.Del(clerk.QueryParamDevBrowser)
	q.Del(clerk.QueryParamDevSession)
	q.Del(clerk.QueryParamSuffixedCookies)
	u.RawQuery = q.Encode()
}
