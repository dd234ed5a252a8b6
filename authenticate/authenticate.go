package authenticate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	clerk "github.com/portalstack/clerk-go"
	"github.com/portalstack/clerk-go/handshake"
	"github.com/portalstack/clerk-go/jwt"
	"github.com/portalstack/clerk-go/request"
	"github.com/portalstack/clerk-go/telemetry"
)

// Authenticate runs the decision procedure for one request and returns
// the terminal RequestState. Per-request authentication failures never
// surface as errors — they become signed-out or handshake states with a
// reason code. The returned error is reserved for configuration
// problems that only become visible with a request in hand.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (clerk.RequestState, error) {
	authCtx := request.New(r, request.Options{
		PublishableKey: a.pk,
		IsSatellite:    a.opts.IsSatellite,
		Domain:         a.opts.Domain,
		ProxyURL:       a.opts.ProxyURL,
		Clock:          a.opts.Clock,
	})

	// Satellite apps must send the browser cross-origin to sign in; a
	// same-origin sign-in URL would loop against this very app.
	if a.opts.IsSatellite && a.opts.SignInURL != "" && sameOrigin(a.opts.SignInURL, authCtx.ClerkURL) {
		return clerk.RequestState{}, fmt.Errorf(
			"clerk/authenticate: the sign-in URL %q is on the satellite app's own origin", a.opts.SignInURL)
	}

	if authCtx.TokenInHeader != "" {
		tokenType := clerk.TokenTypeOf(authCtx.TokenInHeader)
		if tokenType == clerk.TokenTypeSession {
			if !a.accepts(clerk.TokenTypeSession) {
				return a.finish(authCtx, clerk.SignedOut(clerk.TokenTypeSession, clerk.ReasonTokenTypeMismatch,
					"a session token was presented but this endpoint does not accept session tokens", nil)), nil
			}
			return a.finish(authCtx, a.authenticateHeaderSession(ctx, authCtx)), nil
		}
		return a.finish(authCtx, a.authenticateMachine(ctx, authCtx, tokenType)), nil
	}

	if !a.accepts(clerk.TokenTypeSession) {
		return a.finish(authCtx, clerk.SignedOut(a.opts.AcceptsToken[0], clerk.ReasonTokenTypeMismatch,
			"no machine token present in the Authorization header", nil)), nil
	}
	return a.finish(authCtx, a.authenticateCookie(ctx, authCtx)), nil
}

// authenticateHeaderSession verifies a session JWT presented via the
// Authorization header.
func (a *Authenticator) authenticateHeaderSession(ctx context.Context, authCtx *request.Context) clerk.RequestState {
	token := authCtx.TokenInHeader
	claims, err := jwt.Verify(ctx, token, a.verifyParams())
	if err != nil {
		// Header callers are programmatic; token failures are terminal,
		// never a redirect.
		var tve *clerk.TokenVerificationError
		if errors.As(err, &tve) {
			return clerk.SignedOut(clerk.TokenTypeSession, clerk.AuthReason(tve.Reason), tve.Error(), nil)
		}
		return clerk.SignedOut(clerk.TokenTypeSession, clerk.ReasonUnexpectedError, err.Error(), nil)
	}
	return clerk.SignedIn(clerk.TokenTypeSession, token, claims, nil)
}

// authenticateMachine verifies a machine-prefixed bearer token. The
// acceptsToken screen runs before any network call.
func (a *Authenticator) authenticateMachine(ctx context.Context, authCtx *request.Context, tokenType clerk.TokenType) clerk.RequestState {
	if !a.accepts(tokenType) {
		return clerk.SignedOut(tokenType, clerk.ReasonTokenTypeMismatch,
			fmt.Sprintf("token type %s is not accepted by this endpoint", tokenType), nil)
	}
	ma, err := a.machine.Verify(ctx, tokenType, authCtx.TokenInHeader)
	if err != nil {
		var mte *clerk.MachineTokenError
		if errors.As(err, &mte) {
			return clerk.SignedOut(tokenType, clerk.AuthReason(mte.Code), mte.Message, nil)
		}
		return clerk.SignedOut(tokenType, clerk.ReasonUnexpectedError, err.Error(), nil)
	}
	return clerk.SignedInMachine(ma, authCtx.TokenInHeader)
}

// authenticateCookie is the cookie-based session path: handshake
// callbacks first, then the multi-domain and dev-browser sync rules,
// then cookie-state consistency, and only then the token itself. The
// branch order is part of the protocol.
func (a *Authenticator) authenticateCookie(ctx context.Context, authCtx *request.Context) clerk.RequestState {
	svc := a.handshakeService(authCtx)
	dev := authCtx.InstanceType == clerk.InstanceDevelopment

	// (a) An arriving handshake callback resolves before anything else.
	if authCtx.HandshakeNonce != "" || authCtx.HandshakeToken != "" {
		state, err := svc.Resolve(ctx)
		if err == nil {
			return state
		}
		var tve *clerk.TokenVerificationError
		if dev && errors.As(err, &tve) {
			a.logger.Warn("clerk: handshake token verification failed; the instance keys may have "+
				"rotated, or your machine clock is wrong", "reason", string(tve.Reason), "error", err.Error())
		} else {
			a.logger.Warn("clerk: handshake resolution failed, continuing with the regular flow", "error", err.Error())
		}
	}

	// (b) A dev-browser token in the URL must be persisted into cookies
	// via a handshake before anything can be trusted.
	if dev && authCtx.DevBrowserInURL {
		return a.maybeHandshake(svc, clerk.ReasonDevBrowserSync, "")
	}

	// (c) Production satellites sync cookies from the primary domain on
	// every top-level navigation.
	if !dev && authCtx.IsSatellite && authCtx.SecFetchDest == "document" {
		return a.maybeHandshake(svc, clerk.ReasonSatelliteCookieNeedsSyncing, "")
	}

	// (d) Development satellites bounce through the primary domain's
	// sign-in page until marked synced.
	if dev && authCtx.IsSatellite && authCtx.SecFetchDest == "document" && !authCtx.ClerkSynced {
		redirect, err := url.Parse(a.opts.SignInURL)
		if err == nil {
			q := redirect.Query()
			q.Set(clerk.QueryParamRedirectURL, authCtx.ClerkURL.String())
			redirect.RawQuery = q.Encode()
			headers := http.Header{}
			headers.Set("Location", redirect.String())
			return clerk.Handshake(clerk.ReasonSatelliteCookieNeedsSyncing, "", headers)
		}
	}

	// (e) A development primary answering a satellite's sync request
	// sends the browser back with the dev-browser token attached.
	if dev && !authCtx.IsSatellite && authCtx.RedirectURLQuery != "" {
		if redirect, err := url.Parse(authCtx.RedirectURLQuery); err == nil {
			q := redirect.Query()
			if authCtx.DevBrowserToken != "" {
				q.Set(clerk.QueryParamDevBrowser, authCtx.DevBrowserToken)
			}
			q.Set(clerk.QueryParamSynced, "true")
			redirect.RawQuery = q.Encode()
			headers := http.Header{}
			headers.Set("Location", redirect.String())
			return clerk.Handshake(clerk.ReasonPrimaryRespondsToSyncing, "", headers)
		}
	}

	// (f) Development without a dev browser cannot hold any session yet.
	if dev && authCtx.DevBrowserToken == "" {
		return a.maybeHandshake(svc, clerk.ReasonDevBrowserMissing, "")
	}

	// (g) No liveness marker and no session token: plainly signed out.
	if !authCtx.HasActiveClient() && authCtx.SessionTokenInCookie == "" {
		return clerk.SignedOut(clerk.TokenTypeSession, clerk.ReasonSessionTokenAndUATMissing, "", nil)
	}

	// (h) An inconsistent pairing of session and liveness cookies always
	// forces a re-sync rather than guessing.
	if !authCtx.HasActiveClient() && authCtx.SessionTokenInCookie != "" {
		return a.maybeHandshake(svc, clerk.ReasonSessionTokenWithoutClientUAT, "")
	}
	if authCtx.HasActiveClient() && authCtx.SessionTokenInCookie == "" {
		return a.maybeHandshake(svc, clerk.ReasonClientUATWithoutSessionToken, "")
	}

	// (i) A token minted before the client's last sign-in/sign-out is a
	// leftover from a previous session.
	token := authCtx.SessionTokenInCookie
	decoded, err := jwt.Decode(token)
	if err != nil {
		return a.handleSessionTokenError(ctx, authCtx, svc, err)
	}
	if decoded.Claims.IssuedAt < authCtx.ClientUATSeconds() {
		return a.maybeHandshake(svc, clerk.ReasonSessionTokenIATBeforeClientUAT, "")
	}

	// (j) Full verification.
	claims, err := jwt.Verify(ctx, token, a.verifyParams())
	if err != nil {
		return a.handleSessionTokenError(ctx, authCtx, svc, err)
	}

	// A valid token on a primary-domain top-level navigation arriving
	// from an unrecognized cross-origin referrer may still belong to a
	// stale cross-domain session; re-sync to be sure.
	if !authCtx.IsSatellite && authCtx.SecFetchDest == "document" &&
		a.isCrossOriginReferrer(authCtx) && !a.isKnownReferrer(authCtx) {
		return a.maybeHandshake(svc, clerk.ReasonPrimaryDomainCrossOriginSync, "")
	}

	// URL-driven organization activation: a mismatch forces a handshake
	// unless the loop guard already tripped.
	if svc.OrganizationMismatch(claims) {
		if svc.RedirectLoopTripped() {
			a.logger.Warn("clerk: organization activation kept redirecting; serving the session as-is",
				"org_id", claims.OrgID)
		} else {
			return a.maybeHandshake(svc, clerk.ReasonActiveOrganizationMismatch, "")
		}
	}

	return clerk.SignedIn(clerk.TokenTypeSession, token, claims, nil)
}

// handleSessionTokenError is the error-dispatch step. Only token
// verification errors are recoverable, and only the clock-driven subset
// of those may try the refresh endpoint.
func (a *Authenticator) handleSessionTokenError(ctx context.Context, authCtx *request.Context, svc *handshake.Service, err error) clerk.RequestState {
	var tve *clerk.TokenVerificationError
	if !errors.As(err, &tve) {
		return clerk.SignedOut(clerk.TokenTypeSession, clerk.ReasonUnexpectedError, err.Error(), nil)
	}
	if !tve.Reason.RefreshEligible() {
		return clerk.SignedOut(clerk.TokenTypeSession, clerk.AuthReason(tve.Reason), tve.Error(), nil)
	}

	refreshReason := clerk.RefreshNonEligible
	switch {
	case authCtx.Request.Method != http.MethodGet:
		refreshReason = clerk.RefreshNonEligible
	case authCtx.RefreshTokenInCookie == "":
		refreshReason = clerk.RefreshNoCookie
	default:
		state, ok, reason := a.attemptRefresh(ctx, authCtx)
		if ok {
			return state
		}
		refreshReason = reason
	}

	return a.maybeHandshake(svc, clerk.CompositeReason(tve.Reason, refreshReason), tve.Error())
}

// maybeHandshake redirects navigational requests into the handshake
// flow; programmatic callers get a terminal signed-out answer, since a
// redirect would break them.
func (a *Authenticator) maybeHandshake(svc *handshake.Service, reason clerk.AuthReason, message string) clerk.RequestState {
	if svc.Eligible() {
		return svc.State(reason, message)
	}
	return clerk.SignedOut(clerk.TokenTypeSession, reason, message, nil)
}

func (a *Authenticator) handshakeService(authCtx *request.Context) *handshake.Service {
	return handshake.New(authCtx, handshake.Options{
		SecretKey:         a.opts.SecretKey,
		APIURL:            a.opts.APIURL,
		HTTPClient:        a.opts.HTTPClient,
		Logger:            a.logger,
		Resolver:          a.resolver,
		AuthorizedParties: a.opts.AuthorizedParties,
		Audiences:         a.opts.Audiences,
		Matcher:           a.matcher,
	})
}

func (a *Authenticator) verifyParams() *jwt.VerifyParams {
	return &jwt.VerifyParams{
		Resolver:          a.resolver,
		Audiences:         a.opts.Audiences,
		AuthorizedParties: a.opts.AuthorizedParties,
		ClockSkew:         a.opts.ClockSkew,
		Clock:             a.opts.Clock,
	}
}

// isCrossOriginReferrer reports whether the Referer header names a
// different origin than the (proxy-corrected) request URL.
func (a *Authenticator) isCrossOriginReferrer(authCtx *request.Context) bool {
	if authCtx.Referrer == "" {
		return false
	}
	ref, err := url.Parse(authCtx.Referrer)
	if err != nil || ref.Host == "" {
		return false
	}
	return ref.Scheme != authCtx.ClerkURL.Scheme || ref.Host != authCtx.ClerkURL.Host
}

// isKnownReferrer recognizes referrers owned by the instance itself:
// the frontend API, the configured proxy, or the shared cookie domain.
func (a *Authenticator) isKnownReferrer(authCtx *request.Context) bool {
	ref, err := url.Parse(authCtx.Referrer)
	if err != nil || ref.Host == "" {
		return false
	}
	if ref.Host == a.pk.FrontendAPI {
		return true
	}
	if a.opts.ProxyURL != "" {
		if proxy, err := url.Parse(a.opts.ProxyURL); err == nil && proxy.Host == ref.Host {
			return true
		}
	}
	if a.opts.Domain != "" {
		if ref.Host == a.opts.Domain || ref.Host == "clerk."+a.opts.Domain {
			return true
		}
	}
	return false
}

// finish records instrumentation for a terminal state.
func (a *Authenticator) finish(authCtx *request.Context, state clerk.RequestState) clerk.RequestState {
	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordDecision(string(state.Status), string(state.TokenType))
		if state.Status == clerk.StatusHandshake {
			a.opts.Metrics.RecordHandshake(string(state.Reason))
		}
	}
	if a.opts.Telemetry != nil {
		a.opts.Telemetry.Record(telemetry.Event{
			Status:       string(state.Status),
			Reason:       string(state.Reason),
			TokenType:    string(state.TokenType),
			InstanceType: string(authCtx.InstanceType),
		})
	}
	return state
}

func sameOrigin(rawURL string, u *url.URL) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.Scheme == u.Scheme && parsed.Host == u.Host
}
