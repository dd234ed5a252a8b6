package authenticate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	clerk "github.com/portalstack/clerk-go"
	"github.com/portalstack/clerk-go/jwt"
	"github.com/portalstack/clerk-go/request"
)

// refreshResponse is the API's answer to a session refresh call.
type refreshResponse struct {
	Object string `json:"object"`
	JWT    string `json:"jwt"`
}

// attemptRefresh exchanges the expired session token plus the refresh
// cookie for a fresh session token. On success it returns a signed-in
// state carrying a Set-Cookie header that rotates the session cookie in
// the browser. On failure it returns the refresh cause to embed into
// the composite reason.
func (a *Authenticator) attemptRefresh(ctx context.Context, authCtx *request.Context) (clerk.RequestState, bool, string) {
	newToken, err := a.fetchRefreshedToken(ctx, authCtx)
	if err != nil {
		a.logger.Warn("clerk: session token refresh failed", "error", err.Error())
		if a.opts.Metrics != nil {
			a.opts.Metrics.RecordRefresh("fetch-error")
		}
		return clerk.RequestState{}, false, clerk.RefreshFetchError
	}

	claims, err := jwt.Verify(ctx, newToken, a.verifyParams())
	if err != nil {
		a.logger.Warn("clerk: refreshed session token failed verification", "error", err.Error())
		if a.opts.Metrics != nil {
			a.opts.Metrics.RecordRefresh("invalid-session-token")
		}
		return clerk.RequestState{}, false, clerk.RefreshInvalidSessionToken
	}

	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordRefresh("success")
	}
	headers := http.Header{}
	headers.Add("Set-Cookie", sessionCookie(authCtx, newToken))
	return clerk.SignedIn(clerk.TokenTypeSession, newToken, claims, headers), true, ""
}

// fetchRefreshedToken calls the refresh endpoint for the session named
// by the expired token's sid claim.
func (a *Authenticator) fetchRefreshedToken(ctx context.Context, authCtx *request.Context) (string, error) {
	expired := authCtx.SessionTokenInCookie
	decoded, err := jwt.Decode(expired)
	if err != nil {
		return "", fmt.Errorf("authenticate: decode expired token: %w", err)
	}
	if decoded.Claims.SessionID == "" {
		return "", fmt.Errorf("authenticate: expired token carries no session id")
	}

	origin := authCtx.ClerkURL.Scheme + "://" + authCtx.ClerkURL.Host
	payload := map[string]any{
		"expired_token":   expired,
		"refresh_token":   authCtx.RefreshTokenInCookie,
		"request_origin":  origin,
		"request_headers": serializeHeaders(authCtx.Request.Header),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("authenticate: marshal refresh payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/sessions/%s/refresh", a.opts.APIURL, decoded.Claims.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("authenticate: build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.opts.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Clerk-API-Version", clerk.APIVersion)

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authenticate: refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("authenticate: refresh endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("authenticate: decode refresh response: %w", err)
	}
	if parsed.JWT == "" {
		return "", fmt.Errorf("authenticate: refresh response carries no token")
	}
	return parsed.JWT, nil
}

// sessionCookie builds the Set-Cookie value that rotates the session
// cookie after a refresh, preserving the suffix the browser sent.
func sessionCookie(authCtx *request.Context, token string) string {
	name := clerk.CookieSession
	if authCtx.UsesSuffixedCookies && authCtx.CookieSuffix != "" {
		name = clerk.SuffixedCookie(name, authCtx.CookieSuffix)
	}
	cookie := &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   authCtx.InstanceType == clerk.InstanceProduction,
	}
	if decoded, err := jwt.Decode(token); err == nil && decoded.Claims.Expiry > 0 {
		cookie.Expires = time.Unix(decoded.Claims.Expiry, 0)
	}
	return cookie.String()
}

// serializeHeaders flattens the request headers into the shape the
// refresh endpoint expects.
func serializeHeaders(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		out[name] = values
	}
	return out
}
