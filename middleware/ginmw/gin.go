// Package ginmw provides Gin HTTP middleware over the request
// authentication state machine.
//
// WithAuth hydrates every request with its RequestState and lets the
// handler decide; RequireAuth additionally rejects anything that is not
// signed in. Handshake states turn into redirects for browser
// navigations, so the cookie re-sync loop works without any handler
// code.
package ginmw

import (
	"net/http"

	"github.com/gin-gonic/gin"
	clerk "github.com/portalstack/clerk-go"
	"github.com/portalstack/clerk-go/authenticate"
)

// Context keys for storing authentication data in gin.Context.
const (
	KeyState  = "clerk_request_state"
	KeyAuth   = "clerk_auth"
	KeyUserID = "clerk_user_id"
)

// AuthOption configures the middleware.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedPaths map[string]bool
}

// WithExcludedPaths sets paths that skip authentication (e.g. health checks).
func WithExcludedPaths(paths ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, p := range paths {
			cfg.excludedPaths[p] = true
		}
	}
}

// WithAuth returns middleware that runs the authentication decision and
// stores the outcome in the Gin context. Signed-out requests proceed —
// handlers check Auth(c) for nil — while handshake decisions are served
// immediately as redirects.
func WithAuth(ar *authenticate.Authenticator, opts ...AuthOption) gin.HandlerFunc {
	cfg := &authConfig{excludedPaths: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		if cfg.excludedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		state, err := ar.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		for name, values := range state.Headers {
			for _, v := range values {
				c.Writer.Header().Add(name, v)
			}
		}

		if state.Status == clerk.StatusHandshake {
			if location := state.Headers.Get("Location"); location != "" {
				c.Abort()
				c.Redirect(http.StatusTemporaryRedirect, location)
				return
			}
			// A handshake without a redirect target cannot be completed
			// by this caller.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "handshake required"})
			return
		}

		c.Set(KeyState, state)
		if auth := state.ToAuth(); auth != nil {
			c.Set(KeyAuth, auth)
			c.Set(KeyUserID, auth.UserID)
			c.Request = c.Request.WithContext(clerk.WithAuth(c.Request.Context(), auth))
		}

		c.Next()
	}
}

// RequireAuth behaves like WithAuth but rejects requests that do not
// end up signed in. Programmatic callers get a 401 with the decision
// reason.
func RequireAuth(ar *authenticate.Authenticator, opts ...AuthOption) gin.HandlerFunc {
	withAuth := WithAuth(ar, opts...)
	return func(c *gin.Context) {
		withAuth(c)
		if c.IsAborted() {
			return
		}
		if Auth(c) == nil {
			state := State(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "unauthenticated",
				"reason": string(state.Reason),
			})
		}
	}
}

// RequirePermission rejects signed-in sessions whose active organization
// does not carry the given permission. Requires WithAuth to run first.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := Auth(c)
		if auth == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if auth.Claims == nil || !auth.Claims.HasPermission(permission) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

// RequireRole rejects signed-in sessions whose active organization does
// not carry the given role. Requires WithAuth to run first.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := Auth(c)
		if auth == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		if auth.Claims == nil || !auth.Claims.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role required"})
			return
		}
		c.Next()
	}
}

// --- Context helpers ---

// State returns the full RequestState stored by WithAuth.
func State(c *gin.Context) clerk.RequestState {
	v, _ := c.Get(KeyState)
	s, _ := v.(clerk.RequestState)
	return s
}

// Auth returns the Auth accessor stored by WithAuth, or nil when the
// request is not signed in.
func Auth(c *gin.Context) *clerk.Auth {
	v, _ := c.Get(KeyAuth)
	a, _ := v.(*clerk.Auth)
	return a
}

// UserID returns the authenticated user ID, or "" when signed out.
func UserID(c *gin.Context) string {
	v, _ := c.Get(KeyUserID)
	s, _ := v.(string)
	return s
}
