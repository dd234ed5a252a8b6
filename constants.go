package clerk

// Cookie names used by the browser client. Each may additionally appear
// with an instance suffix, e.g. "__session_1oBQpz1B" (see SuffixedCookie).
const (
	CookieSession        = "__session"
	CookieRefresh        = "__refresh"
	CookieClientUAT      = "__client_uat"
	CookieHandshake      = "__clerk_handshake"
	CookieDevBrowser     = "__clerk_db_jwt"
	CookieRedirectCount  = "__clerk_redirect_count"
	CookieHandshakeNonce = "__clerk_handshake_nonce"
)

// Query parameters recognized by the protocol.
const (
	QueryParamSynced          = "__clerk_synced"
	QueryParamSuffixedCookies = "suffixed_cookies"
	QueryParamRedirectURL     = "__clerk_redirect_url"
	QueryParamHelp            = "__clerk_help"
	QueryParamDevSession      = "__dev_session"
	QueryParamDevBrowser      = "__clerk_db_jwt"
	QueryParamHandshakeReason = "__clerk_hs_reason"
	QueryParamHandshake       = "__clerk_handshake"
	QueryParamHandshakeNonce  = "__clerk_handshake_nonce"
	QueryParamHandshakeFormat = "format"
)

// Diagnostic response headers mirroring the authentication outcome.
const (
	HeaderAuthStatus    = "X-Clerk-Auth-Status"
	HeaderAuthReason    = "X-Clerk-Auth-Reason"
	HeaderAuthMessage   = "X-Clerk-Auth-Message"
	HeaderAuthSignature = "X-Clerk-Auth-Signature"
	HeaderAuthToken     = "X-Clerk-Auth-Token"
)

// APIVersion is sent to the frontend API on handshake redirects so the
// remote endpoint can answer in a compatible shape.
const APIVersion = "2025-04-10"

// DefaultAPIURL is the backend API base used when no override is given.
const DefaultAPIURL = "https://api.clerk.com"
