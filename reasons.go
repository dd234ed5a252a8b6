package clerk

// AuthReason annotates a terminal RequestState with why the decision was
// made. Reasons surface in the X-Clerk-Auth-Reason header and in logs;
// they are diagnostic, not part of the browser protocol.
type AuthReason string

const (
	ReasonSessionTokenAndUATMissing      AuthReason = "session-token-and-uat-missing"
	ReasonSessionTokenWithoutClientUAT   AuthReason = "session-token-without-client-uat"
	ReasonClientUATWithoutSessionToken   AuthReason = "client-uat-without-session-token"
	ReasonSessionTokenIATBeforeClientUAT AuthReason = "session-token-iat-before-client-uat"
	ReasonSessionTokenMissing            AuthReason = "session-token-missing"
	ReasonDevBrowserSync                 AuthReason = "dev-browser-sync"
	ReasonDevBrowserMissing              AuthReason = "dev-browser-missing"
	ReasonSatelliteCookieNeedsSyncing    AuthReason = "satellite-cookie-needs-syncing"
	ReasonPrimaryRespondsToSyncing       AuthReason = "primary-responds-to-syncing"
	ReasonPrimaryDomainCrossOriginSync   AuthReason = "primary-domain-cross-origin-sync"
	ReasonActiveOrganizationMismatch     AuthReason = "active-organization-mismatch"
	ReasonTokenTypeMismatch              AuthReason = "token-type-mismatch"
	ReasonUnexpectedError                AuthReason = "unexpected-error"
)

// CompositeReason embeds both the original token verification failure and
// the refresh failure that followed it, so operators can see the whole
// story in one header value.
func CompositeReason(tokenReason TokenReason, refreshReason string) AuthReason {
	return AuthReason(string(tokenReason) + "-refresh-" + refreshReason)
}

// Refresh failure causes embedded into composite reasons.
const (
	RefreshNonEligible         = "non-eligible"
	RefreshNoCookie            = "no-cookie"
	RefreshFetchError          = "fetch-error"
	RefreshInvalidSessionToken = "invalid-session-token"
)
