package clerk

import "net/http"

// AuthStatus is the terminal outcome of request authentication.
type AuthStatus string

const (
	StatusSignedIn  AuthStatus = "signed-in"
	StatusSignedOut AuthStatus = "signed-out"
	StatusHandshake AuthStatus = "handshake"
)

// RequestState is the single decision object the SDK hands to the outer
// HTTP layer. Exactly one status is active. Headers carry everything the
// outer response must merge: Set-Cookie directives, a Location for
// handshake redirects, and the diagnostic X-Clerk-Auth-* mirror.
type RequestState struct {
	Status    AuthStatus
	TokenType TokenType
	Reason    AuthReason
	Message   string
	Headers   http.Header

	// Token is the raw verified credential for signed-in states.
	Token string

	// Claims is set for signed-in session states.
	Claims *SessionClaims
	// Machine is set for signed-in machine states.
	Machine *MachineAuth
}

// MachineAuth is the identity shape for verified machine credentials.
type MachineAuth struct {
	TokenType TokenType
	// ID is the credential identifier (e.g. the API key id).
	ID      string
	Subject string
	Name    string
	Claims  map[string]any
	Scopes  []string
}

// Auth is the consumer-facing accessor derived from a signed-in state.
type Auth struct {
	TokenType TokenType
	Token     string

	UserID         string
	SessionID      string
	OrgID          string
	OrgRole        string
	OrgPermissions []string
	Claims         *SessionClaims

	Machine *MachineAuth
}

// Has evaluates a permission or role check against the session's active
// organization. Checks take the form "org:<permission>" for permissions
// or a role name; both sides must be non-empty for a match.
func (a *Auth) Has(permissionOrRole string) bool {
	if a.Claims == nil || permissionOrRole == "" {
		return false
	}
	if a.Claims.HasPermission(permissionOrRole) {
		return true
	}
	return a.Claims.HasRole(permissionOrRole)
}

// ToAuth converts a signed-in state into its accessor. Returns nil for
// signed-out and handshake states.
func (s *RequestState) ToAuth() *Auth {
	if s.Status != StatusSignedIn {
		return nil
	}
	a := &Auth{TokenType: s.TokenType, Token: s.Token, Machine: s.Machine}
	if s.Claims != nil {
		a.UserID = s.Claims.Subject
		a.SessionID = s.Claims.SessionID
		a.OrgID = s.Claims.OrgID
		a.OrgRole = s.Claims.OrgRole
		a.OrgPermissions = s.Claims.OrgPermissions
		a.Claims = s.Claims
	}
	if s.Machine != nil && a.UserID == "" {
		a.UserID = s.Machine.Subject
	}
	return a
}

// SignedIn builds a signed-in session state.
func SignedIn(tokenType TokenType, token string, claims *SessionClaims, headers http.Header) RequestState {
	s := RequestState{
		Status:    StatusSignedIn,
		TokenType: tokenType,
		Token:     token,
		Claims:    claims,
		Headers:   ensureHeaders(headers),
	}
	s.applyDebugHeaders()
	return s
}

// SignedInMachine builds a signed-in machine state.
func SignedInMachine(machine *MachineAuth, token string) RequestState {
	s := RequestState{
		Status:    StatusSignedIn,
		TokenType: machine.TokenType,
		Token:     token,
		Machine:   machine,
		Headers:   http.Header{},
	}
	s.applyDebugHeaders()
	return s
}

// SignedOut builds a terminal signed-out state.
func SignedOut(tokenType TokenType, reason AuthReason, message string, headers http.Header) RequestState {
	s := RequestState{
		Status:    StatusSignedOut,
		TokenType: tokenType,
		Reason:    reason,
		Message:   message,
		Headers:   ensureHeaders(headers),
	}
	s.applyDebugHeaders()
	return s
}

// Handshake builds a handshake state. Unless the state resolves a
// callback, headers must already carry the Location of the remote
// handshake endpoint; Cache-Control is forced whenever Location is set.
func Handshake(reason AuthReason, message string, headers http.Header) RequestState {
	h := ensureHeaders(headers)
	if h.Get("Location") != "" {
		h.Set("Cache-Control", "no-store")
	}
	s := RequestState{
		Status:    StatusHandshake,
		TokenType: TokenTypeSession,
		Reason:    reason,
		Message:   message,
		Headers:   h,
	}
	s.applyDebugHeaders()
	return s
}

func ensureHeaders(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h
}

func (s *RequestState) applyDebugHeaders() {
	s.Headers.Set(HeaderAuthStatus, string(s.Status))
	if s.Reason != "" {
		s.Headers.Set(HeaderAuthReason, string(s.Reason))
	}
	if s.Message != "" {
		s.Headers.Set(HeaderAuthMessage, s.Message)
	}
}
