package clerk

import (
	"net/http"
	"testing"
)

func TestSignedInState(t *testing.T) {
	claims := &SessionClaims{
		Subject:        "user_1",
		SessionID:      "sess_1",
		OrgID:          "org_1",
		OrgRole:        "org:admin",
		OrgPermissions: []string{"org:reports:read"},
	}
	state := SignedIn(TokenTypeSession, "the-token", claims, nil)

	if state.Status != StatusSignedIn {
		t.Fatalf("Status = %q", state.Status)
	}
	if got := state.Headers.Get(HeaderAuthStatus); got != "signed-in" {
		t.Errorf("%s = %q", HeaderAuthStatus, got)
	}

	auth := state.ToAuth()
	if auth == nil {
		t.Fatal("ToAuth() = nil for signed-in state")
	}
	if auth.UserID != "user_1" || auth.SessionID != "sess_1" || auth.OrgID != "org_1" {
		t.Errorf("auth identity = %+v", auth)
	}
	if !auth.Has("org:reports:read") {
		t.Error("Has(permission) = false")
	}
	if !auth.Has("admin") {
		t.Error("Has(bare role) = false")
	}
	if auth.Has("org:reports:write") {
		t.Error("Has(missing permission) = true")
	}
	if auth.Has("") {
		t.Error("Has(\"\") = true")
	}
}

func TestSignedOutState(t *testing.T) {
	state := SignedOut(TokenTypeSession, ReasonSessionTokenAndUATMissing, "", nil)
	if state.Status != StatusSignedOut {
		t.Fatalf("Status = %q", state.Status)
	}
	if state.ToAuth() != nil {
		t.Error("ToAuth() != nil for signed-out state")
	}
	if got := state.Headers.Get(HeaderAuthReason); got != "session-token-and-uat-missing" {
		t.Errorf("%s = %q", HeaderAuthReason, got)
	}
	if state.Headers.Get(HeaderAuthMessage) != "" {
		t.Error("empty message must not set the message header")
	}
}

func TestHandshakeStateForcesNoStore(t *testing.T) {
	headers := http.Header{}
	headers.Set("Location", "https://clerk.example.com/v1/client/handshake")
	state := Handshake(ReasonSessionTokenWithoutClientUAT, "", headers)

	if state.Status != StatusHandshake {
		t.Fatalf("Status = %q", state.Status)
	}
	if got := state.Headers.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if state.ToAuth() != nil {
		t.Error("ToAuth() != nil for handshake state")
	}

	// A handshake that resolves a callback carries no Location and
	// must not force caching directives.
	resolved := Handshake(ReasonSessionTokenWithoutClientUAT, "", nil)
	if resolved.Headers.Get("Cache-Control") != "" {
		t.Error("Cache-Control set without a Location")
	}
}

func TestSignedInMachineState(t *testing.T) {
	ma := &MachineAuth{
		TokenType: TokenTypeAPIKey,
		ID:        "apikey_1",
		Subject:   "user_9",
		Scopes:    []string{"read"},
	}
	state := SignedInMachine(ma, "ak_secret")
	if state.TokenType != TokenTypeAPIKey {
		t.Errorf("TokenType = %q", state.TokenType)
	}
	auth := state.ToAuth()
	if auth == nil {
		t.Fatal("ToAuth() = nil")
	}
	if auth.UserID != "user_9" {
		t.Errorf("UserID = %q, want the machine subject", auth.UserID)
	}
	if auth.Machine == nil || auth.Machine.ID != "apikey_1" {
		t.Errorf("Machine = %+v", auth.Machine)
	}
}
