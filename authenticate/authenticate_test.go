package authenticate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	clerk "github.com/portalstack/clerk-go"
	"github.com/portalstack/clerk-go/fake"
	"github.com/portalstack/clerk-go/orgsync"
)

func newAuthenticator(t *testing.T, inst *fake.Instance, mutate func(*Options)) *Authenticator {
	t.Helper()
	opts := Options{
		SecretKey:      inst.SecretKey,
		PublishableKey: inst.PublishableKey,
		APIURL:         inst.APIURL(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	ar, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return ar
}

func browserRequest(t *testing.T, target string, cookies map[string]string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.Header.Set("Sec-Fetch-Dest", "document")
	r.Header.Set("Accept", "text/html")
	for name, value := range cookies {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return r
}

func authenticate(t *testing.T, ar *Authenticator, r *http.Request) clerk.RequestState {
	t.Helper()
	state, err := ar.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	return state
}

func TestNewValidation(t *testing.T) {
	inst := fake.New()
	defer inst.Close()

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name:    "missing secret key",
			opts:    Options{PublishableKey: inst.PublishableKey},
			wantErr: true,
		},
		{
			name:    "missing publishable key",
			opts:    Options{SecretKey: inst.SecretKey},
			wantErr: true,
		},
		{
			name: "machine-only needs no publishable key",
			opts: Options{
				SecretKey:    inst.SecretKey,
				AcceptsToken: []clerk.TokenType{clerk.TokenTypeAPIKey},
			},
		},
		{
			name: "satellite without proxy or domain",
			opts: Options{
				SecretKey:      inst.SecretKey,
				PublishableKey: inst.PublishableKey,
				IsSatellite:    true,
				SignInURL:      "https://primary.example.com/sign-in",
			},
			wantErr: true,
		},
		{
			name: "development satellite without sign-in URL",
			opts: Options{
				SecretKey:      inst.SecretKey,
				PublishableKey: inst.PublishableKey,
				IsSatellite:    true,
				Domain:         "satellite.example.com",
			},
			wantErr: true,
		},
		{
			name: "development satellite with relative sign-in URL",
			opts: Options{
				SecretKey:      inst.SecretKey,
				PublishableKey: inst.PublishableKey,
				IsSatellite:    true,
				Domain:         "satellite.example.com",
				SignInURL:      "/sign-in",
			},
			wantErr: true,
		},
		{
			name: "development satellite fully configured",
			opts: Options{
				SecretKey:      inst.SecretKey,
				PublishableKey: inst.PublishableKey,
				IsSatellite:    true,
				Domain:         "satellite.example.com",
				SignInURL:      "https://primary.example.com/sign-in",
			},
		},
		{
			name: "invalid organization sync pattern",
			opts: Options{
				SecretKey:      inst.SecretKey,
				PublishableKey: inst.PublishableKey,
				OrganizationSync: orgsync.Options{
					OrganizationPatterns: []string{"orgs/:id"},
				},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticateCookieSignedIn(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	token := inst.SessionToken(fake.WithSubject("user_7"))
	state := authenticate(t, ar, browserRequest(t, "https://app.example.com/", map[string]string{
		clerk.CookieSession:   token,
		clerk.CookieClientUAT: fmt.Sprint(time.Now().Add(-time.Minute).Unix()),
	}))

	if state.Status != clerk.StatusSignedIn {
		t.Fatalf("Status = %q (reason %s, message %s)", state.Status, state.Reason, state.Message)
	}
	if state.Claims.Subject != "user_7" {
		t.Errorf("Subject = %q", state.Claims.Subject)
	}
	if state.Token != token {
		t.Error("Token does not round-trip")
	}
}

func TestAuthenticateSuffixedSessionBesideForeignInstance(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	other := fake.New(fake.Production(), fake.WithFrontendAPI("other-host-7.clerk.accounts.dev"))
	defer other.Close()
	ar := newAuthenticator(t, inst, nil)

	// Two instances share the domain: ours in the suffixed family, the
	// other app's session in the unsuffixed one.
	suffix := inst.CookieSuffix()
	uat := fmt.Sprint(time.Now().Add(-time.Minute).Unix())
	state := authenticate(t, ar, browserRequest(t, "https://app.example.com/", map[string]string{
		clerk.SuffixedCookie(clerk.CookieSession, suffix):   inst.SessionToken(fake.WithSubject("user_sfx")),
		clerk.SuffixedCookie(clerk.CookieClientUAT, suffix): uat,
		clerk.CookieSession:   other.SessionToken(),
		clerk.CookieClientUAT: uat,
	}))

	if state.Status != clerk.StatusSignedIn {
		t.Fatalf("Status = %q (reason %s, message %s)", state.Status, state.Reason, state.Message)
	}
	if state.Claims.Subject != "user_sfx" {
		t.Errorf("Subject = %q, want the suffixed family's session", state.Claims.Subject)
	}
}

func TestAuthenticateNoCredentials(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	state := authenticate(t, ar, browserRequest(t, "https://app.example.com/", nil))
	if state.Status != clerk.StatusSignedOut {
		t.Fatalf("Status = %q", state.Status)
	}
	if state.Reason != clerk.ReasonSessionTokenAndUATMissing {
		t.Errorf("Reason = %q", state.Reason)
	}
}

func TestAuthenticateInconsistentCookiesForceHandshake(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	tests := []struct {
		name       string
		cookies    map[string]string
		wantReason clerk.AuthReason
	}{
		{
			name: "client UAT without session token",
			cookies: map[string]string{
				clerk.CookieClientUAT: fmt.Sprint(time.Now().Unix()),
			},
			wantReason: clerk.ReasonClientUATWithoutSessionToken,
		},
		{
			name: "session token without client UAT",
			cookies: map[string]string{
				clerk.CookieSession: inst.SessionToken(),
			},
			wantReason: clerk.ReasonSessionTokenWithoutClientUAT,
		},
		{
			name: "session token older than the client UAT",
			cookies: map[string]string{
				clerk.CookieSession:   inst.SessionToken(fake.WithIssuedAt(time.Now().Add(-time.Hour))),
				clerk.CookieClientUAT: fmt.Sprint(time.Now().Unix()),
			},
			wantReason: clerk.ReasonSessionTokenIATBeforeClientUAT,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := authenticate(t, ar, browserRequest(t, "https://app.example.com/", tt.cookies))
			if state.Status != clerk.StatusHandshake {
				t.Fatalf("Status = %q (reason %s)", state.Status, state.Reason)
			}
			if state.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", state.Reason, tt.wantReason)
			}
			location := state.Headers.Get("Location")
			if !strings.Contains(location, inst.FrontendAPI+"/v1/client/handshake") {
				t.Errorf("Location = %q", location)
			}
		})
	}
}

func TestAuthenticateProgrammaticRequestsNeverHandshake(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	r := httptest.NewRequest(http.MethodGet, "https://app.example.com/api", nil)
	r.Header.Set("Sec-Fetch-Dest", "empty")
	r.Header.Set("Accept", "application/json")
	r.AddCookie(&http.Cookie{Name: clerk.CookieClientUAT, Value: fmt.Sprint(time.Now().Unix())})

	state := authenticate(t, ar, r)
	if state.Status != clerk.StatusSignedOut {
		t.Fatalf("Status = %q, want signed-out for a fetch", state.Status)
	}
	if state.Reason != clerk.ReasonClientUATWithoutSessionToken {
		t.Errorf("Reason = %q", state.Reason)
	}
	if state.Headers.Get("Location") != "" {
		t.Error("a programmatic request got a redirect")
	}
}

func TestAuthenticateDevBrowserMissing(t *testing.T) {
	inst := fake.New() // development
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	state := authenticate(t, ar, browserRequest(t, "https://app.example.com/", nil))
	if state.Status != clerk.StatusHandshake {
		t.Fatalf("Status = %q", state.Status)
	}
	if state.Reason != clerk.ReasonDevBrowserMissing {
		t.Errorf("Reason = %q", state.Reason)
	}
}

func TestAuthenticateDevBrowserInURL(t *testing.T) {
	inst := fake.New()
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	target := "https://app.example.com/?" + clerk.QueryParamDevBrowser + "=db_1"
	state := authenticate(t, ar, browserRequest(t, target, nil))
	if state.Status != clerk.StatusHandshake || state.Reason != clerk.ReasonDevBrowserSync {
		t.Fatalf("state = %s/%s", state.Status, state.Reason)
	}
}

func TestAuthenticateHeaderSession(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	r := httptest.NewRequest(http.MethodGet, "https://app.example.com/api", nil)
	r.Header.Set("Authorization", "Bearer "+inst.SessionToken(fake.WithSubject("user_h")))
	state := authenticate(t, ar, r)
	if state.Status != clerk.StatusSignedIn {
		t.Fatalf("Status = %q (reason %s)", state.Status, state.Reason)
	}
	if state.Claims.Subject != "user_h" {
		t.Errorf("Subject = %q", state.Claims.Subject)
	}

	// An expired header token is terminal even for a navigation: header
	// callers never get redirects.
	expired := inst.SessionToken(fake.WithExpiry(time.Now().Add(-time.Hour)))
	r = browserRequest(t, "https://app.example.com/", nil)
	r.Header.Set("Authorization", "Bearer "+expired)
	state = authenticate(t, ar, r)
	if state.Status != clerk.StatusSignedOut {
		t.Fatalf("Status = %q", state.Status)
	}
	if state.Reason != clerk.AuthReason(clerk.TokenExpired) {
		t.Errorf("Reason = %q", state.Reason)
	}
}

func TestAuthenticateMachineToken(t *testing.T) {
	inst := fake.New()
	defer inst.Close()
	inst.SetMachineToken("ak_good", map[string]any{
		"id": "apikey_1", "subject": "svc_user", "scopes": []string{"read"},
	})

	ar := newAuthenticator(t, inst, func(o *Options) {
		o.AcceptsToken = []clerk.TokenType{clerk.TokenTypeAPIKey}
	})

	r := httptest.NewRequest(http.MethodGet, "https://app.example.com/v1/status", nil)
	r.Header.Set("Authorization", "Bearer ak_good")
	state := authenticate(t, ar, r)
	if state.Status != clerk.StatusSignedIn || state.TokenType != clerk.TokenTypeAPIKey {
		t.Fatalf("state = %s/%s", state.Status, state.TokenType)
	}
	if state.Machine == nil || state.Machine.Subject != "svc_user" {
		t.Errorf("Machine = %+v", state.Machine)
	}
}

func TestAuthenticateMachineTypeMismatchSkipsNetwork(t *testing.T) {
	inst := fake.New()
	defer inst.Close()

	// Only session tokens accepted; the API URL is unroutable, so any
	// network attempt would fail loudly rather than short-circuit.
	ar := newAuthenticator(t, inst, func(o *Options) {
		o.APIURL = "http://127.0.0.1:0"
	})

	r := httptest.NewRequest(http.MethodGet, "https://app.example.com/", nil)
	r.Header.Set("Authorization", "Bearer mt_secret")
	state := authenticate(t, ar, r)
	if state.Status != clerk.StatusSignedOut {
		t.Fatalf("Status = %q", state.Status)
	}
	if state.Reason != clerk.ReasonTokenTypeMismatch {
		t.Errorf("Reason = %q", state.Reason)
	}
	if state.TokenType != clerk.TokenTypeM2M {
		t.Errorf("TokenType = %q", state.TokenType)
	}
}

func TestAuthenticateMachineOnlyRejectsCookies(t *testing.T) {
	inst := fake.New()
	defer inst.Close()
	ar := newAuthenticator(t, inst, func(o *Options) {
		o.AcceptsToken = []clerk.TokenType{clerk.TokenTypeAPIKey}
		o.PublishableKey = ""
	})

	state := authenticate(t, ar, browserRequest(t, "https://app.example.com/", map[string]string{
		clerk.CookieSession: "anything",
	}))
	if state.Status != clerk.StatusSignedOut || state.Reason != clerk.ReasonTokenTypeMismatch {
		t.Fatalf("state = %s/%s", state.Status, state.Reason)
	}
}

func TestAuthenticateExpiredSessionRefresh(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	uat := time.Now().Add(-2 * time.Hour)
	expired := inst.SessionToken(
		fake.WithIssuedAt(time.Now().Add(-time.Hour)),
		fake.WithExpiry(time.Now().Add(-30*time.Minute)),
	)
	fresh := inst.SessionToken(fake.WithSubject("user_r"))
	inst.SetRefreshJWT(fresh)

	cookies := map[string]string{
		clerk.CookieSession:   expired,
		clerk.CookieRefresh:   "rt_1",
		clerk.CookieClientUAT: fmt.Sprint(uat.Unix()),
	}

	state := authenticate(t, ar, browserRequest(t, "https://app.example.com/", cookies))
	if state.Status != clerk.StatusSignedIn {
		t.Fatalf("Status = %q (reason %s, message %s)", state.Status, state.Reason, state.Message)
	}
	if state.Token != fresh {
		t.Error("state does not carry the refreshed token")
	}
	setCookie := strings.Join(state.Headers.Values("Set-Cookie"), "\n")
	if !strings.Contains(setCookie, clerk.CookieSession+"="+fresh) {
		t.Errorf("Set-Cookie = %q, want the rotated session cookie", setCookie)
	}
}

func TestAuthenticateExpiredSessionRefreshIneligible(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	uat := time.Now().Add(-2 * time.Hour)
	expired := inst.SessionToken(
		fake.WithIssuedAt(time.Now().Add(-time.Hour)),
		fake.WithExpiry(time.Now().Add(-30*time.Minute)),
	)
	inst.SetRefreshJWT(inst.SessionToken())

	t.Run("non-GET requests never refresh", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "https://app.example.com/submit", nil)
		r.AddCookie(&http.Cookie{Name: clerk.CookieSession, Value: expired})
		r.AddCookie(&http.Cookie{Name: clerk.CookieRefresh, Value: "rt_1"})
		r.AddCookie(&http.Cookie{Name: clerk.CookieClientUAT, Value: fmt.Sprint(uat.Unix())})

		state := authenticate(t, ar, r)
		if state.Status != clerk.StatusSignedOut {
			t.Fatalf("Status = %q", state.Status)
		}
		if state.Reason != "token-expired-refresh-non-eligible" {
			t.Errorf("Reason = %q", state.Reason)
		}
	})

	t.Run("missing refresh cookie falls back to handshake", func(t *testing.T) {
		state := authenticate(t, ar, browserRequest(t, "https://app.example.com/", map[string]string{
			clerk.CookieSession:   expired,
			clerk.CookieClientUAT: fmt.Sprint(uat.Unix()),
		}))
		if state.Status != clerk.StatusHandshake {
			t.Fatalf("Status = %q", state.Status)
		}
		if state.Reason != "token-expired-refresh-no-cookie" {
			t.Errorf("Reason = %q", state.Reason)
		}
	})

	t.Run("failed refresh falls back to handshake", func(t *testing.T) {
		inst.SetRefreshJWT("")
		defer inst.SetRefreshJWT(inst.SessionToken())

		state := authenticate(t, ar, browserRequest(t, "https://app.example.com/", map[string]string{
			clerk.CookieSession:   expired,
			clerk.CookieRefresh:   "rt_1",
			clerk.CookieClientUAT: fmt.Sprint(uat.Unix()),
		}))
		if state.Status != clerk.StatusHandshake {
			t.Fatalf("Status = %q", state.Status)
		}
		if state.Reason != "token-expired-refresh-fetch-error" {
			t.Errorf("Reason = %q", state.Reason)
		}
	})
}

func TestAuthenticateOrganizationMismatch(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	ar := newAuthenticator(t, inst, func(o *Options) {
		o.OrganizationSync = orgsync.Options{OrganizationPatterns: []string{"/orgs/:id"}}
	})

	cookies := func() map[string]string {
		return map[string]string{
			clerk.CookieSession:   inst.SessionToken(fake.WithOrganization("org_1", "acme", "org:admin")),
			clerk.CookieClientUAT: fmt.Sprint(time.Now().Add(-time.Minute).Unix()),
		}
	}

	state := authenticate(t, ar, browserRequest(t, "https://app.example.com/orgs/org_2", cookies()))
	if state.Status != clerk.StatusHandshake || state.Reason != clerk.ReasonActiveOrganizationMismatch {
		t.Fatalf("state = %s/%s", state.Status, state.Reason)
	}
	if !strings.Contains(state.Headers.Get("Location"), "organization_id=org_2") {
		t.Errorf("Location = %q, want the target organization", state.Headers.Get("Location"))
	}

	// Matching organization proceeds signed-in.
	state = authenticate(t, ar, browserRequest(t, "https://app.example.com/orgs/org_1", cookies()))
	if state.Status != clerk.StatusSignedIn {
		t.Fatalf("Status = %q (reason %s)", state.Status, state.Reason)
	}

	// Once the redirect loop guard trips, the session is served as-is.
	r := browserRequest(t, "https://app.example.com/orgs/org_2", cookies())
	r.AddCookie(&http.Cookie{Name: clerk.CookieRedirectCount, Value: "3"})
	state = authenticate(t, ar, r)
	if state.Status != clerk.StatusSignedIn {
		t.Fatalf("loop-tripped Status = %q (reason %s)", state.Status, state.Reason)
	}
}

func TestAuthenticateCrossOriginReferrerForcesSync(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	cookies := map[string]string{
		clerk.CookieSession:   inst.SessionToken(),
		clerk.CookieClientUAT: fmt.Sprint(time.Now().Add(-time.Minute).Unix()),
	}

	r := browserRequest(t, "https://app.example.com/", cookies)
	r.Header.Set("Referer", "https://unknown.example.org/page")
	state := authenticate(t, ar, r)
	if state.Status != clerk.StatusHandshake || state.Reason != clerk.ReasonPrimaryDomainCrossOriginSync {
		t.Fatalf("state = %s/%s", state.Status, state.Reason)
	}

	// The instance's own frontend API is a known referrer.
	r = browserRequest(t, "https://app.example.com/", cookies)
	r.Header.Set("Referer", "https://"+inst.FrontendAPI+"/v1/client/handshake")
	state = authenticate(t, ar, r)
	if state.Status != clerk.StatusSignedIn {
		t.Fatalf("known referrer Status = %q (reason %s)", state.Status, state.Reason)
	}

	// Same-origin navigation is never a sync trigger.
	r = browserRequest(t, "https://app.example.com/settings", cookies)
	r.Header.Set("Referer", "https://app.example.com/")
	state = authenticate(t, ar, r)
	if state.Status != clerk.StatusSignedIn {
		t.Fatalf("same-origin Status = %q (reason %s)", state.Status, state.Reason)
	}
}

func TestAuthenticateSatellite(t *testing.T) {
	t.Run("production satellite document navigation syncs", func(t *testing.T) {
		inst := fake.New(fake.Production())
		defer inst.Close()
		ar := newAuthenticator(t, inst, func(o *Options) {
			o.IsSatellite = true
			o.Domain = "satellite.example.com"
		})

		state := authenticate(t, ar, browserRequest(t, "https://satellite.example.com/", nil))
		if state.Status != clerk.StatusHandshake || state.Reason != clerk.ReasonSatelliteCookieNeedsSyncing {
			t.Fatalf("state = %s/%s", state.Status, state.Reason)
		}
	})

	t.Run("development satellite bounces through the primary sign-in", func(t *testing.T) {
		inst := fake.New()
		defer inst.Close()
		ar := newAuthenticator(t, inst, func(o *Options) {
			o.IsSatellite = true
			o.Domain = "satellite.example.com"
			o.SignInURL = "https://primary.example.com/sign-in"
		})

		state := authenticate(t, ar, browserRequest(t, "https://satellite.example.com/page", nil))
		if state.Status != clerk.StatusHandshake {
			t.Fatalf("Status = %q (reason %s)", state.Status, state.Reason)
		}
		location := state.Headers.Get("Location")
		if !strings.HasPrefix(location, "https://primary.example.com/sign-in?") {
			t.Fatalf("Location = %q", location)
		}
		if !strings.Contains(location, clerk.QueryParamRedirectURL+"=") {
			t.Errorf("Location %q carries no redirect-back URL", location)
		}
	})

	t.Run("development primary responds to syncing", func(t *testing.T) {
		inst := fake.New()
		defer inst.Close()
		ar := newAuthenticator(t, inst, nil)

		target := "https://primary.example.com/sign-in?" + clerk.QueryParamRedirectURL +
			"=https%3A%2F%2Fsatellite.example.com%2Fpage"
		r := browserRequest(t, target, map[string]string{clerk.CookieDevBrowser: "db_9"})
		state := authenticate(t, ar, r)
		if state.Status != clerk.StatusHandshake || state.Reason != clerk.ReasonPrimaryRespondsToSyncing {
			t.Fatalf("state = %s/%s", state.Status, state.Reason)
		}
		location := state.Headers.Get("Location")
		if !strings.HasPrefix(location, "https://satellite.example.com/page?") {
			t.Fatalf("Location = %q", location)
		}
		if !strings.Contains(location, clerk.QueryParamSynced+"=true") {
			t.Errorf("Location %q not marked synced", location)
		}
		if !strings.Contains(location, clerk.QueryParamDevBrowser+"=db_9") {
			t.Errorf("Location %q lost the dev browser token", location)
		}
	})

	t.Run("satellite sign-in URL on the satellite origin is rejected", func(t *testing.T) {
		inst := fake.New(fake.Production())
		defer inst.Close()
		ar := newAuthenticator(t, inst, func(o *Options) {
			o.IsSatellite = true
			o.Domain = "satellite.example.com"
			o.SignInURL = "https://satellite.example.com/sign-in"
		})

		_, err := ar.Authenticate(context.Background(), browserRequest(t, "https://satellite.example.com/", nil))
		if err == nil {
			t.Fatal("Authenticate accepted a same-origin satellite sign-in URL")
		}
	})
}

func TestAuthenticateHandshakeCallback(t *testing.T) {
	inst := fake.New(fake.Production())
	defer inst.Close()
	ar := newAuthenticator(t, inst, nil)

	token := inst.SessionToken(fake.WithSubject("user_cb"))
	inst.SetHandshakePayload("nonce_cb", []string{
		clerk.CookieSession + "=" + token + "; Path=/",
	})

	target := "https://app.example.com/?" + clerk.QueryParamHandshakeNonce + "=nonce_cb"
	state := authenticate(t, ar, browserRequest(t, target, nil))
	if state.Status != clerk.StatusSignedIn {
		t.Fatalf("Status = %q (reason %s)", state.Status, state.Reason)
	}
	if state.Claims.Subject != "user_cb" {
		t.Errorf("Subject = %q", state.Claims.Subject)
	}
}
