// Package clerk provides the server-side request authentication core for
// the Clerk browser protocol.
//
// Given an inbound *http.Request — its cookies, headers and query
// parameters — the SDK decides whether the caller is signed in, signed
// out, or mid-handshake (a redirect-based cookie refresh), across
// first-party and satellite domains, development and production
// instances, suffixed cookies (multi-instance isolation on one domain),
// and machine credentials (API keys, OAuth access tokens, M2M tokens).
//
// The root package holds the shared vocabulary: token types, the
// RequestState decision object, error families, publishable key parsing
// and the protocol's wire names. The decision procedure itself lives in
// the authenticate subpackage:
//
//	ar, err := authenticate.New(authenticate.Options{
//	    SecretKey:      os.Getenv("CLERK_SECRET_KEY"),
//	    PublishableKey: os.Getenv("CLERK_PUBLISHABLE_KEY"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	state, err := ar.Authenticate(r.Context(), r)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if state.Status == clerk.StatusSignedIn {
//	    auth := state.ToAuth()
//	    _ = auth.UserID
//	}
//
// Cookie, header and query parameter names are fixed by the existing
// browser client and must not change.
package clerk
