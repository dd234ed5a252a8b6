package jwt

import (
	"fmt"
	"time"

	clerk "github.com/portalstack/clerk-go"
)

// DefaultClockSkew is the tolerance applied to all temporal claim checks.
const DefaultClockSkew = 5 * time.Second

// InflatedClockSkew is used for the single development-mode retry after a
// detected clock-skew failure.
const InflatedClockSkew = 24 * time.Hour

var supportedAlgorithms = map[string]bool{
	"RS256": true,
	"RS384": true,
	"RS512": true,
}

// AssertHeaderType checks the typ header. Absent typ is tolerated; a
// present typ must be exactly "JWT".
func AssertHeaderType(typ string) error {
	if typ == "" {
		return nil
	}
	if typ != "JWT" {
		return clerk.NewTokenError(clerk.TokenInvalid, fmt.Errorf("unexpected typ %q", typ))
	}
	return nil
}

// AssertHeaderAlgorithm checks that alg is one of the supported RS*
// algorithms.
func AssertHeaderAlgorithm(alg string) error {
	if !supportedAlgorithms[alg] {
		return clerk.NewTokenError(clerk.TokenInvalidAlgorithm, fmt.Errorf("unsupported alg %q", alg))
	}
	return nil
}

// AssertSubClaim checks that sub is a non-empty string.
func AssertSubClaim(sub string) error {
	if sub == "" {
		return clerk.NewTokenError(clerk.TokenVerificationFailed, fmt.Errorf("sub claim is required"))
	}
	return nil
}

// AssertAudienceClaim enforces the audience check only when both the
// configured list and the token's aud claim are non-empty; otherwise the
// check is skipped. Matching is by set intersection.
func AssertAudienceClaim(aud []string, expected []string) error {
	if len(aud) == 0 || len(expected) == 0 {
		return nil
	}
	for _, a := range aud {
		for _, e := range expected {
			if a == e {
				return nil
			}
		}
	}
	return clerk.NewTokenError(clerk.TokenInvalidAudience, fmt.Errorf("aud claim %v does not intersect expected %v", aud, expected))
}

// AssertAuthorizedPartiesClaim enforces the azp check only when both the
// claim and the configured allow-list are present.
func AssertAuthorizedPartiesClaim(azp string, parties []string) error {
	if azp == "" || len(parties) == 0 {
		return nil
	}
	for _, p := range parties {
		if normalizeParty(p) == normalizeParty(azp) {
			return nil
		}
	}
	return clerk.NewTokenError(clerk.TokenInvalidAuthorizedParties, fmt.Errorf("azp claim %q is not in the allowed list", azp))
}

func normalizeParty(p string) string {
	for len(p) > 0 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}

// AssertExpirationClaim checks exp. The claim is required and must be a
// number. The token is expired only once exp falls strictly before
// now - skew; exp == now - skew exactly is still valid.
func AssertExpirationClaim(exp any, skew time.Duration, now time.Time) error {
	f, ok := exp.(float64)
	if !ok {
		return clerk.NewTokenError(clerk.TokenVerificationFailed, fmt.Errorf("exp claim must be a number, got %T", exp))
	}
	expiry := time.Unix(int64(f), 0)
	if expiry.Before(now.Add(-skew)) {
		return clerk.NewTokenError(clerk.TokenExpired, fmt.Errorf("token expired at %s (skew %s)", expiry.UTC().Format(time.RFC3339), skew))
	}
	return nil
}

// AssertNotBeforeClaim checks nbf when present: it must be a number and
// must not lie beyond now + skew.
func AssertNotBeforeClaim(nbf any, skew time.Duration, now time.Time) error {
	if nbf == nil {
		return nil
	}
	f, ok := nbf.(float64)
	if !ok {
		return clerk.NewTokenError(clerk.TokenVerificationFailed, fmt.Errorf("nbf claim must be a number, got %T", nbf))
	}
	notBefore := time.Unix(int64(f), 0)
	if notBefore.After(now.Add(skew)) {
		return clerk.NewTokenError(clerk.TokenNotActiveYet, fmt.Errorf("token not active until %s (skew %s)", notBefore.UTC().Format(time.RFC3339), skew))
	}
	return nil
}

// AssertIssuedAtClaim checks iat when present: it must be a number and a
// token issued beyond now + skew comes from a clock in the future.
func AssertIssuedAtClaim(iat any, skew time.Duration, now time.Time) error {
	if iat == nil {
		return nil
	}
	f, ok := iat.(float64)
	if !ok {
		return clerk.NewTokenError(clerk.TokenVerificationFailed, fmt.Errorf("iat claim must be a number, got %T", iat))
	}
	issuedAt := time.Unix(int64(f), 0)
	if issuedAt.After(now.Add(skew)) {
		return clerk.NewTokenError(clerk.TokenIatInTheFuture, fmt.Errorf("token issued at %s, which is in the future (skew %s)", issuedAt.UTC().Format(time.RFC3339), skew))
	}
	return nil
}
