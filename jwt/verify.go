package jwt

import (
	"context"
	"crypto/rsa"
	"fmt"
	"time"

	clerk "github.com/portalstack/clerk-go"
)

// KeyResolver resolves the RSA public key for a token's kid header.
// Implementations: jwks.Resolver (local static key or remote JWKS).
type KeyResolver interface {
	Resolve(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// VerifyParams configures a full token verification.
type VerifyParams struct {
	// Key is a static verification key. When set, Resolver is ignored.
	Key *rsa.PublicKey

	// Resolver looks up the key by the token's kid header.
	Resolver KeyResolver

	// Audiences is the configured audience allow-list. Empty disables the
	// aud check.
	Audiences []string

	// AuthorizedParties is the azp allow-list. Empty disables the check.
	AuthorizedParties []string

	// ClockSkew overrides DefaultClockSkew when positive.
	ClockSkew time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (p *VerifyParams) skew() time.Duration {
	if p.ClockSkew > 0 {
		return p.ClockSkew
	}
	return DefaultClockSkew
}

func (p *VerifyParams) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

// Verify decodes the token, resolves its key, checks the signature, and
// runs every claim assertion. On success the decoded session claims are
// returned; every failure is a *clerk.TokenVerificationError.
func Verify(ctx context.Context, token string, params *VerifyParams) (*clerk.SessionClaims, error) {
	decoded, err := Decode(token)
	if err != nil {
		return nil, err
	}
	if err := AssertHeaderType(decoded.Header.Type); err != nil {
		return nil, err
	}
	if err := AssertHeaderAlgorithm(decoded.Header.Algorithm); err != nil {
		return nil, err
	}

	key := params.Key
	if key == nil {
		if params.Resolver == nil {
			return nil, clerk.NewTokenError(clerk.JWKFailedToResolve, fmt.Errorf("no key or key resolver configured"))
		}
		key, err = params.Resolver.Resolve(ctx, decoded.Header.KeyID)
		if err != nil {
			return nil, err
		}
	}

	if err := VerifySignature(decoded, key); err != nil {
		return nil, err
	}

	skew, now := params.skew(), params.now()
	if err := AssertSubClaim(decoded.Claims.Subject); err != nil {
		return nil, err
	}
	if err := AssertAudienceClaim(decoded.Claims.Audience, params.Audiences); err != nil {
		return nil, err
	}
	if err := AssertAuthorizedPartiesClaim(decoded.Claims.AuthorizedParty, params.AuthorizedParties); err != nil {
		return nil, err
	}
	if err := AssertExpirationClaim(decoded.RawClaims["exp"], skew, now); err != nil {
		return nil, err
	}
	if err := AssertNotBeforeClaim(decoded.RawClaims["nbf"], skew, now); err != nil {
		return nil, err
	}
	if err := AssertIssuedAtClaim(decoded.RawClaims["iat"], skew, now); err != nil {
		return nil, err
	}

	return decoded.Claims, nil
}
