// Package jwt implements the session token codec: raw JWT decoding,
// RS256/384/512 signature verification, and the individual claim
// assertions the authenticator composes into a full verification.
//
// Decoding keeps the raw header and payload segments untouched — the
// signing input for verification is the original wire bytes, never a
// re-serialization.
package jwt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"

	clerk "github.com/portalstack/clerk-go"
)

// Header is the decoded JOSE header of a session token.
type Header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
}

// Decoded is the result of splitting and base64url-decoding a JWT.
// Created per verification call and discarded after use.
type Decoded struct {
	Header Header
	Claims *clerk.SessionClaims

	// RawClaims preserves every payload claim untyped, for presence and
	// type assertions.
	RawClaims map[string]any

	// rawHeader and rawPayload are the undecoded wire segments; the
	// signing input is rawHeader + "." + rawPayload.
	rawHeader  string
	rawPayload string

	Signature []byte
}

// SigningInput reconstructs the exact byte sequence the signature covers.
func (d *Decoded) SigningInput() string {
	return d.rawHeader + "." + d.rawPayload
}

// Decode splits a compact JWT into its three segments and decodes them.
// Tokens that do not split into exactly three non-empty dot-separated
// segments fail with TokenInvalid.
func Decode(token string) (*Decoded, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, clerk.NewTokenError(clerk.TokenInvalid, fmt.Errorf("token must have three segments, found %d", len(parts)))
	}

	headerJSON, err := decodeSegment(parts[0])
	if err != nil {
		return nil, clerk.NewTokenError(clerk.TokenInvalid, fmt.Errorf("header segment: %w", err))
	}
	payloadJSON, err := decodeSegment(parts[1])
	if err != nil {
		return nil, clerk.NewTokenError(clerk.TokenInvalid, fmt.Errorf("payload segment: %w", err))
	}
	signature, err := decodeSegment(parts[2])
	if err != nil {
		return nil, clerk.NewTokenError(clerk.TokenInvalid, fmt.Errorf("signature segment: %w", err))
	}

	d := &Decoded{
		rawHeader:  parts[0],
		rawPayload: parts[1],
		Signature:  signature,
	}
	if err := json.Unmarshal(headerJSON, &d.Header); err != nil {
		return nil, clerk.NewTokenError(clerk.TokenInvalid, fmt.Errorf("header is not valid JSON: %w", err))
	}
	if err := json.Unmarshal(payloadJSON, &d.RawClaims); err != nil {
		return nil, clerk.NewTokenError(clerk.TokenInvalid, fmt.Errorf("payload is not valid JSON: %w", err))
	}

	claims := &clerk.SessionClaims{}
	if err := json.Unmarshal(payloadJSON, claims); err != nil {
		return nil, clerk.NewTokenError(clerk.TokenInvalid, fmt.Errorf("payload claims: %w", err))
	}
	claims.Audience = audienceList(d.RawClaims["aud"])
	claims.Extra = extraClaims(d.RawClaims)
	d.Claims = claims
	return d, nil
}

// decodeSegment base64url-decodes one segment with loose padding
// tolerance: missing "=" padding is accepted, characters outside the
// base64url alphabet are not.
func decodeSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(segment, "="))
}

// audienceList normalizes the aud claim, which may be a scalar or array.
func audienceList(aud any) []string {
	switch v := aud.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

var registeredClaims = map[string]bool{
	"iss": true, "sub": true, "aud": true, "exp": true, "nbf": true,
	"iat": true, "jti": true, "sid": true, "azp": true, "act": true,
	"org_id": true, "org_slug": true, "org_role": true, "org_permissions": true,
}

func extraClaims(raw map[string]any) map[string]any {
	extra := make(map[string]any)
	for k, v := range raw {
		if !registeredClaims[k] {
			extra[k] = v
		}
	}
	return extra
}

// VerifySignature checks the token signature against the resolved key.
// Only the RS* family is accepted; anything else fails before touching
// key material.
func VerifySignature(d *Decoded, key any) error {
	if err := AssertHeaderAlgorithm(d.Header.Algorithm); err != nil {
		return err
	}
	method := gojwt.GetSigningMethod(d.Header.Algorithm)
	if _, ok := method.(*gojwt.SigningMethodRSA); !ok {
		return clerk.NewTokenError(clerk.TokenInvalidAlgorithm, fmt.Errorf("unsupported algorithm %q", d.Header.Algorithm))
	}
	if err := method.Verify(d.SigningInput(), d.Signature, key); err != nil {
		return clerk.NewTokenError(clerk.TokenInvalidSignature, err)
	}
	return nil
}
