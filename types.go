package clerk

import "strings"

// TokenType identifies the kind of credential a request presented.
type TokenType string

const (
	TokenTypeSession TokenType = "session_token"
	TokenTypeAPIKey  TokenType = "api_key"
	TokenTypeM2M     TokenType = "m2m_token"
	TokenTypeOAuth   TokenType = "oauth_token"
)

// TokenTypeAny is the acceptsToken sentinel matching every token type.
const TokenTypeAny TokenType = "any"

// Literal prefixes identifying machine credentials. A bearer token that
// carries none of these is treated as a session JWT.
const (
	PrefixM2MToken   = "mt_"
	PrefixOAuthToken = "oat_"
	PrefixAPIKey     = "ak_"
)

// IsMachine reports whether t is a non-session credential type.
func (t TokenType) IsMachine() bool {
	switch t {
	case TokenTypeAPIKey, TokenTypeM2M, TokenTypeOAuth:
		return true
	}
	return false
}

// TokenTypeOf classifies a raw bearer token by its literal prefix.
func TokenTypeOf(token string) TokenType {
	switch {
	case strings.HasPrefix(token, PrefixM2MToken):
		return TokenTypeM2M
	case strings.HasPrefix(token, PrefixOAuthToken):
		return TokenTypeOAuth
	case strings.HasPrefix(token, PrefixAPIKey):
		return TokenTypeAPIKey
	default:
		return TokenTypeSession
	}
}

// IsMachineToken reports whether the raw token carries a machine prefix.
func IsMachineToken(token string) bool {
	return TokenTypeOf(token) != TokenTypeSession
}

// InstanceType distinguishes development from production instances.
// Derived from the publishable key prefix.
type InstanceType string

const (
	InstanceDevelopment InstanceType = "development"
	InstanceProduction  InstanceType = "production"
)
