package clerk

import "strings"

// SessionClaims is the decoded payload of a session JWT. Registered
// claims come first, followed by the protocol's session and organization
// claims. Anything unrecognized lands in Extra.
type SessionClaims struct {
	Issuer    string   `json:"iss,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  []string `json:"-"`
	Expiry    int64    `json:"exp,omitempty"`
	NotBefore int64    `json:"nbf,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`

	SessionID       string         `json:"sid,omitempty"`
	AuthorizedParty string         `json:"azp,omitempty"`
	Actor           map[string]any `json:"act,omitempty"`
	OrgID           string         `json:"org_id,omitempty"`
	OrgSlug         string         `json:"org_slug,omitempty"`
	OrgRole         string         `json:"org_role,omitempty"`
	OrgPermissions  []string       `json:"org_permissions,omitempty"`

	Extra map[string]any `json:"-"`
}

// ActiveOrganizationID returns the organization the session is currently
// operating in, or "" for a personal account context.
func (c *SessionClaims) ActiveOrganizationID() string { return c.OrgID }

// HasPermission reports whether the session's active organization grants
// the given permission.
func (c *SessionClaims) HasPermission(permission string) bool {
	for _, p := range c.OrgPermissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasRole reports whether the session's active organization role matches.
// Role claims are stored fully qualified ("org:admin"); a bare name is
// matched against the qualified form as well.
func (c *SessionClaims) HasRole(role string) bool {
	if c.OrgRole == "" {
		return false
	}
	if c.OrgRole == role {
		return true
	}
	return strings.TrimPrefix(c.OrgRole, "org:") == role
}
