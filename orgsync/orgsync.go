// Package orgsync decides whether a URL's path demands a specific
// organization or personal-account context. The authenticator compares
// the matched target with the session's active organization and forces a
// re-sync when they disagree.
//
// Patterns are a small path-template dialect: literal segments, named
// parameters (":id", ":slug"), and an optional trailing "(.*)" matching
// any remainder. Example: "/orgs/:slug", "/orgs/:id/(.*)".
package orgsync

import (
	"fmt"
	"net/url"
	"strings"
)

// Target names the account context a URL requires. Exactly one of the
// personal-account flag or an organization reference is set, and an
// organization reference carries at most one of ID or slug.
type Target struct {
	PersonalAccount  bool
	OrganizationID   string
	OrganizationSlug string
}

// Options configures a Matcher.
type Options struct {
	// OrganizationPatterns match URLs that must run in an organization
	// context, e.g. "/orgs/:slug" or "/orgs/:id/(.*)".
	OrganizationPatterns []string

	// PersonalAccountPatterns match URLs that must run in the personal
	// account context, e.g. "/me" or "/me/(.*)".
	PersonalAccountPatterns []string
}

// Matcher holds the compiled patterns. Construction fails on the first
// invalid pattern; matching itself cannot fail.
type Matcher struct {
	organization    []pattern
	personalAccount []pattern
}

// New compiles the configured patterns.
func New(opts Options) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range opts.OrganizationPatterns {
		p, err := compile(raw)
		if err != nil {
			return nil, fmt.Errorf("clerk/orgsync: organization pattern %q: %w", raw, err)
		}
		m.organization = append(m.organization, p)
	}
	for _, raw := range opts.PersonalAccountPatterns {
		p, err := compile(raw)
		if err != nil {
			return nil, fmt.Errorf("clerk/orgsync: personal account pattern %q: %w", raw, err)
		}
		m.personalAccount = append(m.personalAccount, p)
	}
	return m, nil
}

// Empty reports whether no patterns are configured at all.
func (m *Matcher) Empty() bool {
	return m == nil || (len(m.organization) == 0 && len(m.personalAccount) == 0)
}

// FindTarget matches the URL path against the organization patterns
// first, then the personal-account patterns. Returns nil when nothing
// matches. For organization matches the ":id" parameter wins over
// ":slug" when a pattern somehow binds both.
func (m *Matcher) FindTarget(u *url.URL) *Target {
	if m == nil {
		return nil
	}
	for _, p := range m.organization {
		params, ok := p.match(u.Path)
		if !ok {
			continue
		}
		if id := params["id"]; id != "" {
			return &Target{OrganizationID: id}
		}
		if slug := params["slug"]; slug != "" {
			return &Target{OrganizationSlug: slug}
		}
		// Pattern matched but bound neither parameter; nothing to sync to.
		continue
	}
	for _, p := range m.personalAccount {
		if _, ok := p.match(u.Path); ok {
			return &Target{PersonalAccount: true}
		}
	}
	return nil
}

type segment struct {
	literal  string
	param    string
	wildcard bool
}

type pattern struct {
	segments []segment
}

func compile(raw string) (pattern, error) {
	if raw == "" || raw[0] != '/' {
		return pattern{}, fmt.Errorf("pattern must start with '/'")
	}
	var p pattern
	for i, part := range strings.Split(strings.Trim(raw, "/"), "/") {
		if part == "" {
			if raw == "/" {
				break
			}
			return pattern{}, fmt.Errorf("empty segment at position %d", i)
		}
		switch {
		case part == "(.*)" || part == "*":
			p.segments = append(p.segments, segment{wildcard: true})
		case strings.HasPrefix(part, ":"):
			name := part[1:]
			if name == "" {
				return pattern{}, fmt.Errorf("parameter segment at position %d has no name", i)
			}
			p.segments = append(p.segments, segment{param: name})
		case strings.ContainsAny(part, ":()"):
			return pattern{}, fmt.Errorf("unsupported segment %q", part)
		default:
			p.segments = append(p.segments, segment{literal: part})
		}
	}
	for i, s := range p.segments {
		if s.wildcard && i != len(p.segments)-1 {
			return pattern{}, fmt.Errorf("wildcard must be the final segment")
		}
	}
	return p, nil
}

func (p pattern) match(path string) (map[string]string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if path == "/" || path == "" {
		parts = nil
	}

	params := make(map[string]string)
	for i, s := range p.segments {
		if s.wildcard {
			// Matches zero or more remaining segments.
			return params, true
		}
		if i >= len(parts) {
			return nil, false
		}
		if s.param != "" {
			value, err := url.PathUnescape(parts[i])
			if err != nil {
				value = parts[i]
			}
			params[s.param] = value
			continue
		}
		if s.literal != parts[i] {
			return nil, false
		}
	}
	if len(parts) != len(p.segments) {
		return nil, false
	}
	return params, true
}
