package clerk

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	publishableKeyLivePrefix = "pk_live_"
	publishableKeyTestPrefix = "pk_test_"
)

// PublishableKey is the parsed form of a pk_live_/pk_test_ key. It is an
// immutable value; a zero PublishableKey means "absent".
type PublishableKey struct {
	Raw          string
	InstanceType InstanceType
	// FrontendAPI is the host of the instance's frontend API, without scheme.
	FrontendAPI string
}

// FrontendAPIURL returns the https origin of the frontend API.
func (k PublishableKey) FrontendAPIURL() string {
	return "https://" + k.FrontendAPI
}

// IsZero reports whether the key is absent.
func (k PublishableKey) IsZero() bool { return k.Raw == "" }

// ParsePublishableKey validates and parses a publishable key. The decoded
// payload must contain a "." and end with a single "$" (and no other "$");
// anything else is rejected so malformed keys fail closed.
func ParsePublishableKey(key string) (PublishableKey, error) {
	instanceType := InstanceProduction
	var encoded string
	switch {
	case strings.HasPrefix(key, publishableKeyLivePrefix):
		encoded = strings.TrimPrefix(key, publishableKeyLivePrefix)
	case strings.HasPrefix(key, publishableKeyTestPrefix):
		instanceType = InstanceDevelopment
		encoded = strings.TrimPrefix(key, publishableKeyTestPrefix)
	default:
		return PublishableKey{}, fmt.Errorf("clerk: publishable key %q has no pk_live_/pk_test_ prefix", Redact(key))
	}

	decoded, err := base64.StdEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return PublishableKey{}, fmt.Errorf("clerk: publishable key is not valid base64: %w", err)
	}

	payload := string(decoded)
	if !strings.HasSuffix(payload, "$") || strings.Count(payload, "$") != 1 {
		return PublishableKey{}, fmt.Errorf("clerk: publishable key payload is malformed")
	}
	host := strings.TrimSuffix(payload, "$")
	if !strings.Contains(host, ".") {
		return PublishableKey{}, fmt.Errorf("clerk: publishable key payload is malformed")
	}

	return PublishableKey{Raw: key, InstanceType: instanceType, FrontendAPI: host}, nil
}

// CookieSuffix derives the per-instance cookie suffix: the first 8
// characters of the URL-safe base64 SHA-1 of the raw key. Multiple
// instances sharing one domain get disjoint cookie names this way.
func (k PublishableKey) CookieSuffix() string {
	sum := sha1.Sum([]byte(k.Raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])[:8]
}

// SuffixedCookie joins a cookie name with an instance suffix.
func SuffixedCookie(name, suffix string) string {
	return name + "_" + suffix
}

// Redact shortens secret material for logs and error messages, keeping
// only a short identifying prefix.
func Redact(secret string) string {
	const keep = 16
	if len(secret) <= 7 {
		return secret
	}
	if len(secret) <= keep {
		return secret[:7] + "..."
	}
	return secret[:keep] + "..."
}
