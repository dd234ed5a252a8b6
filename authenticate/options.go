// Package authenticate implements the top-level request authentication
// state machine: credential dispatch, the cookie-based verify / refresh /
// handshake protocol, and machine token verification.
package authenticate

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	clerk "github.com/portalstack/clerk-go"
	"github.com/portalstack/clerk-go/jwks"
	"github.com/portalstack/clerk-go/machine"
	"github.com/portalstack/clerk-go/metrics"
	"github.com/portalstack/clerk-go/orgsync"
	"github.com/portalstack/clerk-go/telemetry"
)

// Options is the full deployment configuration of an Authenticator.
// Defaults are resolved once in New, never at call time.
type Options struct {
	// SecretKey authenticates outbound backend API calls. Required.
	SecretKey string

	// MachineSecretKey, when set, is used for M2M token verification
	// instead of SecretKey.
	MachineSecretKey string

	// PublishableKey identifies the instance. Required unless the
	// authenticator only accepts machine tokens.
	PublishableKey string

	// JWTKey is a static verification key (PEM or JWK). When set, the
	// remote JWKS endpoint is never contacted.
	JWTKey string

	// APIURL overrides the backend API base URL.
	APIURL string

	// Domain and ProxyURL describe the deployment for multi-domain
	// setups.
	Domain   string
	ProxyURL string

	// IsSatellite marks this app as a satellite domain delegating
	// primary authentication elsewhere.
	IsSatellite bool

	// SignInURL is the primary domain's sign-in page, required for
	// satellite apps in development. Must be absolute and cross-origin
	// relative to the satellite app.
	SignInURL string

	// AcceptsToken lists the credential types this authenticator will
	// honor. Defaults to session tokens only. TokenTypeAny accepts
	// everything.
	AcceptsToken []clerk.TokenType

	// Audiences and AuthorizedParties gate the corresponding opt-in
	// claim checks.
	Audiences         []string
	AuthorizedParties []string

	// ClockSkew overrides the default temporal-claim tolerance.
	ClockSkew time.Duration

	// OrganizationSync configures URL-driven organization activation.
	OrganizationSync orgsync.Options

	// HTTPClient is shared by every outbound call.
	HTTPClient *http.Client

	Logger *slog.Logger

	// Metrics and Telemetry are optional instrumentation sinks.
	Metrics   *metrics.Metrics
	Telemetry *telemetry.Collector

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Authenticator is the reusable request authentication entry point.
// Construct once per deployment configuration; safe for concurrent use.
type Authenticator struct {
	opts     Options
	pk       clerk.PublishableKey
	resolver *jwks.Resolver
	machine  *machine.Verifier
	matcher  *orgsync.Matcher
	logger   *slog.Logger
}

// New validates the configuration and builds an Authenticator.
// Configuration problems — a missing secret key, malformed satellite
// setup, invalid organization patterns — are deployment mistakes and
// fail here, before any request is processed.
func New(opts Options) (*Authenticator, error) {
	if opts.SecretKey == "" {
		return nil, fmt.Errorf("clerk/authenticate: secret key is required")
	}
	if len(opts.AcceptsToken) == 0 {
		opts.AcceptsToken = []clerk.TokenType{clerk.TokenTypeSession}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.APIURL == "" {
		opts.APIURL = clerk.DefaultAPIURL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	a := &Authenticator{opts: opts, logger: opts.Logger}

	machineOnly := true
	for _, t := range opts.AcceptsToken {
		if !t.IsMachine() {
			machineOnly = false
		}
	}

	if !machineOnly {
		pk, err := clerk.ParsePublishableKey(opts.PublishableKey)
		if err != nil {
			return nil, fmt.Errorf("clerk/authenticate: %w", err)
		}
		a.pk = pk

		if err := validateSatelliteOptions(opts, pk.InstanceType); err != nil {
			return nil, err
		}
	}

	resolverOpts := []jwks.Option{
		jwks.WithAPIURL(opts.APIURL),
		jwks.WithHTTPClient(opts.HTTPClient),
	}
	if opts.JWTKey != "" {
		resolverOpts = append(resolverOpts, jwks.WithLocalKey(opts.JWTKey))
	}
	if opts.Metrics != nil {
		resolverOpts = append(resolverOpts, jwks.WithCacheObserver(opts.Metrics))
	}
	a.resolver = jwks.New(opts.SecretKey, resolverOpts...)

	machineOpts := []machine.Option{
		machine.WithAPIURL(opts.APIURL),
		machine.WithHTTPClient(opts.HTTPClient),
	}
	if opts.MachineSecretKey != "" {
		machineOpts = append(machineOpts, machine.WithMachineSecretKey(opts.MachineSecretKey))
	}
	a.machine = machine.New(opts.SecretKey, machineOpts...)

	matcher, err := orgsync.New(opts.OrganizationSync)
	if err != nil {
		return nil, err
	}
	a.matcher = matcher

	return a, nil
}

// validateSatelliteOptions enforces the satellite preconditions: a
// development satellite needs an absolute, cross-origin sign-in URL, and
// every satellite needs either a proxy URL or a domain.
func validateSatelliteOptions(opts Options, instanceType clerk.InstanceType) error {
	if !opts.IsSatellite {
		return nil
	}
	if opts.ProxyURL == "" && opts.Domain == "" {
		return fmt.Errorf("clerk/authenticate: satellite apps need a proxy URL or a domain")
	}
	if instanceType == clerk.InstanceDevelopment {
		if opts.SignInURL == "" {
			return fmt.Errorf("clerk/authenticate: satellite apps need a sign-in URL in development")
		}
		u, err := url.Parse(opts.SignInURL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("clerk/authenticate: satellite sign-in URL %q must be absolute", opts.SignInURL)
		}
	}
	return nil
}

// accepts reports whether the configuration honors the given credential
// type.
func (a *Authenticator) accepts(t clerk.TokenType) bool {
	for _, accepted := range a.opts.AcceptsToken {
		if accepted == clerk.TokenTypeAny || accepted == t {
			return true
		}
	}
	return false
}
