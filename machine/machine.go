// Package machine verifies non-session credentials — API keys, M2M
// tokens and OAuth access tokens — against the backend API and
// translates remote failures into the closed machine-token error codes.
package machine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	clerk "github.com/portalstack/clerk-go"
)

// Verifier calls the per-token-type remote verification endpoints.
type Verifier struct {
	secretKey        string
	machineSecretKey string
	apiURL           string
	httpClient       *http.Client
}

// Option configures the Verifier.
type Option func(*Verifier)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Verifier) { v.httpClient = c }
}

// WithMachineSecretKey sets the dedicated machine secret used for M2M
// token verification instead of the instance secret key.
func WithMachineSecretKey(key string) Option {
	return func(v *Verifier) { v.machineSecretKey = key }
}

// WithAPIURL overrides the backend API base URL.
func WithAPIURL(u string) Option {
	return func(v *Verifier) { v.apiURL = strings.TrimRight(u, "/") }
}

// New creates a machine credential verifier.
func New(secretKey string, opts ...Option) *Verifier {
	v := &Verifier{
		secretKey:  secretKey,
		apiURL:     clerk.DefaultAPIURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify dispatches on the concrete machine token type. The token must
// already carry the matching prefix; the caller is responsible for
// acceptsToken screening before any network call happens.
func (v *Verifier) Verify(ctx context.Context, tokenType clerk.TokenType, token string) (*clerk.MachineAuth, error) {
	switch tokenType {
	case clerk.TokenTypeAPIKey:
		return v.verify(ctx, tokenType, "/v1/api_keys/verify", map[string]string{"secret": token}, v.secretKey)
	case clerk.TokenTypeM2M:
		secret := v.machineSecretKey
		if secret == "" {
			secret = v.secretKey
		}
		return v.verify(ctx, tokenType, "/v1/m2m_tokens/verify", map[string]string{"token": token}, secret)
	case clerk.TokenTypeOAuth:
		return v.verify(ctx, tokenType, "/v1/oauth_applications/access_tokens/verify", map[string]string{"access_token": token}, v.secretKey)
	}
	return nil, &clerk.MachineTokenError{
		Code:      clerk.MachineTokenInvalid,
		TokenType: tokenType,
		Message:   fmt.Sprintf("unsupported machine token type %q", tokenType),
	}
}

// verificationResponse is the remote endpoint's success shape.
type verificationResponse struct {
	ID      string         `json:"id"`
	Subject string         `json:"subject"`
	Name    string         `json:"name"`
	Scopes  []string       `json:"scopes"`
	Claims  map[string]any `json:"claims"`
}

func (v *Verifier) verify(ctx context.Context, tokenType clerk.TokenType, path string, payload map[string]string, secret string) (*clerk.MachineAuth, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &clerk.MachineTokenError{Code: clerk.MachineTokenUnexpectedError, TokenType: tokenType, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &clerk.MachineTokenError{Code: clerk.MachineTokenUnexpectedError, TokenType: tokenType, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Clerk-API-Version", clerk.APIVersion)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, &clerk.MachineTokenError{Code: clerk.MachineTokenUnexpectedError, TokenType: tokenType, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, clerk.NewMachineTokenErrorFromStatus(tokenType, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var vr verificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, &clerk.MachineTokenError{Code: clerk.MachineTokenUnexpectedError, TokenType: tokenType, Message: err.Error()}
	}

	return &clerk.MachineAuth{
		TokenType: tokenType,
		ID:        vr.ID,
		Subject:   vr.Subject,
		Name:      vr.Name,
		Scopes:    vr.Scopes,
		Claims:    vr.Claims,
	}, nil
}
