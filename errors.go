package clerk

import (
	"fmt"
	"net/http"
)

// TokenReason is the machine-readable cause of a session token
// verification failure. Callers branch on it to decide whether a failure
// is worth a refresh or a handshake, so the granularity here is part of
// the contract.
type TokenReason string

const (
	TokenExpired                  TokenReason = "token-expired"
	TokenInvalid                  TokenReason = "token-invalid"
	TokenInvalidAlgorithm         TokenReason = "token-invalid-algorithm"
	TokenInvalidAudience          TokenReason = "token-invalid-audience"
	TokenInvalidAuthorizedParties TokenReason = "token-invalid-authorized-parties"
	TokenInvalidSignature         TokenReason = "token-invalid-signature"
	TokenNotActiveYet             TokenReason = "token-not-active-yet"
	TokenIatInTheFuture           TokenReason = "token-iat-in-the-future"
	TokenVerificationFailed       TokenReason = "token-verification-failed"
	SecretKeyInvalid              TokenReason = "secret-key-invalid"
	JWKLocalMissing               TokenReason = "jwk-local-missing"
	JWKRemoteFailedToLoad         TokenReason = "jwk-remote-failed-to-load"
	JWKRemoteInvalid              TokenReason = "jwk-remote-invalid"
	JWKRemoteMissing              TokenReason = "jwk-remote-missing"
	JWKFailedToResolve            TokenReason = "jwk-failed-to-resolve"
	JWKKidMismatch                TokenReason = "jwk-kid-mismatch"
)

// RefreshEligible reports whether the reason indicates a token that is
// merely stale with respect to the clock. Only these failures may be
// retried via the refresh endpoint or an inflated-skew re-verification;
// everything else is fundamentally invalid.
func (r TokenReason) RefreshEligible() bool {
	switch r {
	case TokenExpired, TokenNotActiveYet, TokenIatInTheFuture:
		return true
	}
	return false
}

// TokenVerificationError is the session-token error family. It carries a
// closed reason code, an optional remediation hint for operators, and the
// underlying cause.
type TokenVerificationError struct {
	Reason TokenReason
	// Action is a human hint, e.g. "set the CLERK_JWT_KEY environment variable".
	Action string
	Cause  error
}

func (e *TokenVerificationError) Error() string {
	msg := string(e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	if e.Action != "" {
		msg += " (" + e.Action + ")"
	}
	return msg
}

func (e *TokenVerificationError) Unwrap() error { return e.Cause }

// NewTokenError builds a TokenVerificationError with the given reason.
func NewTokenError(reason TokenReason, cause error) *TokenVerificationError {
	return &TokenVerificationError{Reason: reason, Cause: cause}
}

// MachineTokenCode is the coarse failure code for machine credentials,
// derived from remote API status codes.
type MachineTokenCode string

const (
	MachineTokenInvalid         MachineTokenCode = "token-invalid"
	MachineSecretKeyInvalid     MachineTokenCode = "secret-key-invalid"
	MachineTokenUnexpectedError MachineTokenCode = "unexpected-error"
)

// MachineTokenError is the machine-token error family.
type MachineTokenError struct {
	Code      MachineTokenCode
	Status    int
	TokenType TokenType
	Message   string
}

func (e *MachineTokenError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// NewMachineTokenErrorFromStatus translates a remote verification HTTP
// status into the closed code set.
func NewMachineTokenErrorFromStatus(tokenType TokenType, status int, message string) *MachineTokenError {
	code := MachineTokenUnexpectedError
	switch status {
	case http.StatusUnauthorized:
		code = MachineSecretKeyInvalid
	case http.StatusNotFound:
		code = MachineTokenInvalid
	}
	return &MachineTokenError{Code: code, Status: status, TokenType: tokenType, Message: message}
}
