package clerk

import "context"

type ctxKey string

const (
	ctxKeyAuth         ctxKey = "clerk_auth"
	ctxKeyRequestState ctxKey = "clerk_request_state"
)

// WithAuth stores the signed-in accessor in the context.
func WithAuth(ctx context.Context, auth *Auth) context.Context {
	return context.WithValue(ctx, ctxKeyAuth, auth)
}

// AuthFromContext extracts the signed-in accessor, or nil.
func AuthFromContext(ctx context.Context) *Auth {
	v, _ := ctx.Value(ctxKeyAuth).(*Auth)
	return v
}

// WithRequestState stores the full decision object in the context.
func WithRequestState(ctx context.Context, state *RequestState) context.Context {
	return context.WithValue(ctx, ctxKeyRequestState, state)
}

// RequestStateFromContext extracts the decision object, or nil.
func RequestStateFromContext(ctx context.Context) *RequestState {
	v, _ := ctx.Value(ctxKeyRequestState).(*RequestState)
	return v
}
