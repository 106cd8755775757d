package auth

import (
	"context"

	"resqlink.org/internal/policy"
)

type callerContextKey struct{}
type tokenContextKey struct{}

// ContextWithCaller attaches the resolved caller to the request context.
func ContextWithCaller(ctx context.Context, caller policy.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, &caller)
}

// CallerFromContext extracts the authenticated caller from the context.
func CallerFromContext(ctx context.Context) (policy.Caller, bool) {
	if ctx == nil {
		return policy.Caller{}, false
	}
	v, ok := ctx.Value(callerContextKey{}).(*policy.Caller)
	if !ok || v == nil {
		return policy.Caller{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context so logout
// can revoke the exact credential the request carried.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
