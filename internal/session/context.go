package session

import "context"

type claimsContextKey struct{}
type credentialContextKey struct{}

// ContextWithClaims attaches verified claims to the context.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts verified claims from the context.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*Claims)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ContextWithCredential stores the raw bearer credential in the context.
func ContextWithCredential(ctx context.Context, credential string) context.Context {
	if credential == "" {
		return ctx
	}
	return context.WithValue(ctx, credentialContextKey{}, credential)
}

// CredentialFromContext returns the raw bearer credential if attached.
func CredentialFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(credentialContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
